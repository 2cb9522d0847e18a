// Package mailerr defines the failure taxonomy shared by the archiving
// pipeline. Only ProtocolError and DecodeError are ever contained at batch
// scope; everything else is fatal to a run.
package mailerr

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ConnectionError reports that the server could not be reached or the
// secure channel could not be established.
type ConnectionError struct {
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// AuthError reports rejected credentials.
type AuthError struct {
	User string
	Err  error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("login as %s: %v", e.User, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// ProtocolError is any session call that did not complete with an OK status.
// Status holds the raw status word (NO, BAD, BYE) or "ERROR" when the call
// failed below the protocol level.
type ProtocolError struct {
	Op     string
	Status string
	Info   string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Info == "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Status)
	}
	return fmt.Sprintf("%s: %s / %s", e.Op, e.Status, e.Info)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// DecodeError reports a batch response that could not be split into exactly
// one well-formed message per requested sequence number.
type DecodeError struct {
	Seqs   []uint32
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	s := fmt.Sprintf("decode batch %s: %s", JoinSeqs(e.Seqs), e.Reason)
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *DecodeError) Unwrap() error { return e.Err }

// StorageError reports a failed write to the storage backend.
type StorageError struct {
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// StatusBye marks a protocol error after which the connection is gone.
const StatusBye = "BYE"

// BatchScoped reports whether err may be contained to the batch that raised
// it. Cancellation is never batch scoped, even when it surfaces through a
// protocol error, and neither is a lost connection.
func BatchScoped(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe.Status != StatusBye
	}
	var de *DecodeError
	return errors.As(err, &de)
}

// JoinSeqs renders sequence numbers the way they appear on the wire: "1,2,3".
func JoinSeqs(seqs []uint32) string {
	parts := make([]string, len(seqs))
	for i, s := range seqs {
		parts[i] = strconv.FormatUint(uint64(s), 10)
	}
	return strings.Join(parts, ",")
}
