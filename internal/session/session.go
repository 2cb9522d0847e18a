// Package session owns the authenticated IMAP channel. All requests travel
// over one connection, one at a time, and every reply goes through the same
// status check before it reaches the caller.
package session

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/sirupsen/logrus"

	"github.com/pepperpark/imaparchive/internal/mailerr"
)

// Options describes how to reach the server.
type Options struct {
	Host               string
	Port               int
	StartTLS           bool // plain connect, then upgrade
	InsecureSkipVerify bool
	// Plaintext disables TLS entirely. Only meant for local test servers.
	Plaintext bool
	// Timeout bounds connecting, the greeting and every command except
	// FETCH, whose duration depends on message sizes.
	Timeout time.Duration
	Debug   io.Writer
	// Log receives the client's own error reports at debug level.
	Log logrus.FieldLogger
}

func (o Options) addr() string {
	return net.JoinHostPort(o.Host, strconv.Itoa(o.Port))
}

// Chunk is one message as it came off the wire. Body is empty when the
// server answered without a body literal.
type Chunk struct {
	SeqNum uint32
	Body   []byte
}

// RawBatch is the undecoded reply to a single fetch request.
type RawBatch struct {
	Requested []uint32
	Chunks    []Chunk
}

// Session is a logged-in IMAP connection.
type Session struct {
	c    *client.Client
	addr string
}

// Dial opens the connection and waits for the server greeting. Cancelling
// ctx closes the connection and aborts the wait.
func Dial(ctx context.Context, o Options) (*Session, error) {
	addr := o.addr()
	d := &net.Dialer{Timeout: o.Timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &mailerr.ConnectionError{Addr: addr, Err: err}
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	fail := func(err error) (*Session, error) {
		_ = conn.Close()
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return nil, &mailerr.ConnectionError{Addr: addr, Err: err}
	}

	if o.Timeout > 0 {
		if err := conn.SetDeadline(time.Now().Add(o.Timeout)); err != nil {
			return fail(err)
		}
	}
	tlsConfig := &tls.Config{ServerName: o.Host, InsecureSkipVerify: o.InsecureSkipVerify}
	if !o.Plaintext && !o.StartTLS {
		tc := tls.Client(conn, tlsConfig)
		if err := tc.HandshakeContext(ctx); err != nil {
			return fail(err)
		}
		conn = tc
	}
	c, err := client.New(conn)
	if err != nil {
		return fail(err)
	}
	c.ErrorLog = errorLog{log: o.Log}
	if o.Debug != nil {
		c.SetDebug(o.Debug)
	}
	c.Timeout = o.Timeout
	if o.StartTLS && !o.Plaintext {
		if err := c.StartTLS(tlsConfig); err != nil {
			return fail(fmt.Errorf("starttls: %w", err))
		}
	}
	if err := conn.SetDeadline(time.Time{}); err != nil {
		return fail(err)
	}
	if !stop() {
		return fail(ctx.Err())
	}
	return &Session{c: c, addr: addr}, nil
}

// Login authenticates. A rejected login is an AuthError and the connection
// is torn down.
func (s *Session) Login(ctx context.Context, user, pass string) error {
	interrupted, err := s.wait(ctx, "login", func() error {
		return s.c.Login(user, pass)
	})
	if err == nil || interrupted {
		return err
	}
	_ = s.c.Terminate()
	return &mailerr.AuthError{User: user, Err: err}
}

// ListMailboxes returns every mailbox name the server reports.
func (s *Session) ListMailboxes(ctx context.Context) ([]string, error) {
	var names []string
	err := s.do(ctx, "list", func() error {
		ch := make(chan *imap.MailboxInfo, 32)
		done := make(chan error, 1)
		go func() {
			done <- s.c.List("", "*", ch)
		}()
		for m := range ch {
			if m != nil {
				names = append(names, m.Name)
			}
		}
		return <-done
	})
	if err != nil {
		return nil, err
	}
	return names, nil
}

// Select opens a mailbox read-only (EXAMINE) and returns its message count.
func (s *Session) Select(ctx context.Context, name string) (uint32, error) {
	var count uint32
	err := s.do(ctx, "select "+name, func() error {
		status, err := s.c.Select(name, true)
		if err != nil {
			return err
		}
		count = status.Messages
		return nil
	})
	return count, err
}

// FetchRaw requests the full raw content of the given sequence numbers
// without setting \Seen. The command runs without a deadline; ctx is the
// only way to abort it.
func (s *Session) FetchRaw(ctx context.Context, seqs []uint32) (*RawBatch, error) {
	set := new(imap.SeqSet)
	set.AddNum(seqs...)
	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{section.FetchItem()}

	batch := &RawBatch{Requested: append([]uint32(nil), seqs...)}
	err := s.do(ctx, "fetch "+mailerr.JoinSeqs(seqs), func() error {
		timeout := s.c.Timeout
		s.c.Timeout = 0
		defer func() { s.c.Timeout = timeout }()

		ch := make(chan *imap.Message, len(seqs))
		done := make(chan error, 1)
		go func() {
			done <- s.c.Fetch(set, items, ch)
		}()
		var readErr error
		for msg := range ch {
			if msg == nil {
				continue
			}
			chunk, err := readChunk(msg.SeqNum, msg.GetBody(section))
			if err != nil && readErr == nil {
				readErr = &mailerr.DecodeError{Seqs: seqs, Reason: fmt.Sprintf("read body of message %d", msg.SeqNum), Err: err}
			}
			batch.Chunks = append(batch.Chunks, chunk)
		}
		if err := <-done; err != nil {
			return err
		}
		return readErr
	})
	if err != nil {
		return nil, err
	}
	return batch, nil
}

// readChunk drains a body literal. A nil literal is an empty chunk.
func readChunk(seq uint32, lit io.Reader) (Chunk, error) {
	chunk := Chunk{SeqNum: seq}
	if lit == nil {
		return chunk, nil
	}
	b, err := io.ReadAll(lit)
	if err != nil {
		return chunk, err
	}
	chunk.Body = b
	return chunk, nil
}

// CloseMailbox closes the selected mailbox. It never expunges because the
// mailbox was opened read-only.
func (s *Session) CloseMailbox(ctx context.Context) error {
	return s.do(ctx, "close", s.c.Close)
}

// Logout ends the session politely.
func (s *Session) Logout() error {
	return s.c.Logout()
}

// Terminate drops the connection without a LOGOUT exchange.
func (s *Session) Terminate() error {
	return s.c.Terminate()
}

// do runs one request and applies the status check.
func (s *Session) do(ctx context.Context, op string, fn func() error) error {
	interrupted, err := s.wait(ctx, op, fn)
	if interrupted {
		return err
	}
	return s.check(op, err)
}

// wait runs fn. When ctx is cancelled first the connection is terminated to
// unblock the pending read and the context error is returned.
func (s *Session) wait(ctx context.Context, op string, fn func() error) (bool, error) {
	if err := ctx.Err(); err != nil {
		return true, fmt.Errorf("%s: %w", op, err)
	}
	done := make(chan error, 1)
	go func() {
		done <- fn()
	}()
	select {
	case err := <-done:
		return false, err
	case <-ctx.Done():
		_ = s.c.Terminate()
		<-done
		return true, fmt.Errorf("%s: %w", op, ctx.Err())
	}
}

// check converts any non-OK completion into a ProtocolError. go-imap folds
// NO and BAD replies into the error text, so the status word reflects
// whether the connection survived the request.
func (s *Session) check(op string, err error) error {
	if err == nil {
		return nil
	}
	var de *mailerr.DecodeError
	if errors.As(err, &de) {
		return err
	}
	status := "NO"
	if s.c.State() == imap.LogoutState {
		status = mailerr.StatusBye
	}
	return &mailerr.ProtocolError{Op: op, Status: status, Info: strings.TrimSpace(err.Error()), Err: err}
}

// errorLog adapts a logrus logger to the client's ErrorLog.
type errorLog struct {
	log logrus.FieldLogger
}

func (e errorLog) Printf(format string, v ...interface{}) {
	if e.log != nil {
		e.log.Debugf("imap: "+format, v...)
	}
}

func (e errorLog) Println(v ...interface{}) {
	if e.log != nil {
		e.log.Debugln(append([]interface{}{"imap:"}, v...)...)
	}
}
