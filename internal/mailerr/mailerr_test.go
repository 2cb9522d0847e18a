package mailerr

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestBatchScoped(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"protocol", &ProtocolError{Op: "fetch", Status: "NO"}, true},
		{"wrapped protocol", fmt.Errorf("batch: %w", &ProtocolError{Op: "fetch", Status: "BAD"}), true},
		{"connection lost", &ProtocolError{Op: "fetch", Status: StatusBye, Info: "i/o timeout"}, false},
		{"wrapped connection lost", fmt.Errorf("batch: %w", &ProtocolError{Op: "fetch", Status: StatusBye}), false},
		{"decode", &DecodeError{Seqs: []uint32{1, 2}, Reason: "short"}, true},
		{"storage", &StorageError{Path: "x", Err: errors.New("disk full")}, false},
		{"connection", &ConnectionError{Addr: "h:993", Err: errors.New("refused")}, false},
		{"auth", &AuthError{User: "u", Err: errors.New("no")}, false},
		{"canceled protocol", &ProtocolError{Op: "fetch", Status: "ERROR", Err: context.Canceled}, false},
		{"plain", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BatchScoped(tt.err); got != tt.want {
				t.Errorf("BatchScoped(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestErrorMessages(t *testing.T) {
	pe := &ProtocolError{Op: "select", Status: "NO", Info: "Mailbox doesn't exist"}
	if got := pe.Error(); got != "select: NO / Mailbox doesn't exist" {
		t.Errorf("ProtocolError.Error() = %q", got)
	}
	de := &DecodeError{Seqs: []uint32{4, 5, 6}, Reason: "got 2 payloads"}
	if got := de.Error(); got != "decode batch 4,5,6: got 2 payloads" {
		t.Errorf("DecodeError.Error() = %q", got)
	}
}

func TestJoinSeqs(t *testing.T) {
	if got := JoinSeqs(nil); got != "" {
		t.Errorf("JoinSeqs(nil) = %q", got)
	}
	if got := JoinSeqs([]uint32{1, 20, 300}); got != "1,20,300" {
		t.Errorf("JoinSeqs = %q", got)
	}
}
