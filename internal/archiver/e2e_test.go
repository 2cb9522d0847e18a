package archiver

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/pepperpark/imaparchive/internal/imaptest"
	"github.com/pepperpark/imaparchive/internal/session"
	"github.com/pepperpark/imaparchive/internal/store"
)

func TestRunAgainstIMAPServer(t *testing.T) {
	srv := imaptest.Start(t)
	srv.Seed(t, "INBOX", 4)
	srv.Seed(t, "Archive", 2)

	root := t.TempDir()
	backend := &store.DirBackend{Root: root}
	run := func() *Summary {
		s, err := session.Dial(context.Background(), session.Options{Host: srv.Host, Port: srv.Port, Plaintext: true, Timeout: 5 * time.Second})
		if err != nil {
			t.Fatalf("Dial: %v", err)
		}
		defer s.Logout()
		if err := s.Login(context.Background(), imaptest.User, imaptest.Pass); err != nil {
			t.Fatalf("Login: %v", err)
		}
		sum, err := newArchiver(s, backend, Options{BatchSize: 2}).Run(context.Background())
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		return sum
	}

	if sum := run(); sum.Written != 7 {
		t.Fatalf("first run wrote %d, want 7", sum.Written)
	}
	if got := fmt.Sprint(seqsIn(t, backend, "INBOX")); got != "[1 2 3 4 5]" {
		t.Fatalf("INBOX has %s", got)
	}
	if got := fmt.Sprint(seqsIn(t, backend, "Archive")); got != "[1 2]" {
		t.Fatalf("Archive has %s", got)
	}
	if sum := run(); sum.Written != 0 {
		t.Fatalf("second run wrote %d, want 0", sum.Written)
	}
}
