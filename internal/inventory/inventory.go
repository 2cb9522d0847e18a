// Package inventory works out which messages of a mailbox are already
// stored. The answer is always derived from entry names, never cached.
package inventory

import (
	"fmt"
	"strings"

	"github.com/pepperpark/imaparchive/internal/store"
)

// Set holds the sequence numbers already persisted for one mailbox.
type Set map[uint32]struct{}

func (s Set) Has(seq uint32) bool {
	_, ok := s[seq]
	return ok
}

func (s Set) Len() int { return len(s) }

// Scan lists the mailbox in l and collects the leading sequence number of
// every entry shaped "<digits>_...". Entries in nested mailboxes are
// ignored. An empty or missing mailbox yields an empty set.
func Scan(l store.Lister, mailbox string) (Set, error) {
	names, err := l.List(mailbox)
	if err != nil {
		return nil, fmt.Errorf("inventory %s: %w", mailbox, err)
	}
	set := make(Set, len(names))
	for _, n := range names {
		if strings.Contains(n, "/") {
			continue
		}
		if seq, ok := store.ParseSeq(n); ok {
			set[seq] = struct{}{}
		}
	}
	return set, nil
}
