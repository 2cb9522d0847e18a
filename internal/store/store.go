// Package store persists raw messages under deterministic entry names,
// either as a directory tree or inside one compressed archive.
package store

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/pepperpark/imaparchive/internal/mailerr"
)

// Ext is the extension of every persisted message.
const Ext = ".eml"

// Lister lists the entry names stored directly under a mailbox.
type Lister interface {
	List(mailbox string) ([]string, error)
}

// Backend is a place messages can be stored in and read back from.
type Backend interface {
	Lister
	Put(mailbox, name string, data []byte) error
	Get(mailbox, name string) ([]byte, error)
	// Location is a human readable pointer to an entry, used in logs.
	Location(mailbox, name string) string
}

// Stager is implemented by backends that collect writes and publish them
// in one step. Flush makes staged writes durable; Commit publishes them.
type Stager interface {
	Flush() error
	Commit() error
}

// EntryName builds "<seq>_<sender>__<subject>.eml". Only the sequence
// number matters for deduplication.
func EntryName(seq uint32, sender, subject string) string {
	return fmt.Sprintf("%d_%s__%s%s", seq, sender, subject, Ext)
}

var seqPrefixRe = regexp.MustCompile(`^([0-9]+)_`)

// ParseSeq extracts the leading sequence number of an entry name.
func ParseSeq(name string) (uint32, bool) {
	m := seqPrefixRe.FindStringSubmatch(name)
	if m == nil {
		return 0, false
	}
	n, err := strconv.ParseUint(m[1], 10, 32)
	if err != nil || n == 0 {
		return 0, false
	}
	return uint32(n), true
}

// Writer stores one message per call. In dry-run mode it only logs what it
// would have written.
type Writer struct {
	Backend Backend
	DryRun  bool
	Log     logrus.FieldLogger
}

// Write stores raw under the entry name derived from seq, sender and
// subject, replacing any entry of the same name. It returns the location.
func (w *Writer) Write(mailbox string, seq uint32, sender, subject string, raw []byte) (string, error) {
	name := EntryName(seq, sender, subject)
	loc := w.Backend.Location(mailbox, name)
	if w.DryRun {
		if w.Log != nil {
			w.Log.WithField("mailbox", mailbox).Infof("dry-run: would write %s", loc)
		}
		return loc, nil
	}
	if err := w.Backend.Put(mailbox, name, raw); err != nil {
		return "", &mailerr.StorageError{Path: loc, Err: err}
	}
	return loc, nil
}

// Flush makes everything written so far durable. Called at batch boundaries.
func (w *Writer) Flush() error {
	st, ok := w.Backend.(Stager)
	if !ok || w.DryRun {
		return nil
	}
	if err := st.Flush(); err != nil {
		return &mailerr.StorageError{Path: "archive", Err: err}
	}
	return nil
}

// Commit publishes staged writes. Called once when a pass ends, however it
// ends.
func (w *Writer) Commit() error {
	st, ok := w.Backend.(Stager)
	if !ok || w.DryRun {
		return nil
	}
	if err := st.Commit(); err != nil {
		return &mailerr.StorageError{Path: "archive", Err: err}
	}
	return nil
}
