package inventory

import (
	"errors"
	"testing"

	"github.com/pepperpark/imaparchive/internal/store"
)

type fakeLister struct {
	names []string
	err   error
}

func (f fakeLister) List(string) ([]string, error) { return f.names, f.err }

func TestScan(t *testing.T) {
	set, err := Scan(fakeLister{names: []string{
		"1_alice__hi.eml",
		"3_no_sender__no_subject.eml",
		"12_x__y.eml",
		"Sub/4_x__y.eml",
		"readme.txt",
		"_5.eml",
	}}, "INBOX")
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if set.Len() != 3 {
		t.Fatalf("expected 3 entries, got %d: %v", set.Len(), set)
	}
	for _, seq := range []uint32{1, 3, 12} {
		if !set.Has(seq) {
			t.Errorf("missing %d", seq)
		}
	}
	if set.Has(4) || set.Has(5) {
		t.Errorf("unexpected entries in %v", set)
	}
}

func TestScanEmpty(t *testing.T) {
	set, err := Scan(fakeLister{}, "INBOX")
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if set == nil || set.Len() != 0 {
		t.Fatalf("expected an empty, non-nil set, got %v", set)
	}
}

func TestScanError(t *testing.T) {
	if _, err := Scan(fakeLister{err: errors.New("boom")}, "INBOX"); err == nil {
		t.Fatal("expected an error")
	}
}

func TestScanBackends(t *testing.T) {
	root := t.TempDir()
	dir := &store.DirBackend{Root: root}
	zb := store.NewZipBackend(root)
	for _, b := range []store.Backend{dir, zb} {
		if err := b.Put("INBOX", store.EntryName(2, "a", "b"), []byte("x")); err != nil {
			t.Fatal(err)
		}
		if err := b.Put("INBOX/Child", store.EntryName(9, "a", "b"), []byte("x")); err != nil {
			t.Fatal(err)
		}
		set, err := Scan(b, "INBOX")
		if err != nil {
			t.Fatalf("Scan: %v", err)
		}
		if set.Len() != 1 || !set.Has(2) {
			t.Errorf("%T: expected {2}, got %v", b, set)
		}
		missing, err := Scan(b, "Drafts")
		if err != nil || missing.Len() != 0 {
			t.Errorf("%T: Scan(Drafts) = (%v, %v)", b, missing, err)
		}
	}
}
