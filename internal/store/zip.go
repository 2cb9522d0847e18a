package store

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
)

// ArchiveName is the file name of the shared archive inside the destination.
const ArchiveName = "mails.zip"

// ZipBackend stores every mailbox inside one zip archive, with entries named
// "<mailbox>/<name>".
//
// Puts are staged in a temp archive next to the real one and published by
// Commit, which copies the untouched entries of the previous archive over
// without recompressing them and renames the result into place. A run
// therefore rewrites the archive once, and an interrupted run leaves the
// previous archive readable.
type ZipBackend struct {
	Path string

	tmp    *os.File
	zw     *zip.Writer
	staged map[string]bool
}

// NewZipBackend returns a backend for <root>/mails.zip.
func NewZipBackend(root string) *ZipBackend {
	return &ZipBackend{Path: filepath.Join(root, ArchiveName)}
}

// List returns the entry names under "<mailbox>/", committed or staged. A
// missing archive is an empty listing.
func (z *ZipBackend) List(mailbox string) ([]string, error) {
	prefix := mailbox + "/"
	seen := map[string]bool{}
	var names []string
	add := func(entry string) {
		if !strings.HasPrefix(entry, prefix) {
			return
		}
		name := strings.TrimPrefix(entry, prefix)
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}

	r, err := zip.OpenReader(z.Path)
	switch {
	case err == nil:
		for _, f := range r.File {
			add(f.Name)
		}
		r.Close()
	case !errors.Is(err, fs.ErrNotExist):
		return nil, err
	}
	for entry := range z.staged {
		add(entry)
	}
	return names, nil
}

// Put stages an entry. Once committed it replaces an existing entry with the
// same name.
func (z *ZipBackend) Put(mailbox, name string, data []byte) error {
	entry := mailbox + "/" + name
	if z.zw == nil {
		if err := z.begin(); err != nil {
			return err
		}
	}
	if z.staged[entry] {
		return fmt.Errorf("%s: already written in this run", entry)
	}
	w, err := z.zw.CreateHeader(&zip.FileHeader{
		Name:     entry,
		Method:   zip.Deflate,
		Modified: time.Now(),
	})
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	z.staged[entry] = true
	return nil
}

func (z *ZipBackend) begin() error {
	tmp, err := os.CreateTemp(filepath.Dir(z.Path), ".mails-*.zip")
	if err != nil {
		return err
	}
	zw := zip.NewWriter(tmp)
	zw.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, flate.BestCompression)
	})
	z.tmp, z.zw, z.staged = tmp, zw, map[string]bool{}
	return nil
}

// Flush pushes staged entries to disk.
func (z *ZipBackend) Flush() error {
	if z.zw == nil {
		return nil
	}
	if err := z.zw.Flush(); err != nil {
		return err
	}
	return z.tmp.Sync()
}

// Commit publishes the staged entries. It is a no-op when nothing is staged.
func (z *ZipBackend) Commit() error {
	if z.zw == nil {
		return nil
	}
	tmp, zw, staged := z.tmp, z.zw, z.staged
	z.tmp, z.zw, z.staged = nil, nil, nil
	defer os.Remove(tmp.Name())

	err := z.copyExisting(zw, staged)
	if err == nil {
		err = zw.Close()
	}
	if err == nil {
		err = tmp.Chmod(0o644)
	}
	if err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	return os.Rename(tmp.Name(), z.Path)
}

// discard drops staged entries.
func (z *ZipBackend) discard() {
	if z.zw == nil {
		return
	}
	_ = z.tmp.Close()
	_ = os.Remove(z.tmp.Name())
	z.tmp, z.zw, z.staged = nil, nil, nil
}

func (z *ZipBackend) copyExisting(zw *zip.Writer, skip map[string]bool) error {
	r, err := zip.OpenReader(z.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("open archive: %w", err)
	}
	defer r.Close()
	for _, f := range r.File {
		if skip[f.Name] {
			continue
		}
		if err := zw.Copy(f); err != nil {
			return fmt.Errorf("copy %s: %w", f.Name, err)
		}
	}
	return nil
}

// Get reads one committed entry back.
func (z *ZipBackend) Get(mailbox, name string) ([]byte, error) {
	r, err := zip.OpenReader(z.Path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	entry := mailbox + "/" + name
	for _, f := range r.File {
		if f.Name != entry {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}
	return nil, fmt.Errorf("%s: %w", entry, fs.ErrNotExist)
}

// Reset deletes the archive and anything staged.
func (z *ZipBackend) Reset() error {
	z.discard()
	if err := os.Remove(z.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (z *ZipBackend) Location(mailbox, name string) string {
	return z.Path + ":" + mailbox + "/" + name
}
