package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// DirBackend stores each message as <Root>/<mailbox>/<name>.
type DirBackend struct {
	Root string
}

func (d *DirBackend) mailboxDir(mailbox string) (string, error) {
	rel := filepath.FromSlash(mailbox)
	if !filepath.IsLocal(rel) {
		return "", fmt.Errorf("mailbox name %q escapes the destination directory", mailbox)
	}
	return filepath.Join(d.Root, rel), nil
}

// List returns regular file names directly inside the mailbox directory. A
// missing directory is an empty listing.
func (d *DirBackend) List(mailbox string) ([]string, error) {
	dir, err := d.mailboxDir(mailbox)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// Put writes through a temp file in the same directory and renames it into
// place, so readers never see a partial message.
func (d *DirBackend) Put(mailbox, name string, data []byte) error {
	dir, err := d.mailboxDir(mailbox)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".partial-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name()) // no-op after a successful rename
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), filepath.Join(dir, name))
}

// Get reads a stored message.
func (d *DirBackend) Get(mailbox, name string) ([]byte, error) {
	dir, err := d.mailboxDir(mailbox)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(filepath.Join(dir, name))
}

func (d *DirBackend) Location(mailbox, name string) string {
	return filepath.Join(d.Root, filepath.FromSlash(mailbox), name)
}
