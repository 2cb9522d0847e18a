package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pepperpark/imaparchive/internal/config"
	"github.com/pepperpark/imaparchive/internal/logging"
	"github.com/pepperpark/imaparchive/internal/store"
)

// export-mbox options
type exportOptions struct {
	configPath string
	mailbox    string
	out        string
	dir        string
	zip        bool
	verbose    bool
}

type exportKey struct{}

func addExportFlags(cmd *cobra.Command) {
	o := &exportOptions{}
	f := cmd.Flags()
	f.StringVar(&o.configPath, "config", "config.yaml", "YAML file with a 'defaults' section")
	f.StringVar(&o.mailbox, "mailbox", "", "(required) Archived mailbox to export")
	f.StringVar(&o.out, "out", "", "Output file, '-' for stdout (default <mailbox>.mbox)")
	f.StringVarP(&o.dir, "destination-dir", "d", config.Builtin().Dir, "Directory the archive was written to")
	f.BoolVar(&o.zip, "zip", false, "Read from <destination-dir>/"+store.ArchiveName)
	f.BoolVar(&o.verbose, "verbose", false, "Enable debug logs")
	_ = cmd.MarkFlagRequired("mailbox")

	cmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		cmd.SetContext(context.WithValue(cmd.Context(), exportKey{}, o))
		return nil
	}
}

// mboxFileName derives a flat file name for a mailbox path.
func mboxFileName(mailbox string) string {
	return strings.NewReplacer("/", "_", "\\", "_").Replace(mailbox) + ".mbox"
}

func runExport(cmd *cobra.Command, args []string) error {
	o := cmd.Context().Value(exportKey{}).(*exportOptions)
	log := logging.New(logging.Options{Verbose: o.verbose})

	cfg, err := config.LoadDefaults(o.configPath, config.Builtin())
	if err != nil {
		log.WithError(err).Debug("no defaults file")
	}
	if cmd.Flags().Changed("destination-dir") {
		cfg.Dir = o.dir
	}
	if cmd.Flags().Changed("zip") {
		cfg.Zip = o.zip
	}

	var backend store.Backend = &store.DirBackend{Root: cfg.Dir}
	if cfg.Zip {
		backend = store.NewZipBackend(cfg.Dir)
	}

	out := o.out
	if out == "" {
		out = mboxFileName(o.mailbox)
	}
	var n int
	if out == "-" {
		w := bufio.NewWriter(cmd.OutOrStdout())
		n, err = store.ExportMbox(backend, o.mailbox, w)
		if ferr := w.Flush(); err == nil {
			err = ferr
		}
	} else {
		n, err = exportToFile(backend, o.mailbox, out)
	}
	if err != nil {
		log.WithError(err).Errorf("export of %s failed", o.mailbox)
		return &exitError{code: exitFailure, err: err}
	}
	log.Infof("exported %d messages from %s to %s", n, o.mailbox, out)
	return nil
}

// exportToFile writes into a temp file next to path and renames it into
// place once the stream is complete.
func exportToFile(b store.Backend, mailbox, path string) (int, error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".export-*.mbox")
	if err != nil {
		return 0, err
	}
	defer os.Remove(tmp.Name())
	w := bufio.NewWriter(tmp)
	n, err := store.ExportMbox(b, mailbox, w)
	if err == nil {
		err = w.Flush()
	}
	if err == nil {
		err = tmp.Sync()
	}
	if err == nil {
		err = tmp.Chmod(0o644)
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return n, fmt.Errorf("rename %s: %w", path, err)
	}
	return n, nil
}
