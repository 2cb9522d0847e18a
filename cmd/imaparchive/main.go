package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/pepperpark/imaparchive/internal/archiver"
	"github.com/pepperpark/imaparchive/internal/config"
	"github.com/pepperpark/imaparchive/internal/logging"
	"github.com/pepperpark/imaparchive/internal/mailerr"
	"github.com/pepperpark/imaparchive/internal/report"
	"github.com/pepperpark/imaparchive/internal/session"
	"github.com/pepperpark/imaparchive/internal/store"
)

var (
	// Set via -ldflags at build time.
	version = "dev"
	commit  = ""
	date    = ""
)

// Exit statuses.
const (
	exitOK          = 0
	exitFailure     = 1
	exitUsage       = 2
	exitInterrupted = 130
)

// exitError carries an exit status for an error that has already been
// reported to the user.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	os.Exit(exitCode(err, os.Stderr))
}

// exitCode maps the error returned by the command tree to a process exit
// status. Failures inside a run are logged where they happen and arrive as
// exitError; anything else is a usage problem reported by cobra or by
// configuration validation.
func exitCode(err error, stderr io.Writer) int {
	if err == nil {
		return exitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	if errors.Is(err, archiver.ErrInterrupted) {
		return exitInterrupted
	}
	fmt.Fprintln(stderr, "Error:", err)
	fmt.Fprintln(stderr, "Run 'imaparchive --help' for usage.")
	return exitUsage
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "imaparchive",
		Short:         "Incrementally back up IMAP mailboxes as .eml files or into a zip archive",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE:          runArchive,
	}
	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return &config.UsageError{Msg: err.Error()}
	})

	var showVersion bool
	rootCmd.PersistentFlags().BoolVarP(&showVersion, "version", "v", false, "Print version and exit")
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if showVersion {
			fmt.Printf("imaparchive %s", version)
			if commit != "" {
				fmt.Printf(" (%s)", commit)
			}
			if date != "" {
				fmt.Printf(" built %s", date)
			}
			fmt.Println()
			os.Exit(exitOK)
		}
	}

	addArchiveFlags(rootCmd)

	exportCmd := &cobra.Command{
		Use:   "export-mbox",
		Short: "Convert an archived mailbox into an mbox file",
		Args:  cobra.NoArgs,
		RunE:  runExport,
	}
	addExportFlags(exportCmd)
	rootCmd.AddCommand(exportCmd)
	return rootCmd
}

// archive command options
type archiveOptions struct {
	configPath string
	flags      config.Config
	verbose    bool
	logJSON    bool
	tui        bool
}

func addArchiveFlags(cmd *cobra.Command) {
	o := &archiveOptions{}
	def := config.Builtin()
	f := cmd.Flags()
	f.StringVar(&o.configPath, "config", "config.yaml", "YAML file with a 'defaults' section for every option")
	f.StringVarP(&o.flags.Dir, "destination-dir", "d", def.Dir, "Directory where mailboxes will be saved to")
	f.StringVarP(&o.flags.Server, "server", "s", def.Server, "(required) IMAP server host")
	f.IntVarP(&o.flags.Port, "port", "p", def.Port, "IMAP server port")
	f.StringVarP(&o.flags.Username, "username", "u", def.Username, "(required) username for IMAP login, prompted if empty")
	f.StringVar(&o.flags.Password, "password", def.Password, "(required) password for IMAP login, prompted if empty")
	f.StringVarP(&o.flags.Exclude, "exclude", "e", def.Exclude, "Comma separated, case-sensitive mailboxes to skip, e.g. 'Trash,Junk'")
	f.StringVarP(&o.flags.Include, "include", "i", def.Include, "Comma separated, case-sensitive mailboxes to fetch, e.g. 'INBOX,Archive' (default all)")
	f.BoolVarP(&o.flags.All, "all", "a", def.All, "Fetch everything again and overwrite existing files")
	f.BoolVarP(&o.flags.Batch, "batch", "b", def.Batch, "Fetch multiple messages per request, see --batch-size")
	f.IntVar(&o.flags.BatchSize, "batch-size", def.BatchSize, "How many messages to fetch per request")
	f.BoolVar(&o.flags.DryRun, "dry-run", def.DryRun, "Don't write anything, just print what would be written")
	f.BoolVar(&o.flags.ListMailboxes, "list-mailboxes", def.ListMailboxes, "Print mailbox names and exit")
	f.BoolVar(&o.flags.Zip, "zip", def.Zip, "Store everything in <destination-dir>/"+store.ArchiveName)
	f.BoolVar(&o.flags.StartTLS, "starttls", def.StartTLS, "Use STARTTLS instead of implicit TLS")
	f.BoolVar(&o.flags.Insecure, "insecure", def.Insecure, "Skip TLS certificate verification")
	f.DurationVar(&o.flags.Delay, "delay", def.Delay, "Pause between requests")
	f.DurationVar(&o.flags.Timeout, "timeout", def.Timeout, "Network timeout per request")
	f.StringVar(&o.flags.Report, "report", def.Report, "Write a JSON report of failed batches to this file")
	f.BoolVar(&o.verbose, "verbose", false, "Enable debug logs")
	f.BoolVar(&o.logJSON, "log-json", false, "Log as JSON")
	f.BoolVar(&o.tui, "tui", false, "Show a progress view instead of log lines")
	cmd.MarkFlagsMutuallyExclusive("include", "exclude")

	// Bind into context
	cmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		cmd.SetContext(context.WithValue(cmd.Context(), ctxKey{}, o))
		return nil
	}
}

type ctxKey struct{}

// flagOverrides copies a flag's value from the parsed flags onto the merged
// configuration.
var flagOverrides = map[string]func(dst, src *config.Config){
	"destination-dir": func(d, s *config.Config) { d.Dir = s.Dir },
	"server":          func(d, s *config.Config) { d.Server = s.Server },
	"port":            func(d, s *config.Config) { d.Port = s.Port },
	"username":        func(d, s *config.Config) { d.Username = s.Username },
	"password":        func(d, s *config.Config) { d.Password = s.Password },
	"exclude":         func(d, s *config.Config) { d.Exclude, d.Include = s.Exclude, "" },
	"include":         func(d, s *config.Config) { d.Include, d.Exclude = s.Include, "" },
	"all":             func(d, s *config.Config) { d.All = s.All },
	"batch":           func(d, s *config.Config) { d.Batch = s.Batch },
	"batch-size":      func(d, s *config.Config) { d.BatchSize = s.BatchSize },
	"dry-run":         func(d, s *config.Config) { d.DryRun = s.DryRun },
	"list-mailboxes":  func(d, s *config.Config) { d.ListMailboxes = s.ListMailboxes },
	"zip":             func(d, s *config.Config) { d.Zip = s.Zip },
	"starttls":        func(d, s *config.Config) { d.StartTLS = s.StartTLS },
	"insecure":        func(d, s *config.Config) { d.Insecure = s.Insecure },
	"delay":           func(d, s *config.Config) { d.Delay = s.Delay },
	"timeout":         func(d, s *config.Config) { d.Timeout = s.Timeout },
	"report":          func(d, s *config.Config) { d.Report = s.Report },
}

// mergeConfig layers explicitly set flags over the defaults file.
func mergeConfig(fs *pflag.FlagSet, fileCfg, flags config.Config) config.Config {
	merged := fileCfg
	fs.Visit(func(f *pflag.Flag) {
		if apply, ok := flagOverrides[f.Name]; ok {
			apply(&merged, &flags)
		}
	})
	return merged
}

func runArchive(cmd *cobra.Command, args []string) error {
	o := cmd.Context().Value(ctxKey{}).(*archiveOptions)
	ctx := cmd.Context()

	logger := logging.New(logging.Options{Verbose: o.verbose, JSON: o.logJSON})
	runID := uuid.NewString()
	log := logger.WithField("run_id", runID)

	fileCfg, ferr := config.LoadDefaults(o.configPath, config.Builtin())
	if ferr != nil {
		log.WithError(ferr).Debug("no defaults file")
	}
	cfg := mergeConfig(cmd.Flags(), fileCfg, o.flags)

	if err := promptCredentials(&cfg); err != nil {
		log.WithError(err).Error("could not read credentials")
		return &exitError{code: exitFailure, err: err}
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	rep, err := report.Load(cfg.Report)
	if err != nil {
		log.WithError(err).Warn("could not read previous report, starting a fresh one")
		rep, _ = report.Load("")
	}
	rep.Begin(runID)

	sess, err := session.Dial(ctx, session.Options{
		Host:               cfg.Server,
		Port:               cfg.Port,
		StartTLS:           cfg.StartTLS,
		InsecureSkipVerify: cfg.Insecure,
		Timeout:            cfg.Timeout,
		Debug:              imapDebugWriter(),
		Log:                log,
	})
	if err != nil {
		return fail(ctx, log, "connect", err)
	}
	if err := sess.Login(ctx, cfg.Username, cfg.Password); err != nil {
		return fail(ctx, log, "login", err)
	}
	log.Infof("connected to %s:%d as %s", cfg.Server, cfg.Port, cfg.Username)

	var backend store.Backend = &store.DirBackend{Root: cfg.Dir}
	if cfg.Zip {
		backend = store.NewZipBackend(cfg.Dir)
	}
	worker := archiver.New(sess, &store.Writer{Backend: backend, DryRun: cfg.DryRun, Log: log}, rep, archiver.Options{
		Include:    cfg.IncludeList(),
		Exclude:    cfg.ExcludeList(),
		RefetchAll: cfg.All,
		BatchSize:  cfg.EffectiveBatchSize(),
		Delay:      cfg.Delay,
		Log:        log,
	})

	if cfg.ListMailboxes {
		boxes, err := worker.ListMailboxes(ctx)
		if err != nil {
			return fail(ctx, log, "list mailboxes", err)
		}
		for _, b := range boxes {
			fmt.Fprintln(cmd.OutOrStdout(), b)
		}
		_ = sess.Logout()
		return nil
	}

	var sum *archiver.Summary
	if o.tui {
		logger.SetOutput(io.Discard)
		sum, err = runTUI(ctx, worker)
		logger.SetOutput(os.Stderr)
	} else {
		sum, err = worker.Run(ctx)
	}
	rep.Finish(time.Now())
	if serr := rep.Save(cfg.Report); serr != nil {
		log.WithError(serr).Warn("could not save report")
	}
	if err != nil {
		return fail(ctx, log, "archive", err)
	}
	_ = sess.Logout()

	if len(sum.Failed) > 0 {
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "Finished with failed batches (they will be retried on the next run):")
		for _, fb := range sum.Failed {
			fmt.Fprintf(out, " - %s [%s]: %v\n", fb.Mailbox, mailerr.JoinSeqs(fb.Seqs), fb.Err)
		}
	}
	return nil
}

// fail logs a fatal error and maps it to an exit status.
func fail(ctx context.Context, log logrus.FieldLogger, op string, err error) error {
	if errors.Is(err, archiver.ErrInterrupted) || ctx.Err() != nil {
		log.Warn("interrupted")
		return &exitError{code: exitInterrupted, err: err}
	}
	log.WithError(err).Errorf("%s failed", op)
	return &exitError{code: exitFailure, err: err}
}

// promptCredentials asks for a missing username or password when attached
// to a terminal.
func promptCredentials(cfg *config.Config) error {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil
	}
	if cfg.Username == "" {
		fmt.Fprint(os.Stderr, "Username: ")
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("read username: %w", err)
		}
		cfg.Username = strings.TrimSpace(line)
	}
	if cfg.Password == "" {
		fmt.Fprint(os.Stderr, "Password: ")
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}
		cfg.Password = string(b)
	}
	return nil
}

// imapDebugWriter enables raw IMAP wire debug when requested via environment variable.
func imapDebugWriter() io.Writer {
	if os.Getenv("IMAPARCHIVE_IMAP_DEBUG") == "1" {
		return os.Stderr
	}
	return nil
}
