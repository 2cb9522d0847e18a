// Package archiver drives the backup pass: for every mailbox it selects,
// takes inventory, plans, fetches batch by batch, writes and closes.
package archiver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pepperpark/imaparchive/internal/fetcher"
	"github.com/pepperpark/imaparchive/internal/inventory"
	"github.com/pepperpark/imaparchive/internal/mailerr"
	"github.com/pepperpark/imaparchive/internal/plan"
	"github.com/pepperpark/imaparchive/internal/report"
	"github.com/pepperpark/imaparchive/internal/sanitize"
	"github.com/pepperpark/imaparchive/internal/session"
	"github.com/pepperpark/imaparchive/internal/store"
)

// ErrInterrupted is returned, wrapped, when the run was cancelled.
var ErrInterrupted = errors.New("interrupted")

// Session is the subset of an IMAP session the archiver drives. Calls are
// made strictly one after another.
type Session interface {
	ListMailboxes(ctx context.Context) ([]string, error)
	Select(ctx context.Context, name string) (uint32, error)
	FetchRaw(ctx context.Context, seqs []uint32) (*session.RawBatch, error)
	CloseMailbox(ctx context.Context) error
}

type Options struct {
	// Include, when non-empty, is used verbatim instead of the server listing.
	Include []string
	// Exclude is removed from the server listing. Ignored with Include.
	Exclude    []string
	RefetchAll bool
	BatchSize  int
	// Delay is the pause after listing and after every batch fetch.
	Delay time.Duration
	Log   logrus.FieldLogger
}

// FailedBatch records a batch that was skipped.
type FailedBatch struct {
	Mailbox string
	Seqs    []uint32
	Err     error
}

// Summary describes a finished (or aborted) run.
type Summary struct {
	Mailboxes []string
	Written   int
	Failed    []FailedBatch
}

type Archiver struct {
	sess   Session
	fetch  *fetcher.Fetcher
	writer *store.Writer
	rep    *report.Report
	opts   Options
	log    logrus.FieldLogger
	events chan Event
}

// resetter is implemented by backends that can drop everything stored so
// far, i.e. the zip archive.
type resetter interface {
	Reset() error
}

// New builds an archiver. rep may be nil.
func New(sess Session, w *store.Writer, rep *report.Report, opts Options) *Archiver {
	if opts.BatchSize < 1 {
		opts.BatchSize = 1
	}
	log := opts.Log
	if log == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		log = l
	}
	return &Archiver{
		sess:   sess,
		fetch:  fetcher.New(sess),
		writer: w,
		rep:    rep,
		opts:   opts,
		log:    log,
		events: make(chan Event, 128),
	}
}

// Events returns a read-only channel of progress events. It is closed when
// Run returns.
func (a *Archiver) Events() <-chan Event { return a.events }

func (a *Archiver) emit(ev Event) {
	select {
	case a.events <- ev:
	default:
		// drop if slow consumer
	}
}

// ListMailboxes returns the full server listing.
func (a *Archiver) ListMailboxes(ctx context.Context) ([]string, error) {
	boxes, err := a.sess.ListMailboxes(ctx)
	if err != nil {
		return nil, a.fatal(ctx, err)
	}
	return boxes, nil
}

// Mailboxes resolves the working set: the include list verbatim, or the
// listing minus the exclude list.
func (a *Archiver) Mailboxes(ctx context.Context) ([]string, error) {
	if len(a.opts.Include) > 0 {
		return append([]string(nil), a.opts.Include...), nil
	}
	all, err := a.ListMailboxes(ctx)
	if err != nil {
		return nil, err
	}
	if err := sleep(ctx, a.opts.Delay); err != nil {
		return nil, a.fatal(ctx, err)
	}
	excluded := make(map[string]bool, len(a.opts.Exclude))
	for _, e := range a.opts.Exclude {
		excluded[e] = true
	}
	boxes := make([]string, 0, len(all))
	for _, b := range all {
		if !excluded[b] {
			boxes = append(boxes, b)
		}
	}
	return boxes, nil
}

// Run performs one pass over all mailboxes. Batch-scoped failures are
// logged and recorded in the summary; any other failure stops the run.
func (a *Archiver) Run(ctx context.Context) (sum *Summary, err error) {
	defer close(a.events)
	defer func() {
		if cerr := a.writer.Commit(); cerr != nil {
			a.log.WithError(cerr).Error("could not commit archive")
			if err == nil {
				err = cerr
			}
		}
	}()
	sum = &Summary{}
	boxes, err := a.Mailboxes(ctx)
	if err != nil {
		return sum, err
	}
	sum.Mailboxes = boxes
	a.log.Infof("will do %s", strings.Join(boxes, ","))

	if a.opts.RefetchAll && !a.writer.DryRun {
		if r, ok := a.writer.Backend.(resetter); ok {
			if err := r.Reset(); err != nil {
				return sum, &mailerr.StorageError{Path: "archive", Err: err}
			}
			a.log.Debug("removed previous archive before full refetch")
		}
	}

	for _, box := range boxes {
		if err := a.archiveMailbox(ctx, box, sum); err != nil {
			return sum, err
		}
	}
	a.log.Infof("done, %d messages written, %d failed batches", sum.Written, len(sum.Failed))
	return sum, nil
}

func (a *Archiver) archiveMailbox(ctx context.Context, name string, sum *Summary) error {
	log := a.log.WithField("mailbox", name)
	a.emit(Event{Type: EventMailboxStart, Mailbox: name})

	total, err := a.sess.Select(ctx, name)
	if err != nil {
		return a.fatal(ctx, err)
	}
	log.Infof("%d total in %s", total, name)

	have, err := inventory.Scan(a.writer.Backend, name)
	if err != nil {
		return &mailerr.StorageError{Path: name, Err: err}
	}
	batches := plan.Build(total, have, a.opts.RefetchAll, a.opts.BatchSize)
	planned := 0
	for _, b := range batches {
		planned += len(b)
	}
	log.Infof("%d to fetch for %s", planned, name)
	a.emit(Event{Type: EventMailboxProgress, Mailbox: name, Total: planned})

	done := 0
	for _, batch := range batches {
		if err := ctx.Err(); err != nil {
			return a.fatal(ctx, err)
		}
		n, err := a.archiveBatch(ctx, name, batch)
		if err != nil {
			if ctx.Err() != nil || !mailerr.BatchScoped(err) {
				return a.fatal(ctx, err)
			}
			log.WithError(err).WithField("batch", mailerr.JoinSeqs(batch)).Error("failed to fetch batch")
			sum.Failed = append(sum.Failed, FailedBatch{Mailbox: name, Seqs: batch, Err: err})
			if a.rep != nil {
				a.rep.AddFailed(name, batch)
			}
			a.emit(Event{Type: EventBatchFailed, Mailbox: name, Total: planned, Done: done, Batch: batch, Err: err})
		}
		done += n
		sum.Written += n
		if a.rep != nil && n > 0 {
			a.rep.AddWritten(name, n)
		}
		a.emit(Event{Type: EventMailboxProgress, Mailbox: name, Total: planned, Done: done})
		if err := sleep(ctx, a.opts.Delay); err != nil {
			return a.fatal(ctx, err)
		}
	}

	if err := a.sess.CloseMailbox(ctx); err != nil {
		return a.fatal(ctx, err)
	}
	log.Infof("done with %s", name)
	a.emit(Event{Type: EventMailboxDone, Mailbox: name, Total: planned, Done: done})
	return nil
}

// archiveBatch fetches one batch and writes every message in it. Nothing is
// written unless the whole batch decoded. A storage failure mid-batch is
// returned as is and stops the run.
func (a *Archiver) archiveBatch(ctx context.Context, mailbox string, batch []uint32) (int, error) {
	items, err := a.fetch.Fetch(ctx, batch)
	if err != nil {
		return 0, err
	}
	for i, it := range items {
		sender := sanitize.Or(it.Msg.From, sanitize.NoSender)
		subject := sanitize.Or(it.Msg.Subject, sanitize.NoSubject)
		if _, err := a.writer.Write(mailbox, it.SeqNum, sender, subject, it.Msg.Raw); err != nil {
			return i, err
		}
	}
	if err := a.writer.Flush(); err != nil {
		return len(items), err
	}
	return len(items), nil
}

// fatal marks err as an interruption when the context is gone.
func (a *Archiver) fatal(ctx context.Context, err error) error {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %w", ErrInterrupted, err)
	}
	return err
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
