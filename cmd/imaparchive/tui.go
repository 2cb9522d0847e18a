package main

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	lipgloss "github.com/charmbracelet/lipgloss"

	"github.com/pepperpark/imaparchive/internal/archiver"
	"github.com/pepperpark/imaparchive/internal/mailerr"
)

type mailboxProgress struct {
	total int
	done  int
}

type model struct {
	cancel   context.CancelFunc
	events   <-chan archiver.Event
	prog     map[string]mailboxProgress
	current  string
	totalAll int
	doneAll  int
	failed   []archiver.Event
	spinner  spinner.Model
	bar      progress.Model
	finished bool
	runErr   error
	written  int
	started  time.Time
	// smoothed messages/sec
	emaRate  float64
	lastDone int
	lastAt   time.Time
}

type tickMsg time.Time

type runResult struct {
	sum *archiver.Summary
	err error
}

type doneMsg runResult

func newModel(cancel context.CancelFunc, events <-chan archiver.Event) *model {
	s := spinner.New()
	s.Spinner = spinner.Line
	bar := progress.New(progress.WithDefaultGradient())
	now := time.Now()
	return &model{cancel: cancel, events: events, prog: map[string]mailboxProgress{}, spinner: s, bar: bar, started: now, lastAt: now}
}

func (m *model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tick())
}

func tick() tea.Cmd {
	return tea.Tick(200*time.Millisecond, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			m.cancel()
			return m, tea.Quit
		}
	case doneMsg:
		m.drain()
		m.finished = true
		m.runErr = msg.err
		if msg.sum != nil {
			m.written = msg.sum.Written
		}
		if msg.err == nil {
			m.doneAll = m.totalAll
		}
		return m, tea.Quit
	case tickMsg:
		m.drain()
		m.updateEMARate()
		return m, tea.Batch(m.spinner.Tick, tick())
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	m.drain()
	return m, nil
}

// drain consumes pending archiver events without blocking.
func (m *model) drain() {
	for {
		select {
		case ev, ok := <-m.events:
			if !ok {
				return
			}
			switch ev.Type {
			case archiver.EventMailboxStart:
				m.current = ev.Mailbox
			case archiver.EventMailboxProgress, archiver.EventMailboxDone:
				mp := m.prog[ev.Mailbox]
				mp.total, mp.done = ev.Total, ev.Done
				m.prog[ev.Mailbox] = mp
				m.recomputeTotals()
			case archiver.EventBatchFailed:
				m.failed = append(m.failed, ev)
			}
		default:
			return
		}
	}
}

func (m *model) recomputeTotals() {
	total, done := 0, 0
	for _, p := range m.prog {
		total += p.total
		done += p.done
	}
	m.totalAll, m.doneAll = total, done
}

func (m *model) View() string {
	title := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63")).Render("imaparchive")
	s := title + "\n\nPress q to quit\n\n"
	pct := 0.0
	if m.totalAll > 0 {
		pct = float64(m.doneAll) / float64(m.totalAll)
	}
	s += fmt.Sprintf("%s Overall %d/%d   %s\n", m.spinner.View(), m.doneAll, m.totalAll, m.formatETA())
	s += m.bar.ViewAs(pct) + "\n\n"

	names := make([]string, 0, len(m.prog))
	for name := range m.prog {
		names = append(names, name)
	}
	sort.Strings(names)
	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	for _, name := range names {
		p := m.prog[name]
		line := fmt.Sprintf("  %-30s %d/%d", name, p.done, p.total)
		if name != m.current || m.finished {
			line = dim.Render(line)
		}
		s += line + "\n"
	}

	if len(m.failed) > 0 {
		s += "\n" + lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Render("Failed batches:") + "\n"
		for _, ev := range m.failed {
			s += fmt.Sprintf(" - %s [%s]: %v\n", ev.Mailbox, mailerr.JoinSeqs(ev.Batch), ev.Err)
		}
	}
	if m.finished {
		if m.runErr != nil {
			s += "\n" + lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Render("Error: "+m.runErr.Error()) + "\n"
		} else if m.totalAll == 0 {
			s += "\n" + dim.Render("Nothing new to fetch. Use --all to fetch everything again.") + "\n"
		} else {
			s += fmt.Sprintf("\n%d messages written\n", m.written)
		}
	}
	return s
}

func (m *model) formatETA() string {
	if m.totalAll == 0 {
		return "ETA --"
	}
	remaining := m.totalAll - m.doneAll
	if remaining <= 0 {
		return "ETA 0s"
	}
	rate := m.emaRate
	if rate <= 0.01 {
		elapsed := time.Since(m.started)
		if elapsed <= 0 {
			return "ETA --"
		}
		rate = float64(m.doneAll) / elapsed.Seconds()
	}
	if rate <= 0.01 {
		return "ETA --"
	}
	secs := float64(remaining) / rate
	if secs < 1 {
		return "ETA <1s"
	}
	d := time.Duration(secs) * time.Second
	if d > 99*time.Hour {
		return "ETA >99h"
	}
	if d >= time.Hour {
		h := int(d / time.Hour)
		mrem := int((d - time.Duration(h)*time.Hour) / time.Minute)
		return fmt.Sprintf("ETA %dh%dm", h, mrem)
	}
	if d >= time.Minute {
		return fmt.Sprintf("ETA %dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("ETA %ds", int(d.Seconds()))
}

// updateEMARate folds the throughput since the last tick into the moving
// average, half-life 3s.
func (m *model) updateEMARate() {
	now := time.Now()
	dt := now.Sub(m.lastAt).Seconds()
	if dt <= 0 {
		return
	}
	inst := float64(m.doneAll-m.lastDone) / dt
	alpha := 1 - math.Exp(-math.Ln2*dt/3.0)
	if m.emaRate == 0 {
		m.emaRate = inst
	} else {
		m.emaRate = alpha*inst + (1-alpha)*m.emaRate
	}
	m.lastDone = m.doneAll
	m.lastAt = now
}

// runTUI runs the archiver behind a progress view. Quitting the view
// cancels the run, which then reports ErrInterrupted.
func runTUI(ctx context.Context, worker *archiver.Archiver) (*archiver.Summary, error) {
	cctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m := newModel(cancel, worker.Events())
	p := tea.NewProgram(m)
	results := make(chan runResult, 1)
	go func() {
		sum, err := worker.Run(cctx)
		results <- runResult{sum: sum, err: err}
		p.Send(doneMsg{sum: sum, err: err})
	}()
	if _, err := p.Run(); err != nil {
		fmt.Println("TUI failed:", err)
	}
	res := <-results
	return res.sum, res.err
}
