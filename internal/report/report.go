// Package report keeps a JSON record of batches that failed during a run so
// they can be retried by hand. It is informational only: the next run finds
// the missing messages through the inventory scan anyway.
package report

import (
	"encoding/json"
	"errors"
	"os"
	"sync"
	"time"
)

type Report struct {
	mu       sync.Mutex
	RunID    string                `json:"run_id"`
	Finished *time.Time            `json:"finished,omitempty"`
	Written  map[string]int        `json:"written"`
	Failed   map[string][][]uint32 `json:"failed"`
}

// Load reads path. A missing file, or an empty path, yields a fresh report.
func Load(path string) (*Report, error) {
	r := &Report{Written: map[string]int{}, Failed: map[string][][]uint32{}}
	if path == "" {
		return r, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return r, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(b, r); err != nil {
		return nil, err
	}
	if r.Written == nil {
		r.Written = map[string]int{}
	}
	if r.Failed == nil {
		r.Failed = map[string][][]uint32{}
	}
	return r, nil
}

func (r *Report) Save(path string) error {
	if path == "" {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o600)
}

// Begin starts a new run, discarding results of the previous one.
func (r *Report) Begin(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.RunID = runID
	r.Finished = nil
	r.Written = map[string]int{}
	r.Failed = map[string][][]uint32{}
}

func (r *Report) AddWritten(mailbox string, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Written[mailbox] += n
}

func (r *Report) AddFailed(mailbox string, batch []uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Failed[mailbox] = append(r.Failed[mailbox], append([]uint32(nil), batch...))
}

func (r *Report) Finish(at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Finished = &at
}
