package report

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestReportRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.json")
	r, err := Load(path)
	if err != nil {
		t.Fatalf("Load missing: %v", err)
	}
	r.Begin("run-1")
	r.AddWritten("INBOX", 3)
	r.AddWritten("INBOX", 2)
	r.AddFailed("INBOX", []uint32{4, 5, 6})
	r.Finish(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC))
	if err := r.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.RunID != "run-1" || got.Written["INBOX"] != 5 {
		t.Fatalf("unexpected report %+v", got)
	}
	if !reflect.DeepEqual(got.Failed["INBOX"], [][]uint32{{4, 5, 6}}) {
		t.Fatalf("failed = %v", got.Failed["INBOX"])
	}
	if got.Finished == nil || !got.Finished.Equal(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)) {
		t.Fatalf("finished = %v", got.Finished)
	}

	got.Begin("run-2")
	if len(got.Failed["INBOX"]) != 0 || got.RunID != "run-2" || got.Finished != nil {
		t.Fatalf("Begin did not reset: %+v", got)
	}
}

func TestEmptyPathIsNoop(t *testing.T) {
	r, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	r.AddFailed("INBOX", []uint32{1})
	if err := r.Save(""); err != nil {
		t.Fatalf("Save: %v", err)
	}
}

func TestUnfinishedRunOmitsFinished(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.json")
	r, _ := Load("")
	r.Begin("run-1")
	if err := r.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(b), "finished") {
		t.Fatalf("unfinished run carries a finish time: %s", b)
	}
}
