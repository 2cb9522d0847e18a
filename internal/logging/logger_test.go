package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{JSON: true, Out: &buf})
	log.WithField("mailbox", "INBOX").Info("done with INBOX")

	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("not JSON: %v (%q)", err, buf.String())
	}
	if line["mailbox"] != "INBOX" || line["msg"] != "done with INBOX" || line["time"] == nil {
		t.Errorf("unexpected line %v", line)
	}
}

func TestNewTextLevels(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Out: &buf})
	log.Debug("hidden")
	log.Info("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Errorf("unexpected output %q", buf.String())
	}

	buf.Reset()
	New(Options{Verbose: true, Out: &buf}).Debug("visible")
	if !strings.Contains(buf.String(), "visible") {
		t.Errorf("debug line missing in verbose mode: %q", buf.String())
	}
}
