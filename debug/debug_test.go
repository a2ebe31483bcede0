package debug

import (
	"bytes"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func capture(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() {
		SetLevel(zerolog.InfoLevel)
		SetOutput(os.Stderr)
	})
	return &buf
}

func TestDefaultLevelHidesTrace(t *testing.T) {
	if got := Log().GetLevel(); got != zerolog.InfoLevel {
		t.Fatalf("default level = %v, want info", got)
	}
	buf := capture(t)
	DropTrace("READER", "read-x")
	if buf.Len() != 0 {
		t.Fatalf("trace emitted at default level: %q", buf.String())
	}
}

func TestDropMessage(t *testing.T) {
	buf := capture(t)
	DropMessage("INIT", "topology ready")

	out := buf.String()
	if !strings.Contains(out, "topology ready") || !strings.Contains(out, "INIT") {
		t.Errorf("DropMessage output = %q", out)
	}
}

func TestDropError(t *testing.T) {
	buf := capture(t)
	DropError("bind", errors.New("cpu 7 unknown"))
	if out := buf.String(); !strings.Contains(out, "cpu 7 unknown") || !strings.Contains(out, "bind") {
		t.Errorf("DropError output = %q", out)
	}

	buf.Reset()
	DropError("worker stopped", nil)
	if out := buf.String(); !strings.Contains(out, "worker stopped") {
		t.Errorf("DropError(nil) output = %q", out)
	}
}

func TestDropTraceRespectsLevel(t *testing.T) {
	buf := capture(t)
	SetLevel(zerolog.InfoLevel)
	DropTrace("CP", "hidden")
	if buf.Len() != 0 {
		t.Fatalf("trace emitted at info level: %q", buf.String())
	}

	SetLevel(zerolog.DebugLevel)
	DropTrace("CP", "shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Errorf("trace missing at debug level: %q", buf.String())
	}
}

func TestSetOutputKeepsLevel(t *testing.T) {
	capture(t)
	SetLevel(zerolog.WarnLevel)

	var buf bytes.Buffer
	SetOutput(&buf)
	DropMessage("INFO", "filtered")
	if buf.Len() != 0 {
		t.Errorf("level reset by SetOutput: %q", buf.String())
	}
}
