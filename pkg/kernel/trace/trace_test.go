package trace

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestWriter_Emit(t *testing.T) {
	var buf bytes.Buffer
	tw := NewWriter(&buf, "test-run-1")

	err := tw.EmitStepStart("Solve the equation", 0, "math.simplify")
	if err != nil {
		t.Fatalf("Emit error: %v", err)
	}

	var evt Event
	if err := json.Unmarshal(buf.Bytes(), &evt); err != nil {
		t.Fatalf("JSON unmarshal: %v (raw: %s)", err, buf.String())
	}
	if evt.Type != EventStepStart {
		t.Errorf("type = %q, want step_start", evt.Type)
	}
	if evt.RunID != "test-run-1" {
		t.Errorf("run_id = %q", evt.RunID)
	}
	if evt.Data["function"] != "math.simplify" {
		t.Errorf("function = %v", evt.Data["function"])
	}
	if evt.PrevHash != genesisHash {
		t.Errorf("first prev_hash = %q, want genesis", evt.PrevHash)
	}
}

func TestWriter_EmitStepComplete_WithFailure(t *testing.T) {
	var buf bytes.Buffer
	tw := NewWriter(&buf, "run-1")

	err := tw.EmitStepComplete("p", 2, StatusFailed, "", 50*time.Millisecond, &Failure{
		Kind: "invocation", Message: "boom",
	})
	if err != nil {
		t.Fatal(err)
	}

	var evt Event
	if err := json.Unmarshal(buf.Bytes(), &evt); err != nil {
		t.Fatal(err)
	}
	if evt.Data["status"] != "failed" {
		t.Errorf("status = %v", evt.Data["status"])
	}
	failure, ok := evt.Data["failure"].(map[string]any)
	if !ok {
		t.Fatal("expected failure map in data")
	}
	if failure["message"] != "boom" {
		t.Errorf("failure message = %v", failure["message"])
	}
	if _, ok := evt.Data["result"]; ok {
		t.Error("empty result should be omitted")
	}
}

func TestVerify_ValidChain(t *testing.T) {
	var buf bytes.Buffer
	tw := NewWriter(&buf, "run-1")
	tw.EmitPlanStart("goal", 0, 2)
	tw.EmitStepStart("goal", 0, "a.b")
	tw.EmitStepComplete("goal", 0, StatusSuccess, "ok", time.Millisecond, nil)
	tw.EmitPlanComplete("goal", StatusSuccess, time.Second)

	res, err := Verify(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Valid {
		t.Fatalf("expected valid chain, got error %q", res.Error)
	}
	if res.EventCount != 4 {
		t.Errorf("EventCount = %d, want 4", res.EventCount)
	}
	if res.BrokenAt != -1 {
		t.Errorf("BrokenAt = %d, want -1", res.BrokenAt)
	}
}

func TestVerify_TamperedLine(t *testing.T) {
	var buf bytes.Buffer
	tw := NewWriter(&buf, "run-1")
	tw.EmitStepStart("goal", 0, "a.b")
	tw.EmitStepComplete("goal", 0, StatusSuccess, "ok", time.Millisecond, nil)
	tw.EmitPlanComplete("goal", StatusSuccess, time.Second)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	lines[1] = strings.Replace(lines[1], `"ok"`, `"forged"`, 1)
	tampered := strings.Join(lines, "\n")

	res, err := Verify(strings.NewReader(tampered))
	if err != nil {
		t.Fatal(err)
	}
	if res.Valid {
		t.Fatal("expected broken chain")
	}
	if res.BrokenAt != 3 {
		t.Errorf("BrokenAt = %d, want 3", res.BrokenAt)
	}
}

func TestVerify_InvalidJSON(t *testing.T) {
	res, err := Verify(strings.NewReader("not json\n"))
	if err != nil {
		t.Fatal(err)
	}
	if res.Valid || res.BrokenAt != 1 {
		t.Errorf("got valid=%v brokenAt=%d", res.Valid, res.BrokenAt)
	}
}

func TestReadEvents(t *testing.T) {
	var buf bytes.Buffer
	tw := NewWriter(&buf, "read-run")
	_ = tw.EmitPlanStart("goal", 0, 2)
	_ = tw.EmitStepStart("goal", 0, "text.Uppercase")
	_ = tw.EmitStepComplete("goal", 0, StatusSuccess, "HI", time.Millisecond, nil)

	events, err := ReadEvents(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 3 {
		t.Fatalf("events = %d, want 3", len(events))
	}
	if events[1].Type != EventStepStart || events[1].Data["function"] != "text.Uppercase" {
		t.Errorf("event 1 = %+v", events[1])
	}

	if _, err := ReadEvents(strings.NewReader("{not json}\n")); err == nil {
		t.Error("expected decode error")
	}
}

func TestNewFileWriter_ContinuesChain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.jsonl")
	for _, runID := range []string{"step-1", "step-2"} {
		tw, err := NewFileWriter(path, runID)
		if err != nil {
			t.Fatal(err)
		}
		_ = tw.EmitStepStart("goal", 0, "text.Trim")
		_ = tw.EmitStepComplete("goal", 0, StatusSuccess, "ok", time.Millisecond, nil)
		if err := tw.Close(); err != nil {
			t.Fatal(err)
		}
	}

	res, err := VerifyFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Valid {
		t.Fatalf("expected valid chain across writers, got %q", res.Error)
	}
	if res.EventCount != 4 {
		t.Errorf("EventCount = %d, want 4", res.EventCount)
	}
	if got := strings.Join(res.RunIDs, ","); got != "step-1,step-2" {
		t.Errorf("RunIDs = %q, want %q", got, "step-1,step-2")
	}
}
