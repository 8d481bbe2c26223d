package trace

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"
)

// maxLine bounds one JSONL event.
const maxLine = 1 << 20

// VerifyResult is the outcome of checking a trace stream's hash chain.
type VerifyResult struct {
	EventCount int
	Valid      bool
	BrokenAt   int // 1-based event index, -1 when the chain is intact
	ChainHash  string
	Error      string

	// RunIDs lists the runs in the stream in order of first appearance.
	RunIDs []string
	First  time.Time
	Last   time.Time
}

// VerifyFile checks the trace file at path.
func VerifyFile(path string) (*VerifyResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}
	defer f.Close()
	return Verify(f)
}

// Verify walks the stream and checks that each event's prev_hash is the
// SHA-256 of the line before it. A break is reported in the result, not as
// an error; errors are reserved for read failures.
func Verify(r io.Reader) (*VerifyResult, error) {
	res := &VerifyResult{BrokenAt: -1, ChainHash: genesisHash}
	seen := map[string]bool{}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLine)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		res.EventCount++

		var evt Event
		if err := json.Unmarshal(line, &evt); err != nil {
			return res.broken("invalid JSON: %v", err), nil
		}
		if evt.PrevHash != res.ChainHash {
			return res.broken("prev_hash mismatch (expected %s, got %s)", short(res.ChainHash), short(evt.PrevHash)), nil
		}

		if !seen[evt.RunID] {
			seen[evt.RunID] = true
			res.RunIDs = append(res.RunIDs, evt.RunID)
		}
		if res.First.IsZero() {
			res.First = evt.Timestamp
		}
		res.Last = evt.Timestamp

		sum := sha256.Sum256(line)
		res.ChainHash = hex.EncodeToString(sum[:])
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read trace: %w", err)
	}
	res.Valid = true
	return res, nil
}

func (res *VerifyResult) broken(format string, args ...any) *VerifyResult {
	res.BrokenAt = res.EventCount
	res.Error = fmt.Sprintf("event %d: ", res.EventCount) + fmt.Sprintf(format, args...)
	return res
}

func short(h string) string {
	if len(h) > 16 {
		return h[:16] + "..."
	}
	return h
}

// ReadEvents decodes every event of a JSONL trace stream.
func ReadEvents(r io.Reader) ([]Event, error) {
	var events []Event
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLine)
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var evt Event
		if err := json.Unmarshal(scanner.Bytes(), &evt); err != nil {
			return events, fmt.Errorf("event %d: %w", len(events)+1, err)
		}
		events = append(events, evt)
	}
	if err := scanner.Err(); err != nil {
		return events, fmt.Errorf("read trace: %w", err)
	}
	return events, nil
}
