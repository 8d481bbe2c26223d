package llm

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// CommandCompletion implements TextCompletion by shelling out to a local
// model CLI. The prompt is written to stdin and stdout is the completion.
// Request settings are passed as FLOWPLAN_* environment variables; stop
// sequences are also applied to the output.
type CommandCompletion struct {
	// Argv is the command line; Argv[0] is the executable.
	Argv []string
	// Timeout for the process (default: 5 minutes).
	Timeout time.Duration
}

// Complete pipes prompt to the configured command.
func (c *CommandCompletion) Complete(ctx context.Context, prompt string, settings Settings) (string, error) {
	if len(c.Argv) == 0 {
		return "", fmt.Errorf("completion command: empty argv")
	}
	timeout := c.Timeout
	if timeout == 0 {
		timeout = 5 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.Argv[0], c.Argv[1:]...) //#nosec G204 -- command comes from user configuration
	cmd.Stdin = strings.NewReader(prompt)
	cmd.Env = append(os.Environ(), settingsEnv(settings)...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("completion command: %w", ctx.Err())
		}
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = "(no stderr)"
		}
		return "", fmt.Errorf("completion command failed: %w\nstderr: %s", err, detail)
	}
	return truncateAtStop(stdout.String(), settings.StopSequences), nil
}

func settingsEnv(s Settings) []string {
	env := []string{
		"FLOWPLAN_MAX_TOKENS=" + strconv.Itoa(s.MaxTokens),
		"FLOWPLAN_TEMPERATURE=" + strconv.FormatFloat(s.Temperature, 'f', -1, 64),
		"FLOWPLAN_TOP_P=" + strconv.FormatFloat(s.TopP, 'f', -1, 64),
	}
	if len(s.StopSequences) > 0 {
		env = append(env, "FLOWPLAN_STOP="+strings.Join(s.StopSequences, "\x1f"))
	}
	return env
}

// truncateAtStop cuts text at the earliest stop sequence.
func truncateAtStop(text string, stops []string) string {
	cut := len(text)
	for _, s := range stops {
		if s == "" {
			continue
		}
		if i := strings.Index(text, s); i >= 0 && i < cut {
			cut = i
		}
	}
	return text[:cut]
}
