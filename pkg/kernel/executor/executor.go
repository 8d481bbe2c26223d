// Package executor runs catalog functions implemented by external processes.
//
// A command function spawns one process per invocation: its argv entries are
// templates rendered against the variable scope, the scope's input is written
// to stdin, and trimmed stdout becomes the new input. An extension function
// talks JSON-RPC to a long-running runner process.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ormasoftchile/flowplan/pkg/kernel/eval"
	"github.com/ormasoftchile/flowplan/pkg/kernel/skill"
	"github.com/ormasoftchile/flowplan/pkg/kernel/vars"
)

// Extract maps process output to a scope variable.
type Extract struct {
	From    string `yaml:"from,omitempty" json:"from,omitempty"` // stdout (default), stderr, json
	Pattern string `yaml:"pattern,omitempty" json:"pattern,omitempty"`
	Path    string `yaml:"path,omitempty" json:"path,omitempty"`
}

// Command describes a process-backed function.
type Command struct {
	Argv    []string
	Binary  string // overrides argv[0] for process lookup
	Dir     string
	Timeout time.Duration
	Env     []string // nil inherits the parent environment
	Extract map[string]Extract
}

// Result is the output of one process run.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Outputs  map[string]string
}

// Run executes cmd with argv rendered against scope and the scope's input on
// stdin. A non-zero exit is reported in Result, not as an error.
func Run(ctx context.Context, cmd Command, scope *vars.Scope) (*Result, error) {
	if len(cmd.Argv) == 0 {
		return nil, fmt.Errorf("command has no argv")
	}

	argv, err := eval.RenderAll(cmd.Argv, scope)
	if err != nil {
		return nil, fmt.Errorf("argv: %w", err)
	}

	binaryName := argv[0]
	if cmd.Binary != "" {
		binaryName = cmd.Binary
	}

	if cmd.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}

	c := exec.CommandContext(ctx, binaryName, argv[1:]...) //#nosec G204 -- argv comes from the catalog author
	c.Dir = cmd.Dir
	c.Env = cmd.Env
	c.Stdin = strings.NewReader(scope.Input())
	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	err = c.Run()
	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) || ctx.Err() != nil {
			return nil, fmt.Errorf("exec %q: %w", argv[0], errors.Join(err, ctx.Err()))
		}
		exitCode = exitErr.ExitCode()
	}

	result := &Result{
		ExitCode: exitCode,
		Stdout:   normalizeLineEndings(stdout.String()),
		Stderr:   normalizeLineEndings(stderr.String()),
		Outputs:  make(map[string]string),
	}
	if exitCode == 0 {
		if err := applyExtract(cmd.Extract, result); err != nil {
			return result, fmt.Errorf("extract: %w", err)
		}
	}
	return result, nil
}

// NewFunction returns a catalog function that runs cmd.
func NewFunction(view skill.View, cmd Command) skill.Function {
	return skill.NewNativeFunction(view, func(ctx context.Context, sc *skill.Context) error {
		res, err := Run(ctx, cmd, sc.Variables)
		if err != nil {
			return err
		}
		if res.ExitCode != 0 {
			sc.Logger.Debug("command exited non-zero",
				zap.String("function", view.QualifiedName()),
				zap.Int("exit_code", res.ExitCode))
			msg := strings.TrimSpace(res.Stderr)
			if msg == "" {
				msg = fmt.Sprintf("exit code %d", res.ExitCode)
			}
			return fmt.Errorf("%s: %s", view.Name, msg)
		}
		for k, v := range res.Outputs {
			sc.Variables.Set(k, v)
		}
		sc.Variables.Update(strings.TrimSpace(res.Stdout))
		return nil
	})
}

// applyExtract maps process output to named outputs.
func applyExtract(extracts map[string]Extract, result *Result) error {
	for name, ext := range extracts {
		var source string
		switch ext.From {
		case "stderr":
			source = result.Stderr
		case "json":
			var parsed map[string]any
			if err := json.Unmarshal([]byte(result.Stdout), &parsed); err != nil {
				return fmt.Errorf("extract %q: json parse: %w", name, err)
			}
			result.Outputs[name] = stringify(jsonPath(parsed, ext.Path))
			continue
		default:
			source = result.Stdout
		}

		if ext.Pattern == "" {
			result.Outputs[name] = strings.TrimSpace(source)
			continue
		}
		re, err := regexp.Compile(ext.Pattern)
		if err != nil {
			return fmt.Errorf("extract %q: invalid pattern: %w", name, err)
		}
		match := re.FindStringSubmatch(strings.TrimSpace(source))
		if len(match) > 1 {
			result.Outputs[name] = match[1]
		} else if len(match) == 1 {
			result.Outputs[name] = match[0]
		}
	}
	return nil
}

// jsonPath does a simple dot-path traversal of a JSON object.
func jsonPath(obj map[string]any, path string) any {
	if path == "" {
		return obj
	}
	var current any = obj
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current = m[part]
	}
	return current
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}

// normalizeLineEndings replaces \r\n with \n for cross-platform consistency.
func normalizeLineEndings(s string) string {
	return strings.ReplaceAll(s, "\r\n", "\n")
}
