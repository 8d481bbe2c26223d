package executor

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/ormasoftchile/flowplan/pkg/kernel/skill"
	"github.com/ormasoftchile/flowplan/pkg/kernel/vars"
)

// ExtensionRunner talks to an external function host via JSON-RPC 2.0 over
// stdio, one request per line. The process is started on first use and
// serves every function bound to it.
type ExtensionRunner struct {
	command string
	args    []string

	cmd     *exec.Cmd
	stdin   io.WriteCloser
	scanner *bufio.Scanner
	mu      sync.Mutex
	nextID  atomic.Int64
	started bool
}

type jsonRPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
	ID      int64  `json:"id"`
}

type jsonRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *jsonRPCError   `json:"error,omitempty"`
	ID      int64           `json:"id"`
}

type jsonRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// InvokeResult is the host's reply to an invoke request. A non-empty Error
// is a soft failure of the function.
type InvokeResult struct {
	Variables map[string]string `json:"variables"`
	Error     string            `json:"error,omitempty"`
}

// NewExtensionRunner creates a runner for the given host command.
func NewExtensionRunner(command string, args ...string) *ExtensionRunner {
	return &ExtensionRunner{command: command, args: args}
}

// Start spawns the host process and sends the initialize handshake. It is
// a no-op once the runner has started.
func (r *ExtensionRunner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.startLocked(ctx)
}

func (r *ExtensionRunner) startLocked(ctx context.Context) error {
	if r.started {
		return nil
	}
	r.cmd = exec.Command(r.command, r.args...) //#nosec G204 -- host command comes from the catalog author

	stdin, err := r.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := r.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}

	r.stdin = stdin
	r.scanner = bufio.NewScanner(stdout)
	r.scanner.Buffer(make([]byte, 1024*1024), 1024*1024)

	if err := r.cmd.Start(); err != nil {
		return fmt.Errorf("start runner: %w", err)
	}
	r.started = true

	if _, err := r.callLocked(ctx, "initialize", map[string]any{"protocol_version": "1"}); err != nil {
		_ = r.cmd.Process.Kill()
		r.started = false
		return fmt.Errorf("initialize: %w", err)
	}
	return nil
}

// Invoke asks the host to run skillName.name over variables.
func (r *ExtensionRunner) Invoke(ctx context.Context, skillName, name string, variables *vars.Scope) (*InvokeResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.startLocked(ctx); err != nil {
		return nil, err
	}

	params := map[string]any{
		"skill":     skillName,
		"function":  name,
		"variables": variables,
	}
	resp, err := r.callLocked(ctx, "invoke", params)
	if err != nil {
		return nil, err
	}

	var result InvokeResult
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, fmt.Errorf("unmarshal invoke result: %w", err)
	}
	return &result, nil
}

// Shutdown sends a shutdown request and waits for the process to exit.
func (r *ExtensionRunner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.started {
		return nil
	}
	r.started = false

	_, _ = r.callLocked(ctx, "shutdown", map[string]any{})
	_ = r.stdin.Close()
	if r.cmd == nil {
		return nil
	}
	return r.cmd.Wait()
}

// NewExtensionFunction returns a catalog function served by r. Variables
// returned by the host are set on the scope, so an "input" entry becomes the
// new input.
func NewExtensionFunction(view skill.View, r *ExtensionRunner) skill.Function {
	return skill.NewNativeFunction(view, func(ctx context.Context, sc *skill.Context) error {
		res, err := r.Invoke(ctx, view.SkillName, view.Name, sc.Variables)
		if err != nil {
			return fmt.Errorf("extension %s: %w", view.QualifiedName(), err)
		}
		if res.Error != "" {
			return fmt.Errorf("%s: %s", view.Name, res.Error)
		}
		keys := make([]string, 0, len(res.Variables))
		for k := range res.Variables {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			sc.Variables.Set(k, res.Variables[k])
		}
		return nil
	})
}

// callLocked sends a JSON-RPC request and reads the response. Must be called with mu held.
func (r *ExtensionRunner) callLocked(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id := r.nextID.Add(1)
	req := jsonRPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      id,
	}

	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	data = append(data, '\n')

	if _, err := r.stdin.Write(data); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}

	if !r.scanner.Scan() {
		if err := r.scanner.Err(); err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		return nil, fmt.Errorf("runner closed stdout")
	}

	var resp jsonRPCResponse
	if err := json.Unmarshal(r.scanner.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if resp.ID != id {
		return nil, fmt.Errorf("response id %d, want %d", resp.ID, id)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("runner error %d: %s", resp.Error.Code, resp.Error.Message)
	}
	return resp.Result, nil
}
