// Package debugger implements the interactive REPL debugger for plans.
package debugger

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/chzyer/readline"

	"github.com/ormasoftchile/flowplan/pkg/kernel/plan"
	"github.com/ormasoftchile/flowplan/pkg/kernel/skill"
)

var (
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("51"))
)

// stepRecord is one executed step, kept for the history command.
type stepRecord struct {
	Index    int
	Function string
	Status   string
	Output   string
	Error    string
	Duration time.Duration
}

// Debugger provides an interactive REPL for stepping through plan execution.
// Each "next" runs exactly one top-level step, the same way Invoke would.
type Debugger struct {
	plan    *plan.Plan
	sc      *skill.Context
	output  io.Writer
	rl      *readline.Instance
	history []stepRecord
}

// New creates a debugger over p. sc supplies the catalog, caller variables,
// logger, and optional trace writer.
func New(p *plan.Plan, sc *skill.Context) *Debugger {
	if sc == nil {
		sc = skill.NewContext(nil, nil, nil)
	}
	return &Debugger{plan: p, sc: sc, output: os.Stdout}
}

// SetOutput redirects debugger output.
func (d *Debugger) SetOutput(w io.Writer) { d.output = w }

// Plan returns the plan being debugged, including its cursor.
func (d *Debugger) Plan() *plan.Plan { return d.plan }

// Run starts the interactive REPL loop.
func (d *Debugger) Run(ctx context.Context) error {
	commands := []string{"next", "continue", "print state", "print vars", "print params",
		"print steps", "history", "show", "set", "save", "dump", "help", "quit"}

	var completer = readline.NewPrefixCompleter()
	for _, cmd := range commands {
		completer.Children = append(completer.Children,
			readline.PcItem(cmd))
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          d.buildPrompt(),
		AutoComplete:    completer,
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
	})
	if err != nil {
		return fmt.Errorf("init readline: %w", err)
	}
	d.rl = rl
	defer rl.Close()

	fmt.Fprintf(d.output, "%s %s, %d steps\n", headerStyle.Render("flowplan debugger"), d.plan.Description, d.plan.StepCount())
	fmt.Fprintf(d.output, "Type 'help' for available commands, 'next' to execute next step.\n\n")

	for {
		rl.SetPrompt(d.buildPrompt())
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				return nil
			}
			return err
		}
		if quit := d.dispatch(ctx, line); quit {
			return nil
		}
	}
}

// dispatch runs one command line and reports whether the user asked to quit.
func (d *Debugger) dispatch(ctx context.Context, line string) bool {
	parts := strings.Fields(strings.TrimSpace(line))
	if len(parts) == 0 {
		return false
	}

	switch parts[0] {
	case "next", "n":
		d.handleNext(ctx)
	case "continue", "c":
		d.handleContinue(ctx)
	case "print", "p":
		d.handlePrint(parts)
	case "history", "h":
		d.handleHistory()
	case "show":
		d.handleShow()
	case "set":
		d.handleSet(parts)
	case "save":
		d.handleSave(parts)
	case "dump":
		d.handleDump()
	case "help", "?":
		d.handleHelp()
	case "quit", "q":
		fmt.Fprintf(d.output, "Exiting debugger.\n")
		return true
	default:
		fmt.Fprintf(d.output, "Unknown command: %q. Type 'help' for available commands.\n", parts[0])
	}
	return false
}

// buildPrompt creates the prompt string: flowplan[step N/total | skill.fn]>
func (d *Debugger) buildPrompt() string {
	if !d.plan.HasNextStep() {
		return "flowplan[done]> "
	}
	idx := d.plan.NextStepIndex()
	step := d.plan.Steps()[idx]
	return fmt.Sprintf("flowplan[%d/%d | %s]> ", idx+1, d.plan.StepCount(), step.QualifiedName())
}
