package debugger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ormasoftchile/flowplan/pkg/diagram"
	"github.com/ormasoftchile/flowplan/pkg/kernel/plan"
	"github.com/ormasoftchile/flowplan/pkg/kernel/vars"
)

// handleNext executes the next step and advances. It reports whether the
// step succeeded.
func (d *Debugger) handleNext(ctx context.Context) bool {
	p := d.plan
	if !p.HasNextStep() {
		fmt.Fprintf(d.output, "All steps completed.\n")
		return false
	}

	idx := p.NextStepIndex()
	step := p.Steps()[idx]
	fmt.Fprintf(d.output, "Executing step %d: %s\n", idx+1, step.QualifiedName())

	start := time.Now()
	d.sc.Variables.MergeMissing(p.State)
	_, err := p.InvokeNextStep(ctx, d.sc)
	rec := stepRecord{Index: idx, Function: step.QualifiedName(), Duration: time.Since(start)}
	if err != nil {
		rec.Status = "failed"
		rec.Error = err.Error()
		var se *plan.StepError
		if errors.As(err, &se) {
			rec.Error = se.Description
		}
		d.history = append(d.history, rec)
		fmt.Fprintf(d.output, "  %s %s failed: %s\n", failStyle.Render("✗"), rec.Function, rec.Error)
		return false
	}

	d.sc.Variables.Update(p.State.String())
	rec.Status = "passed"
	rec.Output = p.State.String()
	d.history = append(d.history, rec)
	fmt.Fprintf(d.output, "  %s %s passed %s\n", passStyle.Render("✓"), rec.Function,
		dimStyle.Render(fmt.Sprintf("(%dms)", rec.Duration.Milliseconds())))
	if rec.Output != "" {
		fmt.Fprintf(d.output, "    → %s\n", truncate(rec.Output, 200))
	}
	return true
}

// handleContinue executes all remaining steps, halting on the first failure.
func (d *Debugger) handleContinue(ctx context.Context) {
	for d.plan.HasNextStep() {
		if !d.handleNext(ctx) {
			fmt.Fprintf(d.output, "Halted on failure.\n")
			return
		}
	}
	fmt.Fprintf(d.output, "All steps completed.\n")
}

// handlePrint displays state, caller variables, next-step parameters, or the step list.
func (d *Debugger) handlePrint(parts []string) {
	if len(parts) < 2 {
		fmt.Fprintf(d.output, "Usage: print state|vars|params|steps\n")
		return
	}
	switch parts[1] {
	case "state":
		d.printScope("Plan state is empty.", d.plan.State)
	case "vars":
		d.printScope("No variables defined.", d.sc.Variables)
	case "params":
		if !d.plan.HasNextStep() {
			fmt.Fprintf(d.output, "No next step.\n")
			return
		}
		step := d.plan.Steps()[d.plan.NextStepIndex()]
		d.printScope("Next step has no parameters.", step.NamedParameters)
		for _, pair := range step.NamedOutputs.Pairs() {
			fmt.Fprintf(d.output, "  %s → %s\n", pair.Key, pair.Value)
		}
	case "steps":
		for i, step := range d.plan.Steps() {
			glyph := "○"
			switch {
			case i < d.plan.NextStepIndex():
				glyph = passStyle.Render("✓")
			case i == d.plan.NextStepIndex():
				glyph = "▸"
			}
			fmt.Fprintf(d.output, "  %s [%d] %s\n", glyph, i, step.QualifiedName())
		}
	default:
		fmt.Fprintf(d.output, "Unknown print target: %q. Use 'state', 'vars', 'params' or 'steps'.\n", parts[1])
	}
}

func (d *Debugger) printScope(empty string, s *vars.Scope) {
	pairs := s.Pairs()
	if len(pairs) == 0 {
		fmt.Fprintln(d.output, empty)
		return
	}
	for _, pair := range pairs {
		fmt.Fprintf(d.output, "  %s = %q\n", pair.Key, truncate(pair.Value, 200))
	}
}

// handleHistory shows executed step results.
func (d *Debugger) handleHistory() {
	if len(d.history) == 0 {
		fmt.Fprintf(d.output, "No steps executed yet.\n")
		return
	}
	for _, r := range d.history {
		status := passStyle.Render("✓")
		if r.Status == "failed" {
			status = failStyle.Render("✗")
		}
		fmt.Fprintf(d.output, "  %s [%d] %s: %s\n", status, r.Index, r.Function, r.Status)
		if r.Error != "" {
			fmt.Fprintf(d.output, "       error: %s\n", r.Error)
		}
	}
}

// handleShow renders the plan tree with progress.
func (d *Debugger) handleShow() {
	out, err := diagram.Generate(d.plan, diagram.FormatASCII)
	if err != nil {
		fmt.Fprintf(d.output, "  Error: %v\n", err)
		return
	}
	fmt.Fprint(d.output, out)
}

// handleSet assigns a caller variable: set <key> <value...>
func (d *Debugger) handleSet(parts []string) {
	if len(parts) < 3 {
		fmt.Fprintf(d.output, "Usage: set <name> <value>\n")
		return
	}
	value := strings.Join(parts[2:], " ")
	d.sc.Variables.Set(parts[1], value)
	fmt.Fprintf(d.output, "  %s = %q\n", parts[1], value)
}

// handleSave writes the plan, cursor included, as interchange JSON.
func (d *Debugger) handleSave(parts []string) {
	if len(parts) < 2 {
		fmt.Fprintf(d.output, "Usage: save <path>\n")
		return
	}
	data, err := d.plan.ToJSON()
	if err != nil {
		fmt.Fprintf(d.output, "  Error: %v\n", err)
		return
	}
	if err := os.WriteFile(parts[1], []byte(data+"\n"), 0o644); err != nil {
		fmt.Fprintf(d.output, "  Error: %v\n", err)
		return
	}
	fmt.Fprintf(d.output, "  Plan saved: %s\n", parts[1])
}

// handleDump outputs the full plan as JSON.
func (d *Debugger) handleDump() {
	data, err := d.plan.ToJSON()
	if err != nil {
		fmt.Fprintf(d.output, "  Error marshaling plan: %v\n", err)
		return
	}
	fmt.Fprintln(d.output, data)
}

// handleHelp displays available commands.
func (d *Debugger) handleHelp() {
	fmt.Fprintln(d.output, "Available commands:")
	fmt.Fprintln(d.output, "  next (n)         Execute the next step")
	fmt.Fprintln(d.output, "  continue (c)     Execute all remaining steps")
	fmt.Fprintln(d.output, "  print state      Show the plan state")
	fmt.Fprintln(d.output, "  print vars       Show caller variables")
	fmt.Fprintln(d.output, "  print params     Show the next step's parameters and outputs")
	fmt.Fprintln(d.output, "  print steps      List steps with progress")
	fmt.Fprintln(d.output, "  history          Show executed step results")
	fmt.Fprintln(d.output, "  show             Draw the plan tree")
	fmt.Fprintln(d.output, "  set              Set a variable: set <name> <value>")
	fmt.Fprintln(d.output, "  save             Save the plan as JSON: save <path>")
	fmt.Fprintln(d.output, "  dump             Output the plan as JSON")
	fmt.Fprintln(d.output, "  help (?)         Show this help")
	fmt.Fprintln(d.output, "  quit (q)         Exit debugger")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
