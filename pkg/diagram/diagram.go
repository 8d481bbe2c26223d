// Package diagram renders plan trees as Mermaid flowcharts, ASCII boxes, or
// Markdown outlines.
package diagram

import (
	"fmt"
	"strings"

	"github.com/mattn/go-runewidth"

	"github.com/ormasoftchile/flowplan/pkg/kernel/plan"
)

// Format represents the output diagram format.
type Format string

const (
	FormatMermaid  Format = "mermaid"
	FormatASCII    Format = "ascii"
	FormatMarkdown Format = "markdown"
)

// Generate produces a diagram string from a plan.
func Generate(p *plan.Plan, format Format) (string, error) {
	if p == nil {
		return "", fmt.Errorf("nil plan")
	}
	root := flatten(p, "s", true)
	switch format {
	case FormatMermaid:
		return generateMermaid(p, root), nil
	case FormatASCII:
		return generateASCII(p, root), nil
	case FormatMarkdown:
		return generateMarkdown(p, root), nil
	default:
		return "", fmt.Errorf("unsupported diagram format: %s", format)
	}
}

// --- tree walking helpers ---

type status int

const (
	statusPending status = iota
	statusNext
	statusDone
)

type diagramStep struct {
	id         string
	title      string
	leaf       bool
	unresolved bool
	params     []string
	output     string
	status     status
	steps      []diagramStep
}

// flatten converts the children of p into diagram steps. live is false
// under a node that has not started, so its cursor says nothing.
func flatten(p *plan.Plan, prefix string, live bool) []diagramStep {
	var out []diagramStep
	for i, child := range p.Steps() {
		ds := diagramStep{
			id:         fmt.Sprintf("%s_%d", prefix, i),
			title:      child.QualifiedName(),
			leaf:       child.IsLeaf(),
			unresolved: child.IsLeaf() && !child.IsBound(),
		}
		if !ds.leaf {
			ds.title = child.Description
			if ds.title == "" {
				ds.title = child.Name
			}
		}
		for _, pair := range child.NamedParameters.Pairs() {
			ds.params = append(ds.params, pair.Key+"="+pair.Value)
		}
		if out := child.NamedOutputs.Value(plan.ResultKey); out != "" {
			ds.output = out
		}
		switch {
		case live && i < p.NextStepIndex():
			ds.status = statusDone
		case live && i == p.NextStepIndex():
			ds.status = statusNext
		}
		if !ds.leaf {
			ds.steps = flatten(child, ds.id, ds.status != statusPending)
		}
		out = append(out, ds)
	}
	return out
}

func goalOf(p *plan.Plan) string {
	if p.Description != "" {
		return p.Description
	}
	if p.Name != "" {
		return p.Name
	}
	return "Plan"
}

func stepIcon(s diagramStep) string {
	switch {
	case s.unresolved:
		return "✗"
	case s.status == statusDone:
		return "✓"
	case s.status == statusNext:
		return "▶"
	case !s.leaf:
		return "◆"
	default:
		return "○"
	}
}

// --- Mermaid flowchart ---

func generateMermaid(p *plan.Plan, steps []diagramStep) string {
	var b strings.Builder
	b.WriteString("flowchart TD\n")
	b.WriteString(fmt.Sprintf("    START([%q])\n", escMermaid(truncate(goalOf(p), 60))))
	if len(steps) == 0 {
		return b.String()
	}

	last := writeMermaidSteps(&b, steps, "START", "    ")
	b.WriteString("    " + last + " --> END([Done])\n")

	var styles []string
	collectStyles(steps, &styles)
	for _, s := range styles {
		b.WriteString("    " + s + "\n")
	}
	return b.String()
}

// writeMermaidSteps writes the nodes and edges of a sequence starting after
// prev and returns the id the next node should connect from.
func writeMermaidSteps(b *strings.Builder, steps []diagramStep, prev, indent string) string {
	for _, s := range steps {
		if s.leaf {
			b.WriteString(indent + nodeDefinition(s) + "\n")
			b.WriteString(fmt.Sprintf("%s%s --> %s\n", indent, prev, s.id))
			prev = s.id
			continue
		}
		b.WriteString(fmt.Sprintf("%ssubgraph %s [%q]\n", indent, s.id, escMermaid(truncate(s.title, 40))))
		entry := s.id + "_in"
		b.WriteString(fmt.Sprintf("%s    %s((%s))\n", indent, entry, stepIcon(s)))
		inner := writeMermaidSteps(b, s.steps, entry, indent+"    ")
		b.WriteString(indent + "end\n")
		b.WriteString(fmt.Sprintf("%s%s --> %s\n", indent, prev, entry))
		prev = inner
		if s.output != "" {
			out := s.id + "_out"
			b.WriteString(fmt.Sprintf("%s%s[/%q/]\n", indent, out, "→ "+s.output))
			b.WriteString(fmt.Sprintf("%s%s --> %s\n", indent, prev, out))
			prev = out
		}
	}
	return prev
}

func collectStyles(steps []diagramStep, styles *[]string) {
	for _, s := range steps {
		switch {
		case s.unresolved:
			*styles = append(*styles, fmt.Sprintf("style %s fill:#a00,stroke:#700,color:#fff", s.id))
		case s.leaf && s.status == statusDone:
			*styles = append(*styles, fmt.Sprintf("style %s fill:#0d6,stroke:#0a5,color:#fff", s.id))
		case s.leaf && s.status == statusNext:
			*styles = append(*styles, fmt.Sprintf("style %s fill:#07a,stroke:#058,color:#fff", s.id))
		}
		collectStyles(s.steps, styles)
	}
}

func nodeDefinition(s diagramStep) string {
	label := escMermaid(s.title)
	for _, p := range s.params {
		label += "<br/>" + escMermaid(truncate(p, 40))
	}
	if s.output != "" {
		label += "<br/>→ " + escMermaid(s.output)
	}
	return fmt.Sprintf(`%s["%s %s"]`, s.id, stepIcon(s), label)
}

func escMermaid(s string) string {
	s = strings.ReplaceAll(s, `"`, "#quot;")
	s = strings.ReplaceAll(s, `'`, "#apos;")
	return s
}

// --- ASCII ---

func generateASCII(p *plan.Plan, steps []diagramStep) string {
	var b strings.Builder
	name := goalOf(p)
	if len(steps) == 0 {
		b.WriteString(name + " (empty)\n")
		return b.String()
	}

	const indent = 4
	boxWidth := computeUniformBoxWidth(steps, name, 0)
	connCol := indent + 1 + boxWidth/2 // +1 accounts for the left border character
	pad := strings.Repeat(" ", indent)
	connPad := strings.Repeat(" ", connCol)

	headerText := centerPad(name, boxWidth)
	mid := boxWidth / 2
	b.WriteString(pad + "╔" + strings.Repeat("═", boxWidth) + "╗\n")
	b.WriteString(pad + "║" + headerText + "║\n")
	b.WriteString(pad + "╚" + strings.Repeat("═", mid) + "╤" + strings.Repeat("═", boxWidth-mid-1) + "╝\n")
	b.WriteString(connPad + "│\n")

	writeASCIISteps(&b, steps, indent, boxWidth, connPad, true)
	return b.String()
}

func writeASCIISteps(b *strings.Builder, steps []diagramStep, indent, boxWidth int, connPad string, top bool) {
	for i, s := range steps {
		lines := stepLines(s)
		pad := strings.Repeat(" ", indent)
		mid := boxWidth / 2

		if s.leaf {
			b.WriteString(pad + "┌" + strings.Repeat("─", boxWidth) + "┐\n")
		} else {
			b.WriteString(pad + "┏" + strings.Repeat("━", boxWidth) + "┓\n")
		}
		side := "│"
		if !s.leaf {
			side = "┃"
		}
		for _, l := range lines {
			b.WriteString(pad + side + l + strings.Repeat(" ", max(0, boxWidth-runewidth.StringWidth(l))) + side + "\n")
		}
		if s.leaf {
			b.WriteString(pad + "└" + strings.Repeat("─", mid) + "┬" + strings.Repeat("─", boxWidth-mid-1) + "┘\n")
		} else {
			b.WriteString(pad + "┗" + strings.Repeat("━", mid) + "┯" + strings.Repeat("━", boxWidth-mid-1) + "┛\n")
			if len(s.steps) > 0 {
				b.WriteString(connPad + "│\n")
				writeASCIISteps(b, s.steps, indent, boxWidth, connPad, false)
			}
		}
		if i < len(steps)-1 || !top {
			b.WriteString(connPad + "│\n")
		}
	}
}

func stepLines(s diagramStep) []string {
	lines := []string{fmt.Sprintf(" %s %s ", stepIcon(s), s.title)}
	for _, p := range s.params {
		lines = append(lines, "   "+truncate(p, 40)+" ")
	}
	if s.output != "" {
		lines = append(lines, " → "+s.output+" ")
	}
	return lines
}

// computeUniformBoxWidth returns the widest interior width needed
// across all steps and the header name.
func computeUniformBoxWidth(steps []diagramStep, name string, w int) int {
	if w == 0 {
		w = 22
		if nw := runewidth.StringWidth(name) + 4; nw > w {
			w = nw
		}
	}
	for _, s := range steps {
		for _, l := range stepLines(s) {
			if lw := runewidth.StringWidth(l); lw > w {
				w = lw
			}
		}
		w = computeUniformBoxWidth(s.steps, name, w)
	}
	return w
}

// centerPad centers s within width using spaces, based on display width.
func centerPad(s string, width int) string {
	sw := runewidth.StringWidth(s)
	if sw >= width {
		return s
	}
	total := width - sw
	left := total / 2
	right := total - left
	return strings.Repeat(" ", left) + s + strings.Repeat(" ", right)
}

// --- Markdown ---

func generateMarkdown(p *plan.Plan, steps []diagramStep) string {
	var b strings.Builder
	b.WriteString("# " + goalOf(p) + "\n\n")
	if len(steps) == 0 {
		b.WriteString("_No steps._\n")
		return b.String()
	}
	writeMarkdownSteps(&b, steps, 0)

	done, total := countLeaves(steps)
	b.WriteString(fmt.Sprintf("\n**Progress:** %d of %d functions completed", done, total))
	if n := countUnresolved(steps); n > 0 {
		b.WriteString(fmt.Sprintf(", %d unresolved", n))
	}
	b.WriteString("\n")
	return b.String()
}

func writeMarkdownSteps(b *strings.Builder, steps []diagramStep, depth int) {
	indent := strings.Repeat("   ", depth)
	for i, s := range steps {
		title := "`" + s.title + "`"
		if !s.leaf {
			title = "**" + s.title + "**"
		}
		b.WriteString(fmt.Sprintf("%s%d. %s %s", indent, i+1, stepIcon(s), title))
		if len(s.params) > 0 {
			b.WriteString(" (" + strings.Join(s.params, ", ") + ")")
		}
		if s.output != "" {
			b.WriteString(" → `" + s.output + "`")
		}
		if s.unresolved {
			b.WriteString(" _not in catalog_")
		}
		b.WriteString("\n")
		writeMarkdownSteps(b, s.steps, depth+1)
	}
}

func countLeaves(steps []diagramStep) (done, total int) {
	for _, s := range steps {
		if s.leaf {
			total++
			if s.status == statusDone {
				done++
			}
			continue
		}
		d, t := countLeaves(s.steps)
		done += d
		total += t
	}
	return done, total
}

func countUnresolved(steps []diagramStep) int {
	n := 0
	for _, s := range steps {
		if s.unresolved {
			n++
		}
		n += countUnresolved(s.steps)
	}
	return n
}

// --- string helpers ---

func truncate(s string, max int) string {
	if runewidth.StringWidth(s) <= max {
		return s
	}
	return runewidth.Truncate(s, max, "...")
}
