package machine

import (
	"fmt"
	"strings"

	fsm "github.com/goliatone/go-fsm"
)

// DiagramOptions configures Mermaid output.
type DiagramOptions struct {
	// Direction is "TD" or "LR".
	Direction string
	// ShowGuards appends guard names to edge labels.
	ShowGuards bool
	// Fenced wraps the output in a markdown code fence.
	Fenced bool
}

// DefaultDiagramOptions returns top-down output with guards.
func DefaultDiagramOptions() DiagramOptions {
	return DiagramOptions{Direction: "TD", ShowGuards: true}
}

// Mermaid renders the table as a Mermaid state diagram.
func Mermaid[R fsm.Record](t *Table[R], opts DiagramOptions) string {
	if t == nil {
		return ""
	}
	dir := strings.ToUpper(strings.TrimSpace(opts.Direction))
	if dir != "LR" {
		dir = "TD"
	}

	var sb strings.Builder
	if opts.Fenced {
		sb.WriteString("```mermaid\n")
	}
	fmt.Fprintf(&sb, "stateDiagram-v2\n    direction %s\n", dir)
	fmt.Fprintf(&sb, "    [*] --> %s\n", t.Initial())

	for _, state := range t.stateOrder {
		for _, event := range t.eventOrder {
			tr, ok := t.index[transitionKey(state, event)]
			if !ok {
				continue
			}
			label := event
			if opts.ShowGuards && len(tr.Guards) > 0 {
				names := make([]string, 0, len(tr.Guards))
				for _, g := range tr.Guards {
					names = append(names, g.Name)
				}
				label += " [" + strings.Join(names, ", ") + "]"
			}
			fmt.Fprintf(&sb, "    %s --> %s: %s\n", state, tr.To, label)
		}
	}
	for _, state := range t.stateOrder {
		if t.states[state].Terminal {
			fmt.Fprintf(&sb, "    %s --> [*]\n", state)
		}
	}
	if opts.Fenced {
		sb.WriteString("```\n")
	}
	return sb.String()
}
