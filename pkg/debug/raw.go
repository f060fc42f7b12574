package debug

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/danpilch/stacksampler/pkg/registry"
	"github.com/danpilch/stacksampler/pkg/threadstate"
)

// DumpRegistry prints every registered thread with its native identity and,
// if probe is non-nil, its current run state.
func DumpRegistry(w io.Writer, entries []registry.Entry, probe threadstate.Probe) {
	title := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	header := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("62")).Padding(0, 1)
	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))

	fmt.Fprintln(w)
	fmt.Fprintln(w, title.Render("Thread Registry Dump"))
	fmt.Fprintln(w, dim.Render(strings.Repeat("═", 75)))
	fmt.Fprintf(w, "  %s %s %s %s %s\n",
		header.Render("HANDLE          "),
		header.Render("TID     "),
		header.Render("NATIVE          "),
		header.Render("STACK BASE        "),
		header.Render("STATE    "))
	fmt.Fprintln(w, "  "+dim.Render(strings.Repeat("─", 75)))

	for _, e := range entries {
		state := "-"
		if probe != nil {
			state = string(probe.State(e.Record))
		}
		fmt.Fprintf(w, "  %-18s %-10d %-18s %-20s %s\n",
			e.Handle.String(),
			e.Record.OSThreadID,
			fmt.Sprintf("0x%x", e.Record.NativeHandle),
			fmt.Sprintf("0x%x", e.Record.StackBase),
			dim.Render(state))
	}
}
