// Package output writes captured stacks as text.
package output

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/danpilch/stacksampler/pkg/capture"
	"github.com/danpilch/stacksampler/pkg/host"
)

// Format represents the output format type.
type Format string

const (
	FormatText  Format = "text"
	FormatTable Format = "table"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatText, "":
		return FormatText, nil
	case FormatTable:
		return FormatTable, nil
	default:
		return "", fmt.Errorf("unknown output format %q", s)
	}
}

// Sink receives one stack per sampled thread.
type Sink interface {
	WriteStack(handle host.ThreadHandle, frames []capture.Frame) error
}

// Writer is a Sink writing to an io.Writer.
type Writer struct {
	mu     sync.Mutex
	format Format
	writer io.Writer
	stacks int
}

// NewWriter creates a sink in the given format.
func NewWriter(format Format, w io.Writer) *Writer {
	return &Writer{
		format: format,
		writer: w,
	}
}

// Stacks returns the number of stacks written so far.
func (s *Writer) Stacks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stacks
}

// WriteStack implements Sink. Frames are written leaf first, one per line.
func (s *Writer) WriteStack(handle host.ThreadHandle, frames []capture.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stacks++

	switch s.format {
	case FormatTable:
		return s.renderTable(handle, frames)
	default:
		return s.renderText(handle, frames)
	}
}

func (s *Writer) renderText(handle host.ThreadHandle, frames []capture.Frame) error {
	var b strings.Builder
	if len(frames) == 0 {
		fmt.Fprintf(&b, "Thread %s: <empty stack>\n", handle)
	} else {
		fmt.Fprintf(&b, "Thread %s:\n", handle)
		for _, f := range frames {
			b.WriteString("    ")
			b.WriteString(f.String())
			b.WriteByte('\n')
		}
	}
	_, err := io.WriteString(s.writer, b.String())
	return err
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("62")).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))

	kindStyles = map[capture.Kind]lipgloss.Style{
		capture.Managed: lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true), // Green
		capture.Native:  lipgloss.NewStyle().Foreground(lipgloss.Color("14")),            // Cyan
		capture.Unknown: lipgloss.NewStyle().Foreground(lipgloss.Color("8")),             // Gray
	}
)

func (s *Writer) renderTable(handle host.ThreadHandle, frames []capture.Frame) error {
	fmt.Fprintln(s.writer, titleStyle.Render("Thread "+handle.String()))
	if len(frames) == 0 {
		fmt.Fprintln(s.writer, dimStyle.Render("  <empty stack>"))
		return nil
	}

	rows := make([][]string, len(frames))
	for i, f := range frames {
		rows[i] = []string{
			strconv.Itoa(i),
			kindStyles[f.Kind].Render(strings.ToUpper(f.Kind.String())),
			fmt.Sprintf("0x%x", f.IP),
			f.String(),
		}
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(dimStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers("#", "KIND", "IP", "FRAME").
		Rows(rows...)

	_, err := fmt.Fprintln(s.writer, t)
	return err
}
