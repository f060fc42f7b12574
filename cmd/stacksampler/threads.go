package main

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"sort"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/shirou/gopsutil/v4/process"
	"github.com/spf13/cobra"

	"github.com/danpilch/stacksampler/pkg/debug"
	"github.com/danpilch/stacksampler/pkg/host"
	"github.com/danpilch/stacksampler/pkg/registry"
	"github.com/danpilch/stacksampler/pkg/threadstate"
)

var (
	threadsHeader = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("62")).Padding(0, 1)
	threadsCell   = lipgloss.NewStyle().Padding(0, 1)
	threadsDim    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))

	stateStyles = map[threadstate.State]lipgloss.Style{
		threadstate.Running:   lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		threadstate.Suspended: lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		threadstate.Dead:      lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
	}
)

func newThreadsCommand(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "threads",
		Short: "List this process's OS threads with their probed run state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.load(cmd.Flags(), nil)
			if err != nil {
				return err
			}
			return listThreads(cmd.OutOrStdout(), registry.New(nil, cfg.Logger()), threadstate.NewProbe())
		},
	}
}

func listThreads(w io.Writer, reg *registry.Registry, probe threadstate.Probe) error {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return fmt.Errorf("cannot inspect process: %w", err)
	}
	times, err := proc.Threads()
	if err != nil {
		return fmt.Errorf("cannot list threads: %w", err)
	}

	tids := make([]int32, 0, len(times))
	for tid := range times {
		tids = append(tids, tid)
	}
	sort.Slice(tids, func(i, j int) bool { return tids[i] < tids[j] })

	rows := make([][]string, 0, len(tids))
	for _, tid := range tids {
		state := probe.State(registry.Record{OSThreadID: int(tid)})
		cpu := "-"
		if t := times[tid]; t != nil {
			cpu = fmt.Sprintf("%.2fs / %.2fs", t.User, t.System)
		}
		rows = append(rows, []string{
			strconv.Itoa(int(tid)),
			stateStyles[state].Render(string(state)),
			cpu,
		})
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(threadsDim).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return threadsHeader
			}
			return threadsCell
		}).
		Headers("TID", "STATE", "USER / SYSTEM").
		Rows(rows...)
	fmt.Fprintln(w, t)

	// Register the command's own thread to show what the engine would record.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	if err := reg.OnThreadCreated(host.ThreadHandle(1)); err != nil {
		fmt.Fprintln(w, threadsDim.Render("registry: "+err.Error()))
		return nil
	}
	debug.DumpRegistry(w, reg.Snapshot(), probe)
	return nil
}
