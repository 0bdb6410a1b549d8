package main

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/recera/fiberpool/internal/config"
	"github.com/recera/fiberpool/pkg/fiberpool"
)

var (
	dashTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7C3AED")).
			Padding(0, 1)

	dashHeaderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#06B6D4"))

	dashPanelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#6B7280")).
			Padding(0, 1)

	dashMutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280")).Italic(true)
)

func newDashboardCommand() *cobra.Command {
	var cwd string
	var workload int

	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Run a scheduler in-process and watch it live in a terminal dashboard",
		Long:  `Starts a Scheduler from fiberpool.yaml, keeps it busy with a churning demo workload, and renders Scheduler.Snapshot() as a live terminal table.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDashboard(cwd, workload)
		},
	}

	cmd.Flags().StringVar(&cwd, "cwd", ".", "Project directory containing fiberpool.yaml")
	cmd.Flags().IntVar(&workload, "workload", 64, "Number of churning background tasks to keep the scheduler busy")

	return cmd
}

func runDashboard(cwd string, workload int) error {
	cfg, err := config.Load(cwd)
	if err != nil {
		cfg = config.DefaultConfig()
	}
	applyDebugConfig(cfg)
	workers := cfg.Workers.Count
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	sched := fiberpool.NewSchedulerWithConfig(workers, tuningFromConfig(cfg))
	defer sched.Close()

	stop := make(chan struct{})
	defer close(stop)
	for i := 0; i < workload; i++ {
		go churn(sched, stop)
	}

	m := dashboardModel{sched: sched, start: time.Now()}
	p := tea.NewProgram(m)
	_, err = p.Run()
	return err
}

// churn keeps the scheduler busy by scheduling a small task every 5ms
// until stop is closed. Each task only sleeps for 1ms; none of them
// suspends on a primitive.
func churn(sched *fiberpool.Scheduler, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}
		sched.Schedule(func() {
			time.Sleep(time.Millisecond)
		})
		time.Sleep(5 * time.Millisecond)
	}
}

type tickMsg time.Time

type dashboardModel struct {
	sched *fiberpool.Scheduler
	start time.Time
	width int
}

func (m dashboardModel) Init() tea.Cmd {
	return tickCmd()
}

func tickCmd() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m dashboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	case tickMsg:
		return m, tickCmd()
	}
	return m, nil
}

func (m dashboardModel) View() string {
	snap := m.sched.Snapshot()

	var b strings.Builder
	b.WriteString(dashTitleStyle.Render("fiberpool dashboard") + "\n")
	b.WriteString(dashMutedStyle.Render(fmt.Sprintf("uptime %s · %d goroutines · press q to quit", time.Since(m.start).Round(time.Second), snap.NumGoroutines)) + "\n\n")

	header := fmt.Sprintf("%-6s %8s %8s %8s %8s %10s %12s %16s",
		"worker", "qtasks", "qfibers", "waiting", "idle", "tasksRun", "fibersMade", "steals(ok/try)")
	b.WriteString(dashHeaderStyle.Render(header) + "\n")

	for _, w := range snap.Workers {
		row := fmt.Sprintf("%-6d %8d %8d %8d %8d %10d %12d %9d/%-6d",
			w.ID, w.QueuedTasks, w.QueuedFibers, w.WaitingFibers, w.IdleFibers,
			w.TasksRun, w.FibersCreated, w.StealsSucceeded, w.StealsAttempted)
		b.WriteString(row + "\n")
	}

	return dashPanelStyle.Render(b.String())
}
