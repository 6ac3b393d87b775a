package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"gosynctasks/backend"
	"gosynctasks/backend/remote"
	"gosynctasks/internal/credentials"
	"gosynctasks/internal/syncengine"
)

var (
	syncKindFlag     string
	syncRemoteFlag   string
	syncWaitFlag     bool
	syncStrategyFlag string
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run a sync job for the active account",
	RunE:  runSync,
}

func init() {
	syncCmd.Flags().StringVar(&syncKindFlag, "kind", "both", "push | pull | both | remote_push | remote_pull | remote_both")
	syncCmd.Flags().StringVar(&syncRemoteFlag, "remote", "", "remote database name (required for remote_* kinds)")
	syncCmd.Flags().BoolVar(&syncWaitFlag, "wait", true, "block until the job finishes, rendering live progress")
	syncCmd.Flags().StringVar(&syncStrategyFlag, "strategy", "", "override the account's configured conflict strategy for this run")
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.close()

	kind := backend.SyncKind(syncKindFlag)

	var remoteStore backend.Store
	if kind == backend.SyncKindRemotePush || kind == backend.SyncKindRemotePull || kind == backend.SyncKindRemoteBoth {
		if syncRemoteFlag == "" {
			return fmt.Errorf("--remote is required for kind %q", kind)
		}
		cfg, err := loadRemoteByName(ctx, s.local, syncRemoteFlag)
		if err != nil {
			return err
		}
		if !cfg.IsActive {
			return fmt.Errorf("remote database %q is deactivated", syncRemoteFlag)
		}
		tok, err := credentials.NewResolver().Resolve(cfg.Name, cfg.Token)
		if err != nil {
			return fmt.Errorf("resolving token for remote %q: %w", syncRemoteFlag, err)
		}
		remoteStore = remote.Open(cfg.URL, tok.Value)
	}

	engine, err := s.buildEngine(ctx)
	if err != nil {
		return err
	}
	if syncStrategyFlag != "" {
		strategy, err := parseStrategy(syncStrategyFlag)
		if err != nil {
			return err
		}
		engine.Strategy = strategy
	}

	jobID, cancelSignal, finish, err := registry.Start(s.account.ID, kind)
	if err != nil {
		return err
	}

	resultCh := make(chan syncOutcome, 1)
	go func() {
		progress := func(pct int, msg string, status backend.JobStatus) {
			registry.Report(jobID, pct, msg, status)
		}
		cancelled := func() bool {
			select {
			case <-cancelSignal:
				return true
			default:
				return false
			}
		}
		result, err := engine.Sync(ctx, kind, remoteStore, progress, cancelled)
		status := backend.JobCompleted
		errMsg := ""
		if err != nil {
			status = backend.JobError
			errMsg = err.Error()
			if _, ok := err.(*backend.Cancelled); ok {
				status = backend.JobCancelled
			}
		}
		finish(status, errMsg)
		engine.Logger.Close()
		resultCh <- syncOutcome{result: result, err: err}
	}()

	if !syncWaitFlag {
		fmt.Printf("started job %s\n", jobID)
		return nil
	}

	return renderProgress(jobID, resultCh)
}

type syncOutcome struct {
	result backend.SyncResult
	err    error
}

// progressModel is a bubbletea view subscribed to the SyncRegistry,
// rendering a bubbles/progress bar sized to the terminal width.
type progressModel struct {
	jobID   string
	bar     progress.Model
	message string
	done    bool
	outcome syncOutcome
}

type tickMsg time.Time

func newProgressModel(jobID string) progressModel {
	width := 40
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 10 {
		width = w - 20
	}
	return progressModel{jobID: jobID, bar: progress.New(progress.WithDefaultGradient(), progress.WithWidth(width))}
}

func renderProgress(jobID string, resultCh chan syncOutcome) error {
	p := tea.NewProgram(newProgressModel(jobID))
	go func() {
		outcome := <-resultCh
		p.Send(outcome)
	}()
	finalModel, err := p.Run()
	if err != nil {
		return err
	}
	m := finalModel.(progressModel)
	if m.outcome.err != nil {
		return m.outcome.err
	}
	fmt.Printf("%s: created=%d updated=%d deleted=%d conflicts_resolved=%d (%s)\n",
		m.outcome.result.Message, m.outcome.result.Changed.Created, m.outcome.result.Changed.Updated,
		m.outcome.result.Changed.Deleted, m.outcome.result.ConflictsResolved, m.outcome.result.Duration)
	return nil
}

func (m progressModel) Init() tea.Cmd {
	return tickCmd()
}

func tickCmd() tea.Cmd {
	return tea.Tick(150*time.Millisecond, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case syncOutcome:
		m.done = true
		m.outcome = msg
		return m, tea.Quit
	case tickMsg:
		var cmd tea.Cmd
		if job, ok := registry.Progress(m.jobID); ok {
			m.message = job.Message
			cmd = m.bar.SetPercent(float64(job.Percentage) / 100)
		}
		return m, tea.Batch(cmd, tickCmd())
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			registry.Cancel(m.jobID)
		}
	case progress.FrameMsg:
		newBar, cmd := m.bar.Update(msg)
		m.bar = newBar.(progress.Model)
		return m, cmd
	}
	return m, nil
}

func (m progressModel) View() string {
	if m.done {
		return ""
	}
	return m.bar.View() + "  " + m.message + "\n"
}
