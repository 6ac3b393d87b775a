package main

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"gosynctasks/backend"
	"gosynctasks/internal/utils"
)

var (
	statusJobFlag  string
	statusJSONFlag bool
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show a sync job's current state, or the active account's task count",
	RunE: func(cmd *cobra.Command, args []string) error {
		if statusJobFlag != "" {
			job, ok := registry.Progress(statusJobFlag)
			if !ok {
				return fmt.Errorf("unknown job %q", statusJobFlag)
			}
			if statusJSONFlag {
				return utils.OutputJSON(job)
			}
			printJob(job)
			return nil
		}

		ctx := cmd.Context()
		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.close()

		count, err := s.local.TaskCount(ctx)
		if err != nil {
			return err
		}
		if statusJSONFlag {
			return utils.OutputJSON(map[string]any{"account_id": s.account.ID, "task_count": count})
		}
		fmt.Printf("account %s: %d tasks\n", s.account.ID, count)
		return nil
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusJobFlag, "job", "", "show this job's status instead of the account summary")
	statusCmd.Flags().BoolVar(&statusJSONFlag, "json", false, "print machine-readable JSON instead of text")
}

var (
	statusOKStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	statusErrorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

func printJob(job backend.SyncJob) {
	elapsed := humanize.RelTime(job.StartedAt, time.Now(), "", "ago")
	label := string(job.Status)
	if job.Status == backend.JobError || job.Status == backend.JobCancelled {
		label = statusErrorStyle.Render(label)
	} else if job.Status.Terminal() {
		label = statusOKStyle.Render(label)
	}
	fmt.Printf("%s [%s] %d%% %s (started %s)\n", job.ID, label, job.Percentage, job.Message, elapsed)
	if job.Error != "" {
		fmt.Printf("  error: %s\n", job.Error)
	}
}
