package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// restoreCmd rebuilds a task from its most recent DeletionLog entry and
// saves it back into LocalStore. Per the DeletionLog contract, restoring
// never pushes upstream on its own — run `sync` afterward to propagate it.
var restoreCmd = &cobra.Command{
	Use:   "restore <task-id>",
	Short: "Rebuild a deleted task from the account's deletion log and save it locally",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.close()

		if s.local.DeletionLog == nil {
			return fmt.Errorf("no deletion log is configured for account %q", s.account.ID)
		}

		task, err := s.local.DeletionLog.Restore(s.local, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("restored task %s (%q) locally; run `sync` to push it upstream\n", task.ID, task.Title)
		return nil
	},
}
