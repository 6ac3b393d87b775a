package main

import (
	"fmt"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"gosynctasks/backend"
	"gosynctasks/internal/credentials"
)

var remoteCmd = &cobra.Command{
	Use:   "remote",
	Short: "Manage the active account's replicated remote databases",
}

var (
	remoteURLFlag      string
	remoteTokenFlag    string
	remoteAutoSyncFlag bool
)

var remoteAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Register a remote database",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.close()

		dbs, err := s.local.LoadRemoteDBs(ctx)
		if err != nil {
			return err
		}
		dbs = append(dbs, backend.RemoteDBConfig{
			ID:       uuid.NewString(),
			Name:     args[0],
			URL:      remoteURLFlag,
			Token:    remoteTokenFlag,
			IsActive: true,
			AutoSync: remoteAutoSyncFlag,
		})
		if err := s.local.SaveRemoteDBs(ctx, dbs); err != nil {
			return err
		}
		fmt.Printf("added remote %q\n", args[0])
		return nil
	},
}

var remoteListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered remote databases",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.close()

		dbs, err := s.local.LoadRemoteDBs(ctx)
		if err != nil {
			return err
		}
		for _, r := range dbs {
			status := "inactive"
			if r.IsActive {
				status = "active"
			}
			fmt.Printf("%-20s %-10s %s\n", r.Name, status, r.URL)
		}
		return nil
	},
}

var remoteRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Deactivate a remote database (never physically purged)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.close()

		dbs, err := s.local.LoadRemoteDBs(ctx)
		if err != nil {
			return err
		}
		found := false
		for i := range dbs {
			if dbs[i].Name == args[0] {
				dbs[i].IsActive = false
				found = true
			}
		}
		if !found {
			return fmt.Errorf("no remote database named %q", args[0])
		}
		if err := s.local.SaveRemoteDBs(ctx, dbs); err != nil {
			return err
		}
		fmt.Printf("deactivated remote %q\n", args[0])
		return nil
	},
}

// remoteTokenSetCmd stores a remote's bearer token in the OS keyring,
// so config.yaml and the local database never need to carry it in
// plain text; sync resolves it at run time via credentials.Resolver.
var remoteTokenSetCmd = &cobra.Command{
	Use:   "token-set <name>",
	Short: "Store a remote database's bearer token in the OS keyring",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		token := remoteTokenFlag
		if token == "" {
			fmt.Printf("Enter bearer token for remote %q: ", args[0])
			tokenBytes, err := term.ReadPassword(int(syscall.Stdin))
			fmt.Println()
			if err != nil {
				return fmt.Errorf("failed to read token: %w", err)
			}
			token = string(tokenBytes)
		}
		if token == "" {
			return fmt.Errorf("a token is required, via --token or the interactive prompt")
		}
		if err := credentials.Set(args[0], token); err != nil {
			return err
		}
		fmt.Printf("stored a token for remote %q in the OS keyring\n", args[0])
		return nil
	},
}

func init() {
	remoteAddCmd.Flags().StringVar(&remoteURLFlag, "url", "", "remote database URL")
	remoteAddCmd.Flags().StringVar(&remoteTokenFlag, "token", "", "bearer token (optional; can also live in the keyring or environment)")
	remoteAddCmd.Flags().BoolVar(&remoteAutoSyncFlag, "auto-sync", false, "sync this remote automatically")
	remoteTokenSetCmd.Flags().StringVar(&remoteTokenFlag, "token", "", "bearer token")
	remoteCmd.AddCommand(remoteAddCmd, remoteListCmd, remoteRemoveCmd, remoteTokenSetCmd)
}
