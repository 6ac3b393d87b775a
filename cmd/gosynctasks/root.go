// Command gosynctasks is a thin CLI over the sync core: every subcommand
// resolves an account, builds the Engine, and calls straight into its
// API. No business logic lives here — one small file per concern.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"gosynctasks/backend"
	"gosynctasks/backend/conflict"
	"gosynctasks/backend/google"
	"gosynctasks/backend/sqlite"
	"gosynctasks/internal/account"
	"gosynctasks/internal/config"
	"gosynctasks/internal/deletionlog"
	"gosynctasks/internal/googleauth"
	"gosynctasks/internal/synclog"
	"gosynctasks/internal/syncengine"
	"gosynctasks/internal/syncregistry"
	"gosynctasks/internal/utils"
)

var registry = syncregistry.New()

var rootCmd = &cobra.Command{
	Use:   "gosynctasks",
	Short: "Synchronization core for a multi-account task manager",
}

var accountFlag string

func main() {
	rootCmd.PersistentFlags().StringVar(&accountFlag, "account", "", "account id (required unless GOSYNCTASKS_ACCOUNT is set)")
	rootCmd.AddCommand(syncCmd, remoteCmd, statusCmd, restoreCmd)

	if err := rootCmd.Execute(); err != nil {
		utils.Errorf("%v", err)
		os.Exit(1)
	}
}

func resolveAccountID() (string, error) {
	if accountFlag != "" {
		return accountFlag, nil
	}
	if env := os.Getenv("GOSYNCTASKS_ACCOUNT"); env != "" {
		return env, nil
	}
	return "", fmt.Errorf("no account specified: pass --account or set GOSYNCTASKS_ACCOUNT")
}

// session bundles everything a subcommand needs after account resolution.
type session struct {
	account backend.Account
	cfg     config.Settings
	local   *sqlite.Store
	manager *account.Manager
}

func openSession(ctx context.Context) (*session, error) {
	accountID, err := resolveAccountID()
	if err != nil {
		return nil, err
	}

	configRoot, err := config.DefaultConfigRoot()
	if err != nil {
		return nil, err
	}
	mgr := account.NewManager(configRoot)
	acc, err := mgr.Resolve(accountID)
	if err != nil {
		return nil, err
	}

	cfgStore := config.NewStore(configRoot)
	settings, err := cfgStore.Load(accountID)
	if err != nil {
		return nil, err
	}

	local, err := sqlite.Open("file:" + account.LocalDBPath(acc))
	if err != nil {
		return nil, err
	}
	local.DeletionLog = deletionlog.Open(account.DeletionLogPath(acc))

	return &session{
		account: acc,
		cfg:     settings,
		local:   local,
		manager: mgr,
	}, nil
}

func (s *session) close() {
	s.local.Close()
}

// buildEngine wires an Engine for s.account using its OAuth2 credentials
// and the configured conflict strategy.
func (s *session) buildEngine(ctx context.Context) (*syncengine.Engine, error) {
	tokenSource, err := googleauth.LoadTokenSource(ctx, s.account.ID, s.account.StorageRoot, s.account.CredentialsPath)
	if err != nil {
		return nil, err
	}
	client := google.NewClient(ctx, tokenSource)

	return &syncengine.Engine{
		AccountID:     s.account.ID,
		Local:         s.local,
		Google:        client,
		Strategy:      s.cfg.Sync.ConflictStrategy,
		PullRangeDays: s.cfg.Sync.PullRangeDays,
		Logger:        synclog.ForJobWithFile(s.account.ID, s.account.ID, s.account.StorageRoot),
	}, nil
}

// loadRemoteByName resolves a RemoteDBConfig by its configured name.
func loadRemoteByName(ctx context.Context, local backend.Store, name string) (backend.RemoteDBConfig, error) {
	dbs, err := local.LoadRemoteDBs(ctx)
	if err != nil {
		return backend.RemoteDBConfig{}, err
	}
	for _, r := range dbs {
		if r.Name == name {
			return r, nil
		}
	}
	return backend.RemoteDBConfig{}, fmt.Errorf("no remote database named %q", name)
}

func parseStrategy(s string) (conflict.Strategy, error) {
	switch conflict.Strategy(s) {
	case conflict.LocalWins, conflict.RemoteWins, conflict.LatestWins, conflict.Merge:
		return conflict.Strategy(s), nil
	default:
		return "", fmt.Errorf("unknown conflict strategy %q", s)
	}
}
