package cli

import (
	"context"
	"errors"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/piwardrive/piwardrive/internal/config"
	"github.com/piwardrive/piwardrive/internal/remotesync"
	"github.com/piwardrive/piwardrive/internal/store"
)

func init() {
	syncCmd.Flags().BoolVar(&syncOnce, "once", false, "run a single sync pass and exit (the only supported mode)")
	syncCmd.Flags().StringVar(&syncDestination, "destination", "", "remote sync URL (overrides configured remote_sync_url)")
	rootCmd.AddCommand(syncCmd)
}

var (
	syncOnce        bool
	syncDestination string
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Push unsynced rows to the remote aggregator",
	Long:  "Runs one RemoteSync pass against --destination (or the configured remote_sync_url) and exits.",
	RunE:  runSync,
}

func runSync(cmd *cobra.Command, args []string) error {
	home := config.Home()
	cfg, err := config.Load(filepath.Join(home, "config.toml"), home)
	if err != nil {
		return err
	}
	destination := syncDestination
	if destination == "" {
		destination = cfg.RemoteSyncURL
	}
	if destination == "" {
		return errors.New("no remote_sync_url configured and no --destination given")
	}

	db, err := store.Open(home, store.DefaultConfig())
	if err != nil {
		return err
	}
	defer db.Close()

	syncCfg := remotesync.DefaultConfig(destination)
	syncCfg.BatchMax = cfg.RemoteSyncBatchMax
	engine := remotesync.New(syncCfg, db)
	return engine.SyncOnce(context.Background())
}
