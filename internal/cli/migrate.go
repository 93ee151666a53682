package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/piwardrive/piwardrive/internal/config"
	"github.com/piwardrive/piwardrive/internal/store"
)

func init() {
	migrateCmd.Flags().IntVar(&migrateTo, "to", -1, "target schema version (default: highest known)")
	rootCmd.AddCommand(migrateCmd)
}

var migrateTo int

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run schema migrations forward or back",
	Long: "Open the store, which applies every pending migration forward to the highest known version. " +
		"Pass --to N to land on an explicit version: N above the current version is rejected (Open already " +
		"ran every known forward migration); N below it runs the recorded Rollback statements down to N, in " +
		"a single transaction, removing the corresponding schema_migrations rows.",
	RunE: runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	home := config.Home()
	db, err := store.Open(home, store.DefaultConfig())
	if err != nil {
		return err
	}
	defer db.Close()

	version, err := db.SchemaVersion()
	if err != nil {
		return err
	}

	if migrateTo >= 0 && migrateTo != version {
		if migrateTo > version {
			return fmt.Errorf("schema is at version %d; %d is beyond the highest version this binary knows", version, migrateTo)
		}
		if err := db.MigrateTo(migrateTo); err != nil {
			return err
		}
		version = migrateTo
	}

	fmt.Fprintf(cmd.OutOrStdout(), "schema at version %d\n", version)
	return nil
}
