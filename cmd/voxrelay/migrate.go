package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/matiasleandrokruk/voxrelay/internal/infra/config"
	"github.com/matiasleandrokruk/voxrelay/internal/infra/sqlite"
)

var errNoJournalDB = errors.New("no journal database configured (set JOURNAL_DB_PATH or --db)")

func newMigrateCmd() *cobra.Command {
	var dbPath string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply journal database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if dbPath == "" {
				cfg, err := config.Load()
				if err != nil {
					return err
				}
				dbPath = cfg.JournalDBPath
			}
			if dbPath == "" {
				return errNoJournalDB
			}

			db, err := openJournalDB(dbPath)
			if err != nil {
				return err
			}
			defer db.Close() //nolint:errcheck

			v, err := sqlite.MigrationVersion(db)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "journal schema at version %d (%s)\n", v, dbPath)
			return err
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "", "journal database path (overrides JOURNAL_DB_PATH)")
	return cmd
}
