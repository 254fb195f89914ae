package main

import (
	"github.com/spf13/cobra"

	"github.com/chachabrian/mooveit-rides/internal/config"
	"github.com/chachabrian/mooveit-rides/internal/logger"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and indexes, then exit",
	RunE:  runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.New(cfg)

	ctx := cmd.Context()
	store, err := openStore(ctx, cfg, log, true)
	if err != nil {
		return err
	}
	return store.Close(ctx)
}
