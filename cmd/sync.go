/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/checador/device/config"
	"github.com/checador/device/internal/db"
	"github.com/checador/device/internal/store"
	"github.com/checador/device/internal/syncer"
)

// syncCmd runs one drain cycle from the CLI, for operators recovering a
// backlog without waiting for the background interval.
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Upload pending punches to the central server once",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig()
		if err != nil {
			return err
		}

		dbConn, err := db.Open(cmd.Context(), cfg.Database)
		if err != nil {
			return err
		}
		defer dbConn.Close()

		logger := log.New(os.Stderr, "", log.LstdFlags)
		worker := syncer.New(
			cfg.Sync,
			cfg.App.DeviceID,
			store.NewPunchRepository(dbConn),
			store.NewUserRepository(dbConn),
			logger,
		)

		if err := worker.SyncOnce(cmd.Context()); err != nil {
			return err
		}

		status, err := worker.Status(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("sync complete, %d punches still pending\n", status.UnsyncedCount)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
