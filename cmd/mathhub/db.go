package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mathhub/mathhub/internal/classify"
	"github.com/mathhub/mathhub/internal/store"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the Postgres database",
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create missing tables and seed the configured curriculum",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		pgCfg := cfg.PostgresConfig(logger)
		if pgCfg.URL == "" {
			return fmt.Errorf("database.url is not set")
		}
		pg, err := store.NewPostgres(ctx, pgCfg)
		if err != nil {
			return err
		}
		defer pg.Close()

		if err := pg.Migrate(ctx); err != nil {
			return err
		}
		code := cfg.Workflow.CurriculumCode
		if err := pg.SeedCurriculum(ctx, code, classify.SubjectCodes...); err != nil {
			return err
		}
		logger.Info("database ready", "curriculum", code, "subjects", len(classify.SubjectCodes))
		return nil
	},
}

func init() {
	dbCmd.AddCommand(dbMigrateCmd)
}
