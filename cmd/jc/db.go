package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zulandar/jobchat/internal/db"
	"github.com/zulandar/jobchat/internal/logging"
)

func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database management commands",
	}

	cmd.AddCommand(newDBMigrateCmd())
	return cmd
}

func newDBMigrateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the jobchat tables",
		Long:  "Migrates the users and messages tables, then upserts the users listed in the config.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBMigrate(cmd, configPath)
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func runDBMigrate(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	cfg, err := loadConfig(cmd, configPath)
	if err != nil {
		return err
	}
	if err := logging.Setup(cfg.Log.Level, cfg.Log.Format, cmd.ErrOrStderr()); err != nil {
		return err
	}

	if err := db.CreateDatabase(cfg.Database); err != nil {
		return err
	}
	gormDB, err := db.Open(cfg.Database)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Connected to %s database\n", cfg.Database.Driver)

	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}
	fmt.Fprintf(out, "Migrated %d tables\n", len(db.AllModels()))

	if err := db.SeedUsers(gormDB, cfg.Users); err != nil {
		return err
	}
	fmt.Fprintf(out, "Seeded %d users:", len(cfg.Users))
	for _, u := range cfg.Users {
		fmt.Fprintf(out, " %s", u.ID)
	}
	fmt.Fprintln(out)

	fmt.Fprintln(out, "\njobchat database ready.")
	return nil
}
