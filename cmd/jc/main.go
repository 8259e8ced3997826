package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"
	"github.com/zulandar/jobchat/internal/config"
	"github.com/zulandar/jobchat/internal/db"
	"github.com/zulandar/jobchat/internal/logging"
	"gorm.io/gorm"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

const defaultConfigPath = "jobchat.yaml"

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jc",
		Short: "jobchat: real-time messaging for the job marketplace",
		Long:  "jobchat stores direct messages between seekers and posters and pushes them to live websocket connections.",
	}

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newDBCmd())
	cmd.AddCommand(newUserCmd())
	cmd.AddCommand(newMessageCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "jc %s (commit: %s, built: %s)\n", Version, Commit, Date)
		},
	}
}

// loadConfig reads configPath. When the path is the default and the file
// does not exist, built-in defaults are used.
func loadConfig(cmd *cobra.Command, configPath string) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err == nil {
		return cfg, nil
	}
	explicit := cmd.Flags().Changed("config")
	if !explicit && errors.Is(err, fs.ErrNotExist) {
		return config.Default(), nil
	}
	return nil, fmt.Errorf("load config: %w", err)
}

func connectFromConfig(cmd *cobra.Command, configPath string) (*config.Config, *gorm.DB, error) {
	cfg, err := loadConfig(cmd, configPath)
	if err != nil {
		return nil, nil, err
	}
	if err := logging.Setup(cfg.Log.Level, cfg.Log.Format, cmd.ErrOrStderr()); err != nil {
		return nil, nil, err
	}

	gormDB, err := db.Open(cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	return cfg, gormDB, nil
}

func addConfigFlag(cmd *cobra.Command, configPath *string) {
	cmd.Flags().StringVarP(configPath, "config", "c", defaultConfigPath, "path to jobchat config file")
}

func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd()))
}
