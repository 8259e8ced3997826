package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/zulandar/jobchat/internal/api"
	"github.com/zulandar/jobchat/internal/chat"
	"github.com/zulandar/jobchat/internal/config"
	"github.com/zulandar/jobchat/internal/db"
	"github.com/zulandar/jobchat/internal/directory"
	"github.com/zulandar/jobchat/internal/gateway"
	"github.com/zulandar/jobchat/internal/messaging"
	"gorm.io/gorm"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		port       int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the messaging server",
		Long:  "Migrates the database, seeds configured users, then serves the REST API and the /ws gateway until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, port)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (overrides server.port)")
	return cmd
}

// server is every long-lived component serve wires together.
type server struct {
	hub  *gateway.Hub
	chat *chat.Service
	auth *api.Authenticator
}

func buildServer(cfg *config.Config, gormDB *gorm.DB) (*server, error) {
	if err := db.AutoMigrate(gormDB); err != nil {
		return nil, err
	}
	if err := db.SeedUsers(gormDB, cfg.Users); err != nil {
		return nil, err
	}

	store, err := messaging.NewStore(gormDB, messaging.StoreOpts{
		DuplicateWindow: time.Duration(cfg.Messaging.DuplicateWindowSec) * time.Second,
		SentinelBody:    cfg.Messaging.SentinelBody,
	})
	if err != nil {
		return nil, err
	}
	dir, err := directory.New(gormDB)
	if err != nil {
		return nil, err
	}

	hub, err := gateway.NewHub(gateway.HubOpts{
		Store:           store,
		SendBuffer:      cfg.Gateway.SendBuffer,
		MaxMessageBytes: cfg.Gateway.MaxMessageBytes,
		PongWait:        time.Duration(cfg.Gateway.PongWaitSec) * time.Second,
		WriteWait:       time.Duration(cfg.Gateway.WriteWaitSec) * time.Second,
		PresenceResync:  cfg.Gateway.PresenceResync,
		AllowedOrigins:  cfg.Server.AllowedOrigins,
	})
	if err != nil {
		return nil, err
	}

	opts := chat.Opts{Store: store, Directory: dir}
	if cfg.Messaging.PushEnabled() {
		opts.Pusher = hub
	}
	svc, err := chat.New(opts)
	if err != nil {
		return nil, err
	}

	return &server{hub: hub, chat: svc, auth: api.NewAuthenticator(cfg.Auth)}, nil
}

func runServe(cmd *cobra.Command, configPath string, port int) error {
	cfg, gormDB, err := connectFromConfig(cmd, configPath)
	if err != nil {
		return err
	}
	if port > 0 {
		cfg.Server.Port = port
	}

	srv, err := buildServer(cfg, gormDB)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Database %s ready, %d seed users\n", cfg.Database.Driver, len(cfg.Users))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			fmt.Fprintf(out, "\nReceived %s, shutting down...\n", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	hubDone := make(chan error, 1)
	go func() { hubDone <- srv.hub.Run(ctx) }()

	err = api.Start(ctx, api.StartOpts{
		Chat:    srv.chat,
		Gateway: srv.hub,
		Auth:    srv.auth,
		Port:    cfg.Server.Port,
		Out:     out,
	})
	cancel()
	if hubErr := <-hubDone; hubErr != nil {
		logrus.WithField("error", hubErr).Error("serve: gateway hub stopped")
	}
	return err
}
