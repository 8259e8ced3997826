package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/jobchat/internal/api"
	"github.com/zulandar/jobchat/internal/directory"
	"github.com/zulandar/jobchat/internal/models"
)

func newUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage the user directory",
	}

	cmd.AddCommand(newUserAddCmd())
	cmd.AddCommand(newUserListCmd())
	cmd.AddCommand(newUserTokenCmd())
	return cmd
}

func newUserAddCmd() *cobra.Command {
	var (
		configPath string
		u          models.User
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add or update a user",
		Long:  "Creates a user in the directory, or updates the existing user with the same ID.",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, gormDB, err := connectFromConfig(cmd, configPath)
			if err != nil {
				return err
			}
			dir, err := directory.New(gormDB)
			if err != nil {
				return err
			}
			if err := dir.Put(context.Background(), &u); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved %s %s (%s)\n", u.Role, u.ID, u.Name)
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&u.ID, "id", "", "user ID (required)")
	cmd.Flags().StringVar(&u.Name, "name", "", "display name")
	cmd.Flags().StringVar(&u.Role, "role", "", "seeker or poster (required)")
	cmd.Flags().StringVar(&u.Email, "email", "", "contact email (never exposed in profiles)")
	cmd.Flags().StringVar(&u.Headline, "headline", "", "profile headline")
	cmd.Flags().StringVar(&u.AvatarURL, "avatar-url", "", "profile picture URL")
	cmd.MarkFlagRequired("id")
	cmd.MarkFlagRequired("role")
	return cmd
}

func newUserListCmd() *cobra.Command {
	var (
		configPath string
		role       string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, gormDB, err := connectFromConfig(cmd, configPath)
			if err != nil {
				return err
			}
			dir, err := directory.New(gormDB)
			if err != nil {
				return err
			}
			users, err := dir.List(context.Background(), role)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(users) == 0 {
				fmt.Fprintln(out, "No users found")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tROLE\tHEADLINE")
			for _, p := range users {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.ID, p.Name, p.Role, p.Headline)
			}
			w.Flush()
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&role, "role", "", "only list users with this role")
	return cmd
}

func newUserTokenCmd() *cobra.Command {
	var (
		configPath string
		id         string
		ttl        time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a development JWT for a user",
		Long:  "Signs a bearer token with auth.jwt_secret so a client can be tested against a server running with JWT auth.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, configPath)
			if err != nil {
				return err
			}
			token, err := api.SignToken(cfg.Auth.JWTSecret, cfg.Auth.Issuer, id, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&id, "id", "", "user ID to put in the sub claim (required)")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	cmd.MarkFlagRequired("id")
	return cmd
}
