package main

import (
	"context"
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/jobchat/internal/messaging"
)

func newMessageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "message",
		Short: "Inspect and send messages",
	}

	cmd.AddCommand(newMessageSendCmd())
	cmd.AddCommand(newMessageHistoryCmd())
	cmd.AddCommand(newMessagePartnersCmd())
	cmd.AddCommand(newMessageUnreadCmd())
	return cmd
}

func openStore(cmd *cobra.Command, configPath string) (*messaging.Store, error) {
	cfg, gormDB, err := connectFromConfig(cmd, configPath)
	if err != nil {
		return nil, err
	}
	return messaging.NewStore(gormDB, messaging.StoreOpts{
		SentinelBody: cfg.Messaging.SentinelBody,
	})
}

func newMessageSendCmd() *cobra.Command {
	var (
		configPath string
		from       string
		to         string
		body       string
	)

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Store a message",
		Long:  "Stores a message from one user to another. Connected clients are not notified; use the REST API for live delivery.",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd, configPath)
			if err != nil {
				return err
			}
			msg, created, err := store.Submit(context.Background(), from, to, body)
			if err != nil {
				return err
			}
			if !created {
				fmt.Fprintf(cmd.OutOrStdout(), "Message %d already exists\n", msg.ID)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Sent message %d to %s\n", msg.ID, to)
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&from, "from", "", "sender user ID (required)")
	cmd.Flags().StringVar(&to, "to", "", "receiver user ID (required)")
	cmd.Flags().StringVar(&body, "body", "", "message text (required)")
	cmd.MarkFlagRequired("from")
	cmd.MarkFlagRequired("to")
	cmd.MarkFlagRequired("body")
	return cmd
}

func newMessageHistoryCmd() *cobra.Command {
	var (
		configPath string
		a, b       string
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the conversation between two users",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd, configPath)
			if err != nil {
				return err
			}
			msgs, err := store.History(context.Background(), a, b)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(msgs) == 0 {
				fmt.Fprintf(out, "No messages between %s and %s\n", a, b)
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tFROM\tTO\tREAD\tCREATED\tMESSAGE")
			for _, m := range msgs {
				fmt.Fprintf(w, "%d\t%s\t%s\t%t\t%s\t%s\n",
					m.ID, m.SenderID, m.ReceiverID, m.IsRead,
					m.CreatedAt.Format("2006-01-02 15:04:05"), m.Body)
			}
			w.Flush()
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&a, "a", "", "first user ID (required)")
	cmd.Flags().StringVar(&b, "b", "", "second user ID (required)")
	cmd.MarkFlagRequired("a")
	cmd.MarkFlagRequired("b")
	return cmd
}

func newMessagePartnersCmd() *cobra.Command {
	var (
		configPath string
		user       string
	)

	cmd := &cobra.Command{
		Use:   "partners",
		Short: "List everyone a user has exchanged messages with",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd, configPath)
			if err != nil {
				return err
			}
			partners, err := store.ConversationPartners(context.Background(), user)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(partners) == 0 {
				fmt.Fprintf(out, "No conversations for %s\n", user)
				return nil
			}
			for _, p := range partners {
				fmt.Fprintln(out, p)
			}
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&user, "user", "", "user ID (required)")
	cmd.MarkFlagRequired("user")
	return cmd
}

func newMessageUnreadCmd() *cobra.Command {
	var (
		configPath string
		user       string
	)

	cmd := &cobra.Command{
		Use:   "unread",
		Short: "Count unread messages per sender",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd, configPath)
			if err != nil {
				return err
			}
			counts, err := store.Unread(context.Background(), user)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(counts) == 0 {
				fmt.Fprintf(out, "No unread messages for %s\n", user)
				return nil
			}
			senders := make([]string, 0, len(counts))
			for s := range counts {
				senders = append(senders, s)
			}
			sort.Strings(senders)
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "FROM\tUNREAD")
			for _, s := range senders {
				fmt.Fprintf(w, "%s\t%d\n", s, counts[s])
			}
			w.Flush()
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&user, "user", "", "user ID (required)")
	cmd.MarkFlagRequired("user")
	return cmd
}
