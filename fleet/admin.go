package main

import (
	"net/http"
	"net/url"

	"github.com/spf13/cobra"
)

func newAdminCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Manage operators and webhooks (admin only)",
	}
	cmd.AddCommand(newOperatorsCmd(g), newWebhooksCmd(g))
	return cmd
}

func newOperatorsCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "operators",
		Aliases: []string{"operator"},
		Short:   "Manage operator API keys",
	}

	var role string
	add := &cobra.Command{
		Use:   "add <name>",
		Short: "Create an operator and print its API key once",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.send(cmd, http.MethodPost, "/api/v1/admin/operators", map[string]any{"name": args[0], "role": role})
		},
	}
	add.Flags().StringVar(&role, "role", "operator", "operator or admin")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List operators",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return g.get(cmd, "/api/v1/admin/operators")
			},
		},
		add,
		&cobra.Command{
			Use:   "remove <name>",
			Short: "Delete an operator; the last admin cannot be removed",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return g.send(cmd, http.MethodDelete, "/api/v1/admin/operators/"+url.PathEscape(args[0]), nil)
			},
		},
	)
	return cmd
}

func newWebhooksCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "webhooks",
		Aliases: []string{"webhook"},
		Short:   "Manage outbound event webhooks",
	}

	var (
		events []string
		secret string
	)
	add := &cobra.Command{
		Use:   "add <url>",
		Short: "Register a webhook; deliveries are signed when --secret is set",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{"url": args[0]}
			if len(events) > 0 {
				body["events"] = events
			}
			if secret != "" {
				body["secret"] = secret
			}
			return g.send(cmd, http.MethodPost, "/api/v1/admin/webhooks", body)
		},
	}
	add.Flags().StringSliceVar(&events, "event", nil, "event to deliver (repeatable, default all)")
	add.Flags().StringVar(&secret, "secret", "", "HMAC secret for the X-Fleet-Signature header")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List webhooks",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return g.get(cmd, "/api/v1/admin/webhooks")
			},
		},
		add,
		&cobra.Command{
			Use:   "remove <id>",
			Short: "Delete a webhook",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return g.send(cmd, http.MethodDelete, "/api/v1/admin/webhooks/"+url.PathEscape(args[0]), nil)
			},
		},
	)
	return cmd
}
