package main

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"botfleet/internal/cli/client"
	"botfleet/internal/cli/config"
	"botfleet/internal/cli/output"
)

// globals are the persistent flags every command reads.
type globals struct {
	format    string
	quiet     bool
	serverURL string
	apiKey    string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fleet: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:           "fleet",
		Short:         "Operate a botfleet server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.format, "format", output.DefaultFormat(), "output format: json, table or plain")
	root.PersistentFlags().BoolVarP(&g.quiet, "quiet", "q", false, "print identifiers only")
	root.PersistentFlags().StringVar(&g.serverURL, "server", "", "server URL, overrides the saved connection")
	root.PersistentFlags().StringVar(&g.apiKey, "api-key", "", "operator API key, overrides the saved connection")

	root.AddCommand(
		newConnectCmd(g),
		newDisconnectCmd(),
		newStatusCmd(g),
		newWhoAmICmd(g),
		newAgentsCmd(g),
		newActionsCmd(g),
		newSearchCmd(g),
		newGenerateCmd(g),
		newStatsCmd(g),
		newUsageCmd(g),
		newTestConnectionCmd(g),
		newAdminCmd(g),
		newWatchCmd(g),
	)
	return root
}

func newConnectCmd(g *globals) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "connect <url>",
		Short: "Validate and save a server connection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rawURL := strings.TrimSpace(args[0])
			if strings.TrimSpace(g.apiKey) == "" {
				return errors.New("missing --api-key")
			}
			if _, err := url.ParseRequestURI(rawURL); err != nil {
				return fmt.Errorf("invalid url: %w", err)
			}

			cl := client.New(rawURL, g.apiKey)
			var status map[string]any
			if err := cl.Get(cmd.Context(), "/api/v1/status", &status); err != nil {
				return fmt.Errorf("validate server: %w", err)
			}
			var whoami map[string]any
			if err := cl.Get(cmd.Context(), "/api/v1/whoami", &whoami); err != nil {
				return fmt.Errorf("validate credentials: %w", err)
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			operator, _ := whoami["name"].(string)
			cfg.SetServer(name, rawURL, g.apiKey, operator)
			if err := config.Save(cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "connected to %s as %s\n", rawURL, operator)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "main", "name for this connection")
	return cmd
}

func newDisconnectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disconnect",
		Short: "Forget the default server connection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if _, ok := cfg.Default(); !ok {
				fmt.Fprintln(cmd.OutOrStdout(), "no active connection")
				return nil
			}
			cfg.ClearDefault()
			if err := config.Save(cfg); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "disconnected")
			return nil
		},
	}
}

func newStatusCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the server status and scheduler load",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := g.client()
			if err != nil {
				return err
			}
			var status map[string]any
			if err := cl.Get(cmd.Context(), "/api/v1/status", &status); err != nil {
				return err
			}
			status["server"] = cl.BaseURL()
			return g.print(cmd, status)
		},
	}
}

func newWhoAmICmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the operator behind the API key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.get(cmd, "/api/v1/whoami")
		},
	}
}

func newStatsCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show fleet-wide action counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.get(cmd, "/api/v1/stats")
		},
	}
}

func newUsageCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Show today's outbound API usage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.get(cmd, "/api/v1/usage")
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "set-limit <platform|llm> <daily-limit>",
		Short: "Set the daily call budget of a service (admin)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, err := parseNonNegativeInt(args[1], "daily-limit")
			if err != nil {
				return err
			}
			return g.send(cmd, http.MethodPut, "/api/v1/usage/"+url.PathEscape(args[0]), map[string]any{"daily_limit": limit})
		},
	})
	return cmd
}

func newTestConnectionCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "test-connection <platform|llm>",
		Short: "Probe an upstream service with the configured credentials",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.send(cmd, http.MethodPost, "/api/v1/test-connection", map[string]any{"service": args[0]})
		},
	}
}

func newGenerateCmd(g *globals) *cobra.Command {
	var (
		topic   string
		tone    string
		agentID int64
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a post without publishing it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{}
			if topic != "" {
				body["topic"] = topic
			}
			if tone != "" {
				body["tone"] = tone
			}
			if agentID > 0 {
				body["agent_id"] = agentID
			}
			return g.send(cmd, http.MethodPost, "/api/v1/generate", body)
		},
	}
	cmd.Flags().StringVar(&topic, "topic", "", "topic to write about")
	cmd.Flags().StringVar(&tone, "tone", "", "tone of voice")
	cmd.Flags().Int64Var(&agentID, "agent", 0, "use this agent's personality and record the generation")
	return cmd
}

// client prefers --server/--api-key and falls back to the saved default
// connection for whichever is missing.
func (g *globals) client() (*client.Client, error) {
	serverURL, apiKey := g.serverURL, g.apiKey
	if serverURL == "" || apiKey == "" {
		cfg, err := config.Load()
		if err != nil {
			return nil, err
		}
		srv, ok := cfg.Default()
		if !ok && serverURL == "" {
			return nil, errors.New("not connected. run: fleet connect <url> --api-key <key>")
		}
		if serverURL == "" {
			serverURL = srv.URL
		}
		if apiKey == "" {
			apiKey = srv.APIKey
		}
	}
	return client.New(serverURL, apiKey), nil
}

func (g *globals) print(cmd *cobra.Command, payload map[string]any) error {
	return output.Fprint(cmd.OutOrStdout(), payload, g.format, g.quiet)
}

func (g *globals) get(cmd *cobra.Command, path string) error {
	cl, err := g.client()
	if err != nil {
		return err
	}
	var resp map[string]any
	if err := cl.Get(cmd.Context(), path, &resp); err != nil {
		return err
	}
	return g.print(cmd, resp)
}

// send issues a write and prints the response body. A 204 prints "ok".
func (g *globals) send(cmd *cobra.Command, method, path string, body any) error {
	cl, err := g.client()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	var resp map[string]any
	switch method {
	case http.MethodPost:
		err = cl.Post(ctx, path, body, &resp)
	case http.MethodPut:
		err = cl.Put(ctx, path, body, &resp)
	case http.MethodPatch:
		err = cl.Patch(ctx, path, body, &resp)
	case http.MethodDelete:
		err = cl.Delete(ctx, path)
	default:
		return fmt.Errorf("unsupported method %s", method)
	}
	if err != nil {
		return err
	}
	if resp == nil {
		if !g.quiet {
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
		}
		return nil
	}
	return g.print(cmd, resp)
}
