package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/net/websocket"
)

func newWatchCmd(g *globals) *cobra.Command {
	var events []string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream fleet events as JSON lines until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := g.client()
			if err != nil {
				return err
			}
			cfg, err := liveConfig(cl.BaseURL(), cl.APIKey())
			if err != nil {
				return err
			}
			conn, err := websocket.DialConfig(cfg)
			if err != nil {
				return fmt.Errorf("connect live stream: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				conn.Close()
			}()

			out := json.NewEncoder(cmd.OutOrStdout())
			for {
				var ev map[string]any
				if err := websocket.JSON.Receive(conn, &ev); err != nil {
					if ctx.Err() != nil || errors.Is(err, io.EOF) {
						return nil
					}
					return fmt.Errorf("read live stream: %w", err)
				}
				if !matchesEvent(events, ev) {
					continue
				}
				if err := out.Encode(ev); err != nil {
					return err
				}
			}
		},
	}
	cmd.Flags().StringSliceVar(&events, "event", nil, "only events with this name or prefix, e.g. action. (repeatable)")
	return cmd
}

// liveConfig turns the http(s) server URL into the ws(s) live endpoint. The
// key travels in the Authorization header rather than the query string.
func liveConfig(baseURL, apiKey string) (*websocket.Config, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid server url: %w", err)
	}
	origin := u.String()
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path += "/api/v1/live"
	cfg, err := websocket.NewConfig(u.String(), origin)
	if err != nil {
		return nil, err
	}
	cfg.Header.Set("Authorization", "Bearer "+apiKey)
	return cfg, nil
}

func matchesEvent(filters []string, ev map[string]any) bool {
	if len(filters) == 0 {
		return true
	}
	name, _ := ev["event"].(string)
	for _, f := range filters {
		if name == f || (strings.HasSuffix(f, ".") && strings.HasPrefix(name, f)) {
			return true
		}
	}
	return false
}
