package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// agentFlags binds the editable agent fields. Only flags the operator set
// end up in the request body, so update sends a partial patch.
type agentFlags struct {
	name               string
	description        string
	handle             string
	credential         string
	topics             []string
	personality        string
	postCadence        int
	interaction        bool
	interactionCadence int
	behavior           string
	peers              []int64
	paused             bool
	active             bool
	fromFile           string
}

func (f *agentFlags) register(fs *pflag.FlagSet, create bool) {
	fs.StringVar(&f.name, "name", "", "display name")
	fs.StringVar(&f.description, "description", "", "free-form description")
	fs.StringVar(&f.handle, "handle", "", "platform handle, used by peers to follow")
	fs.StringVar(&f.credential, "credential", "", "platform session credential")
	fs.StringSliceVar(&f.topics, "topic", nil, "topic to post about (repeatable)")
	fs.StringVar(&f.personality, "personality", "", "tone used for posts and replies")
	fs.IntVar(&f.postCadence, "post-cadence", 0, "minutes between self-posts")
	fs.BoolVar(&f.interaction, "interaction", false, "interact with peer agents")
	fs.IntVar(&f.interactionCadence, "interaction-cadence", 0, "minutes between interaction ticks")
	fs.StringVar(&f.behavior, "behavior", "", "behavior profile: friendly, neutral, aggressive or analytical")
	fs.Int64SliceVar(&f.peers, "peer", nil, "peer agent id (repeatable)")
	if create {
		fs.BoolVar(&f.paused, "paused", false, "create the agent without scheduling it")
	} else {
		fs.BoolVar(&f.active, "active", true, "schedule the agent; --active=false pauses it")
	}
	fs.StringVarP(&f.fromFile, "file", "f", "", "read the JSON body from a file (- for stdin)")
}

func (f *agentFlags) body(fs *pflag.FlagSet) (map[string]any, error) {
	body := map[string]any{}
	if f.fromFile != "" {
		if err := readJSONFile(f.fromFile, &body); err != nil {
			return nil, err
		}
	}
	set := func(flag, key string, value any) {
		if fs.Changed(flag) {
			body[key] = value
		}
	}
	set("name", "name", f.name)
	set("description", "description", f.description)
	set("handle", "handle", f.handle)
	set("credential", "credential", f.credential)
	set("topic", "topics", f.topics)
	set("personality", "personality", f.personality)
	set("post-cadence", "post_cadence", f.postCadence)
	set("interaction", "interaction_enabled", f.interaction)
	set("interaction-cadence", "interaction_cadence", f.interactionCadence)
	set("behavior", "behavior", f.behavior)
	set("peer", "peers", f.peers)
	set("active", "active", f.active)
	if f.paused {
		body["active"] = false
	}
	return body, nil
}

func newAgentsCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "agents",
		Aliases: []string{"agent"},
		Short:   "Manage fleet agents",
	}

	var activeOnly bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List agents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/v1/agents"
			if activeOnly {
				path += "?active=true"
			}
			return g.get(cmd, path)
		},
	}
	list.Flags().BoolVar(&activeOnly, "active", false, "only active agents")

	get := &cobra.Command{
		Use:   "get <id>",
		Short: "Show one agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseAgentID(args[0])
			if err != nil {
				return err
			}
			return g.get(cmd, agentPath(id, ""))
		},
	}

	var createFlags agentFlags
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an agent and schedule it unless --paused",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := createFlags.body(cmd.Flags())
			if err != nil {
				return err
			}
			if name, _ := body["name"].(string); strings.TrimSpace(name) == "" {
				return fmt.Errorf("missing --name")
			}
			return g.send(cmd, http.MethodPost, "/api/v1/agents", body)
		},
	}
	createFlags.register(create.Flags(), true)

	var updateFlags agentFlags
	update := &cobra.Command{
		Use:   "update <id>",
		Short: "Change agent fields; timers restart with the new cadence",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseAgentID(args[0])
			if err != nil {
				return err
			}
			body, err := updateFlags.body(cmd.Flags())
			if err != nil {
				return err
			}
			if len(body) == 0 {
				return fmt.Errorf("nothing to update")
			}
			return g.send(cmd, http.MethodPatch, agentPath(id, ""), body)
		},
	}
	updateFlags.register(update.Flags(), false)

	cmd.AddCommand(
		list,
		get,
		create,
		update,
		agentAction(g, "delete", "Deprovision and delete an agent", http.MethodDelete, ""),
		agentAction(g, "pause", "Stop scheduling an agent", http.MethodPost, "pause"),
		agentAction(g, "resume", "Schedule a paused agent again", http.MethodPost, "resume"),
		agentView(g, "stats", "Show interaction statistics", "stats"),
		agentView(g, "schedule", "Show running timers and the next post due", "schedule"),
		newAgentActionsCmd(g),
		newPublishCmd(g),
		newInteractCmd(g, "endorse", "Endorse a platform post as the agent"),
		newInteractCmd(g, "comment", "Comment on a platform post, generating a reply when --text is empty"),
		newInteractCmd(g, "share", "Share a platform post as the agent"),
		newInteractCmd(g, "follow", "Follow a platform account as the agent"),
	)
	return cmd
}

func agentAction(g *globals, use, short, method, sub string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseAgentID(args[0])
			if err != nil {
				return err
			}
			var body any
			if method != http.MethodDelete {
				body = map[string]any{}
			}
			return g.send(cmd, method, agentPath(id, sub), body)
		},
	}
}

func agentView(g *globals, use, short, sub string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseAgentID(args[0])
			if err != nil {
				return err
			}
			return g.get(cmd, agentPath(id, sub))
		},
	}
}

func newAgentActionsCmd(g *globals) *cobra.Command {
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "actions <id>",
		Short: "Page through one agent's action log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseAgentID(args[0])
			if err != nil {
				return err
			}
			q := url.Values{}
			q.Set("limit", strconv.Itoa(limit))
			q.Set("offset", strconv.Itoa(offset))
			return g.get(cmd, agentPath(id, "actions")+"?"+q.Encode())
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "page size")
	cmd.Flags().IntVar(&offset, "offset", 0, "records to skip")
	return cmd
}

func newPublishCmd(g *globals) *cobra.Command {
	var text, topic string
	cmd := &cobra.Command{
		Use:   "publish <id>",
		Short: "Publish a post now, generating it when --text is empty",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseAgentID(args[0])
			if err != nil {
				return err
			}
			body := map[string]any{}
			if text != "" {
				body["text"] = text
			}
			if topic != "" {
				body["topic"] = topic
			}
			return g.send(cmd, http.MethodPost, agentPath(id, "publish"), body)
		},
	}
	cmd.Flags().StringVar(&text, "text", "", "post text")
	cmd.Flags().StringVar(&topic, "topic", "", "topic to generate about")
	return cmd
}

func newInteractCmd(g *globals, kind, short string) *cobra.Command {
	var ref, text, original, handle, userID string
	cmd := &cobra.Command{
		Use:   kind + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseAgentID(args[0])
			if err != nil {
				return err
			}
			body := map[string]any{}
			if kind == "follow" {
				if handle == "" && userID == "" {
					return fmt.Errorf("missing --handle or --user-id")
				}
				if handle != "" {
					body["handle"] = handle
				}
				if userID != "" {
					body["user_id"] = userID
				}
			} else {
				if ref == "" {
					return fmt.Errorf("missing --ref")
				}
				body["content_ref"] = ref
			}
			if kind == "comment" {
				if text == "" && original == "" {
					return fmt.Errorf("missing --text or --original")
				}
				if text != "" {
					body["text"] = text
				}
				if original != "" {
					body["original"] = original
				}
			}
			return g.send(cmd, http.MethodPost, agentPath(id, kind), body)
		},
	}
	switch kind {
	case "follow":
		cmd.Flags().StringVar(&handle, "handle", "", "account handle to follow")
		cmd.Flags().StringVar(&userID, "user-id", "", "platform user id to follow")
	case "comment":
		cmd.Flags().StringVar(&text, "text", "", "comment text")
		cmd.Flags().StringVar(&original, "original", "", "text of the post being answered")
		fallthrough
	default:
		cmd.Flags().StringVar(&ref, "ref", "", "platform post id")
	}
	return cmd
}

func newSearchCmd(g *globals) *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search platform posts",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			q.Set("q", strings.Join(args, " "))
			q.Set("count", strconv.Itoa(count))
			return g.get(cmd, "/api/v1/search?"+q.Encode())
		},
	}
	cmd.Flags().IntVar(&count, "count", 10, "maximum posts")
	return cmd
}

func newActionsCmd(g *globals) *cobra.Command {
	var (
		agentID  int64
		kind     string
		outcome  string
		targeted bool
		limit    int
	)
	cmd := &cobra.Command{
		Use:   "actions",
		Short: "List recent actions across the fleet",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			if agentID > 0 {
				q.Set("agent_id", strconv.FormatInt(agentID, 10))
			}
			if kind != "" {
				q.Set("kind", kind)
			}
			if outcome != "" {
				q.Set("outcome", outcome)
			}
			if targeted {
				q.Set("targeted", "true")
			}
			q.Set("limit", strconv.Itoa(limit))
			return g.get(cmd, "/api/v1/actions?"+q.Encode())
		},
	}
	cmd.Flags().Int64Var(&agentID, "agent", 0, "only this agent's actions")
	cmd.Flags().StringVar(&kind, "kind", "", "action kind, e.g. post, comment or error")
	cmd.Flags().StringVar(&outcome, "outcome", "", "success or failure")
	cmd.Flags().BoolVar(&targeted, "targeted", false, "only actions aimed at a peer")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum records")
	return cmd
}

func agentPath(id int64, sub string) string {
	p := "/api/v1/agents/" + strconv.FormatInt(id, 10)
	if sub != "" {
		p += "/" + sub
	}
	return p
}

func parseAgentID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid agent id %q", raw)
	}
	return id, nil
}

func parseNonNegativeInt(raw, name string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s %q", name, raw)
	}
	return n, nil
}

func readJSONFile(path string, out any) error {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}
