// Package output renders API payloads for the operator CLI.
package output

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/mattn/go-isatty"
)

func DefaultFormat() string {
	if isatty.IsTerminal(os.Stdout.Fd()) {
		return "table"
	}
	return "json"
}

// view describes how one list payload renders as a table.
type view struct {
	key     string
	headers []string
	fields  []string
	// id is the field printed in quiet mode.
	id string
}

var views = []view{
	{
		key:     "agents",
		headers: []string{"ID", "NAME", "ACTIVE", "POST_MIN", "INTERACT", "BEHAVIOR", "PEERS"},
		fields:  []string{"id", "name", "active", "post_cadence", "interaction_enabled", "behavior", "peers"},
		id:      "id",
	},
	{
		key:     "actions",
		headers: []string{"ID", "AGENT", "KIND", "OUTCOME", "TARGET", "CREATED", "ERROR"},
		fields:  []string{"id", "agent_id", "kind", "outcome", "target_agent_id", "created_at", "error"},
		id:      "id",
	},
	{
		key:     "operators",
		headers: []string{"NAME", "ROLE", "LAST_ACTIVE", "CREATED"},
		fields:  []string{"name", "role", "last_active", "created"},
		id:      "name",
	},
	{
		key:     "webhooks",
		headers: []string{"ID", "URL", "EVENTS", "ACTIVE"},
		fields:  []string{"id", "url", "events", "active"},
		id:      "id",
	},
	{
		key:     "usage",
		headers: []string{"SERVICE", "CALLS", "DAILY_LIMIT", "LAST_RESET"},
		fields:  []string{"service", "calls_count", "daily_limit", "last_reset"},
		id:      "service",
	},
}

func Fprint(w io.Writer, payload map[string]any, format string, quiet bool) error {
	if quiet {
		format = "quiet"
	}
	format = strings.TrimSpace(strings.ToLower(format))
	if format == "" {
		format = DefaultFormat()
	}

	switch format {
	case "json":
		return printJSON(w, payload)
	case "table":
		return printTable(w, payload)
	case "plain":
		return printPlain(w, payload)
	case "quiet":
		return printQuiet(w, payload)
	default:
		return errors.New("invalid --format value")
	}
}

func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}

func findView(payload map[string]any) (view, bool) {
	for _, v := range views {
		if hasKey(payload, v.key) {
			return v, true
		}
	}
	return view{}, false
}

func printTable(w io.Writer, payload map[string]any) error {
	v, ok := findView(payload)
	if !ok {
		return printKeyValues(w, payload)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(v.headers, "\t"))
	for _, row := range toObjectSlice(payload[v.key]) {
		cells := make([]string, len(v.fields))
		for i, f := range v.fields {
			cells[i] = str(row[f])
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	return tw.Flush()
}

func printPlain(w io.Writer, payload map[string]any) error {
	v, ok := findView(payload)
	if !ok {
		return printKeyValues(w, payload)
	}
	for _, row := range toObjectSlice(payload[v.key]) {
		cells := make([]string, 0, 3)
		for _, f := range v.fields[:min(3, len(v.fields))] {
			cells = append(cells, str(row[f]))
		}
		fmt.Fprintln(w, strings.Join(cells, " "))
	}
	return nil
}

func printQuiet(w io.Writer, payload map[string]any) error {
	if v, ok := findView(payload); ok {
		for _, row := range toObjectSlice(payload[v.key]) {
			fmt.Fprintln(w, str(row[v.id]))
		}
		return nil
	}
	for _, key := range []string{"id", "name", "content"} {
		if val, ok := payload[key]; ok {
			_, err := fmt.Fprintln(w, str(val))
			return err
		}
	}
	return printJSON(w, payload)
}

// printKeyValues renders a single object. Nested values fall back to JSON.
func printKeyValues(w io.Writer, payload map[string]any) error {
	for _, v := range payload {
		switch v.(type) {
		case map[string]any, []any:
			return printJSON(w, payload)
		}
	}
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, k := range keys {
		fmt.Fprintf(tw, "%s\t%s\n", k, str(payload[k]))
	}
	return tw.Flush()
}


func hasKey(m map[string]any, key string) bool {
	_, ok := m[key]
	return ok
}

func toObjectSlice(v any) []map[string]any {
	in, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(in))
	for _, item := range in {
		if row, ok := item.(map[string]any); ok {
			out = append(out, row)
		}
	}
	return out
}

func str(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			parts = append(parts, str(item))
		}
		return strings.Join(parts, ",")
	default:
		return fmt.Sprintf("%v", t)
	}
}
