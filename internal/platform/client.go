// Package platform is the HTTP client for the external social platform.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"botfleet/internal/models"
)

const ServiceName = "platform"

const (
	DefaultSearchCount = 10
	MaxSearchCount     = 50
)

const (
	pathCreateTweet    = "/graphql/CreateTweet"
	pathFavoriteTweet  = "/graphql/FavoriteTweet"
	pathCreateRetweet  = "/graphql/CreateRetweet"
	pathUserByName     = "/graphql/UserByScreenName"
	pathSearchTimeline = "/graphql/SearchTimeline"
	pathFollow         = "/1.1/friendships/create.json"
	pathRemainingCalls = "/check-remaining-calls"
)

// UsageRecorder counts outbound calls against the daily budget.
type UsageRecorder interface {
	RecordAPICall(ctx context.Context, service, endpoint string) error
}

// Client authenticates the service with a bearer API key and each agent
// with its own credential in the AuthToken header.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	usage   UsageRecorder
	logger  *zap.Logger
}

func New(baseURL, apiKey string, timeout time.Duration, usage UsageRecorder, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  strings.TrimSpace(apiKey),
		http:    &http.Client{Timeout: timeout},
		usage:   usage,
		logger:  logger.Named("platform"),
	}
}

func (c *Client) Publish(ctx context.Context, text, credential string) (string, error) {
	var out map[string]any
	if err := c.do(ctx, pathCreateTweet, credential, map[string]any{"text": text}, &out); err != nil {
		return "", err
	}
	id := findID(out)
	if id == "" {
		return "", errors.New("Twitter API Error: response carried no post id")
	}
	return id, nil
}

func (c *Client) Endorse(ctx context.Context, contentID, credential string) error {
	return c.do(ctx, pathFavoriteTweet, credential, map[string]any{"tweet_id": contentID}, nil)
}

func (c *Client) Comment(ctx context.Context, contentID, text, credential string) (string, error) {
	var out map[string]any
	body := map[string]any{
		"text":  text,
		"reply": map[string]any{"in_reply_to_tweet_id": contentID},
	}
	if err := c.do(ctx, pathCreateTweet, credential, body, &out); err != nil {
		return "", err
	}
	return findID(out), nil
}

func (c *Client) Share(ctx context.Context, contentID, credential string) error {
	return c.do(ctx, pathCreateRetweet, credential, map[string]any{"tweet_id": contentID}, nil)
}

func (c *Client) Follow(ctx context.Context, userID, credential string) error {
	return c.do(ctx, pathFollow, credential, map[string]any{"user_id": userID}, nil)
}

func (c *Client) ResolveHandle(ctx context.Context, handle string) (string, error) {
	handle = strings.TrimPrefix(strings.TrimSpace(handle), "@")
	if handle == "" {
		return "", errors.New("empty handle")
	}
	var out map[string]any
	if err := c.do(ctx, pathUserByName, "", map[string]any{"screen_name": handle}, &out); err != nil {
		return "", err
	}
	id := findID(out)
	if id == "" {
		return "", fmt.Errorf("Twitter API Error: user @%s not found", handle)
	}
	return id, nil
}

// Search returns up to count posts matching query, newest first as the
// platform orders them. It authenticates with the service key only.
func (c *Client) Search(ctx context.Context, query string, count int) ([]models.FoundPost, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New("empty search query")
	}
	if count <= 0 {
		count = DefaultSearchCount
	}
	count = min(count, MaxSearchCount)
	var out map[string]any
	if err := c.do(ctx, pathSearchTimeline, "", map[string]any{"rawQuery": query, "count": count}, &out); err != nil {
		return nil, err
	}
	posts := findPosts(out)
	if len(posts) > count {
		posts = posts[:count]
	}
	return posts, nil
}

// RemainingCalls reports the provider-side quota, used as a connection check.
func (c *Client) RemainingCalls(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	if err := c.doMethod(ctx, http.MethodGet, pathRemainingCalls, "", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Ping checks the api key against the quota endpoint.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.RemainingCalls(ctx)
	return err
}

func (c *Client) do(ctx context.Context, path, credential string, body, out any) error {
	return c.doMethod(ctx, http.MethodPost, path, credential, body, out)
}

func (c *Client) doMethod(ctx context.Context, method, path, credential string, body, out any) error {
	if c.apiKey == "" {
		return errors.New("Twitter API Error: no api key configured")
	}
	if c.usage != nil {
		if err := c.usage.RecordAPICall(ctx, ServiceName, path); err != nil {
			c.logger.Warn("record platform usage", zap.Error(err))
		}
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if credential != "" {
		req.Header.Set("AuthToken", credential)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("Twitter API Error: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("Twitter API Error: read body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("Twitter API Error: %s", errorMessage(resp.StatusCode, raw))
	}
	// Some failures come back as 200 with an errors array.
	if msg := graphQLError(raw); msg != "" {
		return fmt.Errorf("Twitter API Error: %s", msg)
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("Twitter API Error: decode response: %w", err)
		}
	}
	c.logger.Debug("platform call", zap.String("path", path), zap.Int("status", resp.StatusCode))
	return nil
}

func errorMessage(status int, raw []byte) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(raw, &payload) == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	if msg := graphQLError(raw); msg != "" {
		return msg
	}
	return fmt.Sprintf("http %d", status)
}

func graphQLError(raw []byte) string {
	var payload struct {
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if json.Unmarshal(raw, &payload) != nil || len(payload.Errors) == 0 {
		return ""
	}
	return payload.Errors[0].Message
}

var idKeys = []string{"rest_id", "id_str", "id"}

// findID walks a decoded response breadth-first and returns the first
// identifier it meets. GraphQL responses nest the id at varying depths.
func findID(v any) string {
	queue := []any{v}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		switch node := cur.(type) {
		case map[string]any:
			for _, k := range idKeys {
				if id := idString(node[k]); id != "" {
					return id
				}
			}
			for _, child := range node {
				queue = append(queue, child)
			}
		case []any:
			queue = append(queue, node...)
		}
	}
	return ""
}

func idString(v any) string {
	switch id := v.(type) {
	case string:
		return id
	case float64:
		return strconv.FormatFloat(id, 'f', 0, 64)
	default:
		return ""
	}
}

var textKeys = []string{"full_text", "text"}

// findPosts collects every node that carries both an id and post text. The
// GraphQL timeline keeps the text in a legacy child of the node holding
// rest_id; flatter shapes keep both side by side. Matched nodes are not
// searched further so quoted posts are not reported twice.
func findPosts(v any) []models.FoundPost {
	var out []models.FoundPost
	seen := map[string]bool{}
	queue := []any{v}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		switch node := cur.(type) {
		case map[string]any:
			if p, ok := postOf(node); ok {
				if !seen[p.ID] {
					seen[p.ID] = true
					out = append(out, p)
				}
				continue
			}
			for _, k := range slices.Sorted(maps.Keys(node)) {
				queue = append(queue, node[k])
			}
		case []any:
			queue = append(queue, node...)
		}
	}
	return out
}

func postOf(node map[string]any) (models.FoundPost, bool) {
	var id string
	for _, k := range idKeys {
		if id = idString(node[k]); id != "" {
			break
		}
	}
	if id == "" {
		return models.FoundPost{}, false
	}
	fields := node
	if legacy, ok := node["legacy"].(map[string]any); ok {
		fields = legacy
	}
	var text string
	for _, k := range textKeys {
		if s, ok := fields[k].(string); ok && strings.TrimSpace(s) != "" {
			text = s
			break
		}
	}
	if text == "" {
		return models.FoundPost{}, false
	}
	author := idString(fields["user_id_str"])
	if author == "" {
		author = idString(node["author_id"])
	}
	return models.FoundPost{ID: id, Text: text, AuthorID: author}, true
}
