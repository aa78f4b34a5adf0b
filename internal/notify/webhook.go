package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"botfleet/internal/db"
)

const SignatureHeader = "X-Fleet-Signature"

// WebhookSink posts each event to every active webhook subscribed to it.
// Bodies are signed with HMAC-SHA256 when the webhook has a secret.
type WebhookSink struct {
	db     *sql.DB
	client *http.Client
}

func NewWebhookSink(database *sql.DB, timeout time.Duration) *WebhookSink {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookSink{db: database, client: &http.Client{Timeout: timeout}}
}

func (w *WebhookSink) Name() string { return "webhook" }

func (w *WebhookSink) Deliver(ctx context.Context, ev Event) error {
	hooks, err := db.WebhooksFor(ctx, w.db, ev.Type)
	if err != nil {
		return err
	}
	if len(hooks) == 0 {
		return nil
	}
	body, err := json.Marshal(map[string]any{
		"event": ev.Type,
		"at":    ev.At.Format(time.RFC3339),
		"data":  ev.Data,
	})
	if err != nil {
		return err
	}
	var errs []error
	for _, wh := range hooks {
		if err := w.post(ctx, wh.URL, wh.Secret, body); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", wh.ID, err))
		}
	}
	return errors.Join(errs...)
}

func (w *WebhookSink) post(ctx context.Context, url, secret string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(secret) != "" {
		req.Header.Set(SignatureHeader, Sign(secret, body))
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
