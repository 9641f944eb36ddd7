// Package remote is the client for the analytical database, an SQL store
// reachable only through an HTTP endpoint that executes statements from a
// JSON envelope. All writes issued through it are idempotent (INSERT OR
// IGNORE / keyed UPDATE), so the retry policy never duplicates rows.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/colascope/colascope/pkg/config"
)

// DefaultBaseURL is the endpoint root; the account and database ids are
// interpolated into the path.
const DefaultBaseURL = "https://api.cloudflare.com/client/v4"

// MaxRequestBytes caps one HTTP request body; batch builders size their
// multi-statement payloads to stay under it.
const MaxRequestBytes = 900_000

type Client struct {
	httpClient *http.Client
	baseURL    string
	creds      config.Remote
	log        *slog.Logger
}

// StatementResult is one statement's outcome inside a batch response.
type StatementResult struct {
	Results []map[string]any `json:"results"`
	Meta    struct {
		Changes int `json:"changes"`
	} `json:"meta"`
}

type envelope struct {
	SQL    string `json:"sql"`
	Params []any  `json:"params,omitempty"`
}

type response struct {
	Success bool              `json:"success"`
	Result  []StatementResult `json:"result"`
	Errors  []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// New builds a client. Credentials must already be validated.
func New(creds config.Remote, timeout time.Duration, log *slog.Logger) *Client {
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    DefaultBaseURL,
		creds:      creds,
		log:        log,
	}
}

// SetBaseURL points the client at a different endpoint root; tests use it
// with an httptest server.
func (c *Client) SetBaseURL(u string) { c.baseURL = u }

func (c *Client) queryURL() string {
	return fmt.Sprintf("%s/accounts/%s/d1/database/%s/query",
		c.baseURL, c.creds.AccountID, c.creds.DatabaseID)
}

// Exec sends one SQL payload (one or many ;-separated statements) and
// returns the per-statement results. Connection errors and non-2xx statuses
// are retried up to three times after the first attempt, waiting 1s, 2s and
// 4s between tries.
func (c *Client) Exec(ctx context.Context, sql string, params ...any) ([]StatementResult, error) {
	body, err := json.Marshal(envelope{SQL: sql, Params: params})
	if err != nil {
		return nil, fmt.Errorf("marshal sql envelope: %w", err)
	}
	if len(body) > MaxRequestBytes {
		return nil, fmt.Errorf("sql payload %d bytes exceeds request cap %d", len(body), MaxRequestBytes)
	}

	attempt := 0
	operation := func() ([]StatementResult, error) {
		attempt++
		return c.post(ctx, body)
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = time.Second
	expo.Multiplier = 2
	expo.RandomizationFactor = 0

	results, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(expo),
		backoff.WithMaxTries(4))
	if err != nil {
		return nil, fmt.Errorf("remote exec failed after %d attempts: %w", attempt, err)
	}
	return results, nil
}

func (c *Client) post(ctx context.Context, body []byte) ([]StatementResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.queryURL(), bytes.NewReader(body))
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.creds.APIToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		err := fmt.Errorf("remote endpoint returned %d: %s", resp.StatusCode, truncate(raw, 200))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != 429 {
			// Client errors will not heal with retries.
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}

	var parsed response
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode remote response: %w", err)
	}
	if !parsed.Success {
		msg := "unknown error"
		if len(parsed.Errors) > 0 {
			msg = parsed.Errors[0].Message
		}
		return nil, backoff.Permanent(fmt.Errorf("remote statement failed: %s", msg))
	}
	return parsed.Result, nil
}

// Query runs a single SELECT and returns its rows.
func (c *Client) Query(ctx context.Context, sql string, params ...any) ([]map[string]any, error) {
	results, err := c.Exec(ctx, sql, params...)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}
	return results[0].Results, nil
}

// QueryInt runs a single-row single-column SELECT (counts, mostly).
func (c *Client) QueryInt(ctx context.Context, sql string, params ...any) (int64, error) {
	rows, err := c.Query(ctx, sql, params...)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, fmt.Errorf("query returned no rows: %s", truncate([]byte(sql), 80))
	}
	for _, v := range rows[0] {
		return asInt64(v), nil
	}
	return 0, fmt.Errorf("query returned empty row: %s", truncate([]byte(sql), 80))
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	case json.Number:
		i, _ := n.Int64()
		return i
	}
	return 0
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// AsInt converts a JSON-decoded scalar to int.
func AsInt(v any) int { return int(asInt64(v)) }

// AsString converts a JSON-decoded scalar to string, with nil as "".
func AsString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
