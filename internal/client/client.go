// Package client is the programmatic counterpart of the browser front end:
// an API client with the page's failure semantics, an editor holding the
// table state with admin gating, and a debounced autosaver.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/eltffn/dane-table-app/internal/store"
	"github.com/eltffn/dane-table-app/internal/table"
)

const apiKeyHeader = "x-api-key"

type envelope struct {
	Success    bool            `json:"success"`
	Error      string          `json:"error"`
	Data       json.RawMessage `json:"data"`
	Year       string          `json:"year"`
	Authorized bool            `json:"authorized"`
}

// Client talks to the table API. Token is the shared secret sent on every
// mutating call; it is only set after a successful Verify.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *zap.Logger
}

func New(baseURL string, logger *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
		logger:  logger,
	}
}

func (c *Client) SetToken(token string) { c.token = token }
func (c *Client) ClearToken()           { c.token = "" }

// LoadTable fetches the table document. Any transport or parse failure
// degrades to an empty table; the page never fails to load.
func (c *Client) LoadTable(ctx context.Context) *table.State {
	env, err := c.get(ctx, "/api/data")
	if err != nil || !env.Success {
		c.logger.Warn("load table failed, using empty table", zap.Error(err))
		return table.New(nil, nil)
	}
	state, err := table.FromJSON(env.Data)
	if err != nil {
		c.logger.Warn("table document malformed, using empty table", zap.Error(err))
		return table.New(nil, nil)
	}
	return state
}

// LoadYear fetches the year string, falling back to the default on failure.
func (c *Client) LoadYear(ctx context.Context) string {
	env, err := c.get(ctx, "/api/year")
	if err != nil || !env.Success || env.Year == "" {
		return store.DefaultYear
	}
	return env.Year
}

// SaveTable posts the table state. The state marshals with column order
// preserved; the reserved year field never reaches the table document.
func (c *Client) SaveTable(ctx context.Context, state *table.State) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal table: %w", err)
	}
	return c.post(ctx, "/api/data", payload)
}

func (c *Client) SaveYear(ctx context.Context, year string) error {
	payload, err := json.Marshal(map[string]string{"year": year})
	if err != nil {
		return fmt.Errorf("marshal year: %w", err)
	}
	return c.post(ctx, "/api/year", payload)
}

// Verify checks a candidate secret. The call succeeds with authorized=false
// for a wrong secret; only transport failures error.
func (c *Client) Verify(ctx context.Context, token string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/verify", nil)
	if err != nil {
		return false, err
	}
	req.Header.Set(apiKeyHeader, token)
	env, err := c.do(req)
	if err != nil {
		return false, err
	}
	return env.Success && env.Authorized, nil
}

func (c *Client) Restore(ctx context.Context) error {
	return c.post(ctx, "/api/restore", nil)
}

func (c *Client) get(ctx context.Context, path string) (envelope, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return envelope{}, err
	}
	return c.do(req)
}

func (c *Client) post(ctx context.Context, path string, body []byte) error {
	var reader *bytes.Reader
	if body == nil {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(apiKeyHeader, c.token)

	env, err := c.do(req)
	if err != nil {
		return err
	}
	if !env.Success {
		if env.Error == "" {
			env.Error = "request failed"
		}
		return fmt.Errorf("%s", env.Error)
	}
	return nil
}

func (c *Client) do(req *http.Request) (envelope, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return envelope{}, err
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return envelope{}, fmt.Errorf("parse response: %w", err)
	}
	return env, nil
}
