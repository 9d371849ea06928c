package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dukerupert/famcal/internal/model"
)

// Config holds remote store connection settings.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// Client is a JSON client for the remote store's REST API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

func (c *Client) Insert(ctx context.Context, table model.RecordType, rec any) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.do(ctx, http.MethodPost, "/v1/"+string(table), nil, rec, &out); err != nil {
		return nil, fmt.Errorf("insert %s: %w", table, err)
	}
	return out, nil
}

// InsertBatch creates several records of one table in a single request.
func (c *Client) InsertBatch(ctx context.Context, table model.RecordType, recs []any) ([]json.RawMessage, error) {
	var out []json.RawMessage
	if err := c.do(ctx, http.MethodPost, "/v1/"+string(table)+"/batch", nil, recs, &out); err != nil {
		return nil, fmt.Errorf("batch insert %s: %w", table, err)
	}
	return out, nil
}

// Replace overwrites the stored record with rec. Fields absent from rec are
// removed remotely.
func (c *Client) Replace(ctx context.Context, table model.RecordType, id string, rec any) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.do(ctx, http.MethodPut, recordPath(table, id), nil, rec, &out); err != nil {
		return nil, fmt.Errorf("replace %s: %w", table, err)
	}
	return out, nil
}

func (c *Client) Delete(ctx context.Context, table model.RecordType, id string) error {
	if err := c.do(ctx, http.MethodDelete, recordPath(table, id), nil, nil, nil); err != nil {
		return fmt.Errorf("delete %s: %w", table, err)
	}
	return nil
}

func (c *Client) Get(ctx context.Context, table model.RecordType, id string) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.do(ctx, http.MethodGet, recordPath(table, id), nil, nil, &out); err != nil {
		return nil, fmt.Errorf("get %s: %w", table, err)
	}
	return out, nil
}

func (c *Client) List(ctx context.Context, table model.RecordType, q Query) ([]json.RawMessage, error) {
	var out []json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/v1/"+string(table), q.values(), nil, &out); err != nil {
		return nil, fmt.Errorf("list %s: %w", table, err)
	}
	return out, nil
}

func recordPath(table model.RecordType, id string) string {
	return "/v1/" + string(table) + "/" + url.PathEscape(id)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		rdr = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrRemoteUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
