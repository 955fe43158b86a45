// HTTP client implementation of the Gateway contract.
package gateway

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

	apperrors "github.com/notabene-app/notabene-core/internal/errors"
	"github.com/notabene-app/notabene-core/internal/models"
)

// ClientConfig holds backend connection configuration.
type ClientConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// Client is an HTTP implementation of the backend contract. One Client is
// shared across entity kinds; ForStore derives the per-kind Gateway.
// Requests are single-shot: no internal retry, per spec.
type Client struct {
	config     *ClientConfig
	httpClient *http.Client
}

// NewClient creates a Client for a REST backend exposing
// /api/{store} collections and /api/auth session endpoints.
func NewClient(config *ClientConfig) *Client {
	timeout := config.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
	}
}

// ForStore returns the Gateway for one entity kind.
func (c *Client) ForStore(storeName string) Gateway {
	return &entityClient{client: c, store: storeName}
}

// Health probes the backend. Used as the connectivity signal source.
func (c *Client) Health(ctx context.Context) error {
	var out struct {
		Status string `json:"status"`
	}
	return c.do(ctx, http.MethodGet, "/api/health", nil, &out)
}

// CurrentUser implements Auth.
func (c *Client) CurrentUser(ctx context.Context) (*User, error) {
	var user User
	if err := c.do(ctx, http.MethodGet, "/api/auth/me", nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// SignOut implements Auth.
func (c *Client) SignOut(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/auth/signout", nil, nil)
}

// wireRecord is the JSON shape records travel in. sync_status never
// crosses the wire; it is local bookkeeping.
type wireRecord struct {
	ID        string                 `json:"id"`
	Fields    map[string]interface{} `json:"fields"`
	UpdatedAt int64                  `json:"updated_at"`
}

func toWire(rec *models.Record) *wireRecord {
	return &wireRecord{ID: rec.ID, Fields: rec.Fields, UpdatedAt: rec.UpdatedAt}
}

func fromWire(w *wireRecord) *models.Record {
	return &models.Record{ID: w.ID, Fields: w.Fields, UpdatedAt: w.UpdatedAt}
}

// entityClient scopes a Client to one entity kind.
type entityClient struct {
	client *Client
	store  string
}

func (e *entityClient) List(ctx context.Context, sortSpec string) ([]*models.Record, error) {
	path := "/api/" + e.store
	if sortSpec != "" {
		path += "?sort=" + url.QueryEscape(sortSpec)
	}
	var wires []*wireRecord
	if err := e.client.do(ctx, http.MethodGet, path, nil, &wires); err != nil {
		return nil, err
	}
	records := make([]*models.Record, 0, len(wires))
	for _, w := range wires {
		records = append(records, fromWire(w))
	}
	return records, nil
}

func (e *entityClient) Get(ctx context.Context, id string) (*models.Record, error) {
	var w wireRecord
	if err := e.client.do(ctx, http.MethodGet, e.recordPath(id), nil, &w); err != nil {
		return nil, err
	}
	return fromWire(&w), nil
}

func (e *entityClient) Create(ctx context.Context, rec *models.Record) (*models.Record, error) {
	var w wireRecord
	if err := e.client.do(ctx, http.MethodPost, "/api/"+e.store, toWire(rec), &w); err != nil {
		return nil, err
	}
	return fromWire(&w), nil
}

func (e *entityClient) Update(ctx context.Context, id string, fields map[string]interface{}) (*models.Record, error) {
	var w wireRecord
	if err := e.client.do(ctx, http.MethodPatch, e.recordPath(id), fields, &w); err != nil {
		return nil, err
	}
	return fromWire(&w), nil
}

func (e *entityClient) Delete(ctx context.Context, id string) error {
	return e.client.do(ctx, http.MethodDelete, e.recordPath(id), nil, nil)
}

func (e *entityClient) DeleteMany(ctx context.Context, ids []string) error {
	body := map[string]interface{}{"ids": ids}
	return e.client.do(ctx, http.MethodPost, "/api/"+e.store+"/delete-many", body, nil)
}

func (e *entityClient) recordPath(id string) string {
	return "/api/" + e.store + "/" + url.PathEscape(id)
}

// do performs one JSON request/response round trip.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	endpoint := strings.TrimSuffix(c.config.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrGatewayUnavailable, "backend request failed", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return apperrors.New(apperrors.ErrGatewayAuth,
			fmt.Sprintf("%s %s: authentication rejected (%d)", method, path, resp.StatusCode))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return apperrors.New(apperrors.ErrGatewayUnavailable,
			fmt.Sprintf("%s %s: unexpected status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(data))))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
