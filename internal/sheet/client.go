// Package sheet talks to the spreadsheet script that stores every table of
// the nurse station. The client carries no business logic: it issues the
// backend verbs and normalizes every outcome into a Result.
package sheet

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/medflow/nurse-station/pkg/config"
	"github.com/medflow/nurse-station/pkg/logger"
)

// Backend is the set of verbs the sheet script understands.
type Backend interface {
	List(ctx context.Context, table string, limit int) *Result
	Get(ctx context.Context, table, id string) *Result
	Search(ctx context.Context, table, field, value string) *Result
	Append(ctx context.Context, table string, payload any) *Result
	Update(ctx context.Context, table, id string, payload any) *Result
	UpdateField(ctx context.Context, table, id, field string, value any) *Result
	Delete(ctx context.Context, table, id string) *Result
	BatchGet(ctx context.Context, table string, ids []string) *Result
	BatchUpdateFields(ctx context.Context, table string, updates []FieldUpdate) *Result
}

// maxBody caps how much of a reply is read; list replies of a few thousand
// rows stay well below it.
const maxBody = 32 << 20

// Client is the HTTP implementation of Backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *logger.Logger
}

// NewClient creates a sheet backend client.
func NewClient(cfg *config.SheetConfig, log *logger.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    cfg.URL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     log.WithComponent("sheet"),
	}
}

type writeRequest struct {
	Action  string        `json:"action"`
	Table   string        `json:"table"`
	ID      string        `json:"id,omitempty"`
	IDs     []string      `json:"ids,omitempty"`
	Payload any           `json:"payload,omitempty"`
	Field   string        `json:"field,omitempty"`
	Value   any           `json:"value,omitempty"`
	Updates []FieldUpdate `json:"updates,omitempty"`
}

// List returns up to limit rows of table.
func (c *Client) List(ctx context.Context, table string, limit int) *Result {
	return c.read(ctx, url.Values{
		"action": {"list"},
		"table":  {table},
		"limit":  {strconv.Itoa(limit)},
	})
}

// Get returns one row by id; Data is null when the row does not exist.
func (c *Client) Get(ctx context.Context, table, id string) *Result {
	return c.read(ctx, url.Values{
		"action": {"get"},
		"table":  {table},
		"id":     {id},
	})
}

// Search returns rows whose field equals value.
func (c *Client) Search(ctx context.Context, table, field, value string) *Result {
	return c.read(ctx, url.Values{
		"action": {"search"},
		"table":  {table},
		"field":  {field},
		"value":  {value},
	})
}

// Append inserts a row; the new id comes back in Result.ID.
func (c *Client) Append(ctx context.Context, table string, payload any) *Result {
	return c.write(ctx, writeRequest{Action: "append", Table: table, Payload: payload})
}

// Update replaces the given columns of a row.
func (c *Client) Update(ctx context.Context, table, id string, payload any) *Result {
	return c.write(ctx, writeRequest{Action: "update", Table: table, ID: id, Payload: payload})
}

// UpdateField sets a single column of a row.
func (c *Client) UpdateField(ctx context.Context, table, id, field string, value any) *Result {
	return c.write(ctx, writeRequest{Action: "update_field", Table: table, ID: id, Field: field, Value: value})
}

// Delete removes a row.
func (c *Client) Delete(ctx context.Context, table, id string) *Result {
	return c.write(ctx, writeRequest{Action: "delete", Table: table, ID: id})
}

// BatchGet fetches several rows in one call. Older script deployments do not
// know the verb and answer ok=false; callers fall back to Get.
func (c *Client) BatchGet(ctx context.Context, table string, ids []string) *Result {
	return c.write(ctx, writeRequest{Action: "batch_get", Table: table, IDs: ids})
}

// BatchUpdateFields sets several single columns in one call.
func (c *Client) BatchUpdateFields(ctx context.Context, table string, updates []FieldUpdate) *Result {
	return c.write(ctx, writeRequest{Action: "batch_update_fields", Table: table, Updates: updates})
}

func (c *Client) read(ctx context.Context, params url.Values) *Result {
	if c.baseURL == "" {
		return failed("sheet url not configured")
	}
	u := c.baseURL
	if strings.Contains(u, "?") {
		u += "&" + params.Encode()
	} else {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return failed("failed to create request: %v", err)
	}
	return c.do(req, params.Get("action"), params.Get("table"))
}

func (c *Client) write(ctx context.Context, body writeRequest) *Result {
	if c.baseURL == "" {
		return failed("sheet url not configured")
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return failed("failed to marshal request: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(payload))
	if err != nil {
		return failed("failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, body.Action, body.Table)
}

func (c *Client) do(req *http.Request, action, table string) *Result {
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error().Err(err).Str("action", action).Str("table", table).Msg("sheet request failed")
		return failed("request failed: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		c.logger.Error().Err(err).Str("action", action).Str("table", table).Msg("failed to read sheet response")
		return failed("failed to read response: %v", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Error().
			Int("status", resp.StatusCode).
			Str("action", action).
			Str("table", table).
			Msg("sheet request returned non-2xx status")
		return failed("backend status %d", resp.StatusCode)
	}

	var w wireResult
	if err := json.Unmarshal(body, &w); err != nil {
		c.logger.Error().Err(err).Str("action", action).Str("table", table).Msg("malformed sheet response")
		return failed("malformed response: %v", err)
	}

	res := w.normalize()
	if !res.OK {
		c.logger.Warn().
			Str("action", action).
			Str("table", table).
			Str("message", res.Message).
			Msg("sheet returned not ok")
	}

	c.logger.Debug().
		Str("action", action).
		Str("table", table).
		Bool("ok", res.OK).
		Dur("duration", time.Since(start)).
		Msg("sheet call")

	return res
}
