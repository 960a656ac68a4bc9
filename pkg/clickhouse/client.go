package clickhouse

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/dqc/pkg/observability"
)

// Define static errors
var (
	ErrClickHouseResponse = errors.New("clickhouse error")
	ErrMalformedResponse  = errors.New("malformed clickhouse response")
)

// compactResponse represents the JSONCompact response from ClickHouse HTTP interface.
type compactResponse struct {
	Meta []struct {
		Name string `json:"name"`
		Type string `json:"type"`
	} `json:"meta"`
	Data     [][]any `json:"data"`
	Rows     int     `json:"rows"`
	RowsRead int     `json:"rows_read"` //nolint:tagliatelle // ClickHouse API uses snake_case
}

// ClientInterface defines the methods for querying ClickHouse
type ClientInterface interface {
	// QueryRows executes a SELECT and returns column names and rows
	QueryRows(ctx context.Context, query string) ([]string, [][]any, error)
	// Execute runs a query and returns the raw response body
	Execute(ctx context.Context, query string) ([]byte, error)
	// Start checks connectivity
	Start() error
	// Stop closes the client
	Stop() error
}

// client implements the ClientInterface using HTTP
type client struct {
	log          logrus.FieldLogger
	httpClient   *http.Client
	baseURL      string
	debug        bool
	queryTimeout time.Duration
}

// NewClient creates a new HTTP-based ClickHouse client
func NewClient(logger logrus.FieldLogger, cfg *Config) (ClientInterface, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	// Set defaults
	cfg.SetDefaults()

	baseURL, err := buildURL(cfg)
	if err != nil {
		return nil, err
	}

	// Create HTTP client with keep-alive settings
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     cfg.KeepAlive,
		DisableKeepAlives:   false,
	}

	httpClient := &http.Client{
		Transport: transport,
		Timeout:   0, // We'll set per-request timeouts
	}

	c := &client{
		log:          logger.WithField("component", "clickhouse-http"),
		httpClient:   httpClient,
		baseURL:      baseURL,
		debug:        cfg.Debug,
		queryTimeout: cfg.QueryTimeout,
	}

	return c, nil
}

func buildURL(cfg *Config) (string, error) {
	base := strings.TrimRight(cfg.URL, "/")
	if cfg.Database == "" {
		return base, nil
	}

	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}

	q := u.Query()
	q.Set("database", cfg.MapDatabase(cfg.Database))
	u.RawQuery = q.Encode()

	return u.String(), nil
}

func (c *client) Start() error {
	// Test connectivity
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := c.Execute(ctx, "SELECT 1"); err != nil {
		return fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	c.log.Info("Connected to ClickHouse HTTP interface")

	return nil
}

func (c *client) Stop() error {
	if c.httpClient != nil {
		c.httpClient.CloseIdleConnections()
	}

	c.log.Info("Closed ClickHouse HTTP client")

	return nil
}

func (c *client) QueryRows(ctx context.Context, query string) ([]string, [][]any, error) {
	start := time.Now()

	// Add FORMAT JSONCompact to query so rows keep column order
	formattedQuery := query + " FORMAT JSONCompact"

	resp, err := c.executeHTTPRequest(ctx, formattedQuery, c.getTimeout(ctx))
	if err != nil {
		observability.RecordQuery("clickhouse", "error", time.Since(start).Seconds())

		return nil, nil, fmt.Errorf("query execution failed: %w", err)
	}

	// Parse response, numbers are kept exact
	var result compactResponse

	decoder := json.NewDecoder(bytes.NewReader(resp))
	decoder.UseNumber()

	if err := decoder.Decode(&result); err != nil {
		observability.RecordQuery("clickhouse", "error", time.Since(start).Seconds())

		return nil, nil, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}

	observability.RecordQuery("clickhouse", "success", time.Since(start).Seconds())

	columns := make([]string, len(result.Meta))
	for i, meta := range result.Meta {
		columns[i] = meta.Name
	}

	rows := make([][]any, len(result.Data))

	for i, row := range result.Data {
		if len(row) != len(columns) {
			return nil, nil, fmt.Errorf("%w: row %d has %d values for %d columns", ErrMalformedResponse, i, len(row), len(columns))
		}

		rows[i] = make([]any, len(row))
		for j, value := range row {
			rows[i][j] = normalizeNumber(value)
		}
	}

	return columns, rows, nil
}

// normalizeNumber converts json numbers to int64 when integral, float64 otherwise.
func normalizeNumber(value any) any {
	number, ok := value.(json.Number)
	if !ok {
		return value
	}

	if i, err := number.Int64(); err == nil {
		return i
	}

	if f, err := number.Float64(); err == nil {
		return f
	}

	return number.String()
}

func (c *client) Execute(ctx context.Context, query string) ([]byte, error) {
	body, err := c.executeHTTPRequest(ctx, query, c.getTimeout(ctx))
	if err != nil {
		return nil, fmt.Errorf("execution failed: %w", err)
	}

	return body, nil
}

func (c *client) executeHTTPRequest(ctx context.Context, query string, timeout time.Duration) ([]byte, error) {
	// Create request with timeout
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, "POST", c.baseURL, strings.NewReader(query))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	// Set headers
	req.Header.Set("Content-Type", "text/plain")

	// Debug logging
	if c.debug {
		logQuery := query
		if len(query) > 1000 {
			logQuery = query[:1000] + "... (truncated)"
		}

		c.log.WithField("query", logQuery).Debug("Executing ClickHouse query")
	}

	// Execute request
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.log.WithError(closeErr).Debug("Failed to close response body")
		}
	}()

	// Read response body
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	// Check status code
	if resp.StatusCode != http.StatusOK {
		// Try to parse error message
		var errorResp struct {
			Exception string `json:"exception"`
		}

		if jsonErr := json.Unmarshal(body, &errorResp); jsonErr == nil && errorResp.Exception != "" {
			return nil, fmt.Errorf("%w (status %d): %s", ErrClickHouseResponse, resp.StatusCode, errorResp.Exception)
		}

		return nil, fmt.Errorf("%w (status %d): %s", ErrClickHouseResponse, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	// Debug logging
	if c.debug && len(body) < 1000 {
		c.log.WithField("response", string(body)).Debug("ClickHouse response")
	}

	return body, nil
}

func (c *client) getTimeout(ctx context.Context) time.Duration {
	// Check if context already has a deadline
	if deadline, ok := ctx.Deadline(); ok {
		return time.Until(deadline)
	}

	return c.queryTimeout
}
