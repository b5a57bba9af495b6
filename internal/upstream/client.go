package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/cloudradar/livemap/internal/flight"
	"github.com/cloudradar/livemap/internal/toggle"
	"github.com/cloudradar/livemap/pkg/logger"
)

// ErrUnauthorized is matched by errors.Is for 401 and 403 responses
var ErrUnauthorized = toggle.ErrUnauthorized

// StatusError is a non-2xx response from the dashboard API
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code %d: %s", e.StatusCode, e.Message)
}

// Unwrap exposes ErrUnauthorized for rejected credentials
func (e *StatusError) Unwrap() error {
	if e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden {
		return ErrUnauthorized
	}
	return nil
}

// Config configures the dashboard API client
type Config struct {
	BaseURL           string
	FlightsPath       string
	AdminScalePath    string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
}

// Client talks to the dashboard API: flight snapshots, metrics, details, the
// batch update stream and the ingester scale endpoint
type Client struct {
	httpClient   *http.Client
	streamClient *http.Client
	baseURL      *url.URL
	cfg          Config
	limiter      *rate.Limiter
	logger       *logger.Logger
}

// NewClient creates a new dashboard API client
func NewClient(cfg Config, loggerObj *logger.Logger) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("upstream base url must be absolute: %q", cfg.BaseURL)
	}

	if cfg.FlightsPath == "" {
		cfg.FlightsPath = "/api/flights"
	}
	if cfg.AdminScalePath == "" {
		cfg.AdminScalePath = "/admin/ingester/scale"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = time.Second
	}
	if cfg.MaxReconnectDelay < cfg.ReconnectDelay {
		cfg.MaxReconnectDelay = max(30*time.Second, cfg.ReconnectDelay)
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		// The stream stays open indefinitely, so it only relies on ctx
		streamClient: &http.Client{},
		baseURL:      base,
		cfg:          cfg,
		limiter:      rate.NewLimiter(limit, burst),
		logger:       loggerObj.Named("upstream"),
	}, nil
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	if query != nil {
		u.RawQuery = query.Encode()
	} else {
		u.RawQuery = ""
	}
	return u.String()
}

// FetchSnapshot fetches the most recently seen aircraft inside area
func (c *Client) FetchSnapshot(ctx context.Context, area flight.Bbox, limit int) (*flight.Snapshot, error) {
	query := url.Values{}
	query.Set("bbox", area.Query())
	query.Set("limit", strconv.Itoa(limit))
	query.Set("sort", "lastSeen")
	query.Set("order", "desc")

	var snapshot flight.Snapshot
	if err := c.doJSON(ctx, http.MethodGet, c.endpoint(c.cfg.FlightsPath, query), nil, nil, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to fetch flights: %w", err)
	}

	c.logger.Debug("Fetched flight snapshot",
		logger.Int("item_count", len(snapshot.Items)),
		logger.Epoch("batch_epoch", snapshot.LatestBatchEpoch))

	return &snapshot, nil
}

// FetchMetrics fetches the aggregate traffic KPIs for area
func (c *Client) FetchMetrics(ctx context.Context, area flight.Bbox) (*flight.Metrics, error) {
	query := url.Values{}
	query.Set("bbox", area.Query())
	query.Set("window", "6h")

	var metrics flight.Metrics
	if err := c.doJSON(ctx, http.MethodGet, c.endpoint(c.cfg.FlightsPath+"/metrics", query), nil, nil, &metrics); err != nil {
		return nil, fmt.Errorf("failed to fetch metrics: %w", err)
	}
	return &metrics, nil
}

// FetchDetail fetches one aircraft with its recent track and enrichment
func (c *Client) FetchDetail(ctx context.Context, id string) (*flight.Detail, error) {
	id = flight.NormalizeID(id)
	if id == "" {
		return nil, fmt.Errorf("empty aircraft id")
	}

	query := url.Values{}
	query.Set("include", "track,enrichment")

	var detail flight.Detail
	path := c.cfg.FlightsPath + "/" + url.PathEscape(id)
	if err := c.doJSON(ctx, http.MethodGet, c.endpoint(path, query), nil, nil, &detail); err != nil {
		return nil, fmt.Errorf("failed to fetch detail for %s: %w", id, err)
	}
	return &detail, nil
}

// FetchToggleStatus reads the public ingester scale
func (c *Client) FetchToggleStatus(ctx context.Context) (*toggle.Status, error) {
	var status toggle.Status
	if err := c.doJSON(ctx, http.MethodGet, c.endpoint(c.cfg.AdminScalePath, nil), nil, nil, &status); err != nil {
		return nil, fmt.Errorf("failed to fetch ingester scale: %w", err)
	}
	return &status, nil
}

// FetchToggleStatusAuthenticated reads the ingester scale with admin credentials
func (c *Client) FetchToggleStatusAuthenticated(ctx context.Context, creds toggle.Credentials) (*toggle.Status, error) {
	var status toggle.Status
	if err := c.doJSON(ctx, http.MethodGet, c.endpoint(c.cfg.AdminScalePath, nil), nil, &creds, &status); err != nil {
		return nil, fmt.Errorf("failed to fetch ingester scale: %w", err)
	}
	return &status, nil
}

// SetToggle scales the ingester to target replicas
func (c *Client) SetToggle(ctx context.Context, target int, creds toggle.Credentials) (*toggle.Status, error) {
	body := map[string]int{"replicas": target}

	var status toggle.Status
	if err := c.doJSON(ctx, http.MethodPost, c.endpoint(c.cfg.AdminScalePath, nil), body, &creds, &status); err != nil {
		return nil, fmt.Errorf("failed to scale ingester: %w", err)
	}

	c.logger.Info("Requested ingester scale", logger.Int("replicas", target))
	return &status, nil
}

func (c *Client) doJSON(ctx context.Context, method, urlStr string, body any, creds *toggle.Credentials, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, urlStr, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if creds != nil {
		req.SetBasicAuth(creds.Username, creds.Password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		statusErr := &StatusError{StatusCode: resp.StatusCode, Message: errorMessage(resp, data)}
		c.logger.Debug("Upstream request failed",
			logger.String("method", method),
			logger.String("url", urlStr),
			logger.Int("status_code", resp.StatusCode))
		return statusErr
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse JSON: %w", err)
	}
	return nil
}

// errorMessage prefers the API's own error text over the status line
func errorMessage(resp *http.Response, body []byte) string {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	return strings.TrimSpace(resp.Status)
}
