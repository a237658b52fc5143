package pazapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/yussieik/pazpaz-sub021/internal/models"
)

const settingsPath = "/api/v1/notification-settings"

// Client is an HTTP client for the PazPaz notification-settings API. The
// caller's identity comes from the bearer token; the workspace is selected
// with the X-Workspace-Id header.
type Client struct {
	baseURL     string
	token       string
	workspaceID string
	httpClient  *http.Client

	redis    *redis.Client
	cacheTTL time.Duration

	writeLimiter *rate.Limiter
}

// APIError is a non-2xx response from the API. Detail carries the server's
// user-facing message when the body had one; RequestID is the correlation id
// for support lookups and must stay out of user-visible text.
type APIError struct {
	StatusCode int
	Detail     string
	RequestID  string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("pazpaz api: http %d: %s", e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("pazpaz api: http %d", e.StatusCode)
}

// NewClient constructs a client for one workspace. timeout caps every
// request at the transport level and must sit above the largest per-call
// context budget; zero or negative falls back to 30 seconds.
func NewClient(baseURL, token, workspaceID string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		token:       token,
		workspaceID: workspaceID,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

// UseRedisCache configures optional Redis caching for settings reads. Writes
// refresh the cached copy with the server's canonical response.
func (c *Client) UseRedisCache(redisClient *redis.Client, ttl time.Duration) {
	c.redis = redisClient
	c.cacheTTL = ttl
}

// UseWriteLimit throttles persist calls. Zero or negative rps disables it.
func (c *Client) UseWriteLimit(rps float64, burst int) {
	if rps <= 0 {
		c.writeLimiter = nil
		return
	}
	if burst < 1 {
		burst = 1
	}
	c.writeLimiter = rate.NewLimiter(rate.Limit(rps), burst)
}

// FetchSettings returns the caller's current record for the workspace.
func (c *Client) FetchSettings(ctx context.Context) (*models.NotificationSettings, error) {
	endpoint := c.baseURL + settingsPath
	cacheKey := c.cacheKey()
	var record models.NotificationSettings

	if c.readCache(ctx, cacheKey, &record) {
		return &record, nil
	}

	if err := c.doGet(ctx, endpoint, &record); err != nil {
		return nil, err
	}
	c.writeCache(ctx, cacheKey, record)
	return &record, nil
}

// PersistSettings writes the full record and returns the server's canonical
// copy, which may differ (updated_at, normalized values).
func (c *Client) PersistSettings(ctx context.Context, record *models.NotificationSettings) (*models.NotificationSettings, error) {
	if record == nil {
		return nil, fmt.Errorf("pazpaz api: nil settings record")
	}
	if c.writeLimiter != nil {
		if err := c.writeLimiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	endpoint := c.baseURL + settingsPath
	var saved models.NotificationSettings
	if err := c.doPut(ctx, endpoint, record, &saved); err != nil {
		return nil, err
	}
	c.writeCache(ctx, c.cacheKey(), saved)
	return &saved, nil
}

// InvalidateCache drops the cached record, forcing the next read to hit the
// API.
func (c *Client) InvalidateCache(ctx context.Context) {
	if c.redis == nil {
		return
	}
	_ = c.redis.Del(ctx, c.cacheKey()).Err()
}

// HealthCheck pings the API.
func (c *Client) HealthCheck(ctx context.Context) error {
	endpoint := c.baseURL + "/healthz"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed: %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) cacheKey() string {
	return fmt.Sprintf("notification-settings:%s", c.workspaceID)
}

func (c *Client) readCache(ctx context.Context, key string, out any) bool {
	if c.redis == nil || c.cacheTTL <= 0 {
		return false
	}
	val, err := c.redis.Get(ctx, key).Result()
	if err != nil {
		return false
	}
	if err := json.Unmarshal([]byte(val), out); err != nil {
		return false
	}
	return true
}

func (c *Client) writeCache(ctx context.Context, key string, val any) {
	if c.redis == nil || c.cacheTTL <= 0 {
		return
	}
	data, err := json.Marshal(val)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, key, data, c.cacheTTL).Err()
}

func (c *Client) doGet(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return err
	}
	reqID := c.addHeaders(req)
	return c.do(req, reqID, out)
}

func (c *Client) doPut(ctx context.Context, endpoint string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, strings.NewReader(string(data)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	reqID := c.addHeaders(req)
	return c.do(req, reqID, out)
}

func (c *Client) do(req *http.Request, reqID string, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return c.newAPIError(resp, reqID)
	}
	if out == nil {
		return nil
	}
	dec := json.NewDecoder(resp.Body)
	return dec.Decode(out)
}

// newAPIError decodes the FastAPI-style {"detail": "..."} error body. The
// correlation id prefers the echoed X-Request-Id header over a request_id
// body field; when the server sends neither, the client-generated id is kept
// so failures stay traceable.
func (c *Client) newAPIError(resp *http.Response, reqID string) error {
	apiErr := &APIError{StatusCode: resp.StatusCode, RequestID: reqID}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err == nil {
		var envelope struct {
			Detail    string `json:"detail"`
			RequestID string `json:"request_id"`
		}
		if err := json.Unmarshal(body, &envelope); err == nil {
			apiErr.Detail = envelope.Detail
			if envelope.RequestID != "" {
				apiErr.RequestID = envelope.RequestID
			}
		}
	}

	if echoed := resp.Header.Get("X-Request-Id"); echoed != "" {
		apiErr.RequestID = echoed
	}
	return apiErr
}

// addHeaders sets auth and correlation headers, returning the generated
// request id.
func (c *Client) addHeaders(req *http.Request) string {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.workspaceID != "" {
		req.Header.Set("X-Workspace-Id", c.workspaceID)
	}
	reqID := uuid.NewString()
	req.Header.Set("X-Request-Id", reqID)
	return reqID
}
