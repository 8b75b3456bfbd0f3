// Package collector is the HTTP client for the event collector: bucket
// creation, heartbeats and the team privacy configuration.
package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/net/http2"

	"github.com/actionsum/focusbeat/internal/models"
)

const (
	defaultTimeout = 10 * time.Second
	maxErrorBody   = 512
)

// StatusError is returned when the collector answers with an unexpected status.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.Path, e.Code)
	}
	return fmt.Sprintf("%s %s: unexpected status %d: %s", e.Method, e.Path, e.Code, e.Body)
}

// Client talks to the collector
type Client struct {
	baseURL    *url.URL
	token      string
	clientName string
	hostname   string
	http       *http.Client
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the HTTP client, mainly for tests
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithClientName sets the client name reported on bucket creation
func WithClientName(name string) Option {
	return func(c *Client) { c.clientName = name }
}

// New creates a client for the collector at baseURL. HTTP/2 is negotiated
// for https endpoints.
func New(baseURL, token string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid collector url %q: %w", baseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid collector url %q: scheme must be http or https", baseURL)
	}

	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "unknown"
	}

	c := &Client{
		baseURL:    u,
		token:      token,
		clientName: "focusbeat",
		hostname:   hostname,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.http == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		if err := http2.ConfigureTransport(transport); err != nil {
			return nil, fmt.Errorf("failed to configure http2 transport: %w", err)
		}
		c.http = &http.Client{Transport: transport, Timeout: defaultTimeout}
	}

	return c, nil
}

// Hostname returns the hostname reported to the collector
func (c *Client) Hostname() string {
	return c.hostname
}

// CreateBucket creates the named bucket and returns its server-assigned id.
// An already existing bucket is not an error: the collector answers 409 with
// the id of the existing bucket.
func (c *Client) CreateBucket(ctx context.Context, name, eventType string) (int64, error) {
	body := map[string]any{
		"id":       name,
		"type":     eventType,
		"client":   c.clientName,
		"hostname": c.hostname,
		"created":  time.Now().UTC().Format(time.RFC3339Nano),
		"data":     map[string]any{},
	}

	status, resp, err := c.do(ctx, http.MethodPost, "/api/0/buckets/", nil, body)
	if err != nil {
		return 0, err
	}

	if status/100 != 2 && status != http.StatusConflict {
		return 0, &StatusError{Method: http.MethodPost, Path: "/api/0/buckets/", Code: status, Body: truncate(resp)}
	}

	id, ok := parseBucketID(resp)
	if !ok {
		if status == http.StatusConflict {
			return 0, &StatusError{Method: http.MethodPost, Path: "/api/0/buckets/", Code: status, Body: truncate(resp)}
		}
		return 0, fmt.Errorf("create bucket %s: response carries no bucket id: %q", name, truncate(resp))
	}
	return id, nil
}

// Heartbeat sends one heartbeat. The collector merges it into the previous
// event when the data is identical and the timestamps are within pulsetime.
func (c *Client) Heartbeat(ctx context.Context, bucketID int64, timestamp time.Time, data models.HeartbeatData, pulsetime time.Duration) error {
	path := fmt.Sprintf("/api/0/buckets/%d/heartbeat", bucketID)
	query := url.Values{}
	query.Set("pulsetime", strconv.FormatFloat(pulsetime.Seconds(), 'f', -1, 64))

	body := map[string]any{
		"timestamp": timestamp.UTC().Format(time.RFC3339Nano),
		"duration":  0,
		"data":      data,
	}

	status, resp, err := c.do(ctx, http.MethodPost, path, query, body)
	if err != nil {
		return err
	}
	if status/100 != 2 {
		return &StatusError{Method: http.MethodPost, Path: path, Code: status, Body: truncate(resp)}
	}
	return nil
}

// TeamApps fetches the team's allow-list of application names. The collector
// answers with a JSON array of names; an object with an "apps" array is
// accepted too.
func (c *Client) TeamApps(ctx context.Context, teamID int64) ([]string, error) {
	path := fmt.Sprintf("/api/teams/configuration/%d", teamID)

	status, resp, err := c.do(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, &StatusError{Method: http.MethodGet, Path: path, Code: status, Body: truncate(resp)}
	}

	if !gjson.ValidBytes(resp) {
		return nil, fmt.Errorf("team %d configuration: invalid json", teamID)
	}

	result := gjson.ParseBytes(resp)
	if result.IsObject() {
		result = result.Get("apps")
	}
	if !result.IsArray() {
		return nil, fmt.Errorf("team %d configuration: expected a list of applications", teamID)
	}

	apps := []string{}
	for _, app := range result.Array() {
		if name := app.String(); name != "" {
			apps = append(apps, name)
		}
	}
	return apps, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any) (int, []byte, error) {
	u := *c.baseURL
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to build %s %s: %w", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if auth := c.authorization(); auth != "" {
		req.Header.Set("Authorization", auth)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("%s %s: failed to read response: %w", method, path, err)
	}
	return resp.StatusCode, data, nil
}

func (c *Client) authorization() string {
	if c.token == "" {
		return ""
	}
	if strings.HasPrefix(c.token, "Bearer ") {
		return c.token
	}
	return "Bearer " + c.token
}

// parseBucketID accepts a bare number or an object carrying an "id" field.
func parseBucketID(body []byte) (int64, bool) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || !gjson.ValidBytes(body) {
		return 0, false
	}

	result := gjson.ParseBytes(body)
	switch {
	case result.Type == gjson.Number:
		return result.Int(), true
	case result.IsObject():
		for _, key := range []string{"id", "bucket_id", "bucketId"} {
			if v := result.Get(key); v.Type == gjson.Number {
				return v.Int(), true
			}
		}
	}
	return 0, false
}

func truncate(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxErrorBody {
		return s[:maxErrorBody] + "..."
	}
	return s
}
