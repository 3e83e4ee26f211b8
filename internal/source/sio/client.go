package sio

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultResponseHeaderTimeout is the default timeout for receiving gateway
// response headers.
const DefaultResponseHeaderTimeout = 30 * time.Second

// DefaultTimeout bounds a single gateway request including the body.
const DefaultTimeout = 60 * time.Second

// ErrUnauthorized is returned when the gateway rejects the credentials.
var ErrUnauthorized = errors.New("sio: unauthorized")

// StatusError reports an unexpected gateway HTTP status.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("sio: %s %s: status %d", e.Method, e.Path, e.Code)
	}
	return fmt.Sprintf("sio: %s %s: status %d: %s", e.Method, e.Path, e.Code, e.Body)
}

// Instance is one object of a ScaleIO type, such as an SDS or a volume.
type Instance struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Client talks to the ScaleIO REST gateway. It logs in lazily and logs in
// again once when a request is rejected with 401.
type Client struct {
	baseURL  *url.URL
	user     string
	password string
	http     *http.Client
	logger   *zap.Logger

	loginMu sync.Mutex
	mu      sync.Mutex
	token   string
}

// ClientOption configures a Client.
type ClientOption func(*clientSettings)

type clientSettings struct {
	httpClient *http.Client
	insecure   bool
	timeout    time.Duration
	logger     *zap.Logger
}

// WithHTTPClient sets a custom HTTP client. It takes precedence over
// WithInsecureSkipVerify and WithTimeout.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(s *clientSettings) {
		s.httpClient = client
	}
}

// WithInsecureSkipVerify disables gateway certificate verification.
// ScaleIO gateways commonly ship self-signed certificates.
func WithInsecureSkipVerify(insecure bool) ClientOption {
	return func(s *clientSettings) {
		s.insecure = insecure
	}
}

// WithTimeout sets the per-request timeout. A non-positive timeout keeps
// DefaultTimeout; requests are never unbounded.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(s *clientSettings) {
		if timeout > 0 {
			s.timeout = timeout
		}
	}
}

// WithClientLogger sets the logger.
func WithClientLogger(logger *zap.Logger) ClientOption {
	return func(s *clientSettings) {
		s.logger = logger
	}
}

// NewClient creates a gateway client. host may be a bare host[:port], in
// which case https is assumed, or a full URL.
func NewClient(host, user, password string, opts ...ClientOption) (*Client, error) {
	if host == "" {
		return nil, errors.New("sio: empty gateway host")
	}
	if !strings.Contains(host, "://") {
		host = "https://" + host
	}
	base, err := url.Parse(strings.TrimSuffix(host, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing gateway host: %w", err)
	}

	set := clientSettings{
		timeout: DefaultTimeout,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&set)
	}

	httpClient := set.httpClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: set.timeout,
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				MaxIdleConnsPerHost:   4,
				ResponseHeaderTimeout: DefaultResponseHeaderTimeout,
				IdleConnTimeout:       90 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ExpectContinueTimeout: 1 * time.Second,
				TLSClientConfig: &tls.Config{
					InsecureSkipVerify: set.insecure, //nolint:gosec // opt-in for self-signed gateways
				},
			},
		}
	}

	return &Client{
		baseURL:  base,
		user:     user,
		password: password,
		http:     httpClient,
		logger:   set.logger.Named("client"),
	}, nil
}

// Login obtains a fresh session token.
func (c *Client) Login(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/login", nil)
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.user, c.password)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("logging in: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%w: login as %q rejected", ErrUnauthorized, c.user)
	}
	if resp.StatusCode != http.StatusOK {
		return statusError(req, resp)
	}

	var token string
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return fmt.Errorf("decoding login token: %w", err)
	}
	if token == "" {
		return errors.New("sio: gateway returned an empty token")
	}

	c.mu.Lock()
	c.token = token
	c.mu.Unlock()

	c.logger.Debug("logged in", zap.String("gateway", c.baseURL.Host))
	return nil
}

// Instances lists the instances of a ScaleIO type, e.g. "Sds" or "Volume".
func (c *Client) Instances(ctx context.Context, typ string) ([]Instance, error) {
	var instances []Instance
	if err := c.do(ctx, http.MethodGet, "/api/types/"+typ+"/instances", nil, &instances); err != nil {
		return nil, err
	}
	return instances, nil
}

// StatisticsQuery selects properties for one type.
type StatisticsQuery struct {
	Type       string   `json:"type"`
	AllIDs     []string `json:"allIds"`
	Properties []string `json:"properties"`
}

// Statistics maps a type to its raw statistics. The System entry holds a
// property object; other types hold an object keyed by instance ID.
type Statistics map[string]json.RawMessage

// QueryStatistics fetches the selected statistics for every query in one
// request.
func (c *Client) QueryStatistics(ctx context.Context, queries []StatisticsQuery) (Statistics, error) {
	body := struct {
		SelectedStatisticsList []StatisticsQuery `json:"selectedStatisticsList"`
	}{SelectedStatisticsList: queries}

	var stats Statistics
	if err := c.do(ctx, http.MethodPost, "/api/instances/querySelectedStatistics", body, &stats); err != nil {
		return nil, err
	}
	return stats, nil
}

// do performs an authenticated request and decodes the JSON response into
// out. A 401 triggers one login and retry.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
	}

	for attempt := 0; ; attempt++ {
		token, err := c.session(ctx, "")
		if err != nil {
			return err
		}
		resp, req, err := c.send(ctx, method, path, payload, token)
		if err != nil {
			return err
		}

		if resp.StatusCode == http.StatusUnauthorized && attempt == 0 {
			drain(resp)
			c.logger.Info("session expired, logging in again", zap.String("path", path))
			if _, err := c.session(ctx, token); err != nil {
				return err
			}
			continue
		}
		if resp.StatusCode == http.StatusUnauthorized {
			drain(resp)
			return fmt.Errorf("%w: %s %s", ErrUnauthorized, method, path)
		}
		if resp.StatusCode != http.StatusOK {
			err := statusError(req, resp)
			resp.Body.Close()
			return err
		}

		err = json.NewDecoder(resp.Body).Decode(out)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("decoding %s response: %w", path, err)
		}
		return nil
	}
}

// session returns the current token, logging in when there is none or when
// the current token is still the rejected one. Concurrent callers share a
// single login.
func (c *Client) session(ctx context.Context, rejected string) (string, error) {
	c.loginMu.Lock()
	defer c.loginMu.Unlock()

	c.mu.Lock()
	token := c.token
	c.mu.Unlock()
	if token != "" && token != rejected {
		return token, nil
	}

	if err := c.Login(ctx); err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token, nil
}

func (c *Client) send(ctx context.Context, method, path string, payload []byte, token string) (*http.Response, *http.Request, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return nil, nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	req.SetBasicAuth("", token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return resp, req, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	u := *c.baseURL
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func statusError(req *http.Request, resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &StatusError{
		Method: req.Method,
		Path:   req.URL.Path,
		Code:   resp.StatusCode,
		Body:   strings.TrimSpace(string(snippet)),
	}
}

func drain(resp *http.Response) {
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
}
