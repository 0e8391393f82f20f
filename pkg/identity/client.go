package identity

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

	"golang.org/x/oauth2/clientcredentials"

	"github.com/openlot/openlot/pkg/observability"
	"github.com/openlot/openlot/pkg/roles"
)

// ClientConfig holds the provider API connection settings
type ClientConfig struct {
	BaseURL        string
	APIKey         string
	RequestTimeout time.Duration

	// When TokenURL is set, an OAuth2 client-credentials token source is
	// used instead of the static API key.
	ClientID     string
	ClientSecret string
	TokenURL     string
}

// Client talks to the identity provider management API
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *observability.Logger
	metrics    *observability.Metrics
}

// NewClient creates a provider API client with a bounded request timeout
func NewClient(cfg ClientConfig, logger *observability.Logger, metrics *observability.Metrics) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	httpClient := &http.Client{Timeout: timeout}
	if cfg.TokenURL != "" {
		ccCfg := &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
		}
		httpClient = ccCfg.Client(context.Background())
		httpClient.Timeout = timeout
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: httpClient,
		logger:     logger,
		metrics:    metrics,
	}
}

// GetUser fetches a provider profile by external id. Any transport or
// provider error is logged and returned as nil.
func (c *Client) GetUser(ctx context.Context, externalID string) *Profile {
	var profile Profile
	err := c.doJSON(ctx, "GetUser", http.MethodGet,
		"/v1/users/"+url.PathEscape(externalID), nil, &profile)
	if err != nil {
		c.logger.WithError(err).WithField("external_id", externalID).
			Error("identity provider GetUser failed")
		return nil
	}
	return &profile
}

// UpdateUserMetadata writes the role into the provider's public metadata.
// The write is unconditional: the provider has no conditional-update
// primitive, which keeps retries naturally idempotent.
func (c *Client) UpdateUserMetadata(ctx context.Context, externalID string, role roles.Role) bool {
	body := map[string]interface{}{
		"public_metadata": map[string]string{"role": string(role)},
	}
	err := c.doJSON(ctx, "UpdateUserMetadata", http.MethodPatch,
		"/v1/users/"+url.PathEscape(externalID)+"/metadata", body, nil)
	if err != nil {
		c.logger.WithError(err).WithField("external_id", externalID).
			Error("identity provider UpdateUserMetadata failed")
		return false
	}
	return true
}

// ListUsers fetches up to limit profiles; nil on any failure
func (c *Client) ListUsers(ctx context.Context, limit int) []*Profile {
	var profiles []*Profile
	err := c.doJSON(ctx, "ListUsers", http.MethodGet,
		"/v1/users?limit="+strconv.Itoa(limit), nil, &profiles)
	if err != nil {
		c.logger.WithError(err).Error("identity provider ListUsers failed")
		return nil
	}
	return profiles
}

func (c *Client) doJSON(ctx context.Context, operation, method, path string, body, out interface{}) error {
	start := time.Now()
	status := "error"
	defer func() {
		if c.metrics != nil {
			c.metrics.ProviderRequestsTotal.WithLabelValues(operation, status).Inc()
			c.metrics.ProviderRequestDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
		}
	}()

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("provider request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Drain a little of the body for the log, never the whole thing
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("provider returned status %d: %s", resp.StatusCode, string(snippet))
	}

	status = "ok"
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			status = "error"
			return fmt.Errorf("failed to decode provider response: %w", err)
		}
	}
	return nil
}
