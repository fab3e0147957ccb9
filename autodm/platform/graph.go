package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/carlmjohnson/versioninfo"
	"github.com/creatorkit/creatorkit/util"
	"github.com/google/go-querystring/query"
	"golang.org/x/time/rate"
)

const (
	DefaultGraphHost    = "https://graph.instagram.com/v21.0"
	DefaultGraphRPS     = 20
	DefaultGraphTimeout = 10 * time.Second
)

type GraphConfig struct {
	// base URL including API version, eg "https://graph.instagram.com/v21.0"
	Host string
	// platform name reported in metrics and logs
	Name string
	// requests per second, shared across all accounts
	RPS     float64
	Timeout time.Duration
	Logger  *slog.Logger
	// idempotent reads; defaults to util.RobustHTTPClient
	ReadClient *http.Client
	// sends and replies; defaults to util.NonRetryingHTTPClient
	WriteClient *http.Client
	UserAgent   string
}

// Client for Instagram Graph-style messaging and comment APIs.
type GraphClient struct {
	host        string
	name        string
	logger      *slog.Logger
	limiter     *rate.Limiter
	readClient  *http.Client
	writeClient *http.Client
	userAgent   string
}

var _ Platform = (*GraphClient)(nil)

func NewGraphClient(config GraphConfig) *GraphClient {
	if config.Host == "" {
		config.Host = DefaultGraphHost
	}
	if config.Name == "" {
		config.Name = "instagram"
	}
	if config.RPS <= 0 {
		config.RPS = DefaultGraphRPS
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultGraphTimeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.ReadClient == nil {
		config.ReadClient = util.RobustHTTPClient(config.Logger)
	}
	if config.WriteClient == nil {
		config.WriteClient = util.NonRetryingHTTPClient(config.Timeout)
	}
	if config.UserAgent == "" {
		config.UserAgent = "autodm/" + versioninfo.Short()
	}
	return &GraphClient{
		host:        strings.TrimSuffix(config.Host, "/"),
		name:        config.Name,
		logger:      config.Logger.With("system", "platform", "platform", config.Name),
		limiter:     rate.NewLimiter(rate.Limit(config.RPS), 1),
		readClient:  config.ReadClient,
		writeClient: config.WriteClient,
		userAgent:   config.UserAgent,
	}
}

// Error body returned by the Graph API on non-2xx responses.
type GraphError struct {
	Message   string `json:"message"`
	Type      string `json:"type"`
	Code      int    `json:"code"`
	FBTraceID string `json:"fbtrace_id"`
}

type APIError struct {
	StatusCode int
	Graph      *GraphError
	Wrapped    error
}

func (e *APIError) Error() string {
	if e.Graph != nil {
		return fmt.Sprintf("graph API error %d: %s (type=%s code=%d)", e.StatusCode, e.Graph.Message, e.Graph.Type, e.Graph.Code)
	}
	if e.Wrapped != nil {
		return fmt.Sprintf("graph API error %d: %s", e.StatusCode, e.Wrapped)
	}
	return fmt.Sprintf("graph API error %d", e.StatusCode)
}

func (e *APIError) Unwrap() error {
	return e.Wrapped
}

func (e *APIError) IsThrottled() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

func (c *GraphClient) do(ctx context.Context, op string, client *http.Client, method, path string, creds Credentials, body any, out any) error {
	start := time.Now()
	result := "ok"
	defer func() {
		apiCallCount.WithLabelValues(c.name, op, result).Inc()
		apiCallDuration.WithLabelValues(c.name, op).Observe(time.Since(start).Seconds())
	}()

	if err := c.limiter.Wait(ctx); err != nil {
		result = "throttled"
		return fmt.Errorf("waiting on %s rate limiter: %w", c.name, err)
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			result = "error"
			return err
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.host+path, reader)
	if err != nil {
		result = "error"
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Authorization", "Bearer "+creds.AccessToken)

	resp, err := client.Do(req)
	if err != nil {
		result = "transport"
		return fmt.Errorf("%s %s request failed: %w", c.name, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		result = fmt.Sprintf("http_%d", resp.StatusCode)
		var envelope struct {
			Error *GraphError `json:"error"`
		}
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if err := json.NewDecoder(io.LimitReader(resp.Body, 64*1024)).Decode(&envelope); err != nil {
			apiErr.Wrapped = fmt.Errorf("failed to decode error body: %w", err)
		} else {
			apiErr.Graph = envelope.Error
		}
		return apiErr
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			result = "decode"
			return fmt.Errorf("decoding %s %s response: %w", c.name, op, err)
		}
	}
	return nil
}

func (c *GraphClient) SendDirectMessage(ctx context.Context, creds Credentials, recipientID, text string) (bool, error) {
	body := map[string]any{
		"recipient": map[string]string{"id": recipientID},
		"message":   map[string]string{"text": text},
	}
	var out struct {
		MessageID string `json:"message_id"`
	}
	path := "/" + url.PathEscape(creds.AccountID) + "/messages"
	if err := c.do(ctx, "send_dm", c.writeClient, http.MethodPost, path, creds, body, &out); err != nil {
		return false, err
	}
	c.logger.Debug("sent direct message", "account", creds.AccountID, "recipient", recipientID, "messageID", out.MessageID)
	return true, nil
}

func (c *GraphClient) PostCommentReply(ctx context.Context, creds Credentials, commentID, text string) (bool, error) {
	body := map[string]string{"message": text}
	var out struct {
		ID string `json:"id"`
	}
	path := "/" + url.PathEscape(commentID) + "/replies"
	if err := c.do(ctx, "comment_reply", c.writeClient, http.MethodPost, path, creds, body, &out); err != nil {
		return false, err
	}
	return true, nil
}

type followStatusParams struct {
	Fields string `url:"fields"`
}

func (c *GraphClient) GetFollowStatus(ctx context.Context, creds Credentials, candidateID string) (bool, error) {
	var out struct {
		ID                   string `json:"id"`
		IsUserFollowBusiness *bool  `json:"is_user_follow_business"`
	}
	params, err := query.Values(followStatusParams{Fields: "is_user_follow_business"})
	if err != nil {
		return false, err
	}
	path := "/" + url.PathEscape(candidateID) + "?" + params.Encode()
	if err := c.do(ctx, "follow_status", c.readClient, http.MethodGet, path, creds, nil, &out); err != nil {
		return false, err
	}
	if out.IsUserFollowBusiness == nil {
		return false, errors.New("follow status missing from response")
	}
	return *out.IsUserFollowBusiness, nil
}
