// Package platform is the client for the social platform API posts are
// published to and metrics are read from.
package platform

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
)

// ErrPostNotFound is returned when the platform does not know a post id
var ErrPostNotFound = errors.New("platform post not found")

// Metrics are the engagement counters of one platform post
type Metrics struct {
	Likes       int64    `json:"likes"`
	Retweets    int64    `json:"retweets"`
	Comments    int64    `json:"comments"`
	Impressions int64    `json:"impressions"`
	CommentList []string `json:"comment_list,omitempty"`
}

// Publisher publishes content
type Publisher interface {
	Post(ctx context.Context, text, mediaURL string) (string, error)
}

// MetricsGateway reads engagement counters for a published post
type MetricsGateway interface {
	GetMetrics(ctx context.Context, platformPostID string) (*Metrics, error)
}

// Client is a Twitter API v2 shaped HTTP client
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new platform API client
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// StatusError is a non-2xx reply from the platform
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("platform error (HTTP %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("platform error: HTTP %d", e.StatusCode)
}

type errorResponse struct {
	Errors json.RawMessage `json:"errors"`
	Detail string          `json:"detail"`
}

// message flattens the platform's error payload, which is either a list of
// {"message": ...} objects or a field -> messages map
func (e *errorResponse) message() string {
	if e.Detail != "" {
		return e.Detail
	}
	var list []struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(e.Errors, &list) == nil {
		msgs := make([]string, 0, len(list))
		for _, m := range list {
			msgs = append(msgs, m.Message)
		}
		return strings.Join(msgs, "; ")
	}
	var fields map[string][]string
	if json.Unmarshal(e.Errors, &fields) == nil {
		msgs := make([]string, 0, len(fields))
		for field, m := range fields {
			msgs = append(msgs, field+": "+strings.Join(m, ", "))
		}
		return strings.Join(msgs, "; ")
	}
	return ""
}

// request performs an HTTP request to the platform API
func (c *Client) request(ctx context.Context, method, path string, body any, wantStatus int, result any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		var errResp errorResponse
		if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
			return &StatusError{StatusCode: resp.StatusCode}
		}
		return &StatusError{StatusCode: resp.StatusCode, Message: errResp.message()}
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

type createTweetRequest struct {
	Text  string `json:"text"`
	Media string `json:"media,omitempty"`
}

type createTweetResponse struct {
	Data struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	} `json:"data"`
}

// Post publishes text with optional media and returns the platform post id.
// Only HTTP 201 counts as success.
func (c *Client) Post(ctx context.Context, text, mediaURL string) (string, error) {
	var resp createTweetResponse
	err := c.request(ctx, http.MethodPost, "/2/tweets", createTweetRequest{Text: text, Media: mediaURL}, http.StatusCreated, &resp)
	if err != nil {
		return "", fmt.Errorf("failed to publish post: %w", err)
	}
	if resp.Data.ID == "" {
		return "", fmt.Errorf("failed to publish post: response has no id")
	}
	return resp.Data.ID, nil
}

type tweetObject struct {
	ID            string `json:"id"`
	PublicMetrics struct {
		LikeCount       int64 `json:"like_count"`
		RetweetCount    int64 `json:"retweet_count"`
		ReplyCount      int64 `json:"reply_count"`
		ImpressionCount int64 `json:"impression_count"`
	} `json:"public_metrics"`
	Comments []struct {
		Text string `json:"text"`
	} `json:"comments"`
}

type getTweetsResponse struct {
	Data []tweetObject `json:"data"`
}

// GetMetrics returns the public metrics of one post
func (c *Client) GetMetrics(ctx context.Context, platformPostID string) (*Metrics, error) {
	all, err := c.GetMetricsBatch(ctx, []string{platformPostID})
	if err != nil {
		return nil, err
	}
	m, ok := all[platformPostID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPostNotFound, platformPostID)
	}
	return m, nil
}

// GetMetricsBatch returns metrics keyed by platform post id. Unknown ids are
// absent from the result.
func (c *Client) GetMetricsBatch(ctx context.Context, ids []string) (map[string]*Metrics, error) {
	params := url.Values{}
	params.Set("ids", strings.Join(ids, ","))
	params.Set("tweet.fields", "public_metrics")

	var resp getTweetsResponse
	err := c.request(ctx, http.MethodGet, "/2/tweets?"+params.Encode(), nil, http.StatusOK, &resp)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
			return map[string]*Metrics{}, nil
		}
		return nil, fmt.Errorf("failed to fetch metrics: %w", err)
	}

	out := make(map[string]*Metrics, len(resp.Data))
	for _, t := range resp.Data {
		m := &Metrics{
			Likes:       t.PublicMetrics.LikeCount,
			Retweets:    t.PublicMetrics.RetweetCount,
			Comments:    t.PublicMetrics.ReplyCount,
			Impressions: t.PublicMetrics.ImpressionCount,
		}
		for _, cm := range t.Comments {
			m.CommentList = append(m.CommentList, cm.Text)
		}
		out[t.ID] = m
	}
	return out, nil
}

// IsTemporary reports whether a publish or fetch error is worth retrying
func IsTemporary(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode == http.StatusTooManyRequests || se.StatusCode >= 500
	}
	return err != nil
}
