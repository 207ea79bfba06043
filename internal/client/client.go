// Package client is a small HTTP client for the alarm engine API.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const defaultTimeout = 10 * time.Second

type AlarmRequest struct {
	ReceiverID string `json:"receiverId"`
	Category   string `json:"category"`
	Priority   string `json:"priority,omitempty"`
	Title      string `json:"title"`
	Body       string `json:"body,omitempty"`
	RelatedID  string `json:"relatedId,omitempty"`
}

type AlarmResult struct {
	EventID   string    `json:"eventId"`
	Delivered bool      `json:"delivered"`
	CreatedAt time.Time `json:"createdAt"`
}

type Connections struct {
	Active int  `json:"active"`
	Broker bool `json:"broker"`
}

type errorBody struct {
	Error string `json:"error"`
}

type Client struct {
	http    *resty.Client
	baseURL string
}

func New(baseURL string) (*Client, error) {
	httpClient := resty.New()
	httpClient.SetTimeout(defaultTimeout)
	httpClient.SetRetryCount(0)

	return NewWithClient(baseURL, httpClient)
}

func NewWithClient(baseURL string, httpClient *resty.Client) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, fmt.Errorf("alarm api base url is required")
	}
	if _, err := url.ParseRequestURI(trimmed); err != nil {
		return nil, fmt.Errorf("invalid alarm api base url: %w", err)
	}
	if httpClient == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if httpClient.GetClient().Timeout == 0 {
		httpClient.SetTimeout(defaultTimeout)
	}

	return &Client{http: httpClient, baseURL: trimmed}, nil
}

// Notify raises one alarm through POST /v1/alarms.
func (c *Client) Notify(ctx context.Context, req AlarmRequest) (*AlarmResult, error) {
	var result AlarmResult
	if err := c.do(ctx, http.MethodPost, "/v1/alarms", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) Connections(ctx context.Context) (*Connections, error) {
	var result Connections
	if err := c.do(ctx, http.MethodGet, "/v1/connections", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) do(ctx context.Context, method string, path string, body any, result any) error {
	if c == nil || c.http == nil {
		return fmt.Errorf("client is not initialized")
	}

	var apiErr errorBody
	req := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetResult(result).
		SetError(&apiErr)
	if body != nil {
		req.SetBody(body)
	}

	response, err := req.Execute(method, c.baseURL+path)
	if err != nil {
		return &APIError{
			Message:   "request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}

	statusCode := response.StatusCode()
	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return nil
	}

	message := strings.TrimSpace(apiErr.Error)
	if message == "" {
		message = strings.TrimSpace(response.String())
	}
	return &APIError{
		StatusCode: statusCode,
		Message:    message,
		Transient:  isTransientHTTPStatus(statusCode),
	}
}

func isTransientHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || (statusCode >= http.StatusInternalServerError && statusCode <= 599)
}
