// Package provider talks to the generation provider's queue API:
// submit a job, poll its status, fetch the final asset URL.
package provider

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

	"assetgate/internal/logging"
	"assetgate/internal/metrics"
	"assetgate/internal/models"
)

// ErrNotReady means the provider has not produced a final asset yet.
var ErrNotReady = errors.New("result not ready")

// Error preserves the upstream status code for provider_error responses.
type Error struct {
	Code   int
	Detail string
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider error %d: %s", e.Code, e.Detail)
}

// AuthScheme is one Authorization header scheme for the provider key.
type AuthScheme string

const (
	SchemeKey    AuthScheme = "Key"
	SchemeBearer AuthScheme = "Bearer"
)

// Client is the queue API client. Credential schemes are tried in order;
// an upstream 401 moves to the next scheme before failing.
type Client struct {
	baseURL string
	key     string
	schemes []AuthScheme
	client  *http.Client
	log     logging.Logger
	metrics metrics.Recorder
}

func NewClient(baseURL, key string, log logging.Logger, rec metrics.Recorder) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		key:     key,
		schemes: []AuthScheme{SchemeKey, SchemeBearer},
		client:  &http.Client{Timeout: 30 * time.Second},
		log:     log,
		metrics: rec,
	}
}

// StatusInfo is the provider's view of a queued request.
type StatusInfo struct {
	State       models.JobState
	ResponseURL string
	Raw         json.RawMessage
}

type queueStatus struct {
	Status      string `json:"status"`
	ResponseURL string `json:"response_url"`
}

type submitResponse struct {
	RequestID string `json:"request_id"`
}

type mediaFile struct {
	URL string `json:"url"`
}

// resultBody is the typed result schema. URL resolution walks these
// fields in a fixed precedence order; there is no generic scan.
type resultBody struct {
	Video     *mediaFile  `json:"video"`
	Audio     *mediaFile  `json:"audio"`
	AudioFile *mediaFile  `json:"audio_file"`
	Images    []mediaFile `json:"images"`
}

type queueResult struct {
	resultBody
	Response *resultBody `json:"response"`
}

// Submit enqueues a generation request on model and returns the
// provider's request id.
func (c *Client) Submit(ctx context.Context, model string, input map[string]any) (string, error) {
	body, err := json.Marshal(input)
	if err != nil {
		return "", fmt.Errorf("encode input: %w", err)
	}

	started := time.Now()
	status, raw, err := c.do(ctx, http.MethodPost, c.baseURL+"/"+model, body)
	c.metrics.ObserveLatency("provider_submit", time.Since(started), nil)
	if err != nil {
		return "", err
	}
	if status < 200 || status >= 300 {
		return "", &Error{Code: status, Detail: strings.TrimSpace(string(raw))}
	}

	var resp submitResponse
	if err := json.Unmarshal(raw, &resp); err != nil || resp.RequestID == "" {
		return "", &Error{Code: status, Detail: "missing_request_id"}
	}

	c.log.Debug("provider job submitted", map[string]any{
		"model":      model,
		"request_id": resp.RequestID,
	})
	return resp.RequestID, nil
}

// Status polls the queue. A 202 or 404 during propagation is still
// pending, not a failure.
func (c *Client) Status(ctx context.Context, model, requestID string) (*StatusInfo, error) {
	endpoint := fmt.Sprintf("%s/%s/requests/%s/status?logs=1", c.baseURL, baseModel(model), url.PathEscape(requestID))

	status, raw, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	if status == http.StatusAccepted || status == http.StatusNotFound {
		return &StatusInfo{State: models.JobInProgress}, nil
	}
	if status < 200 || status >= 300 {
		return nil, &Error{Code: status, Detail: strings.TrimSpace(string(raw))}
	}

	var qs queueStatus
	if err := json.Unmarshal(raw, &qs); err != nil {
		return &StatusInfo{State: models.JobInProgress, Raw: raw}, nil
	}
	return &StatusInfo{
		State:       mapState(qs.Status),
		ResponseURL: qs.ResponseURL,
		Raw:         raw,
	}, nil
}

// Result resolves the final asset URL for a completed request. A URL
// pointing back at the provider's own queue is not a result.
func (c *Client) Result(ctx context.Context, model, requestID string) (string, error) {
	info, err := c.Status(ctx, model, requestID)
	if err != nil {
		return "", err
	}
	if info.State != models.JobCompleted || info.ResponseURL == "" {
		return "", ErrNotReady
	}

	status, raw, err := c.do(ctx, http.MethodGet, info.ResponseURL, nil)
	if err != nil {
		return "", err
	}
	if status >= 400 && status < 500 {
		// Some deployments only serve results on the full model subpath.
		fallback := fmt.Sprintf("%s/%s/requests/%s", c.baseURL, model, url.PathEscape(requestID))
		status, raw, err = c.do(ctx, http.MethodGet, fallback, nil)
		if err != nil {
			return "", err
		}
	}
	if status < 200 || status >= 300 {
		return "", &Error{Code: status, Detail: strings.TrimSpace(string(raw))}
	}

	var result queueResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", &Error{Code: status, Detail: "undecodable result body"}
	}

	candidate := resolveMediaURL(&result)
	if candidate == "" || c.isQueueURL(candidate) {
		return "", ErrNotReady
	}
	return candidate, nil
}

// do performs one request, retrying once per remaining credential scheme
// when the upstream answers 401.
func (c *Client) do(ctx context.Context, method, endpoint string, body []byte) (int, []byte, error) {
	var lastStatus int
	var lastBody []byte
	for _, scheme := range c.schemes {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
		if err != nil {
			return 0, nil, err
		}
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("Authorization", string(scheme)+" "+c.key)

		resp, err := c.client.Do(req)
		if err != nil {
			return 0, nil, err
		}
		raw, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		lastStatus = resp.StatusCode
		lastBody = raw
		if resp.StatusCode != http.StatusUnauthorized {
			break
		}
		c.log.Debug("provider rejected credential scheme", map[string]any{
			"scheme":   string(scheme),
			"endpoint": endpoint,
		})
	}
	return lastStatus, lastBody, nil
}

func (c *Client) isQueueURL(candidate string) bool {
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return false
	}
	u, err := url.Parse(candidate)
	if err != nil {
		return true
	}
	return u.Host == base.Host
}

func resolveMediaURL(result *queueResult) string {
	for _, body := range []*resultBody{result.Response, &result.resultBody} {
		if body == nil {
			continue
		}
		switch {
		case body.Video != nil && body.Video.URL != "":
			return body.Video.URL
		case body.Audio != nil && body.Audio.URL != "":
			return body.Audio.URL
		case body.AudioFile != nil && body.AudioFile.URL != "":
			return body.AudioFile.URL
		case len(body.Images) > 0 && body.Images[0].URL != "":
			return body.Images[0].URL
		}
	}
	return ""
}

func mapState(status string) models.JobState {
	switch strings.ToUpper(status) {
	case "COMPLETED":
		return models.JobCompleted
	case "IN_QUEUE", "QUEUED":
		return models.JobQueued
	case "FAILED", "ERROR":
		return models.JobFailed
	default:
		return models.JobInProgress
	}
}

// baseModel trims a model id to its vendor/model prefix, the path the
// provider serves queue status on.
func baseModel(model string) string {
	parts := strings.Split(model, "/")
	if len(parts) <= 2 {
		return model
	}
	return parts[0] + "/" + parts[1]
}
