// Package bonsai provides a client for the Bonsai sample analysis API:
// token acquisition, sample listing, per-sample detail records, and the
// asynchronous similarity job endpoints.
package bonsai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// Client defines the Bonsai API operations used by the pipeline.
type Client interface {
	// Authenticate exchanges credentials for a bearer token and stores it
	// for subsequent calls. The token is treated as opaque.
	Authenticate(ctx context.Context, username, password string) error
	// ListSamples fetches the sample index, with list-valued profile fields
	// normalised to their first element.
	ListSamples(ctx context.Context) ([]Sample, error)
	// SampleDetail fetches the full analysis record for one sample.
	SampleDetail(ctx context.Context, sampleID string) (*SampleDetail, error)
	// SubmitSimilarityJob starts an asynchronous neighbor search for a
	// sample and returns an opaque job token.
	SubmitSimilarityJob(ctx context.Context, sampleID string, req SimilarityJobRequest) (string, error)
	// JobStatus reports the state of a previously submitted job.
	JobStatus(ctx context.Context, jobToken string) (*JobStatus, error)
}

// Sample is one row of the sample index.
type Sample struct {
	SampleID string `json:"sample_id"`
	Profile  Scalar `json:"profile"`
}

// SampleDetail is the full per-sample analysis record.
type SampleDetail struct {
	SampleID       string         `json:"sample_id"`
	LimsID         Scalar         `json:"lims_id"`
	SequencingDate string         `json:"sequencing_date"`
	Pipeline       PipelineInfo   `json:"pipeline"`
	QC             QCResult       `json:"qc_status"`
	TypingResults  []TypingResult `json:"typing_result"`
}

// PipelineInfo describes the upstream analysis pipeline run.
type PipelineInfo struct {
	Version         string `json:"version"`
	Date            string `json:"date"`
	AnalysisProfile Scalar `json:"analysis_profile"`
}

// QCResult is the upstream quality control verdict.
type QCResult struct {
	Status string `json:"status"`
}

// TypingResult is one typing method's output for a sample.
type TypingResult struct {
	Type   string        `json:"type"`
	Result TypingPayload `json:"result"`
}

// TypingPayload holds the sequence type and allele calls of a typing result.
type TypingPayload struct {
	SequenceType Scalar            `json:"sequence_type"`
	Alleles      map[string]Scalar `json:"alleles"`
}

// SimilarityJobRequest parameterises a neighbor search job.
type SimilarityJobRequest struct {
	Limit         int     `json:"limit"`
	Similarity    float64 `json:"similarity"`
	Cluster       bool    `json:"cluster"`
	TypingMethod  string  `json:"typing_method"`
	ClusterMethod string  `json:"cluster_method"`
}

// JobStatus is the polled state of an asynchronous job. Status is an open
// string set; "completed" and "finished" are the terminal success values.
type JobStatus struct {
	Status string        `json:"status"`
	Result []JobNeighbor `json:"result"`
}

// JobNeighbor is one raw neighbor entry in a finished similarity job.
type JobNeighbor struct {
	SampleID   string  `json:"sample_id"`
	Similarity float64 `json:"similarity"`
}

// Scalar normalises API fields that may be returned as either a scalar or a
// list. Lists decode to their first element; numbers decode to their decimal
// text.
type Scalar string

// UnmarshalJSON implements json.Unmarshaler.
func (s *Scalar) UnmarshalJSON(b []byte) error {
	var v any
	dec := json.NewDecoder(strings.NewReader(string(b)))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return err
	}
	*s = scalarOf(v)
	return nil
}

func scalarOf(v any) Scalar {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return Scalar(t)
	case json.Number:
		return Scalar(t.String())
	case []any:
		if len(t) == 0 {
			return ""
		}
		return scalarOf(t[0])
	default:
		return Scalar(fmt.Sprint(t))
	}
}

// String returns the normalised value, or def when empty.
func (s Scalar) Or(def string) string {
	if s == "" {
		return def
	}
	return string(s)
}

// Option configures the Bonsai client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithToken seeds a previously acquired bearer token.
func WithToken(token string) Option {
	return func(c *httpClient) {
		c.token = token
	}
}

// WithSubmitRate bounds similarity job submissions to r per second with the
// given burst.
func WithSubmitRate(r float64, burst int) Option {
	return func(c *httpClient) {
		c.submitLimiter = rate.NewLimiter(rate.Limit(r), burst)
	}
}

type httpClient struct {
	baseURL       string
	token         string
	http          *http.Client
	submitLimiter *rate.Limiter
}

// NewClient creates a Bonsai API client.
func NewClient(baseURL string, opts ...Option) Client {
	c := &httpClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		submitLimiter: rate.NewLimiter(rate.Limit(5), 5),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) Authenticate(ctx context.Context, username, password string) error {
	form := url.Values{
		"grant_type": {"password"},
		"username":   {username},
		"password":   {password},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/token", strings.NewReader(form.Encode()))
	if err != nil {
		return eris.Wrap(err, "bonsai: build token request")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	body, status, err := c.do(req)
	if err != nil {
		return eris.Wrap(err, "bonsai: request token")
	}
	if status != http.StatusOK {
		return eris.Errorf("bonsai: token request failed: status %d: %s", status, string(body))
	}

	var resp struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return eris.Wrap(err, "bonsai: decode token response")
	}
	if resp.AccessToken == "" {
		return eris.New("bonsai: empty access token")
	}
	c.token = resp.AccessToken
	return nil
}

func (c *httpClient) ListSamples(ctx context.Context) ([]Sample, error) {
	body, err := c.get(ctx, "/samples/?limit=1000")
	if err != nil {
		return nil, eris.Wrap(err, "bonsai: list samples")
	}

	var resp struct {
		Data []Sample `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, eris.Wrap(err, "bonsai: decode sample list")
	}
	return resp.Data, nil
}

func (c *httpClient) SampleDetail(ctx context.Context, sampleID string) (*SampleDetail, error) {
	body, err := c.get(ctx, "/samples/"+url.PathEscape(sampleID))
	if err != nil {
		return nil, eris.Wrapf(err, "bonsai: sample detail %s", sampleID)
	}

	var detail SampleDetail
	if err := json.Unmarshal(body, &detail); err != nil {
		return nil, eris.Wrapf(err, "bonsai: decode sample detail %s", sampleID)
	}
	if detail.SampleID == "" {
		detail.SampleID = sampleID
	}
	return &detail, nil
}

func (c *httpClient) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, eris.Wrap(err, "build request")
	}
	req.Header.Set("Accept", "application/json")
	c.authorize(req)

	body, status, err := c.do(req)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, eris.Errorf("status %d: %s", status, string(body))
	}
	return body, nil
}

func (c *httpClient) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// retryableStatusCode returns true if the HTTP status code should trigger a retry.
func retryableStatusCode(code int) bool {
	return code == http.StatusTooManyRequests ||
		code == http.StatusInternalServerError ||
		code == http.StatusBadGateway ||
		code == http.StatusServiceUnavailable
}

// do executes an HTTP request with exponential backoff retries on transient
// failures (429, 500, 502, 503). Requests with bodies carry a GetBody so the
// clone can be retried.
func (c *httpClient) do(req *http.Request) ([]byte, int, error) {
	const maxAttempts = 3
	backoff := 1 * time.Second
	ctx := req.Context()

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		retryReq := req.Clone(ctx)
		if req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, 0, eris.Wrap(err, "bonsai: reset request body")
			}
			retryReq.Body = body
		}

		resp, err := c.http.Do(retryReq)
		if err != nil {
			lastErr = err
			if attempt < maxAttempts {
				select {
				case <-ctx.Done():
					return nil, 0, ctx.Err()
				case <-time.After(backoff):
				}
				backoff *= 2
				continue
			}
			return nil, 0, lastErr
		}

		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return nil, resp.StatusCode, eris.Wrap(readErr, "bonsai: read response body")
		}

		if retryableStatusCode(resp.StatusCode) && attempt < maxAttempts {
			lastErr = eris.Errorf("bonsai: status %d: %s", resp.StatusCode, string(body))
			select {
			case <-ctx.Done():
				return nil, 0, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			continue
		}

		return body, resp.StatusCode, nil
	}

	return nil, 0, lastErr
}
