package bonsai

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/rotisserie/eris"
)

func (c *httpClient) SubmitSimilarityJob(ctx context.Context, sampleID string, jobReq SimilarityJobRequest) (string, error) {
	if err := c.submitLimiter.Wait(ctx); err != nil {
		return "", eris.Wrap(err, "bonsai: submit rate limit")
	}

	payload, err := json.Marshal(jobReq)
	if err != nil {
		return "", eris.Wrap(err, "bonsai: marshal similarity request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/samples/"+url.PathEscape(sampleID)+"/similar",
		bytes.NewReader(payload))
	if err != nil {
		return "", eris.Wrapf(err, "bonsai: build similarity request %s", sampleID)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	body, status, err := c.do(req)
	if err != nil {
		return "", eris.Wrapf(err, "bonsai: submit similarity job %s", sampleID)
	}
	if status != http.StatusOK && status != http.StatusAccepted && status != http.StatusCreated {
		return "", eris.Errorf("bonsai: submit similarity job %s: status %d: %s", sampleID, status, string(body))
	}

	var resp struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", eris.Wrapf(err, "bonsai: decode job token for %s", sampleID)
	}
	if resp.ID == "" {
		return "", eris.Errorf("bonsai: no job token for %s", sampleID)
	}
	return resp.ID, nil
}

func (c *httpClient) JobStatus(ctx context.Context, jobToken string) (*JobStatus, error) {
	body, err := c.get(ctx, "/job/status/"+url.PathEscape(jobToken))
	if err != nil {
		return nil, eris.Wrapf(err, "bonsai: job status %s", jobToken)
	}

	var status JobStatus
	if err := json.Unmarshal(body, &status); err != nil {
		return nil, eris.Wrapf(err, "bonsai: decode job status %s", jobToken)
	}
	return &status, nil
}
