package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/snapetech/slskdn-sub000/internal/httpclient"
	"github.com/snapetech/slskdn-sub000/internal/retry"
)

// HTTPOracle talks to a hash-oracle HTTP endpoint, trading a remote
// path for a digest via a simple GET/POST JSON protocol.
type HTTPOracle struct {
	baseURL string
	client  *http.Client
}

// NewHTTPOracle builds an oracle client with the given base URL and
// request timeout, using httpclient.New rather than constructing an
// *http.Client by hand. Every Lookup/Publish call is itself wrapped in
// retry.Do, so this client owns only connection pooling and the
// per-attempt timeout, not retry behavior.
func NewHTTPOracle(baseURL string, cfg *httpclient.Config) *HTTPOracle {
	return &HTTPOracle{
		baseURL: baseURL,
		client:  httpclient.New(cfg),
	}
}

type lookupResponse struct {
	Digest string `json:"digest"`
	Found  bool   `json:"found"`
}

type lookupResult struct {
	digest string
	found  bool
}

// Lookup retries transient failures (network errors, 5xx) up to
// retry.OracleRequestConfig's budget; a 4xx response is treated as
// NonRetryable since the same malformed/rejected request will never
// succeed against an unchanged oracle. A 404 is a valid "not found"
// answer, not a failure, and returns immediately with no retry.
func (o *HTTPOracle) Lookup(ctx context.Context, path string) (string, bool, error) {
	u := o.baseURL + "/v1/lookup?path=" + url.QueryEscape(path)

	result, err := retry.Do(ctx, retry.OracleRequestConfig(), func() (lookupResult, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return lookupResult{}, retry.NonRetryable(fmt.Errorf("oracle: build lookup request: %w", err))
		}

		resp, err := o.client.Do(req)
		if err != nil {
			return lookupResult{}, fmt.Errorf("oracle: lookup request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			return lookupResult{}, nil
		}
		if resp.StatusCode != http.StatusOK {
			httpErr := fmt.Errorf("oracle: lookup returned status %d", resp.StatusCode)
			if resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return lookupResult{}, retry.NonRetryable(httpErr)
			}
			return lookupResult{}, httpErr
		}

		var lr lookupResponse
		if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
			return lookupResult{}, retry.NonRetryable(fmt.Errorf("oracle: decode lookup response: %w", err))
		}

		return lookupResult{digest: lr.Digest, found: lr.Found}, nil
	})
	if err != nil {
		return "", false, err
	}

	return result.digest, result.found, nil
}

type publishRequest struct {
	Path   string `json:"path"`
	Digest string `json:"digest"`
}

// Publish retries the same way Lookup does: transient failures get up
// to retry.OracleRequestConfig's budget, a 4xx response does not.
func (o *HTTPOracle) Publish(ctx context.Context, path, digest string) error {
	body, err := json.Marshal(publishRequest{Path: path, Digest: digest})
	if err != nil {
		return fmt.Errorf("oracle: encode publish request: %w", err)
	}

	_, err = retry.Do(ctx, retry.OracleRequestConfig(), func() (struct{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/v1/publish", bytes.NewReader(body))
		if err != nil {
			return struct{}{}, retry.NonRetryable(fmt.Errorf("oracle: build publish request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := o.client.Do(req)
		if err != nil {
			return struct{}{}, fmt.Errorf("oracle: publish request: %w", err)
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)

		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
			httpErr := fmt.Errorf("oracle: publish returned status %d", resp.StatusCode)
			if resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return struct{}{}, retry.NonRetryable(httpErr)
			}
			return struct{}{}, httpErr
		}

		return struct{}{}, nil
	})

	return err
}

var _ Oracle = (*HTTPOracle)(nil)
