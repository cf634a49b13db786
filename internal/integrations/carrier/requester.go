package carrier

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

// Requester performs bearer-authenticated JSON calls against a carrier API.
type Requester struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
	limiter *rate.Limiter
}

func NewRequester(s Settings) *Requester {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	var lim *rate.Limiter
	if s.RequestsPerSecond > 0 {
		// Burst 1: calls are spaced out, never bunched.
		lim = rate.NewLimiter(rate.Limit(s.RequestsPerSecond), 1)
	}
	return &Requester{
		baseURL: strings.TrimRight(s.Endpoint, "/"),
		apiKey:  s.APIKey,
		httpc:   &http.Client{Timeout: timeout},
		limiter: lim,
	}
}

func (r *Requester) GetJSON(ctx context.Context, path string, query url.Values, out any) error {
	return r.do(ctx, http.MethodGet, path, query, nil, out)
}

func (r *Requester) PostJSON(ctx context.Context, path string, body, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "marshal body")
	}
	return r.do(ctx, http.MethodPost, path, nil, bytes.NewReader(b), out)
}

func (r *Requester) do(ctx context.Context, method, path string, query url.Values, body io.Reader, out any) error {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return errors.Wrap(err, "rate limit wait")
		}
	}

	u, err := url.Parse(r.baseURL + path)
	if err != nil {
		return errors.Wrap(err, "parse url")
	}
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return errors.Wrap(err, "new request")
	}
	req.Header.Set("Authorization", "Bearer "+r.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := r.httpc.Do(req)
	if err != nil {
		return errors.Wrapf(ErrAPIRequest, "%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return errors.Wrapf(ErrAPIRequest, "%s %s: http %d", method, path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, "decode")
	}
	return nil
}
