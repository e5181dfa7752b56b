/*
Copyright 2024 Sunogate Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package suno implements the HTTP client for the unofficial Suno.ai
// generation API and its Clerk identity frontend. Callers hold a session
// cookie; the client exchanges it for a short-lived JWT and drives the
// generate and feed endpoints with it.
package suno

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/sunogate/sunogate/config"
	"github.com/sunogate/sunogate/internal/request"
	"github.com/sunogate/sunogate/model"
)

const (
	clerkJSVersion = "4.73.3"
	userAgent      = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36"
)

// ErrUnauthorized signals that the upstream rejected the bearer token and
// the caller should re-authenticate the cookie before retrying.
var ErrUnauthorized = errors.New("upstream rejected session token")

// ErrSessionInvalid signals that the cookie itself no longer maps to a
// live Clerk session and the credential should be evicted.
var ErrSessionInvalid = errors.New("cookie has no active session")

// ErrInsufficientCredits signals that the session is alive but cannot pay
// for a generation; the stored balance is stale and must be zeroed.
var ErrInsufficientCredits = errors.New("session has insufficient credits")

// Upstream is the surface the generation orchestrator and the credential
// allocator depend on.
type Upstream interface {
	Authenticate(ctx context.Context, cookie string) (string, error)
	GetBalance(ctx context.Context, token string) (int, error)
	SubmitGeneration(ctx context.Context, token string, req model.GenerationRequest) (*model.GenerationStart, error)
	PollFeed(ctx context.Context, token string, clipIDs []string) (*model.FeedSnapshot, error)
}

// Client talks to the Suno API and the Clerk identity service.
type Client struct {
	baseURL      string
	clerkBaseURL string
	solver       CaptchaSolver
}

// NewClient builds a Client from the loaded configuration. A capsolver key
// in the config enables captcha fallback on challenged sign-ins.
func NewClient(conf *config.Configuration) *Client {
	c := &Client{
		baseURL:      strings.TrimSuffix(conf.Upstream.BaseURL, "/"),
		clerkBaseURL: strings.TrimSuffix(conf.Upstream.ClerkBaseURL, "/"),
	}
	if conf.Upstream.CapsolverKey != "" {
		c.solver = NewCapsolver(conf.Upstream.CapsolverKey, conf.Upstream.CapsolverURL)
	}
	return c
}

type clerkSession struct {
	LastActiveToken struct {
		JWT string `json:"jwt"`
	} `json:"last_active_token"`
}

type clerkClient struct {
	Response struct {
		Sessions []clerkSession `json:"sessions"`
	} `json:"response"`
}

// Authenticate exchanges a session cookie for a JWT usable as a bearer
// token on the API. When Clerk challenges the exchange and a captcha
// solver is configured, the challenge is solved and the exchange retried
// once with the solved token.
func (c *Client) Authenticate(ctx context.Context, cookie string) (string, error) {
	token, status, err := c.verifySession(ctx, cookie, "")
	if err == nil {
		return token, nil
	}
	if status == http.StatusUnauthorized && c.solver != nil {
		solved, solveErr := c.solver.Solve(ctx)
		if solveErr != nil {
			logrus.WithError(solveErr).Warn("captcha solve failed during authentication")
			return "", err
		}
		token, _, err = c.verifySession(ctx, cookie, solved)
		if err == nil {
			return token, nil
		}
	}
	return "", err
}

func (c *Client) verifySession(ctx context.Context, cookie, captchaToken string) (string, int, error) {
	endpoint := fmt.Sprintf("%s/v1/client?_clerk_js_version=%s", c.clerkBaseURL, clerkJSVersion)
	if captchaToken != "" {
		endpoint += "&captcha_token=" + url.QueryEscape(captchaToken)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Cookie", cookie)
	req.Header.Set("User-Agent", userAgent)

	var body clerkClient
	resp, err := request.Call(req, &body)
	if err != nil {
		if resp != nil {
			return "", resp.StatusCode, errors.Wrap(err, "clerk session verify failed")
		}
		return "", 0, errors.Wrap(err, "clerk session verify failed")
	}
	if resp.StatusCode != http.StatusOK {
		return "", resp.StatusCode, errors.Wrapf(ErrSessionInvalid, "clerk responded %d", resp.StatusCode)
	}
	if len(body.Response.Sessions) == 0 || body.Response.Sessions[0].LastActiveToken.JWT == "" {
		return "", resp.StatusCode, ErrSessionInvalid
	}
	return body.Response.Sessions[0].LastActiveToken.JWT, resp.StatusCode, nil
}

type billingInfo struct {
	TotalCreditsLeft float64 `json:"total_credits_left"`
}

// GetBalance returns the number of generations the session has left.
// Ten credits buy one generation. It returns -1 with a non-nil error when
// the balance cannot be established, which callers treat as an invalid
// credential.
func (c *Client) GetBalance(ctx context.Context, token string) (int, error) {
	endpoint := c.baseURL + "/api/billing/info/"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return -1, err
	}
	c.authorize(req, token)

	var info billingInfo
	resp, callErr := request.Call(req, &info)
	if resp == nil {
		return -1, errors.Wrap(callErr, "billing info request failed")
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return -1, ErrUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		return -1, errors.Errorf("billing info responded %d", resp.StatusCode)
	}
	if callErr != nil {
		return -1, errors.Wrap(callErr, "billing info decode failed")
	}
	return int(info.TotalCreditsLeft) / 10, nil
}

// SubmitGeneration starts a generation and returns the spawned clip ids.
func (c *Client) SubmitGeneration(ctx context.Context, token string, genReq model.GenerationRequest) (*model.GenerationStart, error) {
	payload, err := request.ToJsonReq(&genReq)
	if err != nil {
		return nil, err
	}

	endpoint := c.baseURL + "/api/generate/v2/"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, payload)
	if err != nil {
		return nil, err
	}
	c.authorize(req, token)

	resp, body, callErr := request.CallRaw(req)
	if resp == nil {
		return nil, errors.Wrap(callErr, "generate request failed")
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, ErrUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		// The upstream error body is carried verbatim so callers can
		// surface it and classify the payment sub-case.
		msg := strings.TrimSpace(string(body))
		if resp.StatusCode == http.StatusPaymentRequired ||
			strings.Contains(strings.ToLower(msg), "insufficient credits") {
			return nil, errors.Wrapf(ErrInsufficientCredits, "generate responded %d: %s", resp.StatusCode, msg)
		}
		return nil, errors.Errorf("generate responded %d: %s", resp.StatusCode, msg)
	}
	var start model.GenerationStart
	if err := json.Unmarshal(body, &start); err != nil {
		return nil, errors.Wrap(err, "generate decode failed")
	}
	if len(start.Clips) == 0 {
		return nil, errors.New("generate returned no clips")
	}
	return &start, nil
}

// PollFeed fetches the current state of the given clips. Transient
// upstream failures (408, 429, 5xx) are retried with exponential backoff
// inside the call; auth failures surface as ErrUnauthorized immediately.
func (c *Client) PollFeed(ctx context.Context, token string, clipIDs []string) (*model.FeedSnapshot, error) {
	endpoint := fmt.Sprintf("%s/api/feed/?ids=%s", c.baseURL, url.QueryEscape(strings.Join(clipIDs, ",")))

	var snapshot *model.FeedSnapshot
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		c.authorize(req, token)

		var clips []model.Clip
		resp, callErr := request.Call(req, &clips)
		if resp == nil {
			return errors.Wrap(callErr, "feed request failed")
		}
		// Status decides retryability before any decode failure does;
		// error bodies are not clip arrays.
		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return backoff.Permanent(ErrUnauthorized)
		case resp.StatusCode == http.StatusRequestTimeout ||
			resp.StatusCode == http.StatusTooManyRequests ||
			resp.StatusCode >= http.StatusInternalServerError:
			return errors.Errorf("feed responded %d", resp.StatusCode)
		case resp.StatusCode != http.StatusOK:
			return backoff.Permanent(errors.Errorf("feed responded %d", resp.StatusCode))
		}
		if callErr != nil {
			return errors.Wrap(callErr, "feed decode failed")
		}
		snapshot = &model.FeedSnapshot{Clips: clips}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxElapsedTime = 15 * time.Second
	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return nil, err
	}
	return snapshot, nil
}

func (c *Client) authorize(req *http.Request, token string) {
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("User-Agent", userAgent)
}
