// Package gateway talks to the community platform's REST surface: voice
// state lookups for the reconciliation sweep and role grant/revoke for the
// reward ladder. The client carries a token-bucket rate limiter and a
// per-endpoint circuit-breaker so a degraded platform API cannot stall the
// sweep.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/airtimehq/airtime/pkg/presence"
	"github.com/airtimehq/airtime/pkg/roles"
	"github.com/airtimehq/airtime/pkg/utils"
)

// Client is an HTTP client for the platform gateway implementing both
// presence.Gateway and roles.Service.
type Client struct {
	endpoints []string
	token     string
	client    *http.Client

	// token-bucket
	tokens      int64
	maxTokens   int64
	refillEvery time.Duration
	lastRefill  atomic.Value // time.Time

	// circuit-breaker
	mu       sync.Mutex
	failures map[string]int
	opened   map[string]time.Time

	breakerThreshold int
	breakerCooldown  time.Duration
}

// Opts is the set of options for a new Client.
type Opts struct {
	Endpoints       []string
	Token           string
	Timeout         time.Duration
	RPS             int
	Burst           int
	BreakerFailures int
	BreakerCooldown time.Duration
	HTTPClient      *http.Client
}

// NewWithOpts creates a new Client with the given options.
func NewWithOpts(o Opts) *Client {
	if o.RPS <= 0 {
		o.RPS = 20
	}
	if o.Burst <= 0 {
		o.Burst = 40
	}
	if o.Timeout <= 0 {
		o.Timeout = 10 * time.Second
	}
	if o.BreakerFailures <= 0 {
		o.BreakerFailures = 3
	}
	if o.BreakerCooldown <= 0 {
		o.BreakerCooldown = 5 * time.Second
	}

	client := o.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: o.Timeout}
	} else if client.Timeout == 0 {
		client.Timeout = o.Timeout
	}

	c := &Client{
		endpoints:        utils.Dedup(o.Endpoints),
		token:            o.Token,
		client:           client,
		maxTokens:        int64(o.Burst),
		refillEvery:      time.Second / time.Duration(o.RPS),
		failures:         map[string]int{},
		opened:           map[string]time.Time{},
		breakerThreshold: o.BreakerFailures,
		breakerCooldown:  o.BreakerCooldown,
	}
	c.tokens = c.maxTokens
	c.lastRefill.Store(time.Now())
	return c
}

// NewFromEnv builds a Client from GATEWAY_URL and GATEWAY_TOKEN.
func NewFromEnv() *Client {
	return NewWithOpts(Opts{
		Endpoints: []string{utils.Env("GATEWAY_URL", "http://localhost:8090")},
		Token:     utils.Env("GATEWAY_TOKEN", ""),
		RPS:       utils.EnvInt("GATEWAY_RPS", 20),
		Burst:     utils.EnvInt("GATEWAY_BURST", 40),
	})
}

func (c *Client) refill() {
	last := c.lastRefill.Load().(time.Time)
	now := time.Now()
	if now.Sub(last) >= c.refillEvery {
		if atomic.LoadInt64(&c.tokens) < c.maxTokens {
			atomic.AddInt64(&c.tokens, 1)
		}
		c.lastRefill.Store(now)
	}
}

func (c *Client) acquire() {
	for {
		c.refill()
		if atomic.LoadInt64(&c.tokens) > 0 {
			atomic.AddInt64(&c.tokens, -1)
			return
		}
		time.Sleep(c.refillEvery / 2)
	}
}

// isOpen returns true if the endpoint's breaker is in the OPEN state.
func (c *Client) isOpen(ep string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	until, ok := c.opened[ep]
	if !ok {
		return false
	}
	if time.Now().After(until) {
		delete(c.opened, ep)
		c.failures[ep] = 0
		return false
	}
	return true
}

func (c *Client) noteFailure(ep string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[ep]++
	if c.failures[ep] >= c.breakerThreshold {
		c.opened[ep] = time.Now().Add(c.breakerCooldown)
	}
}

// do sends a request across the configured endpoints, skipping any whose
// breaker is open, and returns the response status code. Status codes below
// 500 are returned to the caller for interpretation; 5xx and transport
// errors rotate to the next endpoint.
func (c *Client) do(ctx context.Context, method, path string, payload any, out any) (int, error) {
	if len(c.endpoints) == 0 {
		return 0, fmt.Errorf("no endpoints configured")
	}

	var lastErr error
	for i := 0; i < len(c.endpoints); i++ {
		ep := c.endpoints[i%len(c.endpoints)]
		if c.isOpen(ep) {
			continue
		}

		c.acquire()

		var body *bytes.Reader
		if payload != nil {
			b, mErr := json.Marshal(payload)
			if mErr != nil {
				return 0, mErr
			}
			body = bytes.NewReader(b)
		} else {
			body = bytes.NewReader(nil)
		}

		req, reqErr := http.NewRequestWithContext(ctx, method, ep+path, body)
		if reqErr != nil {
			return 0, reqErr
		}
		req.Header.Set("Content-Type", "application/json")
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = err
			c.noteFailure(ep)
			continue
		}

		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("server %d", resp.StatusCode)
			c.noteFailure(ep)
			_ = utils.DrainAndClose(resp.Body)
			continue
		}

		if out != nil && resp.StatusCode < 300 && resp.StatusCode != http.StatusNoContent {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				_ = utils.DrainAndClose(resp.Body)
				lastErr = err
				continue
			}
		}

		if cerr := utils.DrainAndClose(resp.Body); cerr != nil {
			return 0, cerr
		}
		return resp.StatusCode, nil
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("all endpoints unavailable")
	}
	return 0, lastErr
}

func memberPath(communityID, subjectID string) string {
	return fmt.Sprintf("/v1/communities/%s/members/%s",
		url.PathEscape(communityID), url.PathEscape(subjectID))
}

// FetchState returns the subject's current voice state. A subject unknown to
// the platform (404) maps to the zero snapshot: not in any channel.
func (c *Client) FetchState(ctx context.Context, communityID, subjectID string) (*presence.Snapshot, error) {
	var snap presence.Snapshot
	status, err := c.do(ctx, http.MethodGet, memberPath(communityID, subjectID)+"/voice", nil, &snap)
	if err != nil {
		return nil, err
	}
	switch {
	case status == http.StatusNotFound:
		return &presence.Snapshot{}, nil
	case status >= 300:
		return nil, fmt.Errorf("fetch voice state: http %d", status)
	}
	return &snap, nil
}

// Held returns the role refs the subject currently holds.
func (c *Client) Held(ctx context.Context, communityID, subjectID string) ([]string, error) {
	var resp struct {
		Roles []string `json:"roles"`
	}
	status, err := c.do(ctx, http.MethodGet, memberPath(communityID, subjectID)+"/roles", nil, &resp)
	if err != nil {
		return nil, err
	}
	switch {
	case status == http.StatusNotFound:
		return nil, nil
	case status >= 300:
		return nil, fmt.Errorf("fetch roles: http %d", status)
	}
	return resp.Roles, nil
}

// Grant assigns a role to the subject.
func (c *Client) Grant(ctx context.Context, communityID, subjectID, roleRef string) (roles.Status, error) {
	status, err := c.do(ctx, http.MethodPut,
		memberPath(communityID, subjectID)+"/roles/"+url.PathEscape(roleRef), nil, nil)
	if err != nil {
		return roles.StatusNoop, err
	}
	return mutationStatus("grant", roleRef, status)
}

// Revoke removes a role from the subject.
func (c *Client) Revoke(ctx context.Context, communityID, subjectID, roleRef string) (roles.Status, error) {
	status, err := c.do(ctx, http.MethodDelete,
		memberPath(communityID, subjectID)+"/roles/"+url.PathEscape(roleRef), nil, nil)
	if err != nil {
		return roles.StatusNoop, err
	}
	return mutationStatus("revoke", roleRef, status)
}

// mutationStatus maps gateway status codes onto role mutation outcomes.
// 204 means the platform already matched the requested state; 403 and 404
// cannot succeed on retry and surface as permanent errors.
func mutationStatus(op, roleRef string, status int) (roles.Status, error) {
	switch {
	case status == http.StatusNoContent:
		return roles.StatusNoop, nil
	case status < 300:
		return roles.StatusApplied, nil
	case status == http.StatusForbidden:
		return roles.StatusNoop, &roles.PermanentError{Op: op, Role: roleRef, Reason: "missing permission"}
	case status == http.StatusNotFound:
		return roles.StatusNoop, &roles.PermanentError{Op: op, Role: roleRef, Reason: "role or member not found"}
	default:
		return roles.StatusNoop, fmt.Errorf("%s role %s: http %d", op, roleRef, status)
	}
}
