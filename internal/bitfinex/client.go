package bitfinex

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const defaultBaseURL = "https://api.bitfinex.com"

type Options struct {
	BaseURL     string
	APIKey      string
	APISecret   string
	Timeout     time.Duration
	MaxRetries  int
	BackoffBase time.Duration
	// RateLimitDelay is the cool-down before repeating a rate-limited call.
	RateLimitDelay  time.Duration
	HistoryInterval time.Duration
	HTTPClient      *http.Client
}

type Client struct {
	baseURL        string
	http           *http.Client
	signer         *Signer
	maxRetries     int
	backoffBase    time.Duration
	rateLimitDelay time.Duration
	history        *rate.Limiter
	sleep          func(ctx context.Context, d time.Duration) error
	log            *zap.Logger

	nonceStore NonceStore
	nonceKey   string
	persistMu  sync.Mutex
	persisted  uint64
}

// NonceStore persists the last used nonce across restarts.
type NonceStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// New builds a client. Credentials are optional for public-only use.
func New(opts Options, log *zap.Logger) (*Client, error) {
	if log == nil {
		log = zap.NewNop()
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	c := &Client{
		baseURL:        baseURL,
		http:           httpClient,
		maxRetries:     opts.MaxRetries,
		backoffBase:    opts.BackoffBase,
		rateLimitDelay: opts.RateLimitDelay,
		sleep:          sleepContext,
		log:            log,
	}
	if c.maxRetries <= 0 {
		c.maxRetries = 5
	}
	if c.backoffBase <= 0 {
		c.backoffBase = time.Second
	}
	if c.rateLimitDelay <= 0 {
		c.rateLimitDelay = 20 * time.Second
	}
	if opts.HistoryInterval > 0 {
		c.history = rate.NewLimiter(rate.Every(opts.HistoryInterval), 1)
	}
	if opts.APIKey != "" || opts.APISecret != "" {
		signer, err := NewSigner(opts.APIKey, opts.APISecret)
		if err != nil {
			return nil, err
		}
		c.signer = signer
	}
	return c, nil
}

// InitNonceStore seeds the nonce from the store and persists every nonce issued afterwards.
func (c *Client) InitNonceStore(ctx context.Context, store NonceStore) error {
	if store == nil || c.signer == nil {
		return nil
	}
	key := "nonce:" + c.baseURL + ":" + c.signer.key
	raw, ok, err := store.Get(ctx, key)
	if err != nil {
		return err
	}
	if ok {
		parsed, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return fmt.Errorf("invalid stored nonce %q: %w", raw, err)
		}
		c.signer.Seed(parsed)
	}
	c.persistMu.Lock()
	c.nonceStore = store
	c.nonceKey = key
	c.persistMu.Unlock()
	return nil
}

func (c *Client) persistNonce(ctx context.Context, nonce uint64) {
	c.persistMu.Lock()
	defer c.persistMu.Unlock()
	if c.nonceStore == nil || nonce <= c.persisted {
		return
	}
	if err := c.nonceStore.Set(ctx, c.nonceKey, strconv.FormatUint(nonce, 10)); err != nil {
		c.log.Warn("nonce persist failed", zap.Error(err))
		return
	}
	c.persisted = nonce
}

// authPost signs and posts to a /v1 path. Transport and 5xx failures are
// retried only when retrySafe; rate limits are always retried.
func (c *Client) authPost(ctx context.Context, path string, params map[string]any, retrySafe bool, out any) error {
	if c.signer == nil {
		return errors.New("bitfinex: api credentials are required")
	}
	return c.do(ctx, path, retrySafe, out, func() (*http.Request, error) {
		signed, err := c.signer.sign(path, params)
		if err != nil {
			return nil, err
		}
		c.persistNonce(ctx, signed.nonce)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(signed.body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range signed.headers {
			req.Header.Set(k, v)
		}
		return req, nil
	})
}

func (c *Client) publicGet(ctx context.Context, path string, out any) error {
	return c.do(ctx, path, true, out, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	})
}

func (c *Client) do(ctx context.Context, path string, retrySafe bool, out any, build func() (*http.Request, error)) error {
	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		last := attempt == c.maxRetries-1
		req, err := build()
		if err != nil {
			return err
		}
		status, body, err := c.send(req)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			lastErr = fmt.Errorf("%w: %s: %v", ErrConnection, path, err)
			if !retrySafe {
				return lastErr
			}
			c.log.Warn("bitfinex connection error", zap.String("path", path), zap.Int("attempt", attempt+1), zap.Error(err))
			if !last {
				if err := c.sleep(ctx, c.backoff(attempt)); err != nil {
					return err
				}
			}
			continue
		}
		if status == http.StatusOK {
			if out == nil {
				return nil
			}
			if err := json.Unmarshal(body, out); err != nil {
				return fmt.Errorf("bitfinex: decode %s: %w", path, err)
			}
			return nil
		}
		apiErr := newAPIError(status, body)
		lastErr = apiErr
		switch {
		case apiErr.rateLimited():
			c.log.Warn("bitfinex rate limit hit", zap.String("path", path), zap.Int("attempt", attempt+1))
			if !last {
				if err := c.sleep(ctx, c.rateLimitDelay); err != nil {
					return err
				}
			}
			continue
		case status >= 500 && retrySafe:
			c.log.Warn("bitfinex server error", zap.String("path", path), zap.Int("status", status), zap.Int("attempt", attempt+1))
			if !last {
				if err := c.sleep(ctx, c.backoff(attempt)); err != nil {
					return err
				}
			}
			continue
		}
		return apiErr
	}
	return lastErr
}

func (c *Client) send(req *http.Request) (int, []byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, body, nil
}

// backoff is base * 2^attempt.
func (c *Client) backoff(attempt int) time.Duration {
	return c.backoffBase << uint(attempt)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
