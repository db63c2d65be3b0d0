// Package profile resolves user identities against the external user-profile
// service. Lookups are cached in Redis with a short TTL so that chat-list
// rendering does not hammer the user service. A lookup that fails for any
// reason degrades to a placeholder identity rather than failing the caller.
package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrUnavailable indicates the user-profile service could not be reached or
// returned an unusable response. Callers are expected to recover locally with
// Placeholder rather than surfacing this to the client.
var ErrUnavailable = errors.New("profile: user service unavailable")

// Profile is the identity returned by the user service.
type Profile struct {
	ID     string `json:"_id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

// Placeholder returns the substitute identity used when a lookup fails.
func Placeholder(userID string) Profile {
	return Profile{ID: userID, Name: "Unknown User"}
}

const (
	cachePrefix = "profile:"
	cacheTTL    = 5 * time.Minute
)

// Client looks up profiles over HTTP with an optional Redis cache in front.
type Client struct {
	baseURL string
	http    *http.Client
	cache   *redis.Client // nil disables caching
}

// NewClient creates a profile client for the user service at baseURL
// (e.g. "http://user-service:5000"). A nil cache disables Redis caching.
func NewClient(baseURL string, cache *redis.Client) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 5 * time.Second},
		cache:   cache,
	}
}

// Lookup resolves a user ID to a Profile. The Redis cache is consulted first;
// on a miss the user service is queried and the result cached. All failures
// are reported as an error wrapping ErrUnavailable; callers should substitute
// Placeholder(userID) and continue.
func (c *Client) Lookup(ctx context.Context, userID string) (Profile, error) {
	if c.cache != nil {
		raw, err := c.cache.Get(ctx, cachePrefix+userID).Bytes()
		if err == nil {
			var p Profile
			if err := json.Unmarshal(raw, &p); err == nil {
				return p, nil
			}
			// Corrupt cache entry: drop it and fall through to the service.
			c.cache.Del(ctx, cachePrefix+userID)
		} else if !errors.Is(err, redis.Nil) {
			log.Printf("profile: cache read failed for user=%s: %v", userID, err)
		}
	}

	p, err := c.fetch(ctx, userID)
	if err != nil {
		return Profile{}, err
	}

	if c.cache != nil {
		if raw, err := json.Marshal(p); err == nil {
			if err := c.cache.Set(ctx, cachePrefix+userID, raw, cacheTTL).Err(); err != nil {
				log.Printf("profile: cache write failed for user=%s: %v", userID, err)
			}
		}
	}

	return p, nil
}

// fetch performs the HTTP GET against the user service.
func (c *Client) fetch(ctx context.Context, userID string) (Profile, error) {
	url := fmt.Sprintf("%s/api/v1/user/%s", c.baseURL, userID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Profile{}, fmt.Errorf("profile: build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Profile{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return Profile{}, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var p Profile
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return Profile{}, fmt.Errorf("%w: decode: %v", ErrUnavailable, err)
	}
	if p.ID == "" {
		p.ID = userID
	}
	return p, nil
}
