package auth

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/thomasrutger/Connector/core"
)

func unauthenticated(format string, args ...any) error {
	return fmt.Errorf("%w: %s", core.ErrUnauthenticated, fmt.Sprintf(format, args...))
}

func normalizeValues(values []string) []string {
	if len(values) == 0 {
		return []string{}
	}
	seen := map[string]struct{}{}
	out := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	sort.Strings(out)
	return out
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func defaultNow(now func() time.Time) func() time.Time {
	if now != nil {
		return now
	}
	return func() time.Time { return time.Now().UTC() }
}

type cachedToken struct {
	token     string
	expiresAt time.Time
}

// tokenCache keeps issued bearer tokens until renewBefore ahead of expiry.
type tokenCache struct {
	mu          sync.Mutex
	renewBefore time.Duration
	entries     map[string]cachedToken
}

func newTokenCache(renewBefore time.Duration) *tokenCache {
	if renewBefore <= 0 {
		renewBefore = 2 * time.Minute
	}
	return &tokenCache{renewBefore: renewBefore, entries: map[string]cachedToken{}}
}

func (c *tokenCache) lookup(key string, now time.Time) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cached, ok := c.entries[key]
	if !ok {
		return "", false
	}
	if cached.expiresAt.IsZero() || !cached.expiresAt.After(now.Add(c.renewBefore)) {
		delete(c.entries, key)
		return "", false
	}
	return cached.token, true
}

func (c *tokenCache) store(key string, token string, expiresAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cachedToken{token: token, expiresAt: expiresAt.UTC()}
}
