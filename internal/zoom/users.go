package zoom

import (
	"context"
	"net/url"
	"strings"
	"sync"
)

// User is a Zoom account identity.
type User struct {
	ID        string `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
}

// userCache memoizes GetUser lookups with a bounded entry count.
type userCache struct {
	mu      sync.Mutex
	max     int
	entries map[string]User
}

func newUserCache(max int) *userCache {
	if max < 32 {
		max = 32
	}
	return &userCache{max: max, entries: make(map[string]User, max)}
}

func (c *userCache) get(key string) (User, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	u, ok := c.entries[key]
	return u, ok
}

func (c *userCache) put(key string, u User) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) >= c.max {
		for k := range c.entries {
			delete(c.entries, k)
			break
		}
	}
	c.entries[key] = u
}

type userPage struct {
	NextPageToken string `json:"next_page_token"`
	Users         []User `json:"users"`
}

// SearchUsers pages through the account's users and keeps those matching the
// query against name or email. The returned token re-enters the next call
// verbatim; it is escaped exactly once here before url.Values applies the
// second, wire-level escape.
func (c *Client) SearchUsers(ctx context.Context, query, nextPageToken string) ([]User, string, error) {
	q := url.Values{}
	q.Set("page_size", "30")
	q.Set("status", "active")
	if nextPageToken != "" {
		q.Set("next_page_token", url.QueryEscape(nextPageToken))
	}
	var page userPage
	if err := c.getJSON(ctx, "/users", q, &page); err != nil {
		return nil, "", err
	}

	needle := strings.ToLower(strings.TrimSpace(query))
	var out []User
	for _, u := range page.Users {
		if needle == "" || userMatches(u, needle) {
			out = append(out, u)
		}
	}
	return out, page.NextPageToken, nil
}

func userMatches(u User, needle string) bool {
	for _, hay := range []string{u.FirstName, u.LastName, u.Email} {
		if strings.Contains(strings.ToLower(hay), needle) {
			return true
		}
	}
	return false
}

// GetUser resolves a user by id or email. Results are memoized and forwarded
// to the OnUser hook for write-through caching.
func (c *Client) GetUser(ctx context.Context, idOrEmail string) (User, error) {
	if u, ok := c.userCache.get(idOrEmail); ok {
		return u, nil
	}
	var u User
	if err := c.getJSON(ctx, "/users/"+url.PathEscape(idOrEmail), nil, &u); err != nil {
		return User{}, err
	}
	c.userCache.put(idOrEmail, u)
	if u.ID != "" && u.ID != idOrEmail {
		c.userCache.put(u.ID, u)
	}
	if c.OnUser != nil {
		c.OnUser(ctx, u)
	}
	return u, nil
}
