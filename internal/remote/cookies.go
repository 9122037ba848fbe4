package remote

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"
)

// ErrInvalidCookies is returned when a cookie file fails validation.
var ErrInvalidCookies = errors.New("invalid cookies")

// RequiredCookies must all be present for a session to be usable.
var RequiredCookies = []string{"sessionid", "csrftoken", "ds_user_id"}

// Cookie is one entry of a browser cookie export.
type Cookie struct {
	Name           string   `json:"name"`
	Value          string   `json:"value"`
	Domain         string   `json:"domain,omitempty"`
	ExpirationDate *float64 `json:"expirationDate,omitempty"`
}

// Expired reports whether the cookie carries an expiry before now.
func (c Cookie) Expired(now time.Time) bool {
	if c.ExpirationDate == nil {
		return false
	}
	sec := int64(*c.ExpirationDate)
	return time.Unix(sec, 0).Before(now)
}

// Cookies is a session cookie jar.
type Cookies []Cookie

// LoadCookies reads and validates a JSON cookie export.
func LoadCookies(path string) (Cookies, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read cookie file: %w", err)
	}
	return ParseCookies(data, time.Now())
}

// ParseCookies decodes a JSON cookie list and validates it against now.
func ParseCookies(data []byte, now time.Time) (Cookies, error) {
	var cs Cookies
	if err := json.Unmarshal(data, &cs); err != nil {
		return nil, fmt.Errorf("parse cookie file: %w", err)
	}
	if err := cs.Validate(now); err != nil {
		return nil, err
	}
	return cs, nil
}

// Validate checks that the jar is non-empty, holds every required cookie,
// and that nothing has expired.
func (cs Cookies) Validate(now time.Time) error {
	if len(cs) == 0 {
		return fmt.Errorf("%w: empty cookie list", ErrInvalidCookies)
	}

	have := make(map[string]bool, len(cs))
	for _, c := range cs {
		have[c.Name] = true
	}
	var missing []string
	for _, name := range RequiredCookies {
		if !have[name] {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing required cookies %v", ErrInvalidCookies, missing)
	}

	for _, c := range cs {
		if c.Expired(now) {
			return fmt.Errorf("%w: cookie %s has expired", ErrInvalidCookies, c.Name)
		}
	}
	return nil
}

// Value returns the value of the named cookie, or "" if absent.
func (cs Cookies) Value(name string) string {
	for _, c := range cs {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}

// Headers returns the request headers for an authenticated call.
func (cs Cookies) Headers(userAgent, referer string) http.Header {
	h := http.Header{}
	h.Set("User-Agent", userAgent)
	h.Set("Accept", "*/*")
	h.Set("Accept-Language", "en-US,en;q=0.9")
	h.Set("X-IG-App-ID", AppID)
	h.Set("X-Requested-With", "XMLHttpRequest")
	h.Set("Referer", referer)
	h.Set("X-CSRFToken", cs.Value("csrftoken"))
	return h
}

// apply attaches the jar to req.
func (cs Cookies) apply(req *http.Request) {
	for _, c := range cs {
		req.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
	}
}
