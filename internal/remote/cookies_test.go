package remote

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validCookieJSON = `[
	{"name": "sessionid", "value": "sess", "domain": ".instagram.com"},
	{"name": "csrftoken", "value": "tok", "expirationDate": 4102444800},
	{"name": "ds_user_id", "value": "42"}
]`

func writeCookies(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "cookies.json")
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestParseCookies(t *testing.T) {
	now := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"valid", validCookieJSON, ""},
		{"empty list", `[]`, "empty cookie list"},
		{"missing required", `[{"name":"sessionid","value":"x"},{"name":"csrftoken","value":"y"}]`, "ds_user_id"},
		{"expired", `[{"name":"sessionid","value":"x","expirationDate":1000},{"name":"csrftoken","value":"y"},{"name":"ds_user_id","value":"1"}]`, "sessionid has expired"},
		{"not json", `{`, "parse cookie file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cs, err := ParseCookies([]byte(tt.body), now)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("ParseCookies: %v", err)
				}
				if len(cs) != 3 {
					t.Errorf("cookies = %d, want 3", len(cs))
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err = %v, want containing %q", err, tt.wantErr)
			}
			if tt.name != "not json" && !errors.Is(err, ErrInvalidCookies) {
				t.Errorf("err = %v, want ErrInvalidCookies", err)
			}
		})
	}
}

func TestCookies_ValueAndHeaders(t *testing.T) {
	cs, err := ParseCookies([]byte(validCookieJSON), time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if got := cs.Value("ds_user_id"); got != "42" {
		t.Errorf("Value(ds_user_id) = %q", got)
	}
	if got := cs.Value("absent"); got != "" {
		t.Errorf("Value(absent) = %q, want empty", got)
	}

	h := cs.Headers("bot/1.0", "https://example.test/")
	if h.Get("X-CSRFToken") != "tok" {
		t.Errorf("X-CSRFToken = %q", h.Get("X-CSRFToken"))
	}
	if h.Get("User-Agent") != "bot/1.0" || h.Get("Referer") != "https://example.test/" {
		t.Errorf("headers = %v", h)
	}
	if h.Get("X-IG-App-ID") != AppID {
		t.Errorf("X-IG-App-ID = %q", h.Get("X-IG-App-ID"))
	}
}

func TestLoadCookies_MissingFile(t *testing.T) {
	if _, err := LoadCookies(filepath.Join(t.TempDir(), "none.json")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("err = %v, want not exist", err)
	}
}
