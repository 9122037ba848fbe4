// Package remote is the HTTP client for the social-feed service: it performs
// actions, reads the feed, and manages the session cookies.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/Dicklesworthstone/feedbot/internal/action"
	"github.com/Dicklesworthstone/feedbot/internal/feed"
	"github.com/Dicklesworthstone/feedbot/internal/retry"
)

// Defaults for Options.
const (
	DefaultBaseURL   = "https://www.instagram.com"
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
	DefaultTimeout   = 30 * time.Second

	// AppID is sent with every authenticated call.
	AppID = "936619743392459"

	// transportRetries bounds retries of connection failures only.
	transportRetries = 2
	maxBodyBytes     = 4 << 20
)

// ErrRejected is returned when the service answers 2xx but refuses the action.
var ErrRejected = errors.New("action rejected")

var mediaIDPattern = regexp.MustCompile(`"media_id":"(\d+)"`)

// Options configures a Client.
type Options struct {
	BaseURL     string
	CookiesFile string
	UserAgent   string
	Timeout     time.Duration
}

// Client talks to the remote service. It is safe for concurrent use.
type Client struct {
	opts Options
	http *retryablehttp.Client

	mu      sync.RWMutex
	cookies Cookies
}

type leveledSlog struct {
	inner *slog.Logger
}

// Transport failures are retried, so errors are logged at warn level.
func (l leveledSlog) Error(msg string, kv ...any) { l.inner.Warn(msg, kv...) }
func (l leveledSlog) Warn(msg string, kv ...any)  { l.inner.Warn(msg, kv...) }
func (l leveledSlog) Info(msg string, kv ...any)  { l.inner.Debug(msg, kv...) }
func (l leveledSlog) Debug(msg string, kv ...any) { l.inner.Debug(msg, kv...) }

// connectionRetryPolicy retries connection-level failures only. Status
// codes are returned to the caller, whose retry policy classifies them.
func connectionRetryPolicy(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err == nil {
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

// New creates a Client and loads its cookies from opts.CookiesFile.
func New(opts Options) (*Client, error) {
	cookies, err := LoadCookies(opts.CookiesFile)
	if err != nil {
		return nil, err
	}
	c := NewWithCookies(opts, cookies)
	slog.Info("loaded session cookies", "count", len(cookies), "file", opts.CookiesFile)
	return c, nil
}

// NewWithCookies creates a Client with an already validated cookie jar.
func NewWithCookies(opts Options, cookies Cookies) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = transportRetries
	rc.RetryWaitMin = 1 * time.Second
	rc.RetryWaitMax = 5 * time.Second
	rc.CheckRetry = connectionRetryPolicy
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.Logger = retryablehttp.LeveledLogger(leveledSlog{inner: slog.Default().With("subsystem", "remote")})
	rc.HTTPClient.Timeout = opts.Timeout

	return &Client{opts: opts, http: rc, cookies: cookies}
}

// BaseURL returns the service root.
func (c *Client) BaseURL() string {
	return c.opts.BaseURL
}

// Cookies returns the current cookie jar.
func (c *Client) Cookies() Cookies {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cookies
}

// SetCookies replaces the cookie jar.
func (c *Client) SetCookies(cs Cookies) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cookies = cs
}

// RefreshCredentials reloads the cookie file. The previous jar is kept
// when the file is invalid.
func (c *Client) RefreshCredentials(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.opts.CookiesFile == "" {
		return fmt.Errorf("%w: no cookie file configured", ErrInvalidCookies)
	}
	cs, err := LoadCookies(c.opts.CookiesFile)
	if err != nil {
		return err
	}
	c.SetCookies(cs)
	slog.Info("session cookies reloaded", "count", len(cs))
	return nil
}

// TestConnection checks whether the current session is accepted. A 401 or
// 403 reports false without error.
func (c *Client) TestConnection(ctx context.Context) (bool, error) {
	resp, err := c.do(ctx, "test_connection", http.MethodGet, "/accounts/edit/", nil)
	if err != nil {
		var re *retry.RemoteError
		if errors.As(err, &re) && (re.StatusCode == http.StatusUnauthorized || re.StatusCode == http.StatusForbidden) {
			return false, nil
		}
		return false, err
	}
	resp.Body.Close()
	return true, nil
}

// Perform executes one action and returns the service's reply. Transport
// and HTTP failures are returned as errors (a *retry.RemoteError for HTTP
// status failures); a refused action is reported in Result.Error.
func (c *Client) Perform(ctx context.Context, cat action.Category, target string, payload map[string]string) (action.Result, error) {
	if target == "" {
		return action.Result{}, errors.New("target is required")
	}

	switch cat {
	case action.Like:
		mediaID, res, err := c.mediaID(ctx, target, payload)
		if err != nil || res.Failed() {
			return res, err
		}
		return c.post(ctx, "like", "/web/likes/"+mediaID+"/like/", url.Values{"surface": {"www_feed"}})
	case action.Comment:
		text := payload["text"]
		if strings.TrimSpace(text) == "" {
			return action.Result{Error: "comment text is empty"}, nil
		}
		mediaID, res, err := c.mediaID(ctx, target, payload)
		if err != nil || res.Failed() {
			return res, err
		}
		return c.post(ctx, "comment", "/web/comments/"+mediaID+"/add/", url.Values{"comment_text": {text}})
	case action.Follow:
		return c.post(ctx, "follow", "/web/friendships/"+url.PathEscape(target)+"/follow/", nil)
	case action.Unfollow:
		return c.post(ctx, "unfollow", "/web/friendships/"+url.PathEscape(target)+"/unfollow/", nil)
	default:
		return action.Result{}, fmt.Errorf("%w: %q", action.ErrUnknownCategory, cat)
	}
}

// mediaID resolves the numeric media id of a post, preferring one supplied
// in the payload.
func (c *Client) mediaID(ctx context.Context, shortcode string, payload map[string]string) (string, action.Result, error) {
	if id := payload["media_id"]; id != "" {
		return id, action.Result{}, nil
	}

	resp, err := c.do(ctx, "media_id", http.MethodGet, "/p/"+url.PathEscape(shortcode)+"/", nil)
	if err != nil {
		return "", action.Result{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", action.Result{}, fmt.Errorf("read post page: %w", err)
	}
	m := mediaIDPattern.FindSubmatch(body)
	if m == nil {
		slog.Warn("media id not found", "shortcode", shortcode)
		return "", action.Result{Error: "media id not found"}, nil
	}
	return string(m[1]), action.Result{}, nil
}

func (c *Client) post(ctx context.Context, op, path string, form url.Values) (action.Result, error) {
	resp, err := c.do(ctx, op, http.MethodPost, path, form)
	if err != nil {
		return action.Result{}, err
	}
	defer resp.Body.Close()

	fields, err := decodeReply(resp.Body)
	if err != nil {
		if errors.Is(err, ErrRejected) {
			return action.Result{Fields: fields, Error: err.Error()}, nil
		}
		return action.Result{}, fmt.Errorf("%s: %w", op, err)
	}
	return action.Result{Fields: fields}, nil
}

// decodeReply parses a JSON reply. A reply with status "fail" yields
// ErrRejected alongside the decoded fields.
func decodeReply(r io.Reader) (map[string]any, error) {
	body, err := io.ReadAll(io.LimitReader(r, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read reply: %w", err)
	}
	fields := map[string]any{}
	if len(strings.TrimSpace(string(body))) == 0 {
		return fields, nil
	}
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("decode reply: %w", err)
	}
	if status, _ := fields["status"].(string); status == "fail" {
		msg, _ := fields["message"].(string)
		if msg == "" {
			return fields, ErrRejected
		}
		return fields, fmt.Errorf("%w: %s", ErrRejected, msg)
	}
	return fields, nil
}

// do sends an authenticated request. Non-2xx responses are closed and
// returned as *retry.RemoteError.
func (c *Client) do(ctx context.Context, op, method, path string, form url.Values) (*http.Response, error) {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.opts.BaseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", op, err)
	}

	cookies := c.Cookies()
	req.Header = cookies.Headers(c.opts.UserAgent, c.opts.BaseURL+"/")
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	cookies.apply(req.Request)

	resp, err := c.http.Do(req)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &retry.RemoteError{Op: op, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, &retry.RemoteError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(msg)),
		}
	}
	return resp, nil
}

type feedReply struct {
	Items []struct {
		Code    string `json:"code"`
		ID      string `json:"id"`
		Caption *struct {
			Text string `json:"text"`
		} `json:"caption"`
		User struct {
			Username string `json:"username"`
		} `json:"user"`
	} `json:"items"`
}

// FetchFeed returns up to limit posts from the home timeline.
func (c *Client) FetchFeed(ctx context.Context, limit int) ([]feed.Post, error) {
	path := "/api/v1/feed/timeline/"
	if limit > 0 {
		path += fmt.Sprintf("?count=%d", limit)
	}
	resp, err := c.do(ctx, "feed", http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var reply feedReply
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&reply); err != nil {
		return nil, fmt.Errorf("decode feed: %w", err)
	}

	posts := make([]feed.Post, 0, len(reply.Items))
	for _, it := range reply.Items {
		if it.Code == "" {
			continue
		}
		p := feed.Post{Shortcode: it.Code, MediaID: it.ID, Author: it.User.Username}
		if it.Caption != nil {
			p.Caption = it.Caption.Text
		}
		posts = append(posts, p)
		if limit > 0 && len(posts) >= limit {
			break
		}
	}
	return posts, nil
}
