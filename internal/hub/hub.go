package hub

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"hubclient/internal/config"
	"hubclient/internal/types"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	tokenAuthPath    = "/api/tokens/authenticate"
	sessionLoginPath = "/j_spring_security_check"

	sessionCookieName = "AUTHORIZATION_BEARER"
	csrfHeader        = "X-CSRF-TOKEN"

	// Sessions are renewed this long before the Hub expires them.
	expirySkew = time.Minute
)

// session is the authenticated state shared by all requests of a Client.
type session struct {
	bearer    string
	csrf      string
	expiresAt time.Time // zero when the Hub did not say
}

func (s *session) valid(now time.Time) bool {
	if s == nil || s.bearer == "" {
		return false
	}
	return s.expiresAt.IsZero() || now.Add(expirySkew).Before(s.expiresAt)
}

// Client is an authenticated Hub REST client. It is safe for concurrent use.
type Client struct {
	base     *BaseClient
	baseURL  *url.URL
	cfg      config.HubConfig
	pageSize int
	cache    *expirable.LRU[string, []byte]
	clock    types.Clock
	logger   *slog.Logger

	mu      sync.Mutex
	session *session
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithClock overrides the clock used for session expiry.
func WithClock(c types.Clock) ClientOption {
	return func(cl *Client) { cl.clock = c }
}

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) ClientOption {
	return func(cl *Client) { cl.logger = l }
}

// NewClient builds a Client for the Hub described by cfg. Authentication is
// deferred to the first request.
func NewClient(base *BaseClient, cfg config.HubConfig, opts ...ClientOption) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(cfg.URL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid hub url %q", cfg.URL)
	}
	if !cfg.HasToken() && !cfg.HasPassword() {
		return nil, fmt.Errorf("hub credentials missing: set an API token or username and password")
	}

	c := &Client{
		base:     base,
		baseURL:  u,
		cfg:      cfg,
		pageSize: cfg.PageSize,
		clock:    types.RealClock{},
		logger:   slog.Default(),
	}
	if c.pageSize <= 0 {
		c.pageSize = 100
	}
	if cfg.CacheSize > 0 {
		c.cache = expirable.NewLRU[string, []byte](cfg.CacheSize, nil, cfg.CacheTTL)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the Hub root URL.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// URL resolves a path (e.g. "/api/projects") against the Hub root. Absolute
// links are returned unchanged.
func (c *Client) URL(pathOrLink string) string {
	if strings.HasPrefix(pathOrLink, "http://") || strings.HasPrefix(pathOrLink, "https://") {
		return pathOrLink
	}
	ref, err := url.Parse(pathOrLink)
	if err != nil {
		return c.baseURL.String() + pathOrLink
	}
	return c.baseURL.ResolveReference(ref).String()
}

// Authenticate establishes a session with the Hub, replacing any current one.
func (c *Client) Authenticate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticateLocked(ctx)
}

func (c *Client) authenticateLocked(ctx context.Context) error {
	var (
		s   *session
		err error
	)
	if c.cfg.HasToken() {
		s, err = c.tokenLogin(ctx)
	} else {
		s, err = c.passwordLogin(ctx)
	}
	if err != nil {
		c.session = nil
		return err
	}
	c.session = s
	c.logger.Info("authenticated with hub", "hub_url", c.baseURL.String(), "token_auth", c.cfg.HasToken())
	return nil
}

func (c *Client) tokenLogin(ctx context.Context) (*session, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL(tokenAuthPath), nil)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeHubAuthFailed, "failed to build token request", err)
	}
	req.Header.Set("Authorization", "token "+c.cfg.APIToken.Unmask())
	req.Header.Set("Accept", "application/json")

	resp, err := c.base.Do(req)
	if err != nil {
		return nil, authError(ctx, "token authentication request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, types.NewAppErrorWithDetails(types.ErrCodeHubAuthFailed,
			"hub rejected the api token", nil, map[string]any{"status": resp.StatusCode})
	}

	var body struct {
		BearerToken           string `json:"bearerToken"`
		ExpiresInMilliseconds int64  `json:"expiresInMilliseconds"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.BearerToken == "" {
		return nil, types.NewAppError(types.ErrCodeHubAuthFailed, "malformed token authentication response", err)
	}

	s := &session{bearer: body.BearerToken}
	if body.ExpiresInMilliseconds > 0 {
		s.expiresAt = c.clock.Now().Add(time.Duration(body.ExpiresInMilliseconds) * time.Millisecond)
	}
	return s, nil
}

func (c *Client) passwordLogin(ctx context.Context) (*session, error) {
	form := url.Values{}
	form.Set("j_username", c.cfg.Username)
	form.Set("j_password", c.cfg.Password.Unmask())

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL(sessionLoginPath), strings.NewReader(form.Encode()))
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeHubAuthFailed, "failed to build login request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.base.Do(req)
	if err != nil {
		return nil, authError(ctx, "login request failed", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return nil, types.NewAppErrorWithDetails(types.ErrCodeHubAuthFailed,
			"hub rejected the username or password", nil, map[string]any{"status": resp.StatusCode})
	}

	s := &session{csrf: resp.Header.Get(csrfHeader)}
	for _, ck := range resp.Cookies() {
		if ck.Name == sessionCookieName {
			s.bearer = ck.Value
			if !ck.Expires.IsZero() {
				s.expiresAt = ck.Expires
			} else if ck.MaxAge > 0 {
				s.expiresAt = c.clock.Now().Add(time.Duration(ck.MaxAge) * time.Second)
			}
		}
	}
	if s.bearer == "" {
		return nil, types.NewAppError(types.ErrCodeHubAuthFailed, "login response carried no session cookie", nil)
	}
	return s, nil
}

func authError(ctx context.Context, msg string, err error) error {
	if ctxErr := types.ClassifyContextError(ctx, err); ctxErr != nil {
		return ctxErr
	}
	return types.NewAppError(types.ErrCodeHubAuthFailed, msg, err)
}

// currentSession returns a valid session, logging in when needed.
func (c *Client) currentSession(ctx context.Context, renew bool) (*session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if renew || !c.session.valid(c.clock.Now()) {
		if err := c.authenticateLocked(ctx); err != nil {
			return nil, err
		}
	}
	return c.session, nil
}

// Do sends an authenticated request. On a 401 the session is renewed and
// the request is sent once more.
func (c *Client) Do(ctx context.Context, method, link string, body []byte, header http.Header) (*http.Response, error) {
	for attempt := 0; ; attempt++ {
		s, err := c.currentSession(ctx, attempt > 0)
		if err != nil {
			if types.IsCode(err, types.ErrCodeCancelled) {
				return nil, err
			}
			return nil, types.NewAppError(types.ErrCodeEntityResolution, "hub authentication failed", err)
		}

		var rdr io.Reader
		if body != nil {
			rdr = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.URL(link), rdr)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeEntityResolution, "failed to build hub request", err)
		}
		for k, vs := range header {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}
		if req.Header.Get("Accept") == "" {
			req.Header.Set("Accept", "application/json")
		}
		req.Header.Set("Authorization", "Bearer "+s.bearer)
		if s.csrf != "" {
			req.Header.Set(csrfHeader, s.csrf)
		}

		resp, err := c.base.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode == http.StatusUnauthorized && attempt == 0 {
			resp.Body.Close()
			c.logger.Warn("hub session rejected, re-authenticating", "link", link)
			continue
		}
		return resp, nil
	}
}

// GetResource fetches the resource at link and decodes it into out.
// Responses are cached by link when caching is enabled. A cached response
// that does not decode into out is dropped and fetched again.
//
// A 404 maps to hub_entity_not_found; any other failure to
// hub_entity_resolution_failed, except caller cancellation.
func (c *Client) GetResource(ctx context.Context, link string, out any) error {
	if ctxErr := types.ClassifyContextError(ctx, nil); ctxErr != nil {
		return ctxErr
	}
	key := c.URL(link)
	if c.cache != nil {
		if raw, ok := c.cache.Get(key); ok {
			if err := decodeResource(link, raw, out); err == nil {
				return nil
			}
			c.invalidate(link)
		}
	}

	raw, err := c.getRaw(ctx, key)
	if err != nil {
		return err
	}
	if err := decodeResource(link, raw, out); err != nil {
		return err
	}
	if c.cache != nil {
		c.cache.Add(key, raw)
	}
	return nil
}

// invalidate drops a cached response.
func (c *Client) invalidate(link string) {
	if c.cache != nil {
		c.cache.Remove(c.URL(link))
	}
}

func (c *Client) getRaw(ctx context.Context, link string) ([]byte, error) {
	resp, err := c.Do(ctx, http.MethodGet, link, nil, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctxErr := types.ClassifyContextError(ctx, err); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, types.NewAppErrorWithDetails(types.ErrCodeEntityResolution,
			"failed to read hub response", err, map[string]any{"link": link})
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, types.NewAppErrorWithDetails(types.ErrCodeEntityNotFound,
			"hub resource not found", nil, map[string]any{"link": link})
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, types.NewAppErrorWithDetails(types.ErrCodeEntityResolution,
			fmt.Sprintf("hub returned %d", resp.StatusCode), nil,
			map[string]any{"link": link, "status": resp.StatusCode})
	}
	return raw, nil
}

func decodeResource(link string, raw []byte, out any) error {
	if err := json.Unmarshal(raw, out); err != nil {
		return types.NewAppErrorWithDetails(types.ErrCodeEntityResolution,
			"malformed hub response", err, map[string]any{"link": link})
	}
	return nil
}

// GetAllPages walks the collection at link with offset/limit paging until
// TotalCount items were read. Pages are never cached.
func GetAllPages[T any](ctx context.Context, c *Client, link string, query url.Values) ([]T, error) {
	items := make([]T, 0)
	for offset := 0; ; {
		q := url.Values{}
		for k, vs := range query {
			q[k] = append([]string(nil), vs...)
		}
		q.Set("offset", strconv.Itoa(offset))
		q.Set("limit", strconv.Itoa(c.pageSize))

		pageLink := c.URL(link)
		if strings.Contains(pageLink, "?") {
			pageLink += "&" + q.Encode()
		} else {
			pageLink += "?" + q.Encode()
		}

		raw, err := c.getRaw(ctx, pageLink)
		if err != nil {
			return nil, err
		}
		var page types.Page[T]
		if err := decodeResource(link, raw, &page); err != nil {
			return nil, err
		}

		items = append(items, page.Items...)
		offset += len(page.Items)
		if len(page.Items) == 0 || offset >= page.TotalCount {
			return items, nil
		}
	}
}

// FirstLink returns the first href registered under rel in meta.
func FirstLink(meta types.ResourceMetadata, rel string) (string, error) {
	if href, ok := meta.Link(rel); ok {
		return href, nil
	}
	return "", types.NewAppErrorWithDetails(types.ErrCodeLinkNotFound,
		fmt.Sprintf("resource has no %q link", rel), nil,
		map[string]any{"rel": rel, "href": meta.Href})
}
