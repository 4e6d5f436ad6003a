package hub

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"time"

	"hubclient/internal/config"
)

// maxRedirects bounds redirect chains followed on Hub requests.
const maxRedirects = 10

// ErrTooManyRedirects is returned when a Hub redirect chain is too long.
var ErrTooManyRedirects = errors.New("hub: too many redirects")

// NewHTTPClient builds the *http.Client used for all Hub traffic: the Hub
// timeout, an optional proxy whose ignored hosts are dialed directly, and
// optional trust of self-signed Hub certificates.
func NewHTTPClient(hub config.HubConfig, proxy config.ProxyConfig) (*http.Client, error) {
	if err := proxy.Validate().Err(); err != nil {
		return nil, fmt.Errorf("invalid proxy configuration: %w", err)
	}

	base := http.DefaultTransport.(*http.Transport).Clone()
	base.DialContext = (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext
	if hub.TrustCert {
		base.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in for self-signed Hubs
	}

	if proxy.Enabled() {
		selector, err := newProxySelector(proxy)
		if err != nil {
			return nil, err
		}
		base.Proxy = selector.proxyFor
	} else {
		base.Proxy = nil
	}

	return &http.Client{
		Transport: base,
		Timeout:   hub.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return ErrTooManyRedirects
			}
			return nil
		},
	}, nil
}

// proxySelector routes requests through the proxy unless the target host
// matches an ignored-host pattern.
type proxySelector struct {
	proxyURL *url.URL
	ignored  []*regexp.Regexp
}

func newProxySelector(p config.ProxyConfig) (*proxySelector, error) {
	patterns, err := p.IgnoredHostPatterns()
	if err != nil {
		return nil, err
	}
	// A pattern must match the whole host name.
	ignored := make([]*regexp.Regexp, 0, len(patterns))
	for _, re := range patterns {
		ignored = append(ignored, regexp.MustCompile("^(?:"+re.String()+")$"))
	}
	host := p.Host
	if p.Port > 0 {
		host = net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
	}
	u := &url.URL{Scheme: "http", Host: host}
	if p.Username != "" {
		u.User = url.UserPassword(p.Username, p.Password.Unmask())
	}
	return &proxySelector{proxyURL: u, ignored: ignored}, nil
}

func (s *proxySelector) proxyFor(req *http.Request) (*url.URL, error) {
	if s.bypass(req.URL.Hostname()) {
		return nil, nil
	}
	return s.proxyURL, nil
}

func (s *proxySelector) bypass(host string) bool {
	for _, re := range s.ignored {
		if re.MatchString(host) {
			return true
		}
	}
	return false
}

// NewClientFromConfig assembles the complete Hub client stack: transport,
// circuit-broken retrying BaseClient and authenticated Client.
func NewClientFromConfig(hubCfg config.HubConfig, proxy config.ProxyConfig, opts ...ClientOption) (*Client, error) {
	httpClient, err := NewHTTPClient(hubCfg, proxy)
	if err != nil {
		return nil, err
	}
	base := NewBaseClient(httpClient, "hub", DefaultRetryPolicy(), hubCfg.UserAgent)
	return NewClient(base, hubCfg, opts...)
}
