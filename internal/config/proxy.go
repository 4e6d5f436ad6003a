package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Proxy validation messages.
const (
	ErrMsgProxyIgnoreHostsInvalid = "proxy ignore hosts does not compile to a valid regular expression"
	ErrMsgProxyCredentialsInvalid = "proxy username and password must both be populated or both be empty"
	ErrMsgProxyPortInvalid        = "proxy port must be greater than 0"
	ErrMsgProxyHostRequired       = "proxy port specified, but proxy host not specified"
	WarnMsgProxyHostNotSpecified  = "proxy host not specified"
)

// ProxyValidation is the outcome of ProxyConfig.Validate. Errors make the
// configuration unusable; Warnings are informational.
type ProxyValidation struct {
	Errors   map[string]string
	Warnings map[string]string
}

// Valid reports whether no errors were found.
func (v ProxyValidation) Valid() bool {
	return len(v.Errors) == 0
}

// Err folds all errors into one error, or nil when valid.
func (v ProxyValidation) Err() error {
	if v.Valid() {
		return nil
	}
	errs := make([]error, 0, len(v.Errors))
	for _, field := range []string{"port", "credentials", "ignored_hosts"} {
		if msg, ok := v.Errors[field]; ok {
			errs = append(errs, fmt.Errorf("%s: %s", field, msg))
		}
	}
	return errors.Join(errs...)
}

// Enabled reports whether a proxy host is configured.
func (p ProxyConfig) Enabled() bool {
	return strings.TrimSpace(p.Host) != ""
}

// Validate checks the port, credentials and ignored-host patterns.
func (p ProxyConfig) Validate() ProxyValidation {
	res := ProxyValidation{
		Errors:   make(map[string]string),
		Warnings: make(map[string]string),
	}
	if !p.Enabled() {
		res.Warnings["host"] = WarnMsgProxyHostNotSpecified
	}

	switch {
	case p.Enabled() && p.Port < 0:
		res.Errors["port"] = ErrMsgProxyPortInvalid
	case !p.Enabled() && p.Port > 0:
		res.Errors["port"] = ErrMsgProxyHostRequired
	}

	userSet := strings.TrimSpace(p.Username) != ""
	passSet := strings.TrimSpace(p.Password.Unmask()) != ""
	if userSet != passSet {
		res.Errors["credentials"] = ErrMsgProxyCredentialsInvalid
	}

	if _, err := p.IgnoredHostPatterns(); err != nil {
		res.Errors["ignored_hosts"] = ErrMsgProxyIgnoreHostsInvalid
	}
	return res
}

// IgnoredHostPatterns compiles the comma separated ignored-host list. Hosts
// matching any pattern bypass the proxy.
func (p ProxyConfig) IgnoredHostPatterns() ([]*regexp.Regexp, error) {
	if strings.TrimSpace(p.IgnoredHosts) == "" {
		return nil, nil
	}
	var patterns []*regexp.Regexp
	for _, raw := range strings.Split(p.IgnoredHosts, ",") {
		expr := strings.TrimSpace(raw)
		if expr == "" {
			continue
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("compiling ignored host %q: %w", expr, err)
		}
		patterns = append(patterns, re)
	}
	return patterns, nil
}
