package assignment

import (
	"fmt"
	"net/url"
	"strings"
)

// NormalizeURL standardizes a URL so one assignment maps to one key.
// It lowercases the scheme and host, removes default ports, drops the
// query and fragment, and trims a trailing slash.
func NormalizeURL(rawURL string) (string, error) {
	trimmed := strings.TrimSpace(rawURL)
	if trimmed == "" {
		return "", fmt.Errorf("empty url")
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if u.Scheme == "http" && strings.HasSuffix(u.Host, ":80") {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" && strings.HasSuffix(u.Host, ":443") {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""
	u.RawFragment = ""
	u.RawQuery = ""
	u.ForceQuery = false
	if len(u.Path) > 1 {
		u.Path = strings.TrimRight(u.Path, "/")
		u.RawPath = ""
	}

	return u.String(), nil
}

// ResolveURL makes ref absolute against base. Empty refs stay empty.
func ResolveURL(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	parsed, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	if base == nil || parsed.IsAbs() {
		return parsed.String()
	}
	return base.ResolveReference(parsed).String()
}

// CompletionKey resolves rawURL against base and normalizes it. Paths copied
// from Canvas such as "/courses/4/assignments/1" become absolute; anything
// that still lacks a scheme and host is rejected with ErrInvalidURL.
func CompletionKey(base *url.URL, rawURL string) (string, error) {
	if strings.TrimSpace(rawURL) == "" {
		return "", fmt.Errorf("%w: empty url", ErrInvalidURL)
	}
	key, err := NormalizeURL(ResolveURL(base, rawURL))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	u, err := url.Parse(key)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return "", fmt.Errorf("%w: %q is not an absolute http(s) url", ErrInvalidURL, rawURL)
	}
	return key, nil
}

// Key returns the dedup key of an assignment within one batch.
func Key(a Assignment) string {
	if a.URL != "" {
		if norm, err := NormalizeURL(a.URL); err == nil {
			return norm
		}
		return a.URL
	}
	if a.ID != "" {
		return "id:" + a.ID
	}
	return "title:" + strings.ToLower(strings.TrimSpace(a.Title)) + "|" + strings.ToLower(strings.TrimSpace(a.Course))
}
