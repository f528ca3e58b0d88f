// Package fingerprint canonicalizes story URLs and titles into the keys the
// dedup passes compare. Everything here is pure and deterministic.
package fingerprint

import (
	"net"
	"net/url"
	"sort"
	"strings"
	"unicode"
)

// Fingerprint is the normalized (URL, title key) pair identifying a story.
type Fingerprint struct {
	URL      string
	TitleKey string
}

var trackingQueryKeys = map[string]struct{}{
	"fbclid":  {},
	"gclid":   {},
	"igshid":  {},
	"mc_cid":  {},
	"mc_eid":  {},
	"mkt_tok": {},
	"msclkid": {},
	"ref":     {},
	"ref_src": {},
	"yclid":   {},
	"_hsenc":  {},
	"_hsmi":   {},
}

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "and": {}, "or": {}, "but": {}, "of": {}, "in": {}, "on": {},
	"at": {}, "to": {}, "for": {}, "by": {}, "with": {}, "from": {}, "as": {}, "into": {},
	"onto": {}, "over": {}, "about": {}, "after": {}, "before": {}, "is": {}, "are": {},
	"was": {}, "were": {}, "be": {}, "been": {}, "being": {}, "has": {}, "have": {}, "had": {},
	"it": {}, "its": {}, "this": {}, "that": {}, "these": {}, "those": {}, "than": {},
	"via": {}, "amid": {}, "s": {},
}

func Normalize(rawURL, title string) Fingerprint {
	return Fingerprint{
		URL:      NormalizeURL(rawURL),
		TitleKey: TitleKey(title),
	}
}

// NormalizeURL returns the canonical form of raw, or "" when raw has no
// scheme or host.
func NormalizeURL(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}

	parsed, err := url.Parse(trimmed)
	if err != nil {
		return ""
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return ""
	}

	parsed.Scheme = strings.ToLower(parsed.Scheme)
	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return ""
	}
	port := parsed.Port()
	if (parsed.Scheme == "http" && port == "80") || (parsed.Scheme == "https" && port == "443") {
		port = ""
	}
	switch {
	case port != "":
		host = net.JoinHostPort(host, port)
	case strings.Contains(host, ":"):
		// IPv6 literal.
		host = "[" + host + "]"
	}
	parsed.Host = host
	parsed.User = nil
	parsed.Fragment = ""
	parsed.RawFragment = ""

	path := parsed.EscapedPath()
	for strings.Contains(path, "//") {
		path = strings.ReplaceAll(path, "//", "/")
	}
	path = strings.TrimRight(path, "/")
	parsed.Path = path
	parsed.RawPath = ""
	if unescaped, err := url.PathUnescape(path); err == nil {
		parsed.Path = unescaped
		parsed.RawPath = path
	}

	q := parsed.Query()
	for key := range q {
		lower := strings.ToLower(key)
		if strings.HasPrefix(lower, "utm_") {
			q.Del(key)
			continue
		}
		if _, ok := trackingQueryKeys[lower]; ok {
			q.Del(key)
		}
	}
	if len(q) > 0 {
		for key := range q {
			sort.Strings(q[key])
		}
		// Encode sorts by key.
		parsed.RawQuery = q.Encode()
	} else {
		parsed.RawQuery = ""
	}
	parsed.ForceQuery = false

	return parsed.String()
}

// TitleKey lower-cases title, strips punctuation, drops stop words and
// returns the remaining unique tokens sorted and space-joined.
func TitleKey(title string) string {
	tokens := tokenize(title)
	if len(tokens) == 0 {
		return ""
	}

	seen := make(map[string]struct{}, len(tokens))
	kept := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if _, stop := stopWords[token]; stop {
			continue
		}
		if _, dup := seen[token]; dup {
			continue
		}
		seen[token] = struct{}{}
		kept = append(kept, token)
	}
	sort.Strings(kept)
	return strings.Join(kept, " ")
}

// Tokens splits a title key back into its tokens.
func Tokens(key string) []string {
	return strings.Fields(key)
}

func tokenize(text string) []string {
	lowered := strings.ToLower(strings.TrimSpace(text))
	if lowered == "" {
		return nil
	}
	// Apostrophes are dropped rather than split on so "vendor's" stays one token.
	lowered = strings.NewReplacer("'", "", "’", "").Replace(lowered)
	return strings.FieldsFunc(lowered, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}
