// Package routematch compiles rate-limit route pattern configuration into
// an efficient, deterministic matcher. Grounded on
// _examples/original_source/acton-service/src/middleware/route_matcher.rs
// and spec.md §4.6.
package routematch

import (
	"regexp"
	"sort"
	"strings"

	"github.com/acton-service/acton-service/config"
)

var httpMethods = []string{"GET", "POST", "PUT", "DELETE", "PATCH", "HEAD", "OPTIONS"}

var uuidRegexp = regexp.MustCompile(`[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`)

type compiledPattern struct {
	method      string // "" means any method
	regex       *regexp.Regexp
	config      config.RouteRateLimitConfig
	specificity int
}

// Patterns is a compiled, immutable set of route rate-limit patterns.
// Matching is pure and deterministic; it performs no I/O.
type Patterns struct {
	methodExact map[string]config.RouteRateLimitConfig
	exact       map[string]config.RouteRateLimitConfig
	wildcards   []compiledPattern
}

// Compile compiles routes (pattern string -> config) into a Patterns set.
// See spec.md §4.6 for the compilation algorithm.
func Compile(routes map[string]config.RouteRateLimitConfig) *Patterns {
	p := &Patterns{
		methodExact: map[string]config.RouteRateLimitConfig{},
		exact:       map[string]config.RouteRateLimitConfig{},
	}

	for pattern, cfg := range routes {
		method, path := parseMethodPrefix(pattern)

		if hasWildcards(path) || strings.Contains(path, "{") {
			re := compilePatternToRegex(path)
			p.wildcards = append(p.wildcards, compiledPattern{
				method:      method,
				regex:       re,
				config:      cfg,
				specificity: specificity(path),
			})
			continue
		}

		if method != "" {
			p.methodExact[method+" "+path] = cfg
		} else {
			p.exact[path] = cfg
		}
	}

	sort.SliceStable(p.wildcards, func(i, j int) bool {
		return p.wildcards[i].specificity > p.wildcards[j].specificity
	})

	return p
}

// Match returns the rate limit config for the highest-specificity pattern
// matching (method, path), and ok=true if one matched.
func (p *Patterns) Match(method, path string) (config.RouteRateLimitConfig, bool) {
	normalized := NormalizePath(path)

	if cfg, ok := p.methodExact[method+" "+normalized]; ok {
		return cfg, true
	}
	if cfg, ok := p.exact[normalized]; ok {
		return cfg, true
	}
	for _, wc := range p.wildcards {
		if wc.method != "" && wc.method != method {
			continue
		}
		if wc.regex.MatchString(normalized) {
			return wc.config, true
		}
	}
	return config.RouteRateLimitConfig{}, false
}

// IsEmpty reports whether no patterns were compiled.
func (p *Patterns) IsEmpty() bool {
	return len(p.methodExact) == 0 && len(p.exact) == 0 && len(p.wildcards) == 0
}

func parseMethodPrefix(pattern string) (method, path string) {
	trimmed := strings.TrimSpace(pattern)
	for _, m := range httpMethods {
		if rest, ok := strings.CutPrefix(trimmed, m); ok {
			rest = strings.TrimLeft(rest, " \t")
			if strings.HasPrefix(rest, "/") {
				return m, rest
			}
		}
	}
	return "", trimmed
}

func hasWildcards(path string) bool {
	return strings.Contains(path, "*")
}

// compilePatternToRegex translates a wildcard/placeholder pattern to an
// anchored regex: `**` -> `.*`, `*` -> `[^/]+`, `{name}` -> `[^/]+`, regex
// metacharacters escaped.
func compilePatternToRegex(pattern string) *regexp.Regexp {
	var b strings.Builder
	b.WriteByte('^')

	runes := []rune(pattern)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		switch c {
		case '*':
			if i+1 < len(runes) && runes[i+1] == '*' {
				i++
				b.WriteString(".*")
			} else {
				b.WriteString("[^/]+")
			}
		case '{':
			for i < len(runes) && runes[i] != '}' {
				i++
			}
			b.WriteString("[^/]+")
		case '.', '+', '?', '(', ')', '[', ']', '^', '$', '|', '\\':
			b.WriteByte('\\')
			b.WriteRune(c)
		default:
			b.WriteRune(c)
		}
	}
	b.WriteByte('$')

	return regexp.MustCompile(b.String())
}

// specificity scores a wildcard pattern: each literal segment adds 10,
// each {placeholder} adds 7, each single `*` adds 5, each `**` adds 1,
// plus the pattern length as a tiebreaker.
func specificity(pattern string) int {
	score := 0
	for _, segment := range strings.Split(pattern, "/") {
		switch {
		case segment == "":
			continue
		case segment == "**":
			score += 1
		case segment == "*":
			score += 5
		case strings.Contains(segment, "{"):
			score += 7
		case !strings.Contains(segment, "*"):
			score += 10
		}
	}
	score += len(pattern)
	return score
}

// NormalizePath replaces UUID segments and purely-numeric segments with
// "{id}". It is idempotent: NormalizePath(NormalizePath(p)) == NormalizePath(p).
func NormalizePath(path string) string {
	normalized := uuidRegexp.ReplaceAllString(path, "{id}")

	segments := strings.Split(normalized, "/")
	for i, seg := range segments {
		if seg != "" && isAllDigits(seg) {
			segments[i] = "{id}"
		}
	}
	return strings.Join(segments, "/")
}

func isAllDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
