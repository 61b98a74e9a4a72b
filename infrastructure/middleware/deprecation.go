package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/acton-service/acton-service/infrastructure/logging"
)

// DeprecationInfo describes a deprecated API version per RFC 8594,
// grounded on original_source/acton-service/src/versioning.rs's
// DeprecationInfo/versioned_router.
type DeprecationInfo struct {
	Version     string
	Replacement string
	SunsetDate  string // RFC 3339, optional
	Message     string // optional
}

func (d DeprecationInfo) deprecationHeader() string {
	return fmt.Sprintf("version=%q", d.Version)
}

func (d DeprecationInfo) linkHeader() string {
	return fmt.Sprintf("</%s/>; rel=\"successor-version\"", d.Replacement)
}

func (d DeprecationInfo) warningHeader() string {
	return fmt.Sprintf("299 - \"API version %s is deprecated. Please migrate to version %s. %s\"",
		d.Version, d.Replacement, d.Message)
}

// DeprecationMiddleware sets Deprecation/Sunset/Link/Warning response
// headers for a deprecated API version and logs each access.
type DeprecationMiddleware struct {
	info   DeprecationInfo
	logger *logging.Logger
}

// NewDeprecationMiddleware builds a DeprecationMiddleware for info.
func NewDeprecationMiddleware(info DeprecationInfo, logger *logging.Logger) *DeprecationMiddleware {
	return &DeprecationMiddleware{info: info, logger: logger}
}

// Handler wraps next, tagging every response with deprecation headers.
func (m *DeprecationMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.logger != nil {
			fields := map[string]interface{}{
				"path":                r.URL.Path,
				"deprecated_version":  m.info.Version,
				"replacement_version": m.info.Replacement,
			}
			if m.info.SunsetDate != "" {
				fields["sunset_date"] = m.info.SunsetDate
			}
			m.logger.WithContext(r.Context()).WithFields(fields).Warn("deprecated API version accessed")
		}

		header := w.Header()
		header.Set("Deprecation", m.info.deprecationHeader())
		if m.info.SunsetDate != "" {
			header.Set("Sunset", m.info.SunsetDate)
		}
		header.Set("Link", m.info.linkHeader())
		if m.info.Message != "" {
			header.Set("Warning", m.info.warningHeader())
		}

		next.ServeHTTP(w, r)
	})
}

// DeprecationInfoWithPrefix pairs a DeprecationInfo with the path prefix it
// applies to, mirroring config.DeprecatedVersionConfig.
type DeprecationInfoWithPrefix struct {
	DeprecationInfo
	PathPrefix string
}

// ChainDeprecationMiddleware wraps next so that requests whose path starts
// with one of infos' PathPrefix get that version's deprecation headers;
// everything else passes through untouched. Built for
// cmd/appserver's buildMiddlewareChain, which has no per-route mux to hang
// per-version middleware off of.
func ChainDeprecationMiddleware(next http.Handler, infos []DeprecationInfoWithPrefix, logger *logging.Logger) http.Handler {
	if len(infos) == 0 {
		return next
	}

	wrapped := make([]*DeprecationMiddleware, len(infos))
	for i, info := range infos {
		wrapped[i] = NewDeprecationMiddleware(info.DeprecationInfo, logger)
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for i, info := range infos {
			if info.PathPrefix != "" && strings.HasPrefix(r.URL.Path, info.PathPrefix) {
				wrapped[i].Handler(next).ServeHTTP(w, r)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
