package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/acton-service/acton-service/config"
	"github.com/acton-service/acton-service/infrastructure/errors"
	internalhttputil "github.com/acton-service/acton-service/infrastructure/httputil"
	"github.com/acton-service/acton-service/infrastructure/logging"
	"github.com/acton-service/acton-service/ratelimit/routematch"
)

// RouteRateLimiter enforces per-route request budgets resolved by
// ratelimit/routematch, falling back to a global per-user/per-client rpm
// when no route pattern matches. Grounded on spec.md §4.6 and the same
// per-key token-bucket approach as RateLimiter.
type RouteRateLimiter struct {
	patterns     *routematch.Patterns
	perUserRPM   int
	perClientRPM int
	burstDefault int
	logger       *logging.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewRouteRateLimiter builds a RouteRateLimiter from cfg's global defaults
// and per-route overrides.
func NewRouteRateLimiter(cfg config.RateLimitConfig, logger *logging.Logger) *RouteRateLimiter {
	return &RouteRateLimiter{
		patterns:     routematch.Compile(cfg.Routes),
		perUserRPM:   cfg.PerUserRPM,
		perClientRPM: cfg.PerClientRPM,
		burstDefault: 1,
		logger:       logger,
		limiters:     make(map[string]*rate.Limiter),
	}
}

// resolve picks the request's rpm/burst/per-user budget. authenticated
// reports whether the caller already has a user ID in context: per spec.md
// §6, rate_limit.per_user_rpm applies as the no-route-match fallback for
// authenticated requests, ahead of the plain per-client default.
func (rl *RouteRateLimiter) resolve(method, path string, authenticated bool) (rpm int, burst int, perUser bool) {
	if routeCfg, ok := rl.patterns.Match(method, path); ok {
		burst := routeCfg.BurstSize
		if burst <= 0 {
			burst = rl.burstDefault
		}
		return routeCfg.RequestsPerMinute, burst, routeCfg.PerUser
	}
	if authenticated && rl.perUserRPM > 0 {
		return rl.perUserRPM, rl.burstDefault, true
	}
	return rl.perClientRPM, rl.burstDefault, false
}

func (rl *RouteRateLimiter) limiterFor(key string, rpm, burst int) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	limiter, ok := rl.limiters[key]
	if !ok {
		perSecond := float64(rpm) / 60
		limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		rl.limiters[key] = limiter
	}
	return limiter
}

// Handler returns the per-route rate limiting middleware.
func (rl *RouteRateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uid := GetUserID(r.Context())
		rpm, burst, perUser := rl.resolve(r.Method, r.URL.Path, uid != "")
		if rpm <= 0 {
			next.ServeHTTP(w, r)
			return
		}

		identity := internalhttputil.ClientIP(r)
		if perUser && uid != "" {
			identity = uid
		}
		if identity == "" {
			identity = "unknown"
		}

		key := routematch.NormalizePath(r.URL.Path) + "|" + identity
		limiter := rl.limiterFor(key, rpm, burst)

		if !limiter.Allow() {
			if rl.logger != nil {
				rl.logger.LogSecurityEvent(r.Context(), "route_rate_limit_exceeded", map[string]interface{}{
					"identity": identity,
					"path":     r.URL.Path,
					"method":   r.Method,
					"rpm":      rpm,
				})
			}
			serviceErr := errors.RateLimitExceeded(rpm, time.Minute.String())
			if seconds := int(math.Ceil(time.Minute.Seconds() / float64(rpm))); seconds > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(seconds))
			}
			internalhttputil.WriteErrorResponse(w, r, serviceErr.HTTPStatus, string(serviceErr.Code), serviceErr.Message, serviceErr.Details)
			return
		}

		next.ServeHTTP(w, r)
	})
}
