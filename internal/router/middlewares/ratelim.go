package middlewares

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/sethvargo/go-limiter/httplimit"
	"github.com/sethvargo/go-limiter/memorystore"
)

// RateLimiterConfig specifies a default rate limiting configuration, and optional custom rate limiting
// rules for particular routes. Routes are identified by their path template (e.g: /api/v1/wallets/{address}/sync).
type RateLimiterConfig struct {
	Default RateLimiterRouteConfig

	RouteLimits map[string]RateLimiterRouteConfig
}

// RateLimiterRouteConfig specifies the maximum request per interval, and
// interval length for a rate limiting rule.
type RateLimiterRouteConfig struct {
	MaxRPI   uint64
	Interval time.Duration
}

// RateLimitController creates a new middleware to rate limit requests.
// The rate limiting key is the client ip:
// 1. It will use an existing X-Forwarded-For IP included by a reverse proxy.
// 2. If 1. isn't present, it will use the connection remote address.
func RateLimitController(cfg RateLimiterConfig) (mux.MiddlewareFunc, error) {
	keyFunc := func(r *http.Request) (string, error) {
		if ip, ok := r.Context().Value(ContextIPAddress).(string); ok && ip != "" {
			return ip, nil
		}
		ip, err := extractClientIP(r)
		if err != nil {
			return "", fmt.Errorf("extract client ip: %s", err)
		}
		return ip, nil
	}

	defaultRL, err := createRateLimiter(cfg.Default, keyFunc)
	if err != nil {
		return nil, fmt.Errorf("creating default rate limiter: %s", err)
	}
	customRLs := make(map[string]*httplimit.Middleware, len(cfg.RouteLimits))
	for route, routeCfg := range cfg.RouteLimits {
		customRLs[route], err = createRateLimiter(routeCfg, keyFunc)
		if err != nil {
			return nil, fmt.Errorf("creating custom rate limiter for route %s: %s", route, err)
		}
	}

	return func(next http.Handler) http.Handler {
		defaultRLHandler := defaultRL.Handle(next)
		customRLHandlers := make(map[string]http.Handler, len(customRLs))
		for route := range customRLs {
			customRLHandlers[route] = customRLs[route].Handle(next)
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip, err := extractClientIP(r)
			if err == nil {
				r = r.WithContext(context.WithValue(r.Context(), ContextIPAddress, ip))
			}

			m := defaultRLHandler
			if route := mux.CurrentRoute(r); route != nil {
				if tpl, err := route.GetPathTemplate(); err == nil {
					if customLimiter, ok := customRLHandlers[tpl]; ok {
						m = customLimiter
					}
				}
			}
			m.ServeHTTP(w, r)
		})
	}, nil
}

func createRateLimiter(cfg RateLimiterRouteConfig, kf httplimit.KeyFunc) (*httplimit.Middleware, error) {
	store, err := memorystore.New(&memorystore.Config{
		Tokens:   cfg.MaxRPI,
		Interval: cfg.Interval,
	})
	if err != nil {
		return nil, fmt.Errorf("creating memory store: %s", err)
	}
	m, err := httplimit.NewMiddleware(store, kf)
	if err != nil {
		return nil, fmt.Errorf("creating httplimiter: %s", err)
	}
	return m, nil
}

func extractClientIP(r *http.Request) (string, error) {
	// Use X-Forwarded-For IP if present.
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ip := strings.TrimSpace(strings.Split(xff, ",")[0])
		return ip, nil
	}

	// Use the request remote address.
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return "", fmt.Errorf("getting ip from remote addr: %s", err)
	}
	return ip, nil
}
