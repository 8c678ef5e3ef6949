package middleware

import (
	"net/http"
	"strconv"
	"strings"
)

// CORSConfig holds CORS configuration options.
type CORSConfig struct {
	// AllowedOrigins lists exact origins or "*.example.com" subdomain
	// patterns. Empty denies every cross-origin request.
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
	ExposedHeaders []string
	// AllowCredentials must stay false when an origin pattern is "*".
	AllowCredentials bool
	// MaxAge is the Access-Control-Max-Age value in seconds.
	MaxAge int
}

// DefaultCORSConfig returns the defaults for dashboard origins.
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowedOrigins: []string{},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{
			"Content-Type",
			"Accept",
			"X-Request-ID",
			"X-Principal-ID",
			"X-Tenant-ID",
			"X-Principal-Role",
		},
		ExposedHeaders: []string{
			"X-Request-ID",
			"X-RateLimit-Remaining",
			"Retry-After",
		},
		AllowCredentials: false,
		MaxAge:           86400,
	}
}

// CORS handles cross-origin requests and preflights for allowed origins.
// Requests from other origins proceed without CORS headers and are blocked
// by the browser; their preflights get 403.
func CORS(cfg CORSConfig) func(http.Handler) http.Handler {
	methods := strings.Join(cfg.AllowedMethods, ", ")
	headers := strings.Join(cfg.AllowedHeaders, ", ")
	exposed := strings.Join(cfg.ExposedHeaders, ", ")
	maxAge := ""
	if cfg.MaxAge > 0 {
		maxAge = strconv.Itoa(cfg.MaxAge)
	}
	allowed := newOriginSet(cfg.AllowedOrigins)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}

			if !allowed.contains(origin) {
				if r.Method == http.MethodOptions {
					w.WriteHeader(http.StatusForbidden)
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
			if cfg.AllowCredentials {
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}
			if exposed != "" {
				w.Header().Set("Access-Control-Expose-Headers", exposed)
			}

			if r.Method == http.MethodOptions {
				w.Header().Set("Access-Control-Allow-Methods", methods)
				w.Header().Set("Access-Control-Allow-Headers", headers)
				if maxAge != "" {
					w.Header().Set("Access-Control-Max-Age", maxAge)
				}
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// OriginChecker returns a websocket CheckOrigin func using the CORS origin
// rules. Requests without an Origin header (non-browser clients) pass.
// With no origins configured only same-host browser origins pass.
func OriginChecker(allowedOrigins []string) func(r *http.Request) bool {
	allowed := newOriginSet(allowedOrigins)
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if allowed.contains(origin) {
			return true
		}
		host := strings.ToLower(origin)
		if i := strings.Index(host, "://"); i >= 0 {
			host = host[i+3:]
		}
		return host == strings.ToLower(r.Host)
	}
}

type originSet struct {
	exact    map[string]bool
	suffixes []string // ".example.com" from "*.example.com"
}

func newOriginSet(origins []string) originSet {
	s := originSet{exact: make(map[string]bool, len(origins))}
	for _, o := range origins {
		o = strings.ToLower(o)
		if strings.HasPrefix(o, "*.") {
			s.suffixes = append(s.suffixes, strings.TrimPrefix(o, "*"))
			continue
		}
		s.exact[o] = true
	}
	return s
}

func (s originSet) contains(origin string) bool {
	origin = strings.ToLower(origin)
	if s.exact[origin] {
		return true
	}
	for _, suffix := range s.suffixes {
		if !strings.HasSuffix(origin, suffix) {
			continue
		}
		// "sub.example.com" matches, "notexample.com" does not.
		prefix := strings.TrimSuffix(origin, suffix)
		if i := strings.Index(prefix, "://"); i >= 0 && i+3 < len(prefix) {
			return true
		}
	}
	return false
}
