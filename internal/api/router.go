package api

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/saveenergy/pagevitals/internal/config"
	"github.com/saveenergy/pagevitals/internal/ingest"
	"github.com/saveenergy/pagevitals/internal/logging"
	"github.com/saveenergy/pagevitals/internal/websocket"
	"github.com/saveenergy/pagevitals/pkg/vitals"
)

// LiveHandler serves the live report feed for one page URL ("" for all).
type LiveHandler func(w http.ResponseWriter, r *http.Request, pageURL string)

type Router struct {
	handler          *Handler
	ingest           *ingest.Handler
	live             LiveHandler
	limiter          *RateLimiter
	allowedOrigins   []string
	clientIPResolver *ClientIPResolver
	reportingPath    string
}

func NewRouter(handler *Handler, ingestHandler *ingest.Handler) *Router {
	return &Router{
		handler:       handler,
		ingest:        ingestHandler,
		reportingPath: vitals.DefaultReportingEndpoint,
	}
}

func (r *Router) GetLimiter() *RateLimiter {
	return r.limiter
}

func (r *Router) SetRateLimiter(cfg *config.Config) {
	r.limiter = NewRateLimiter(cfg)
}

func (r *Router) SetClientIPResolver(resolver *ClientIPResolver) {
	r.clientIPResolver = resolver
	if r.ingest != nil {
		r.ingest.SetClientIPFunc(resolver.ForStorage)
	}
}

func (r *Router) SetLiveHandler(h LiveHandler) {
	r.live = h
}

// SetReportingPath overrides the path aggregators post to.
func (r *Router) SetReportingPath(path string) {
	if strings.HasPrefix(path, "/") {
		r.reportingPath = path
	}
}

func (r *Router) SetAllowedOrigins(origins []string) {
	r.allowedOrigins = origins
}

func (r *Router) SetupRoutes() http.Handler {
	mux := http.NewServeMux()

	limited := func(h http.HandlerFunc) http.HandlerFunc {
		if r.limiter != nil {
			return applyRateLimit(r.limiter, h)
		}
		return h
	}
	v1 := func(method, path string, handler http.HandlerFunc) {
		mux.HandleFunc(method+" /api/v1"+path, limited(handler))
	}

	mux.HandleFunc("POST "+r.reportingPath, limited(r.ingest.Ingest))
	v1("GET", "/reports/{id}", r.ingest.Get)
	v1("GET", "/pages/summary", r.ingest.Summary)
	v1("GET", "/pages", r.ingest.Pages)
	v1("GET", "/version", r.handler.GetVersion)

	if r.live != nil {
		v1("GET", "/live", func(w http.ResponseWriter, req *http.Request) {
			r.live(w, req, req.URL.Query().Get("url"))
		})
	}

	mux.HandleFunc("GET /health", r.handler.HealthCheck)

	// Wrap with middleware (outermost runs first)
	var handler http.Handler = mux
	handler = r.CORSMiddleware(handler)
	handler = SecurityHeadersMiddleware(handler)
	handler = r.LoggingMiddleware(handler)

	return handler
}

func (r *Router) CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		origin := req.Header.Get("Origin")
		originAllowed := origin != "" && r.isAllowedOrigin(origin)
		if originAllowed {
			allowOrigin := origin
			if r.isAllowAllOrigins() {
				allowOrigin = "*"
			}
			w.Header().Set("Access-Control-Allow-Origin", allowOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Encoding, X-Report-ID")
			w.Header().Set("Access-Control-Max-Age", "86400")
			if allowOrigin != "*" {
				w.Header().Add("Vary", "Origin")
			}
		}
		if req.Method == http.MethodOptions {
			if origin != "" && !originAllowed {
				respondJSON(w, map[string]string{"error": "origin not allowed"}, http.StatusForbidden)
				return
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, req)
	})
}

func (r *Router) isAllowedOrigin(origin string) bool {
	if len(r.allowedOrigins) == 0 {
		return false
	}
	return websocket.OriginAllowed(origin, r.allowedOrigins)
}

func (r *Router) isAllowAllOrigins() bool {
	for _, allowed := range r.allowedOrigins {
		if allowed == "*" {
			return true
		}
	}
	return false
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := rw.ResponseWriter.(http.Hijacker); ok {
		return hijacker.Hijack()
	}
	return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
}

func (rw *responseWriter) Flush() {
	if flusher, ok := rw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (r *Router) LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		path := req.URL.Path

		// Ingest is the hot path; live is long-lived.
		skipLog := path == r.reportingPath || strings.HasSuffix(path, "/live")

		if strings.HasPrefix(path, "/api/") && !skipLog {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, req)

			duration := time.Since(start)
			logging.Info("HTTP request",
				logging.Field{Key: "method", Value: req.Method},
				logging.Field{Key: "path", Value: path},
				logging.Field{Key: "status", Value: rw.statusCode},
				logging.Field{Key: "duration_ms", Value: float64(duration.Microseconds()) / 1000},
				logging.Field{Key: "ip", Value: r.resolveClientIP(req)},
			)
		} else {
			next.ServeHTTP(w, req)
		}
	})
}

func SecurityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		next.ServeHTTP(w, r)
	})
}

func (r *Router) resolveClientIP(req *http.Request) string {
	if r.clientIPResolver == nil {
		return ipString(parseRemoteIP(req.RemoteAddr))
	}
	return r.clientIPResolver.FromRequest(req)
}
