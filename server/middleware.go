package server

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// adminGuard authenticates the /admin/ endpoints. A request passes with the
// shared token in X-Admin-Token or with basic-auth credentials; with neither
// configured the endpoints are open (local development).
type adminGuard struct {
	username string
	password string
	token    string
}

func adminGuardFromEnv() *adminGuard {
	g := &adminGuard{
		username: os.Getenv("ADMIN_USERNAME"),
		password: os.Getenv("ADMIN_PASSWORD"),
		token:    os.Getenv("ADMIN_TOKEN"),
	}
	if !g.enabled() {
		slog.Warn("admin endpoints are unprotected; set ADMIN_TOKEN or ADMIN_USERNAME/ADMIN_PASSWORD")
	}
	return g
}

func (g *adminGuard) enabled() bool {
	return g.token != "" || (g.username != "" && g.password != "")
}

func (g *adminGuard) wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.enabled() || g.authorized(r) {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set("WWW-Authenticate", `Basic realm="reply-tender admin"`)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	})
}

func (g *adminGuard) authorized(r *http.Request) bool {
	if g.token != "" {
		sent := r.Header.Get("X-Admin-Token")
		if sent != "" && subtle.ConstantTimeCompare([]byte(sent), []byte(g.token)) == 1 {
			return true
		}
	}
	if g.username != "" && g.password != "" {
		user, pass, ok := r.BasicAuth()
		if ok &&
			subtle.ConstantTimeCompare([]byte(user), []byte(g.username)) == 1 &&
			subtle.ConstantTimeCompare([]byte(pass), []byte(g.password)) == 1 {
			return true
		}
	}
	return false
}

// rateLimiter caps admin requests per client IP over a fixed window.
type rateLimiter struct {
	enabled bool
	limit   int
	window  time.Duration

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	start time.Time
	hits  int
}

func rateLimiterFromEnv(ctx context.Context) *rateLimiter {
	l := &rateLimiter{
		enabled: os.Getenv("RATE_LIMIT_ENABLED") != "0",
		limit:   envInt("RATE_LIMIT_REQUESTS_PER_IP", 10),
		window:  time.Duration(envInt("RATE_LIMIT_WINDOW_SECONDS", 60)) * time.Second,
		buckets: make(map[string]*bucket),
	}
	if l.enabled {
		go l.sweep(ctx)
	}
	return l
}

func (l *rateLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	b := l.buckets[ip]
	if b == nil || now.Sub(b.start) >= l.window {
		l.buckets[ip] = &bucket{start: now, hits: 1}
		return true
	}
	b.hits++
	return b.hits <= l.limit
}

// sweep drops buckets whose window has long passed so idle IPs do not
// accumulate.
func (l *rateLimiter) sweep(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.mu.Lock()
			for ip, b := range l.buckets {
				if time.Since(b.start) > 2*l.window {
					delete(l.buckets, ip)
				}
			}
			l.mu.Unlock()
		}
	}
}

func (l *rateLimiter) wrap(next http.Handler) http.Handler {
	if !l.enabled {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !l.allow(ip) {
			slog.Warn("rate limit exceeded", slog.String("ip", ip), slog.String("path", r.URL.Path))
			w.Header().Set("Retry-After", strconv.Itoa(int(l.window/time.Second)))
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP prefers the first X-Forwarded-For hop, falling back to the
// connection's remote address with any port stripped.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	addr := r.RemoteAddr
	if i := strings.LastIndex(addr, ":"); i != -1 {
		addr = addr[:i]
	}
	return addr
}

// corsPolicy decides which browser origins may call the API. Development
// (ENV=dev or CORS_PERMISSIVE=1) allows any origin; otherwise only the
// CORS_ALLOWED_ORIGINS list, where a "*.domain" entry matches subdomains.
type corsPolicy struct {
	allowAll bool
	origins  []string
}

func corsPolicyFromEnv() *corsPolicy {
	p := &corsPolicy{}
	switch os.Getenv("ENV") {
	case "dev", "development":
		p.allowAll = true
	}
	if os.Getenv("CORS_PERMISSIVE") == "1" {
		p.allowAll = true
	}
	if raw := os.Getenv("CORS_ALLOWED_ORIGINS"); raw != "" {
		for _, o := range strings.Split(raw, ",") {
			if o = strings.TrimSpace(o); o != "" {
				p.origins = append(p.origins, o)
			}
		}
	}
	return p
}

const corsHeaders = "Content-Type, Authorization, X-Admin-Token, X-Correlation-ID"

func (p *corsPolicy) wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		switch {
		case p.allowAll:
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", corsHeaders)
		case origin != "" && p.originAllowed(origin):
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", corsHeaders)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (p *corsPolicy) originAllowed(origin string) bool {
	for _, allowed := range p.origins {
		if allowed == origin {
			return true
		}
		if domain, ok := strings.CutPrefix(allowed, "*."); ok {
			if strings.HasSuffix(origin, "."+domain) || strings.HasSuffix(origin, "://"+domain) {
				return true
			}
		}
	}
	return false
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
