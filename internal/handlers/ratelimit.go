package handlers

import (
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/animehub/backend/internal/metrics"
)

// allowRequest consults limiter and answers 429 on refusal.
func allowRequest(w http.ResponseWriter, r *http.Request, limiter RateLimiter, scope string) bool {
	if limiter == nil {
		return true
	}
	ok, wait := limiter.Allow(rateLimitKey(r, scope))
	if ok {
		return true
	}
	metrics.RateLimitHits.WithLabelValues(scope).Inc()
	if wait > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
	}
	respondError(r.Context(), w, http.StatusTooManyRequests, codeRateLimited, "too many requests")
	return false
}

func rateLimitKey(r *http.Request, scope string) string {
	ip := clientIP(r)
	if scope == "" {
		return ip
	}
	return fmt.Sprintf("%s:%s", scope, ip)
}

func clientIP(r *http.Request) string {
	if forwarded := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	return strings.TrimSpace(r.RemoteAddr)
}
