package rpc

import (
	"net/http"

	"golang.org/x/time/rate"
)

// RateLimit bounds the request rate of the whole JSON-RPC endpoint. A zero
// RequestsPerSecond disables the limit.
type RateLimit struct {
	RequestsPerSecond float64
	Burst             int
}

func (l RateLimit) limiter() *rate.Limiter {
	if l.RequestsPerSecond <= 0 {
		return nil
	}
	burst := l.Burst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(l.RequestsPerSecond), burst)
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	if s.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			s.metrics.RecordThrottle("global")
			writeError(w, http.StatusTooManyRequests, nil, codeRateLimited, "rate limit exceeded", ErrorData{Kind: "RateLimited", RequestID: requestIDFrom(r.Context())})
			return
		}
		next.ServeHTTP(w, r)
	})
}
