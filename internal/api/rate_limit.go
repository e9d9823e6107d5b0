package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/pixelconv/internal/ratelimit"
)

// RateLimiter charges cost tokens to subject.
type RateLimiter interface {
	AllowN(ctx context.Context, subject string, cost int) (ratelimit.Decision, error)
}

// withRateLimit charges job writes against the caller's bucket. Starting a
// job costs one token per target format; every other write costs one.
func (s *Server) withRateLimit(next http.Handler) http.Handler {
	if s.rateLimiter == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !shouldRateLimit(r) {
			next.ServeHTTP(w, r)
			return
		}

		route := routeLabel(r.URL.Path)
		subject := strings.TrimSpace(r.Header.Get(s.rateLimitUserIDHeader))
		if subject == "" {
			subject = "anonymous"
		}
		subject = subject + ":" + route
		cost := s.requestCost(r)

		decision, err := s.rateLimiter.AllowN(r.Context(), subject, cost)
		if err != nil {
			s.logger.Printf("rate limiter check failed for subject=%s cost=%d err=%v", subject, cost, err)
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(decision.Remaining, 10))
		w.Header().Set("X-RateLimit-Cost", strconv.Itoa(cost))
		if decision.Allowed {
			next.ServeHTTP(w, r)
			return
		}

		retryAfter := int(decision.RetryAfter.Round(time.Second).Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		s.metrics.rateLimitRejected.WithLabelValues(route).Inc()
		writeJSON(w, http.StatusTooManyRequests, map[string]string{
			"error": "rate limit exceeded",
		})
	})
}

// requestCost is the number of target formats of the job being started, or
// one for any other request. Lookup failures fall back to one and leave
// the error to the handler.
func (s *Server) requestCost(r *http.Request) int {
	jobID, err := extractJobIDFromStartPath(r.URL.Path)
	if err != nil {
		return 1
	}
	job, ok, err := s.jobStore.Get(r.Context(), jobID)
	if err != nil || !ok || len(job.Targets) == 0 {
		return 1
	}
	return len(job.Targets)
}

func shouldRateLimit(r *http.Request) bool {
	if r.Method == http.MethodGet {
		return false
	}
	return strings.HasPrefix(r.URL.Path, "/v1/jobs")
}

func extractJobIDFromStartPath(path string) (string, error) {
	trimmed := strings.TrimPrefix(path, "/v1/jobs/")
	parts := strings.Split(strings.Trim(trimmed, "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "start" {
		return "", errors.New("expected path format /v1/jobs/{id}/start")
	}
	return parts[0], nil
}
