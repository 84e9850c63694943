package web

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	cleanupInterval = 1 * time.Minute
	visitorTimeout  = 3 * time.Minute
)

// visitor holds the token-bucket state for one client IP. Each visitor has
// its own lock so refills for different IPs never contend.
type visitor struct {
	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
}

// RateLimiter enforces a per-IP token bucket: rate tokens per second with a
// burst capacity.
type RateLimiter struct {
	visitors map[string]*visitor
	mu       sync.RWMutex

	rate     float64
	capacity float64
}

// NewRateLimiter creates the limiter and starts the background sweep that
// evicts idle visitors.
func NewRateLimiter(rate, capacity float64) *RateLimiter {
	rl := &RateLimiter{
		visitors: make(map[string]*visitor),
		rate:     rate,
		capacity: capacity,
	}
	go rl.sweep()
	return rl
}

func (rl *RateLimiter) getVisitor(ip string) *visitor {
	rl.mu.RLock()
	v, ok := rl.visitors[ip]
	rl.mu.RUnlock()
	if ok {
		return v
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if v, ok = rl.visitors[ip]; !ok {
		v = &visitor{
			tokens:     rl.capacity, // buckets start full
			lastRefill: time.Now(),
		}
		rl.visitors[ip] = v
	}
	return v
}

// Allow refills the visitor's bucket lazily from elapsed time and consumes
// one token if available.
func (rl *RateLimiter) Allow(ip string) bool {
	v := rl.getVisitor(ip)

	v.mu.Lock()
	defer v.mu.Unlock()

	now := time.Now()
	if elapsed := now.Sub(v.lastRefill).Seconds(); elapsed > 0 {
		v.tokens += elapsed * rl.rate
		if v.tokens > rl.capacity {
			v.tokens = rl.capacity
		}
		v.lastRefill = now
	}

	if v.tokens >= 1.0 {
		v.tokens--
		return true
	}
	return false
}

func (rl *RateLimiter) sweep() {
	for {
		time.Sleep(cleanupInterval)

		rl.mu.Lock()
		for ip, v := range rl.visitors {
			v.mu.Lock()
			if time.Since(v.lastRefill) > visitorTimeout {
				delete(rl.visitors, ip)
			}
			v.mu.Unlock()
		}
		rl.mu.Unlock()
	}
}

// Middleware wraps a handler and rejects over-limit requests with 429.
func (rl *RateLimiter) Middleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip := r.RemoteAddr
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			ip = fwd
		} else if strings.Contains(ip, ":") {
			ip = strings.Split(ip, ":")[0]
		}

		if !rl.Allow(ip) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(map[string]string{"error": "too many requests"})
			return
		}
		next(w, r)
	}
}
