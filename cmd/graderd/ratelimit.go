package main

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// rateLimiter applies a global limit plus a lazily created per-caller limit.
type rateLimiter struct {
	global      *rate.Limiter
	perCaller   sync.Map
	callerRate  rate.Limit
	callerBurst int
}

func newRateLimiter(globalRPS, callerRPS float64, callerBurst int) *rateLimiter {
	rl := &rateLimiter{
		callerRate:  rate.Limit(callerRPS),
		callerBurst: callerBurst,
	}
	if globalRPS > 0 {
		rl.global = rate.NewLimiter(rate.Limit(globalRPS), int(globalRPS)*2)
	}
	return rl
}

func (rl *rateLimiter) callerLimiter(caller string) *rate.Limiter {
	if l, ok := rl.perCaller.Load(caller); ok {
		return l.(*rate.Limiter)
	}
	l := rate.NewLimiter(rl.callerRate, rl.callerBurst)
	actual, _ := rl.perCaller.LoadOrStore(caller, l)
	return actual.(*rate.Limiter)
}

func (rl *rateLimiter) allow(caller string) bool {
	if rl.global != nil && !rl.global.Allow() {
		return false
	}
	if rl.callerRate > 0 && !rl.callerLimiter(caller).Allow() {
		return false
	}
	return true
}

func (rl *rateLimiter) middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.allow(c.ClientIP()) {
			rejectCount.WithLabelValues("rate_limited").Inc()
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, "too many requests")
			return
		}
		c.Next()
	}
}
