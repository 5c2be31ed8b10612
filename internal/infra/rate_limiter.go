package infra

import (
	"golang.org/x/time/rate"
)

// NewRateLimiter returns a token bucket refilled at perSecond with the given burst.
func NewRateLimiter(burst int, perSecond float64) *rate.Limiter {
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}

// Limiters groups the REST budgets of one exchange account.
type Limiters struct {
	Order   *rate.Limiter
	Account *rate.Limiter
	Market  *rate.Limiter
}

// BitgetLimiters stays under Bitget's 10 req/s per-UID order and account limits.
func BitgetLimiters() Limiters {
	return Limiters{
		Order:   NewRateLimiter(5, 10),
		Account: NewRateLimiter(5, 10),
		Market:  NewRateLimiter(10, 20),
	}
}

// UpbitLimiters follows Upbit's 8 req/s order and 30 req/s exchange limits.
func UpbitLimiters() Limiters {
	return Limiters{
		Order:   NewRateLimiter(4, 8),
		Account: NewRateLimiter(10, 30),
		Market:  NewRateLimiter(5, 10),
	}
}
