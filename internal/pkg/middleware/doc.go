// Package middleware provides HTTP middleware components for the activator server.
//
// Available middleware:
//   - RateLimiter: Per-client rate limiting using token bucket algorithm
//   - Logging: Request logging with status capture
//   - Recover: Panic recovery with sanitized 500 responses
//
// Usage:
//
//	rl := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
//	handler = rl.Middleware(middleware.Logging(log)(handler))
package middleware
