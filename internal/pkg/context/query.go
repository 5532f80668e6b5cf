// Package context provides context utilities for the activator.
package context

import (
	"context"
)

type contextKey string

const (
	// QueryIDKey is the context key for storing the query ID
	QueryIDKey contextKey = "query_id"

	// SiteKey is the context key for storing the site
	SiteKey contextKey = "site"
)

// WithQueryID adds a query ID to the context.
func WithQueryID(ctx context.Context, queryID string) context.Context {
	return context.WithValue(ctx, QueryIDKey, queryID)
}

// GetQueryID retrieves the query ID from context.
// Returns empty string if not found.
func GetQueryID(ctx context.Context) string {
	if queryID, ok := ctx.Value(QueryIDKey).(string); ok {
		return queryID
	}
	return ""
}

// WithSite adds a site to the context.
func WithSite(ctx context.Context, site string) context.Context {
	return context.WithValue(ctx, SiteKey, site)
}

// GetSite retrieves the site from context.
// Returns empty string if not found.
func GetSite(ctx context.Context) string {
	if site, ok := ctx.Value(SiteKey).(string); ok {
		return site
	}
	return ""
}
