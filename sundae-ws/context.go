package sundaews

import (
	"context"
	"encoding/json"
	"net/http"
)

// ConnInfo describes the connection an operation arrived on.
type ConnInfo struct {
	ID          string
	InitPayload json.RawMessage
	Request     *http.Request
}

type connInfoKey struct{}

// WithConnInfo returns a copy of ctx carrying info.
func WithConnInfo(ctx context.Context, info *ConnInfo) context.Context {
	return context.WithValue(ctx, connInfoKey{}, info)
}

// ConnInfoFromContext returns the connection stored in ctx.
func ConnInfoFromContext(ctx context.Context) (*ConnInfo, bool) {
	info, ok := ctx.Value(connInfoKey{}).(*ConnInfo)
	return info, ok
}

// ConnectionID returns the id of the connection stored in ctx, or "".
func ConnectionID(ctx context.Context) string {
	if info, ok := ConnInfoFromContext(ctx); ok {
		return info.ID
	}
	return ""
}
