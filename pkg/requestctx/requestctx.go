// Package requestctx carries the tenant and the client address of the
// current request through context.Context.
package requestctx

import (
	"context"
	"net"
	"net/http"
	"strings"
)

// contextKey is a value for use with context.WithValue. It's used as
// a pointer so it fits in an interface{} without allocation.
type contextKey struct {
	name string
}

func (k *contextKey) String() string {
	return "authhero context value " + k.name
}

const (
	TenantHeader         = "tenant-id"
	ForwardedForHeader   = "X-Forwarded-For"
	CFConnectingIPHeader = "CF-Connecting-IP"
)

var (
	tenantKey    = &contextKey{"TenantID"}
	clientIPKey  = &contextKey{"ClientIP"}
	userAgentKey = &contextKey{"UserAgent"}
)

func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantKey, tenantID)
}

// TenantID returns the tenant of the request or "".
func TenantID(ctx context.Context) string {
	v, _ := ctx.Value(tenantKey).(string)
	return v
}

func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey, ip)
}

// ClientIP returns the caller's address or "" when unknown.
func ClientIP(ctx context.Context) string {
	v, _ := ctx.Value(clientIPKey).(string)
	return v
}

func WithUserAgent(ctx context.Context, ua string) context.Context {
	return context.WithValue(ctx, userAgentKey, ua)
}

func UserAgent(ctx context.Context) string {
	v, _ := ctx.Value(userAgentKey).(string)
	return v
}

// Middleware stores tenant, client IP and user agent of every request.
// Requests without a tenant header fall back to defaultTenant.
func Middleware(defaultTenant string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tenant := r.Header.Get(TenantHeader)
			if tenant == "" {
				tenant = defaultTenant
			}
			ctx := WithTenantID(r.Context(), tenant)
			ctx = WithClientIP(ctx, remoteIP(r))
			ctx = WithUserAgent(ctx, r.UserAgent())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// remoteIP prefers proxy headers over the socket address. Only the first
// X-Forwarded-For entry is used.
func remoteIP(r *http.Request) string {
	if ip := r.Header.Get(CFConnectingIPHeader); ip != "" {
		return strings.TrimSpace(ip)
	}
	if fwd := r.Header.Get(ForwardedForHeader); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
