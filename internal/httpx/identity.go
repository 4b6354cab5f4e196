package httpx

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/ariefcatur/go-bookstore-orders/internal/orders"
)

// Identity is resolved by the upstream auth gateway and forwarded as headers.
const (
	HeaderUserID    = "X-User-ID"
	HeaderUserRole  = "X-User-Role"
	HeaderSessionID = "X-Session-ID"
	CookieSession   = "sid"

	RoleAdmin = "admin"
)

// actorFrom returns nil when the request carries no usable user id.
func actorFrom(r *http.Request) *orders.Actor {
	raw := strings.TrimSpace(r.Header.Get(HeaderUserID))
	if raw == "" {
		return nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return nil
	}
	return &orders.Actor{
		UserID: id,
		Admin:  strings.EqualFold(strings.TrimSpace(r.Header.Get(HeaderUserRole)), RoleAdmin),
	}
}

func sessionID(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get(HeaderSessionID)); v != "" {
		return v
	}
	if c, err := r.Cookie(CookieSession); err == nil {
		return strings.TrimSpace(c.Value)
	}
	return ""
}
