// Package identity provides anonymous per-device identity primitives.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"time"
)

const (
	DeviceCookieName   = "companion_device_id"
	DeviceHeaderName   = "X-Companion-Device-ID"
	deviceCookieMaxAge = 365 * 24 * time.Hour
)

type contextKey int

const deviceIDKey contextKey = iota

var deviceIDPattern = regexp.MustCompile(`^anon_[a-f0-9]{32}$`)

// DeviceIDFromContext extracts the device ID from the request context.
func DeviceIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(deviceIDKey).(string); ok {
		return v
	}
	return ""
}

// WithDeviceID returns ctx carrying id.
func WithDeviceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, deviceIDKey, id)
}

// NewDeviceID generates a fresh anonymous device identifier.
func NewDeviceID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate device id: %w", err)
	}
	return "anon_" + hex.EncodeToString(buf), nil
}

// IsValidDeviceID reports whether id has the anonymous device format.
func IsValidDeviceID(id string) bool {
	return deviceIDPattern.MatchString(id)
}

func setDeviceCookie(w http.ResponseWriter, id string, isDev bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     DeviceCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(deviceCookieMaxAge.Seconds()),
		Expires:  time.Now().Add(deviceCookieMaxAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !isDev,
	})
}

// getOrCreateDeviceID prefers the cookie, then the header used by non-browser
// clients such as the CLI, then mints a new id.
func getOrCreateDeviceID(w http.ResponseWriter, r *http.Request, isDev bool) (string, error) {
	if c, err := r.Cookie(DeviceCookieName); err == nil && IsValidDeviceID(c.Value) {
		setDeviceCookie(w, c.Value, isDev)
		return c.Value, nil
	}
	if h := r.Header.Get(DeviceHeaderName); IsValidDeviceID(h) {
		return h, nil
	}

	id, err := NewDeviceID()
	if err != nil {
		return "", err
	}
	setDeviceCookie(w, id, isDev)
	w.Header().Set(DeviceHeaderName, id)
	return id, nil
}

// Middleware injects the anonymous per-device identity.
func Middleware(isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			deviceID, err := getOrCreateDeviceID(w, r, isDev)
			if err != nil {
				http.Error(w, `{"error":"failed to establish device identity"}`, http.StatusInternalServerError)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithDeviceID(r.Context(), deviceID)))
		})
	}
}

// IPFromRequest returns the remote IP without its port. Behind chi's RealIP
// middleware RemoteAddr may already be a bare address, which is returned as is.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
