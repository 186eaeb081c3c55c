package identity

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func captureDevice(t *testing.T, isDev bool, req *http.Request) (string, *httptest.ResponseRecorder) {
	t.Helper()
	var got string
	h := Middleware(isDev)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		got = DeviceIDFromContext(r.Context())
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return got, rr
}

func TestMiddlewareMintsDeviceID(t *testing.T) {
	t.Parallel()

	id, rr := captureDevice(t, true, httptest.NewRequest(http.MethodGet, "/api/companion/state", nil))
	if !IsValidDeviceID(id) {
		t.Fatalf("expected a valid device id, got %q", id)
	}
	cookies := rr.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != DeviceCookieName || cookies[0].Value != id {
		t.Fatalf("expected device cookie, got %+v", cookies)
	}
	if cookies[0].Secure {
		t.Fatal("dev cookies must not be Secure")
	}
	if rr.Header().Get(DeviceHeaderName) != id {
		t.Fatal("new device id should be echoed in the response header")
	}
}

func TestMiddlewareReusesCookieAndHeader(t *testing.T) {
	t.Parallel()

	known, err := NewDeviceID()
	if err != nil {
		t.Fatalf("NewDeviceID failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: DeviceCookieName, Value: known})
	if id, rr := captureDevice(t, false, req); id != known {
		t.Fatalf("cookie id not reused: %q", id)
	} else if c := rr.Result().Cookies(); len(c) != 1 || !c[0].Secure {
		t.Fatalf("expected refreshed secure cookie, got %+v", c)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(DeviceHeaderName, known)
	if id, _ := captureDevice(t, false, req); id != known {
		t.Fatalf("header id not reused: %q", id)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: DeviceCookieName, Value: "../../etc/passwd"})
	if id, _ := captureDevice(t, false, req); id == "../../etc/passwd" || !IsValidDeviceID(id) {
		t.Fatalf("invalid cookie must be replaced, got %q", id)
	}
}

func TestIPFromRequest(t *testing.T) {
	t.Parallel()

	tests := []struct {
		remoteAddr string
		want       string
	}{
		{"203.0.113.7:51234", "203.0.113.7"},
		{"[2001:db8::1]:443", "2001:db8::1"},
		{"203.0.113.7", "203.0.113.7"},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/api/companion/stream", nil)
		req.RemoteAddr = tt.remoteAddr
		if got := IPFromRequest(req); got != tt.want {
			t.Errorf("IPFromRequest(%q) = %q, want %q", tt.remoteAddr, got, tt.want)
		}
	}
}
