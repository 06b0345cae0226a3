package middleware

import (
	"log/slog"
	"mime"
	"net"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	apierrors "licensor/internal/errors"
)

// RequestHeader must accompany every state-changing request. A browser page
// cannot attach a custom header to a cross-origin request without a CORS
// preflight, and this API answers none.
const RequestHeader = "X-Licensor-Request"

// LocalRequestsOnly guards the loopback API against browser pages. Every
// request must name a local Host, which defeats DNS rebinding. Requests that
// change state must also come from a local Origin (or none) and carry either
// RequestHeader or a JSON content type.
func LocalRequestsOnly(logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if reason := rejectReason(r); reason != "" {
				logger.WarnContext(r.Context(), "request rejected",
					slog.String("reason", reason),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("host", r.Host),
					slog.String("origin", r.Header.Get("Origin")))

				problem := apierrors.NewProblemDetails(
					http.StatusForbidden,
					"/errors/forbidden",
					"Forbidden",
					"The license API only accepts requests from local clients",
					r.URL.Path,
				).WithExtension("trace_id", middleware.GetReqID(r.Context()))
				_ = render.Render(w, r, problem)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func rejectReason(r *http.Request) string {
	if !IsLocalHost(r.Host) {
		return "host"
	}
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return ""
	}
	if !IsLocalOrigin(r.Header.Get("Origin")) {
		return "origin"
	}
	if r.Header.Get("Sec-Fetch-Site") == "cross-site" {
		return "cross_site"
	}
	if r.Header.Get(RequestHeader) == "" && !isJSON(r.Header.Get("Content-Type")) {
		return "missing_request_header"
	}
	return ""
}

// IsLocalHost reports whether a Host header value names this machine
func IsLocalHost(hostport string) bool {
	if hostport == "" {
		return false
	}
	host, _, err := net.SplitHostPort(hostport)
	if err != nil {
		host = hostport
	}
	return isLocalName(host)
}

// IsLocalOrigin accepts an absent Origin and pages served from the local
// machine
func IsLocalOrigin(origin string) bool {
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	return isLocalName(u.Hostname())
}

func isLocalName(host string) bool {
	if host == "localhost" {
		return true
	}
	if len(host) > 2 && host[0] == '[' && host[len(host)-1] == ']' {
		host = host[1 : len(host)-1]
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func isJSON(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	return err == nil && mediaType == "application/json"
}
