package httpserver

import "net/http"

// Routes groups HTTP handlers.
type Routes struct {
	Deduct  http.Handler
	Refund  http.Handler
	QuotaMe http.Handler
	UsageMe http.Handler
	Health  http.HandlerFunc
}

// NewRouter registers service endpoints. The /internal prefix marks routes
// reachable only from the private network, never through the public ingress.
func NewRouter(routes Routes) http.Handler {
	mux := http.NewServeMux()
	if routes.Deduct != nil {
		mux.Handle("/internal/quota/deduct", method(http.MethodPost, routes.Deduct.ServeHTTP))
	}
	if routes.Refund != nil {
		mux.Handle("/internal/quota/refund", method(http.MethodPost, routes.Refund.ServeHTTP))
	}
	if routes.QuotaMe != nil {
		mux.Handle("/quota/me", method(http.MethodGet, routes.QuotaMe.ServeHTTP))
	}
	if routes.UsageMe != nil {
		mux.Handle("/usage/me", method(http.MethodGet, routes.UsageMe.ServeHTTP))
	}
	if routes.Health != nil {
		mux.Handle("/health", method(http.MethodGet, routes.Health))
	}
	return mux
}

func method(expected string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != expected {
			w.Header().Set("Allow", expected)
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		handler(w, r)
	}
}
