package httpserver

import "net/http"

// Routes groups HTTP handlers.
type Routes struct {
	Voice       http.HandlerFunc
	CallsMe     http.Handler
	ActiveCalls http.HandlerFunc
	Health      http.HandlerFunc
}

// NewRouter registers service endpoints.
func NewRouter(routes Routes) http.Handler {
	mux := http.NewServeMux()
	if routes.Voice != nil {
		mux.Handle("/ws/voice", method(http.MethodGet, routes.Voice))
	}
	if routes.CallsMe != nil {
		mux.Handle("/calls/me", method(http.MethodGet, routes.CallsMe.ServeHTTP))
	}
	if routes.ActiveCalls != nil {
		mux.Handle("/internal/calls/active", method(http.MethodGet, routes.ActiveCalls))
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
