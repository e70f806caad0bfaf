package server

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
)

// Routes is a route table that may be extended after serving has started.
// Each registration builds a fresh mux and swaps it in, so requests in
// flight never see a tree being mutated. Requests that match nothing fall
// through to the fallback handler.
type Routes struct {
	mu       sync.Mutex
	fallback http.Handler
	entries  []route
	current  atomic.Pointer[chi.Mux]
}

type route struct {
	pattern string
	handler http.Handler
}

func newRoutes(fallback http.Handler) *Routes {
	r := &Routes{fallback: fallback}
	r.current.Store(r.build())
	return r
}

func (r *Routes) build() *chi.Mux {
	m := chi.NewRouter()
	m.NotFound(r.fallback.ServeHTTP)
	for _, e := range r.entries {
		m.Handle(e.pattern, e.handler)
	}
	return m
}

// Handle registers h for pattern, for every method. Registering a pattern
// again replaces its handler.
func (r *Routes) Handle(pattern string, h http.Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	replaced := false
	for i := range r.entries {
		if r.entries[i].pattern == pattern {
			r.entries[i].handler = h
			replaced = true
		}
	}
	if !replaced {
		r.entries = append(r.entries, route{pattern: pattern, handler: h})
	}
	r.current.Store(r.build())
}

// Patterns lists registered patterns in registration order.
func (r *Routes) Patterns() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.pattern)
	}
	return out
}

func (r *Routes) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.current.Load().ServeHTTP(w, req)
}
