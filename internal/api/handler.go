package api

import (
	"context"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/patrickmn/go-cache"

	"parkpeek-guard/internal/auth"
	"parkpeek-guard/internal/occupancy"
	"parkpeek-guard/internal/scanner"
	"parkpeek-guard/internal/store"
)

// Pinger reports whether an optional dependency is reachable.
type Pinger func(ctx context.Context) error

// Handler holds shared dependencies for API handlers.
type Handler struct {
	store     store.Store
	occupancy *occupancy.Store
	scanner   *scanner.Registry
	auth      *auth.Service
	webpush   *webpush.Options
	cache     *cache.Cache
	checks    map[string]Pinger
}

// NewHandler creates a new API handler.
func NewHandler(s store.Store, occ *occupancy.Store, reg *scanner.Registry, authSvc *auth.Service, webpushOptions *webpush.Options, responseCache *cache.Cache) *Handler {
	return &Handler{
		store:     s,
		occupancy: occ,
		scanner:   reg,
		auth:      authSvc,
		webpush:   webpushOptions,
		cache:     responseCache,
		checks:    make(map[string]Pinger),
	}
}

// AddReadinessCheck registers a dependency probed by /readyz.
func (h *Handler) AddReadinessCheck(name string, ping Pinger) {
	h.checks[name] = ping
}
