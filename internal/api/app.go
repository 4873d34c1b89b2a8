// Package api wires the gin-gonic HTTP surface: ingress routes for each
// supported wire format, the admin CRUD surface over credentials, and the
// Prometheus /metrics endpoint. Routes stay thin — they authenticate,
// parse the request in its origin format, canonicalize it, hand it to
// middleware.Chain, dispatch to the matching transactor, and translate the
// result back. All provider-specific behavior lives in internal/transactor.
package api

import (
	"github.com/relaymux/llmgate/internal/cache"
	"github.com/relaymux/llmgate/internal/config"
	"github.com/relaymux/llmgate/internal/credential"
	"github.com/relaymux/llmgate/internal/metrics"
	"github.com/relaymux/llmgate/internal/middleware"
	"github.com/relaymux/llmgate/internal/resource"
	"github.com/relaymux/llmgate/internal/tokenservice"
	"github.com/relaymux/llmgate/internal/transactor/claudecode"
	"github.com/relaymux/llmgate/internal/transactor/claudeweb"
	"github.com/relaymux/llmgate/internal/transactor/gemini"
)

// App holds every wired dependency the route handlers need. It carries no
// per-request state; one App instance serves the process lifetime.
type App struct {
	Config *config.Config
	// ConfigPath is the file handleAdminSaveConfig writes back to; empty
	// disables the save endpoint.
	ConfigPath string

	Managers map[credential.Kind]*resource.Manager
	// Store backs the admin storage-status/import/export endpoints. May be
	// nil in tests that only exercise individual Managers.
	Store credential.Store

	ClaudeCode *claudecode.Transactor
	ClaudeWeb  *claudeweb.Transactor
	Gemini     *gemini.Transactor

	Tokens *tokenservice.Cache

	Cache   *cache.ResponseCache
	Metrics *metrics.Registry
	Chain   *middleware.Chain
}

// managerFor returns the resource.Manager responsible for kind, or nil if
// the process wasn't configured with one (e.g. no service accounts loaded).
func (a *App) managerFor(kind credential.Kind) *resource.Manager {
	if a.Managers == nil {
		return nil
	}
	return a.Managers[kind]
}
