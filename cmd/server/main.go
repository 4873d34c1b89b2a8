// Command server is the entry point for the llmgate proxy. It loads
// configuration, builds the credential stores and resource managers, wires
// the transactors and the gin router, and serves until SIGINT/SIGTERM,
// shutting down gracefully.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/relaymux/llmgate/internal/api"
	"github.com/relaymux/llmgate/internal/cache"
	"github.com/relaymux/llmgate/internal/config"
	"github.com/relaymux/llmgate/internal/credential"
	"github.com/relaymux/llmgate/internal/httpadapter"
	"github.com/relaymux/llmgate/internal/logging"
	"github.com/relaymux/llmgate/internal/metrics"
	"github.com/relaymux/llmgate/internal/middleware"
	"github.com/relaymux/llmgate/internal/resource"
	"github.com/relaymux/llmgate/internal/tokenservice"
	"github.com/relaymux/llmgate/internal/transactor/claudecode"
	"github.com/relaymux/llmgate/internal/transactor/claudeweb"
	"github.com/relaymux/llmgate/internal/transactor/gemini"
	"github.com/relaymux/llmgate/internal/translate"
	"github.com/relaymux/llmgate/internal/watcher"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// exit codes distinguish startup failure classes for the operator/init
// system, rather than always returning 1.
const (
	exitConfigError    = 1
	exitStorageError   = 2
	exitBindError      = 3
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	logDir := flag.String("log-dir", "", "directory for log files (overrides the configured log directory)")
	showVersion := flag.Bool("version", false, "print version information and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("llmgate %s (commit %s, built %s)\n", Version, Commit, BuildDate)
		return
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "llmgate: failed to load config: %v\n", err)
		os.Exit(exitConfigError)
	}
	if *logDir != "" {
		cfg.LogDir = *logDir
	}

	if err := logging.Setup(cfg.LogDir, cfg.Debug); err != nil {
		fmt.Fprintf(os.Stderr, "llmgate: failed to set up logging: %v\n", err)
		os.Exit(exitConfigError)
	}

	log.Infof("llmgate %s (commit %s, built %s) starting", Version, Commit, BuildDate)

	store, err := newCredentialStore(cfg.Persistence)
	if err != nil {
		log.Errorf("failed to open credential store: %v", err)
		os.Exit(exitStorageError)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	snap, err := store.Load(ctx)
	if err != nil {
		log.Errorf("failed to load credential snapshot: %v", err)
		os.Exit(exitStorageError)
	}

	managers := map[credential.Kind]*resource.Manager{
		credential.KindCookie:         resource.NewManager(credential.KindCookie, store, cfg.Rotation, snap.ByKind(credential.KindCookie)),
		credential.KindKey:            resource.NewManager(credential.KindKey, store, cfg.Rotation, snap.ByKind(credential.KindKey)),
		credential.KindOAuth:          resource.NewManager(credential.KindOAuth, store, cfg.Rotation, snap.ByKind(credential.KindOAuth)),
		credential.KindServiceAccount: resource.NewManager(credential.KindServiceAccount, store, cfg.Rotation, snap.ByKind(credential.KindServiceAccount)),
	}
	for _, mgr := range managers {
		mgr.StartReactivation(ctx)
	}

	adapter := httpadapter.New(cfg.ProxyURL, 0)
	tokens := tokenservice.NewCache()

	audit, err := claudeweb.NewAuditTrail(filepath.Join(cfg.LogDir, "claudeweb_conversations.db"))
	if err != nil {
		log.Errorf("failed to open claude-web audit trail: %v", err)
		os.Exit(exitStorageError)
	}

	responseCache, err := cache.New(cfg.Cache.MaxEntries, cfg.Cache.TTL())
	if err != nil {
		log.Errorf("failed to build response cache: %v", err)
		os.Exit(exitConfigError)
	}
	if !cfg.Cache.Enabled {
		responseCache = nil
	}

	reg := metrics.New()

	app := &api.App{
		Config:     cfg,
		ConfigPath: *configPath,
		Managers:   managers,
		Store:      store,

		ClaudeCode: claudecode.New(adapter, tokens, ""),
		ClaudeWeb: claudeweb.New(adapter, audit, claudeweb.Config{
			PreserveChats:         cfg.ClaudeWeb.PreserveChats,
			SkipFreeOrganizations: cfg.ClaudeWeb.SkipFreeOrganizations,
			HumanMarker:           cfg.ClaudeWeb.HumanMarker,
			AssistantMarker:       cfg.ClaudeWeb.AssistantMarker,
			PadPrefix:             cfg.ClaudeWeb.PadPrefix,
		}),
		Gemini: &gemini.Transactor{
			Adapter: adapter,
			Tokens:  tokens,
			Vertex:  gemini.VertexConfig{Locations: cfg.Vertex.Locations},
			Safety:  safetySettingsFrom(cfg.Gemini.Safety),
		},

		Tokens:  tokens,
		Cache:   responseCache,
		Metrics: reg,
		Chain: &middleware.Chain{
			Cache:   responseCache,
			Metrics: reg,
			Projection: translate.FingerprintProjection{
				ExcludeSystem:     cfg.Cache.ExcludeSystem,
				ExcludeLastNTurns: cfg.Cache.ExcludeLastNTurns,
			},
		},
	}

	w, err := watcher.New(*configPath, credentialStorePath(cfg.Persistence), store, func(newCfg *config.Config, newSnap *credential.Snapshot) {
		if newCfg != nil {
			log.Info("applying reloaded configuration")
			app.Config.Password = newCfg.Password
			app.Config.AdminPassword = newCfg.AdminPassword
			app.Config.Rotation = newCfg.Rotation
			app.Config.Cache = newCfg.Cache
		}
		if newSnap != nil {
			for kind, mgr := range app.Managers {
				mgr.ReplaceAll(newSnap.ByKind(kind))
			}
			log.Info("applied reloaded credential snapshot")
		}
	})
	if err != nil {
		log.Errorf("failed to build file watcher: %v", err)
		os.Exit(exitConfigError)
	}
	if err := w.Start(ctx); err != nil {
		log.Errorf("failed to start file watcher: %v", err)
		os.Exit(exitConfigError)
	}
	defer func() {
		if errStop := w.Stop(); errStop != nil {
			log.Errorf("error stopping file watcher: %v", errStop)
		}
	}()

	router := api.NewRouter(app)
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: router,
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Infof("listening on %s", srv.Addr)
		if errServe := srv.ListenAndServe(); errServe != nil && errServe != http.ErrServerClosed {
			log.Errorf("server stopped: %v", errServe)
			os.Exit(exitBindError)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Info("received shutdown signal, cleaning up")

	for _, mgr := range managers {
		mgr.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("error shutting down server: %v", err)
	}
	wg.Wait()
	log.Info("shutdown complete")
}

// newCredentialStore builds the configured Store backend; "toml" is the
// zero-dependency default, "sql" opens the sqlite-backed store.
func newCredentialStore(p config.Persistence) (credential.Store, error) {
	switch p.Mode {
	case "sql":
		return credential.NewSQLStore(context.Background(), p.SQLitePath)
	default:
		return credential.NewTOMLStore(p.TOMLPath), nil
	}
}

// credentialStorePath returns the file the watcher should observe for
// credential hot-reload, matching whichever backend newCredentialStore opened.
func credentialStorePath(p config.Persistence) string {
	if p.Mode == "sql" {
		return p.SQLitePath
	}
	return p.TOMLPath
}

// safetySettingsFrom adapts the YAML-configured safety categories into the
// gemini transactor's native-path-only setting list.
func safetySettingsFrom(settings []config.SafetySetting) []gemini.SafetySetting {
	out := make([]gemini.SafetySetting, 0, len(settings))
	for _, s := range settings {
		out = append(out, gemini.SafetySetting{Category: s.Category, Threshold: s.Threshold})
	}
	return out
}
