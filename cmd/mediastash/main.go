package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/avelez/mediastash/internal/cache"
	"github.com/avelez/mediastash/internal/config"
	"github.com/avelez/mediastash/internal/db"
	"github.com/avelez/mediastash/internal/extractor"
	"github.com/avelez/mediastash/internal/httputil"
	"github.com/avelez/mediastash/internal/ingest"
	"github.com/avelez/mediastash/internal/ops"
	"github.com/avelez/mediastash/internal/probe"
	"github.com/avelez/mediastash/internal/repository"
	"github.com/avelez/mediastash/internal/scheduler"
	"github.com/avelez/mediastash/internal/service"
	"github.com/avelez/mediastash/internal/thumbs"
	"github.com/avelez/mediastash/internal/version"
	"github.com/avelez/mediastash/internal/ws"
)

func main() {
	ver := version.Load()
	log.Printf("MediaStash %s starting...", ver.Version)

	cfg := config.Load()

	database, err := db.Connect(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer database.Close()

	if err := db.Migrate(database); err != nil {
		log.Fatalf("migration failed: %v", err)
	}

	mon := repository.NewMonitor(cfg.SlowQueryMs)
	platforms := repository.NewPlatformRepository(database.DB, mon)
	creators := repository.NewCreatorRepository(database.DB, mon)
	subscriptions := repository.NewSubscriptionRepository(database.DB, mon)
	posts := repository.NewPostRepository(database.DB, mon)
	media := repository.NewMediaRepository(database.DB, mon)
	maintenance := repository.NewMaintenanceRepository(database.DB, mon)
	stats := repository.NewStatsRepository(database.DB, mon)

	appCache := cache.New(cfg.CacheMaxSize, cfg.CacheDefaultTTL)

	durations := probe.OpenDurationCache(cfg.DurationCachePath("main"))
	prober := probe.New(probe.NewFFprobe(cfg.FFprobePath), durations)

	engine := ingest.NewEngine(platforms, creators, subscriptions, posts, media, prober, appCache)

	runner := &ops.Runner{
		Cfg:         cfg,
		Engine:      engine,
		Posts:       posts,
		Media:       media,
		Maintenance: maintenance,
		Cache:       appCache,
		Thumbs:      thumbs.NewFFmpegProducer(cfg.FFmpegPath),
		Extractors:  extractorFactory(cfg),
	}

	hub := ws.NewHub()
	hubCtx, stopHub := context.WithCancel(context.Background())
	go hub.Run(hubCtx)

	manager := ops.NewManager(cfg.MaxConcurrent, hub)

	svc := service.New(cfg, manager, runner, hub, appCache, mon, stats, database.DB)

	jobs := scheduler.New(manager, posts, durations)
	if err := jobs.Start(); err != nil {
		log.Fatalf("scheduler failed to start: %v", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", hub)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, svc.GetSystemHealth())
	})
	mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		libStats, err := svc.GetLibraryStats()
		if err != nil {
			httputil.WriteError(w, http.StatusInternalServerError, "stats_failed", err.Error())
			return
		}
		httputil.WriteJSON(w, http.StatusOK, libStats)
	})
	mux.HandleFunc("/notify", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			httputil.WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", "POST only")
			return
		}
		var req struct {
			Message string                 `json:"message"`
			Level   string                 `json:"level"`
			Data    map[string]interface{} `json:"data"`
		}
		if err := httputil.ReadJSON(r, &req); err != nil {
			httputil.WriteError(w, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
		if err := svc.SendCustomNotification(req.Message, req.Level, req.Data); err != nil {
			httputil.WriteError(w, http.StatusBadRequest, "bad_notification", err.Error())
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"sent": req.Message})
	})

	httpServer := &http.Server{
		Addr:         cfg.WebsocketHost + ":" + strconv.Itoa(cfg.WebsocketPort),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down...")
	manager.Shutdown()
	jobs.Stop()
	stopHub()
	hub.Stop()
	if err := durations.Flush(); err != nil {
		log.Printf("duration cache flush: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	httpServer.Shutdown(ctx)
}

// extractorFactory wires the configured sources into per-operation
// extractor sets, honoring the populate source tag.
func extractorFactory(cfg *config.Config) func(source, platform string) []extractor.Extractor {
	return func(source, platform string) []extractor.Extractor {
		var all []extractor.Extractor
		if cfg.ExternalYouTubeDB != "" {
			all = append(all, extractor.NewVideoDL(cfg.ExternalYouTubeDB))
		}
		if cfg.ExternalTikTokDB != "" {
			all = append(all, extractor.NewTokkit(cfg.ExternalTikTokDB,
				config.MediaRootFor(cfg.TikTokMediaRoot, cfg.ExternalTikTokDB)))
		}
		if cfg.ExternalInstaDB != "" {
			all = append(all, extractor.NewStogram(cfg.ExternalInstaDB,
				config.MediaRootFor(cfg.InstagramMediaRoot, cfg.ExternalInstaDB)))
		}
		if cfg.OrganizedBasePath != "" {
			all = append(all, extractor.NewFolders(cfg.OrganizedBasePath))
		}

		var out []extractor.Extractor
		for _, ex := range all {
			if !ops.SourceTag(ex.Name(), source) {
				continue
			}
			if platform != "" && !extractorCovers(ex.Name(), platform) {
				continue
			}
			out = append(out, ex)
		}
		return out
	}
}

// extractorCovers reports whether a named extractor can produce items for
// the platform. The folder scanner covers everything under its root.
func extractorCovers(name, platform string) bool {
	switch name {
	case "videodl":
		// 4K Video Downloader+ carries many services, not just YouTube.
		return true
	case "tokkit":
		return platform == "tiktok"
	case "stogram":
		return platform == "instagram"
	case "folders":
		return true
	}
	return false
}
