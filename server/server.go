package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"RadioRoyal/cache"
	"RadioRoyal/config"
	"RadioRoyal/core/auth"
	"RadioRoyal/core/relay"
	"RadioRoyal/core/resolver"
	"RadioRoyal/db"
	"RadioRoyal/logger"
	"RadioRoyal/repository"
	"RadioRoyal/storage"

	"github.com/gorilla/mux"
)

// corsMiddleware 允许任意来源访问解析与状态接口
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS, HEAD")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Range")
		w.Header().Set("Access-Control-Expose-Headers", "Content-Length, Content-Range, Accept-Ranges")
		w.Header().Set("Access-Control-Max-Age", "86400") // 24 hours

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// NewRouter builds the HTTP surface: resolver endpoints, status, auth and
// the relay WebSocket on /ws and on any upgrade request to /.
func NewRouter(h *APIHandler) *mux.Router {
	router := mux.NewRouter()
	router.Use(corsMiddleware)

	relayHandler := h.RelayAuthMiddleware(h.relay)
	router.Handle("/ws", relayHandler)
	router.Handle("/", relayHandler).HeadersRegexp("Upgrade", "(?i)websocket")

	// 解析服务，OPTIONS 由 corsMiddleware 应答
	router.HandleFunc("/youtube", h.YouTubeStreamHandler).Methods(http.MethodGet, http.MethodHead, http.MethodOptions)
	router.HandleFunc("/youtube/info", h.YouTubeInfoHandler).Methods(http.MethodGet, http.MethodOptions)
	router.HandleFunc("/youtube/playlist", h.YouTubePlaylistHandler).Methods(http.MethodGet, http.MethodOptions)

	router.HandleFunc("/status", h.StatusHandler).Methods(http.MethodGet, http.MethodOptions)
	router.HandleFunc("/health", h.HealthHandler).Methods(http.MethodGet, http.MethodOptions)
	router.HandleFunc("/auth/token", h.TokenHandler).Methods(http.MethodPost, http.MethodOptions)
	router.HandleFunc("/broadcasts", h.ListBroadcastsHandler).Methods(http.MethodGet, http.MethodOptions)
	router.HandleFunc("/broadcasts/{id}", h.GetBroadcastHandler).Methods(http.MethodGet, http.MethodOptions)
	router.HandleFunc("/", h.HealthHandler).Methods(http.MethodGet)

	// 中间件只作用于匹配的路由，405 也要带 CORS 头
	router.MethodNotAllowedHandler = corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}))
	return router
}

// Services are the optional backends opened by Start.
type Services struct {
	Cache    resolver.SourceCache
	Journal  repository.BroadcastRepository
	Begin    BeginFunc
	closers  []func() error
	recorder *Recorder
}

// Close releases every backend.
func (s *Services) Close() {
	if s.recorder != nil {
		s.recorder.Close()
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			logger.Warn("close backend", logger.ErrorField(err))
		}
	}
}

// Observer returns the relay observer for the configured backends.
func (s *Services) Observer() relay.Observer {
	if s.Journal == nil && s.Begin == nil {
		return nil
	}
	if s.recorder == nil {
		s.recorder = NewRecorder(s.Journal, s.Begin)
	}
	return s.recorder
}

// OpenServices connects Redis, MySQL and MinIO when configured. A backend
// that fails to connect is logged and left disabled.
func OpenServices(ctx context.Context, cfg *config.Config) *Services {
	s := &Services{Cache: cache.NewMemorySourceCache()}

	if cfg.RedisEnabled() {
		if err := db.ConnectRedis(cfg); err != nil {
			logger.Warn("Redis unavailable, resolver cache stays in memory", logger.ErrorField(err))
		} else {
			s.Cache = cache.NewRedisSourceCache(db.RedisClient)
			s.closers = append(s.closers, db.CloseRedis)
			logger.Info("Successfully connected to Redis", logger.String("host", cfg.RedisHost))
		}
	}

	if cfg.DBEnabled() {
		if err := db.ConnectGormDB(cfg); err != nil {
			logger.Warn("broadcast journal disabled", logger.ErrorField(err))
		} else {
			s.Journal = repository.NewGormBroadcastRepository(db.GormDB)
			s.closers = append(s.closers, db.CloseGormDB)
		}
	}

	if cfg.MinioEnabled() {
		archive, err := storage.NewArchive(ctx, cfg)
		if err != nil {
			logger.Warn("broadcast archive disabled", logger.ErrorField(err))
		} else {
			s.Begin = func(ctx context.Context, id, encoding string) Recording {
				return archive.Begin(ctx, id, encoding)
			}
			logger.Info("broadcast archive enabled", logger.String("bucket", archive.Bucket()))
		}
	}
	return s
}

// Start runs the relay and resolver HTTP service until SIGINT/SIGTERM.
func Start(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	services := OpenServices(ctx, cfg)
	defer services.Close()

	res := resolver.New(resolver.NewYtDlp(cfg.YtDlpPath), services.Cache, cfg.ResolverCacheTTL)

	target := cfg.RTMPTarget()
	relayHandler := relay.NewHandler(relay.Options{
		Launcher:     relay.NewFFmpegLauncher(relay.SettingsFromConfig(cfg)),
		Target:       target,
		MaxPending:   cfg.RelayMaxPendingBytes,
		StartTimeout: cfg.RelayStartTimeout,
		Observer:     services.Observer(),
	}, nil)

	signer := auth.NewSigner(cfg.RelayJWTSecret, 0)
	apiHandler := NewAPIHandler(cfg, res, resolver.NewProxy(nil), relayHandler, signer, services.Journal)

	// 流式响应不设置 WriteTimeout
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           NewRouter(apiHandler),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Servidor ouvindo",
			logger.String("addr", server.Addr),
			logger.String("rtmp", relay.TargetLabel(target)),
			logger.Bool("relayAuth", signer.Enabled()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	// WebSocket 连接已被劫持，Shutdown 不会等待它们
	relayHandler.Supervisor().StopAll()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Server forced to shutdown", logger.ErrorField(err))
	}
	logger.Info("Server stopped")
	return nil
}
