package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"gencam/internal/archive"
	"gencam/internal/camera"
	"gencam/internal/config"
	"gencam/internal/metrics"
	"gencam/internal/preset"
	"gencam/internal/sequence"
)

// Archiver は撮影画像の保存先
type Archiver interface {
	Store(ctx context.Context, img *camera.Image) (string, error)
	List(ctx context.Context, cameraID string) ([]archive.Object, error)
}

// Server はHTTPサーバーを管理する構造体
type Server struct {
	config     *config.Config
	httpServer *http.Server
	engine     *gin.Engine
	handler    *Handler
	logger     *slog.Logger
}

// Option は Server の追加設定
type Option func(*Handler)

// WithDriver は接続に使うドライバーを追加する
func WithDriver(driver camera.Driver) Option {
	return func(h *Handler) {
		h.drivers[driver.Name()] = driver
	}
}

// WithPresets はプリセットの保存先を設定する
func WithPresets(store *preset.Store) Option {
	return func(h *Handler) {
		h.presets = store
	}
}

// WithArchive は撮影画像の保存先を設定する
func WithArchive(a Archiver) Option {
	return func(h *Handler) {
		h.archive = a
	}
}

// WithSequences は撮影シーケンスの管理を設定する
func WithSequences(m *sequence.Manager) Option {
	return func(h *Handler) {
		h.sequences = m
	}
}

// WithMetrics は /metrics で公開するメトリクスを設定する
func WithMetrics(c *metrics.Collector) Option {
	return func(h *Handler) {
		h.metrics = c
	}
}

// WithLogger はロガーを設定する
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

// New は新しいServerインスタンスを作成する
func New(cfg *config.Config, manager *camera.DefaultManager, opts ...Option) *Server {
	h := &Handler{
		config:  cfg,
		manager: manager,
		drivers: make(map[string]camera.Driver),
		logger:  slog.Default(),
		started: time.Now(),
	}
	for _, opt := range opts {
		opt(h)
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger(h.logger))

	s := &Server{
		config:  cfg,
		engine:  engine,
		handler: h,
		logger:  h.logger,
		httpServer: &http.Server{
			Addr:         cfg.ServerAddress(),
			Handler:      engine,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
	}
	s.setupRoutes()
	return s
}

// Handler はルーティング済みの http.Handler を返す
func (s *Server) Handler() http.Handler {
	return s.engine
}

// setupRoutes はHTTPルートを設定する
func (s *Server) setupRoutes() {
	h := s.handler

	// ヘルスチェックエンドポイント
	s.engine.GET("/health", h.HealthCheck)
	if h.metrics != nil {
		s.engine.GET("/metrics", gin.WrapH(h.metrics.Handler()))
	}

	// APIエンドポイント
	api := s.engine.Group("/api")
	api.GET("/status", h.GetStatus)
	api.GET("/devices", h.GetDevices)
	api.POST("/drivers/:driver/sync", h.SyncDriver)
	api.GET("/archive", h.GetArchive)

	cameras := api.Group("/cameras")
	cameras.GET("", h.GetCameras)
	cameras.POST("", h.ConnectCamera)
	cameras.DELETE("/:handle", h.DisconnectCamera)
	cameras.POST("/:handle/dispatch", h.Dispatch)
	cameras.GET("/:handle/image.fits", h.CaptureFITS)
	cameras.GET("/:handle/presets", h.GetPresets)
	cameras.PUT("/:handle/presets/:name", h.SavePreset)
	cameras.POST("/:handle/presets/:name/apply", h.ApplyPreset)
	cameras.DELETE("/:handle/presets/:name", h.DeletePreset)
	cameras.POST("/:handle/sequences", h.StartSequence)

	sequences := api.Group("/sequences")
	sequences.GET("", h.GetSequences)
	sequences.GET("/:id", h.GetSequence)
	sequences.DELETE("/:id", h.StopSequence)
}

// requestLogger はリクエストを slog で記録するミドルウェア
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("HTTPリクエスト",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"elapsed", time.Since(start),
		)
	}
}

// Start はサーバーを起動する
func (s *Server) Start(ctx context.Context) error {
	// シャットダウン用のチャンネル
	shutdownCh := make(chan error, 1)

	// サーバーを別ゴルーチンで起動
	go func() {
		s.logger.Info("HTTPサーバーを起動しています", "addr", s.config.ServerAddress())
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			shutdownCh <- fmt.Errorf("サーバーの起動に失敗: %w", err)
		}
	}()

	// シグナルハンドリング
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	// コンテキストかシグナルを待つ
	select {
	case <-ctx.Done():
		s.logger.Info("コンテキストがキャンセルされました")
	case sig := <-sigCh:
		s.logger.Info("シグナルを受信しました", "signal", sig)
	case err := <-shutdownCh:
		return err
	}

	// グレースフルシャットダウン
	return s.Shutdown()
}

// Shutdown はサーバーをグレースフルにシャットダウンする
func (s *Server) Shutdown() error {
	s.logger.Info("サーバーをシャットダウンしています")

	timeout := s.config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("サーバーのシャットダウンに失敗: %w", err)
	}

	s.logger.Info("サーバーが正常にシャットダウンされました")
	return nil
}
