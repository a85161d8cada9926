package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"gencam/internal/archive"
	"gencam/internal/camera"
	"gencam/internal/config"
	"gencam/internal/dummy"
	"gencam/internal/metrics"
	"gencam/internal/preset"
	"gencam/internal/sequence"
	"gencam/internal/server"
)

// app は設定から組み立てたサーバーの構成要素
type app struct {
	config    *config.Config
	logger    *slog.Logger
	manager   *camera.DefaultManager
	driver    *dummy.Driver
	presets   *preset.Store
	archive   *archive.Archive
	metrics   *metrics.Collector
	sequences *sequence.Manager
}

// newApp は設定から構成要素を作成する。カメラへの接続は connect で行う
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	logger := cfg.Logger()
	slog.SetDefault(logger)

	a := &app{
		config:  cfg,
		logger:  logger,
		metrics: metrics.New(),
	}
	a.manager = camera.NewDefaultManager(
		camera.WithLogger(logger),
		camera.WithCaptureGrace(cfg.Camera.CaptureGrace),
		camera.WithObserver(a.metrics),
	)

	driver, err := dummy.NewDriver(cfg.Dummy())
	if err != nil {
		return nil, fmt.Errorf("模擬カメラドライバーの作成に失敗: %w", err)
	}
	a.driver = driver

	if cfg.Presets.Path != "" {
		store, err := preset.Open(cfg.Presets.Path)
		if err != nil {
			return nil, err
		}
		a.presets = store
	}

	if cfg.Archive.Enabled {
		arch, err := archive.New(cfg.ArchiveTarget())
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		if err := arch.EnsureBucket(ctx); err != nil {
			_ = a.Close()
			return nil, err
		}
		a.archive = arch
	}

	// 撮影シーケンスはアーカイブを優先して保存する
	switch {
	case a.archive != nil:
		a.sequences = sequence.NewManager(a.manager, a.archive, logger)
	case cfg.Sequence.OutputDir != "":
		sink, err := sequence.NewDirSink(cfg.Sequence.OutputDir)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		a.sequences = sequence.NewManager(a.manager, sink, logger)
	}

	return a, nil
}

// connect は模擬カメラを全て接続する
func (a *app) connect(ctx context.Context) ([]camera.Handle, error) {
	handles, err := a.manager.ConnectAll(ctx, a.driver)
	if err != nil {
		return nil, err
	}
	a.logger.Info("カメラを接続しました", "driver", a.driver.Name(), "count", len(handles))
	return handles, nil
}

// server は HTTP サーバーを作成する
func (a *app) server() *server.Server {
	opts := []server.Option{
		server.WithLogger(a.logger),
		server.WithDriver(a.driver),
		server.WithMetrics(a.metrics),
	}
	if a.presets != nil {
		opts = append(opts, server.WithPresets(a.presets))
	}
	if a.archive != nil {
		opts = append(opts, server.WithArchive(a.archive))
	}
	if a.sequences != nil {
		opts = append(opts, server.WithSequences(a.sequences))
	}
	return server.New(a.config, a.manager, opts...)
}

// Close は撮影シーケンスを停止し、カメラとプリセットの保存先を閉じる
func (a *app) Close() error {
	var errs []error
	if a.sequences != nil {
		ctx, cancel := context.WithTimeout(context.Background(), a.config.Server.ShutdownTimeout)
		errs = append(errs, a.sequences.Close(ctx))
		cancel()
	}
	if a.manager != nil {
		errs = append(errs, a.manager.Close())
	}
	if a.presets != nil {
		errs = append(errs, a.presets.Close())
	}
	return errors.Join(errs...)
}

// loadConfig は --config のファイルと環境変数から設定を読み込む
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("設定の読み込みに失敗しました: %w", err)
	}
	return cfg, nil
}
