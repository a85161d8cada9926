package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kardianos/service"
	"github.com/spf13/cobra"

	"gencam/internal/config"
)

var (
	serveHost     string
	servePort     int
	serviceAction string // install, uninstall, start, stop
)

// program は kardianos/service から起動されるサーバー
type program struct {
	cancel context.CancelFunc
	done   chan error
}

// Start はサーバーを別ゴルーチンで起動する。ブロックしない
func (p *program) Start(_ service.Service) error {
	cfg, err := loadServeConfig()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan error, 1)
	go func() {
		err := runServer(ctx, cfg)
		if err != nil {
			slog.Error("サーバーが異常終了しました", "error", err)
		}
		p.done <- err
	}()
	return nil
}

// Stop はサーバーを停止し、終了を待つ
func (p *program) Stop(_ service.Service) error {
	if p.cancel == nil {
		return nil
	}
	p.cancel()
	select {
	case err := <-p.done:
		return err
	case <-time.After(30 * time.Second):
		return fmt.Errorf("サーバーの停止がタイムアウトしました")
	}
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "集約サーバーを起動する",
	Long: `設定に従って模擬カメラを接続し、HTTP API を公開します。
--service でシステムサービスとして登録・起動・停止できます。`,
	Example: `  gencam serve --port 9000
  gencam serve --config /etc/gencam.yaml --service install`,
	RunE: func(cmd *cobra.Command, args []string) error {
		svcConfig := &service.Config{
			Name:        "gencam",
			DisplayName: "gencam camera server",
			Description: "Aggregates cameras behind handles and serves the gencam HTTP API",
			Arguments:   serviceArguments(),
		}
		s, err := service.New(&program{}, svcConfig)
		if err != nil {
			return fmt.Errorf("サービスの作成に失敗: %w", err)
		}

		if serviceAction != "" {
			if err := service.Control(s, serviceAction); err != nil {
				return fmt.Errorf("サービスの %s に失敗: %w", serviceAction, err)
			}
			fmt.Printf("サービスの %s が完了しました\n", serviceAction)
			return nil
		}

		// 端末から起動された場合はそのまま実行する
		if service.Interactive() {
			cfg, err := loadServeConfig()
			if err != nil {
				return err
			}
			return runServer(cmd.Context(), cfg)
		}
		return s.Run()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	// コマンドラインオプション
	serveCmd.Flags().StringVar(&serveHost, "host", "", "サーバーのホスト (デフォルト: 設定値)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "サーバーのポート (デフォルト: 設定値)")
	serveCmd.Flags().StringVar(&serviceAction, "service", "", "サービス操作: "+fmt.Sprint(service.ControlAction))
}

// serviceArguments はサービスとして起動するときの引数
func serviceArguments() []string {
	args := []string{"serve"}
	if cfgFile != "" {
		args = append(args, "--config", cfgFile)
	}
	if serveHost != "" {
		args = append(args, "--host", serveHost)
	}
	if servePort != 0 {
		args = append(args, "--port", fmt.Sprint(servePort))
	}
	return args
}

// loadServeConfig は設定を読み込み、コマンドラインオプションで上書きする
func loadServeConfig() (*config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if serveHost != "" {
		cfg.Server.Host = serveHost
	}
	if servePort != 0 {
		cfg.Server.Port = servePort
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定の検証に失敗: %w", err)
	}
	return cfg, nil
}

// runServer はカメラを接続してサーバーを起動し、停止までブロックする
func runServer(ctx context.Context, cfg *config.Config) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			a.logger.Warn("カメラの後始末に失敗しました", "error", err)
		}
	}()

	if _, err := a.connect(ctx); err != nil {
		return err
	}

	// サーバーを起動
	slog.Info("gencam サーバーを起動します", "addr", cfg.ServerAddress())
	return a.server().Start(ctx)
}
