package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"gencam/internal/archive"
	"gencam/internal/dummy"
)

// EnvPrefix は環境変数の接頭辞
const EnvPrefix = "GENCAM_"

// Config はアプリケーション全体の設定を保持する構造体
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Camera   CameraConfig   `yaml:"camera"`
	Presets  PresetConfig   `yaml:"presets"`
	Archive  ArchiveConfig  `yaml:"archive"`
	Sequence SequenceConfig `yaml:"sequence"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig はHTTPサーバーの設定
type ServerConfig struct {
	Host string `yaml:"host" env:"SERVER_HOST" validate:"required"` // リッスンするホスト
	Port int    `yaml:"port" env:"SERVER_PORT" validate:"min=1,max=65535"`

	// タイムアウト設定
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"SERVER_READ_TIMEOUT" validate:"gt=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"SERVER_WRITE_TIMEOUT" validate:"gte=0"` // 0 なら無効
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT" validate:"gt=0"`
}

// CameraConfig はカメラ関連の設定
type CameraConfig struct {
	// capture コマンドで露光時間に加えて待つ時間
	CaptureGrace time.Duration `yaml:"capture_grace" env:"CAPTURE_GRACE" validate:"gt=0"`

	// 起動時に接続する模擬カメラ
	Simulated SimulatedConfig `yaml:"simulated"`
}

// SimulatedConfig は模擬カメラの設定
type SimulatedConfig struct {
	Devices      int           `yaml:"devices" env:"SIM_DEVICES" validate:"gte=0,lte=64"`
	Width        int           `yaml:"width" env:"SIM_WIDTH" validate:"gt=0"`
	Height       int           `yaml:"height" env:"SIM_HEIGHT" validate:"gt=0"`
	TimeScale    float64       `yaml:"time_scale" env:"SIM_TIME_SCALE" validate:"gte=0,lte=1"`
	Exposure     time.Duration `yaml:"exposure" env:"SIM_EXPOSURE" validate:"gte=1ms,lte=60s"`
	DownloadWait time.Duration `yaml:"download_wait" env:"SIM_DOWNLOAD_WAIT" validate:"gte=0"`
	Seed         uint64        `yaml:"seed" env:"SIM_SEED"`
}

// PresetConfig はプリセット保存先の設定
type PresetConfig struct {
	Path string `yaml:"path" env:"PRESETS_PATH"` // 空ならプリセット機能を無効にする
}

// ArchiveConfig は撮影画像の保存先（MinIO / S3）の設定
type ArchiveConfig struct {
	Enabled   bool   `yaml:"enabled" env:"ARCHIVE_ENABLED"`
	Endpoint  string `yaml:"endpoint" env:"ARCHIVE_ENDPOINT" validate:"required_if=Enabled true"`
	AccessKey string `yaml:"access_key" env:"ARCHIVE_ACCESS_KEY" validate:"required_if=Enabled true"`
	SecretKey string `yaml:"secret_key" env:"ARCHIVE_SECRET_KEY" validate:"required_if=Enabled true"`
	Bucket    string `yaml:"bucket" env:"ARCHIVE_BUCKET" validate:"required_if=Enabled true"`
	Prefix    string `yaml:"prefix" env:"ARCHIVE_PREFIX"`
	Secure    bool   `yaml:"secure" env:"ARCHIVE_SECURE"`
}

// SequenceConfig は撮影シーケンスの設定
// アーカイブが有効ならアーカイブに、そうでなければ OutputDir に保存する。どちらもなければ無効
type SequenceConfig struct {
	OutputDir string `yaml:"output_dir" env:"SEQUENCE_OUTPUT_DIR"`
}

// LogConfig はログ出力の設定
type LogConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" env:"LOG_FORMAT" validate:"oneof=text json"`
}

// Default はデフォルト設定を返す
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    0, // 長時間露光の capture 用にタイムアウト無効化
			ShutdownTimeout: 10 * time.Second,
		},
		Camera: CameraConfig{
			CaptureGrace: 5 * time.Second,
			Simulated: SimulatedConfig{
				Devices:   1,
				Width:     1920,
				Height:    1080,
				TimeScale: 1,
				Exposure:  time.Second,
			},
		},
		Archive: ArchiveConfig{
			Bucket: "gencam",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load は設定を読み込む
// デフォルト値に YAML ファイル、環境変数の順で上書きし、最後に検証する。path が空ならファイルは読まない
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("設定ファイルの解析に失敗: %w", err)
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("環境変数の解析に失敗: %w", err)
	}

	// 設定の検証
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定の検証に失敗: %w", err)
	}

	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate は設定の妥当性を検証する
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			first := verrs[0]
			return fmt.Errorf("無効な設定値 %s (%s=%s): %v", first.Namespace(), first.Tag(), first.Param(), first.Value())
		}
		return err
	}
	return nil
}

// ServerAddress はサーバーのリッスンアドレスを返す
func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Dummy は模擬カメラドライバーの設定を返す
func (c *Config) Dummy() dummy.Config {
	sim := c.Camera.Simulated
	return dummy.Config{
		Devices:      sim.Devices,
		Width:        sim.Width,
		Height:       sim.Height,
		TimeScale:    sim.TimeScale,
		Exposure:     sim.Exposure,
		Seed:         sim.Seed,
		DownloadWait: sim.DownloadWait,
	}
}

// ArchiveTarget は画像保存先の接続設定を返す
func (c *Config) ArchiveTarget() archive.Config {
	return archive.Config{
		Endpoint:  c.Archive.Endpoint,
		AccessKey: c.Archive.AccessKey,
		SecretKey: c.Archive.SecretKey,
		Bucket:    c.Archive.Bucket,
		Prefix:    c.Archive.Prefix,
		Secure:    c.Archive.Secure,
	}
}

// Logger はログ設定に従った slog.Logger を作成する
func (c *Config) Logger() *slog.Logger {
	var level slog.Level
	// Validate 済みなので失敗しない
	_ = level.UnmarshalText([]byte(c.Log.Level))

	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
