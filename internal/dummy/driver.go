// Package dummy ハードウェアなしで動作する模擬カメラを提供する
//
// # 責務
// - 模擬デバイスの列挙と接続（Driver）
// - 露光時間の経過で完了する模擬センサー（Sensor）
// - 乱数ノイズによる画像生成
//
// # 仕様
// - 露光の完了は問い合わせ時点の経過時間から判定し、バックグラウンド処理は持たない
// - TimeScale は露光時間に掛ける倍率（0〜1）。0 なら即座に完了する
// - 画素形式 mono8 / mono16 / float32 に応じて u8 / u16 / f32 の画像を返す
// - 画像には ROI の原点を XOFST / YOFST として付与する
// - 画像の明るさは露光時間とゲインに比例する
// - exposure/auto と analog/gain_auto が有効なら、フレームの読み出し後に平均輝度を
//   exposure/auto_target_brightness に近づけるよう露光時間とゲインを書き換える。
//   自動制御中に手動で設定した値は次のフレームで上書きされる
package dummy

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"gencam/internal/camera"
	"gencam/internal/control"
	"gencam/internal/property"
)

// DriverName はこのドライバーの名前
const DriverName = "dummy"

// Config は模擬カメラの設定
type Config struct {
	Devices   int           // 列挙するデバイス数
	Width     int           // センサーの幅
	Height    int           // センサーの高さ
	TimeScale float64       // 露光時間に掛ける倍率（0〜1、0 で即時完了）
	Exposure  time.Duration // 露光時間の初期値
	Seed      uint64        // 乱数の種（0 ならデバイスごとに異なる種）

	// DownloadWait が 0 より大きいと、露光中の DownloadImage は完了を待つ
	// 待ち時間の上限は露光時間 + DownloadWait
	DownloadWait time.Duration
}

// DefaultConfig は既定の設定を返す
func DefaultConfig() Config {
	return Config{
		Devices:   1,
		Width:     1920,
		Height:    1080,
		TimeScale: 1,
		Exposure:  time.Second,
	}
}

// Driver は模擬カメラのドライバー
type Driver struct {
	cfg     Config
	devices []camera.Descriptor
	now     func() time.Time
}

// Option は Driver の追加設定
type Option func(*Driver)

// WithClock は時刻の取得元を差し替える
func WithClock(now func() time.Time) Option {
	return func(d *Driver) {
		d.now = now
	}
}

// NewDriver は新しいDriverを作成する。デバイスのシリアルは作成時に確定する
func NewDriver(cfg Config, opts ...Option) (*Driver, error) {
	if cfg.Devices < 0 {
		return nil, fmt.Errorf("デバイス数が不正です: %d", cfg.Devices)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("センサーサイズが不正です: %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.DownloadWait < 0 {
		return nil, fmt.Errorf("待ち時間が不正です: %s", cfg.DownloadWait)
	}
	if cfg.TimeScale < 0 || cfg.TimeScale > 1 {
		// 1 を超えると Capture の待ち時間（露光時間 + 猶予）より完了が遅れる
		return nil, fmt.Errorf("時間倍率 %g は 0〜1 の範囲外です", cfg.TimeScale)
	}
	if cfg.Exposure < minExposure || cfg.Exposure > maxExposure {
		return nil, fmt.Errorf("露光時間 %s は %s〜%s の範囲外です", cfg.Exposure, minExposure, maxExposure)
	}
	// 露光時間の刻みは 1ms
	cfg.Exposure = cfg.Exposure.Truncate(minExposure)

	d := &Driver{cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(d)
	}
	for i := range cfg.Devices {
		d.devices = append(d.devices, camera.Descriptor{
			ID:     uuid.NewString(),
			Name:   fmt.Sprintf("Dummy Camera %d", i+1),
			Vendor: "Dummy",
			Driver: DriverName,
			Info: map[string]string{
				"Interface": "Aether",
				"Sensor":    fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
			},
		})
	}
	return d, nil
}

// Name はドライバー名を返す
func (d *Driver) Name() string {
	return DriverName
}

// ListDevices は模擬デバイスの一覧を返す
func (d *Driver) ListDevices(ctx context.Context) ([]camera.Descriptor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return slices.Clone(d.devices), nil
}

// Connect は模擬デバイスに接続する
func (d *Driver) Connect(ctx context.Context, desc camera.Descriptor) (camera.Camera, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	index := slices.IndexFunc(d.devices, func(known camera.Descriptor) bool {
		return known.ID == desc.ID
	})
	if index < 0 {
		return nil, fmt.Errorf("%w: 模擬デバイス %s は存在しません", camera.ErrNoDevices, desc.ID)
	}

	catalog, err := d.catalog()
	if err != nil {
		return nil, err
	}
	seed := d.cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano()) + uint64(index)
	}
	sensor := newSensor(d.cfg, seed, d.now)
	opts := []camera.DeviceOption{camera.WithClock(d.now)}
	if d.cfg.DownloadWait > 0 {
		opts = append(opts, camera.WithBlockingDownload(d.cfg.DownloadWait))
	}
	return camera.NewDevice(d.devices[index], sensor, catalog, opts...), nil
}

const (
	minExposure = time.Millisecond
	maxExposure = 60 * time.Second
)

// pixelFormats は sensor/pixel_format の選択肢。順番は camera.PixelKind に対応する
var pixelFormats = []string{"mono8", "mono16", "float32"}

// catalog は模擬デバイスのコントロールを組み立てる
func (d *Driver) catalog() (*control.Catalog, error) {
	w, h := int64(d.cfg.Width), int64(d.cfg.Height)
	entries := []struct {
		id    control.ID
		model func() (property.Model, error)
	}{
		{control.ExposureTime, func() (property.Model, error) {
			return property.NewInt(minExposure.Microseconds(), maxExposure.Microseconds(), minExposure.Microseconds(),
				d.cfg.Exposure.Microseconds(), property.WithLabel("Exposure Time (us)"))
		}},
		{control.ExposureAuto, func() (property.Model, error) {
			return property.NewBool(false, property.WithLabel("Auto Exposure"))
		}},
		{control.AutoTargetBright, func() (property.Model, error) {
			return property.NewFloat(0.05, 0.95, 0, 0.5, property.WithLabel("Auto Target Brightness"))
		}},
		{control.AutoMaxGain, func() (property.Model, error) {
			return property.NewInt(0, maxGain, gainStep, maxGain, property.WithLabel("Auto Max Gain"))
		}},
		{control.Gain, func() (property.Model, error) {
			return property.NewInt(0, maxGain, gainStep, 0, property.WithLabel("Gain"))
		}},
		{control.GainAuto, func() (property.Model, error) {
			return property.NewBool(false, property.WithLabel("Auto Gain"))
		}},
		{control.Gamma, func() (property.Model, error) {
			return property.NewFloat(0.1, 4.0, 0.1, 1.0, property.WithLabel("Gamma"))
		}},
		{control.BlackLevel, func() (property.Model, error) {
			return property.NewInt(0, 255, 1, 0, property.WithLabel("Black Level"))
		}},
		{control.PixelFormat, func() (property.Model, error) {
			return property.NewEnum(pixelFormats, 1, property.WithLabel("Pixel Format"))
		}},
		{control.ReverseX, func() (property.Model, error) {
			return property.NewBool(false, property.WithLabel("Reverse X"))
		}},
		{control.OffsetX, func() (property.Model, error) {
			return property.NewInt(0, w-1, 1, 0, property.WithLabel("Offset X"))
		}},
		{control.OffsetY, func() (property.Model, error) {
			return property.NewInt(0, h-1, 1, 0, property.WithLabel("Offset Y"))
		}},
		{control.Width, func() (property.Model, error) {
			return property.NewInt(1, w, 1, w, property.WithLabel("Width"))
		}},
		{control.Height, func() (property.Model, error) {
			return property.NewInt(1, h, 1, h, property.WithLabel("Height"))
		}},
		{control.WidthMax, func() (property.Model, error) {
			return property.NewInt(w, w, 1, w, property.ReadOnly(), property.WithLabel("Sensor Width"))
		}},
		{control.HeightMax, func() (property.Model, error) {
			return property.NewInt(h, h, 1, h, property.ReadOnly(), property.WithLabel("Sensor Height"))
		}},
		{control.TriggerMode, func() (property.Model, error) {
			return property.NewEnum([]string{"off", "on"}, 0, property.WithLabel("Trigger Mode"))
		}},
		{control.TriggerSource, func() (property.Model, error) {
			return property.NewEnum([]string{"software", "line0"}, 0, property.WithLabel("Trigger Source"))
		}},
		{control.Temperature, func() (property.Model, error) {
			return temperatureModel(ambientTemperature)
		}},
		{control.FanToggle, func() (property.Model, error) {
			return property.NewBool(true, property.WithLabel("Fan"))
		}},
	}

	catalog := control.NewCatalog()
	for _, e := range entries {
		model, err := e.model()
		if err != nil {
			return nil, fmt.Errorf("コントロール %s の作成に失敗: %w", e.id, err)
		}
		if err := catalog.Add(e.id, model); err != nil {
			return nil, err
		}
	}
	return catalog, nil
}

func temperatureModel(celsius float64) (property.Model, error) {
	return property.NewFloat(-40, 80, 0, celsius, property.ReadOnly(), property.WithLabel("Sensor Temperature (C)"))
}
