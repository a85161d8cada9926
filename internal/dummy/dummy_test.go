package dummy

import (
	"context"
	"errors"
	"testing"
	"time"

	"gencam/internal/camera"
	"gencam/internal/control"
	"gencam/internal/property"
)

// fakeClock はテスト用の手動で進める時計
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestCamera(t *testing.T, cfg Config, clock *fakeClock) camera.Camera {
	t.Helper()
	var opts []Option
	if clock != nil {
		opts = append(opts, WithClock(clock.Now))
	}
	driver, err := NewDriver(cfg, opts...)
	if err != nil {
		t.Fatalf("NewDriver failed: %v", err)
	}
	cam, err := camera.ConnectFirst(context.Background(), driver)
	if err != nil {
		t.Fatalf("ConnectFirst failed: %v", err)
	}
	return cam
}

func smallConfig() Config {
	cfg := DefaultConfig()
	cfg.Width, cfg.Height = 8, 6
	cfg.Seed = 42
	return cfg
}

func TestDriver_ListDevices(t *testing.T) {
	cfg := smallConfig()
	cfg.Devices = 3
	driver, err := NewDriver(cfg)
	if err != nil {
		t.Fatalf("NewDriver failed: %v", err)
	}

	first, err := driver.ListDevices(context.Background())
	if err != nil {
		t.Fatalf("ListDevices failed: %v", err)
	}
	if len(first) != 3 {
		t.Fatalf("Expected 3 devices, got %d", len(first))
	}

	// 何度列挙しても同じ ID が返る
	second, _ := driver.ListDevices(context.Background())
	for i := range first {
		if first[i].ID != second[i].ID {
			t.Errorf("Expected stable ID at %d: %s != %s", i, first[i].ID, second[i].ID)
		}
		if first[i].Driver != DriverName {
			t.Errorf("Expected driver %s, got %s", DriverName, first[i].Driver)
		}
	}

	if _, err := driver.Connect(context.Background(), camera.Descriptor{ID: "missing"}); !errors.Is(err, camera.ErrNoDevices) {
		t.Errorf("Expected ErrNoDevices, got %v", err)
	}
}

func TestNewDriver_RejectsInvalidConfig(t *testing.T) {
	testCases := []struct {
		name   string
		modify func(*Config)
	}{
		{name: "負のデバイス数", modify: func(c *Config) { c.Devices = -1 }},
		{name: "幅0", modify: func(c *Config) { c.Width = 0 }},
		{name: "負の時間倍率", modify: func(c *Config) { c.TimeScale = -1 }},
		{name: "1を超える時間倍率", modify: func(c *Config) { c.TimeScale = 2 }},
		{name: "露光時間が長すぎる", modify: func(c *Config) { c.Exposure = time.Hour }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := smallConfig()
			tc.modify(&cfg)
			if _, err := NewDriver(cfg); err == nil {
				t.Error("Expected error")
			}
		})
	}
}

func TestDummy_InstantCapture(t *testing.T) {
	cfg := smallConfig()
	cfg.TimeScale = 0
	cam := newTestCamera(t, cfg, nil)

	img, err := camera.Capture(context.Background(), cam, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("Capture failed: %v", err)
	}
	if img.Width != 8 || img.Height != 6 {
		t.Errorf("Expected 8x6, got %dx%d", img.Width, img.Height)
	}
	// 既定の画素形式は mono16
	if img.Pixels.Kind != camera.PixelU16 {
		t.Errorf("Expected u16 pixels, got %s", img.Pixels.Kind)
	}
	if img.Meta.Exposure != time.Second {
		t.Errorf("Expected exposure 1s, got %s", img.Meta.Exposure)
	}
	if _, ok := img.Meta.Keys["XOFST"]; !ok {
		t.Error("Expected XOFST key")
	}
}

func TestDummy_ReadinessFollowsClock(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	cam := newTestCamera(t, smallConfig(), clock)

	if err := cam.SetProperty(control.ExposureTime, property.Int(500_000)); err != nil {
		t.Fatalf("SetProperty failed: %v", err)
	}
	if err := cam.StartExposure(); err != nil {
		t.Fatalf("StartExposure failed: %v", err)
	}

	clock.Advance(499 * time.Millisecond)
	if ready, err := cam.ImageReady(); err != nil || ready {
		t.Fatalf("Expected not ready before 500ms, got %v (%v)", ready, err)
	}
	clock.Advance(time.Millisecond)
	if ready, err := cam.ImageReady(); err != nil || !ready {
		t.Fatalf("Expected ready at 500ms, got %v (%v)", ready, err)
	}

	img, err := cam.DownloadImage(context.Background())
	if err != nil {
		t.Fatalf("DownloadImage failed: %v", err)
	}
	if !img.Meta.Timestamp.Equal(clock.t.Add(-500 * time.Millisecond)) {
		t.Errorf("Expected timestamp at exposure start, got %s", img.Meta.Timestamp)
	}
}

func TestDummy_PixelFormatAndROI(t *testing.T) {
	cfg := smallConfig()
	cfg.TimeScale = 0
	cam := newTestCamera(t, cfg, nil)

	settings := []struct {
		id control.ID
		v  property.Value
	}{
		{control.PixelFormat, property.Enum(2)},
		{control.OffsetX, property.Int(2)},
		{control.OffsetY, property.Int(1)},
		// 幅はセンサーに収まるよう切り詰められる
		{control.Width, property.Int(8)},
		{control.Height, property.Int(3)},
	}
	for _, s := range settings {
		if err := cam.SetProperty(s.id, s.v); err != nil {
			t.Fatalf("SetProperty %s failed: %v", s.id, err)
		}
	}

	img, err := camera.Capture(context.Background(), cam, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("Capture failed: %v", err)
	}
	if img.Pixels.Kind != camera.PixelF32 {
		t.Errorf("Expected f32 pixels, got %s", img.Pixels.Kind)
	}
	if img.Width != 6 || img.Height != 3 {
		t.Errorf("Expected 6x3 after clamping, got %dx%d", img.Width, img.Height)
	}
	if img.Meta.Keys["XOFST"] != 2 || img.Meta.Keys["YOFST"] != 1 {
		t.Errorf("Unexpected offsets %v / %v", img.Meta.Keys["XOFST"], img.Meta.Keys["YOFST"])
	}
	for _, v := range img.Pixels.F32 {
		if v < 0 || v > 1 {
			t.Fatalf("Expected normalized pixel, got %g", v)
		}
	}
}

func TestDummy_ReverseX(t *testing.T) {
	img := &camera.Image{Width: 3, Height: 2, Pixels: camera.Pixels{Kind: camera.PixelU8, U8: []uint8{1, 2, 3, 4, 5, 6}}}
	reverseRows(img)
	want := []uint8{3, 2, 1, 6, 5, 4}
	for i, v := range want {
		if img.Pixels.U8[i] != v {
			t.Fatalf("Expected %v, got %v", want, img.Pixels.U8)
		}
	}
}

func TestDummy_ReadOnlyControls(t *testing.T) {
	cam := newTestCamera(t, smallConfig(), nil)

	err := cam.SetProperty(control.Temperature, property.Float(0))
	if reason, _ := property.ReasonOf(err); reason != property.ReasonReadOnly {
		t.Errorf("Expected read_only, got %v", err)
	}
	// 温度は問い合わせごとに更新されるが範囲内に留まる
	for range 5 {
		model, err := cam.Property(control.Temperature)
		if err != nil {
			t.Fatalf("Property failed: %v", err)
		}
		if c := model.Current().Float; c < 15 || c > 25 {
			t.Errorf("Expected temperature near ambient, got %g", c)
		}
	}
}

func TestSettings_Adjust(t *testing.T) {
	testCases := []struct {
		name         string
		settings     settings
		mean         float64
		wantNil      bool
		wantExposure time.Duration // 0 なら変更なし
		wantGain     int64         // -1 なら変更なし
	}{
		{
			name:     "自動制御なし",
			settings: settings{exposure: time.Second, target: 0.5, maxGain: 100},
			mean:     0.1,
			wantNil:  true,
		},
		{
			name:     "暗いとゲインを上げる",
			settings: settings{exposure: time.Second, gain: 20, autoGain: true, target: 0.5, maxGain: 100},
			mean:     0.3,
			wantGain: 30,
		},
		{
			name:     "目標付近ではゲインを保つ",
			settings: settings{exposure: time.Second, gain: 20, autoGain: true, target: 0.5, maxGain: 100},
			mean:     0.52,
			wantGain: 20,
		},
		{
			name:     "ゲインは上限で止まる",
			settings: settings{exposure: time.Second, gain: 50, autoGain: true, target: 0.5, maxGain: 50},
			mean:     0.1,
			wantGain: 50,
		},
		{
			name:         "露光時間を優先する",
			settings:     settings{exposure: time.Second, gain: 20, autoExposure: true, autoGain: true, target: 0.5, maxGain: 100},
			mean:         0.25,
			wantExposure: 2 * time.Second,
			wantGain:     -1,
		},
		{
			name:         "露光時間が上限ならゲインも上げる",
			settings:     settings{exposure: maxExposure, gain: 20, autoExposure: true, autoGain: true, target: 0.5, maxGain: 100},
			mean:         0.1,
			wantExposure: maxExposure,
			wantGain:     30,
		},
		{
			name:         "露光時間は下限で止まる",
			settings:     settings{exposure: 2 * time.Millisecond, autoExposure: true, target: 0.1, maxGain: 100},
			mean:         0.9,
			wantExposure: minExposure,
			wantGain:     -1,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.settings.adjust(tc.mean)
			if tc.wantNil {
				if got != nil {
					t.Errorf("Expected no adjustment, got %+v", got)
				}
				return
			}
			if got == nil {
				t.Fatal("Expected adjustment")
			}
			if got.setExposure != (tc.wantExposure != 0) || got.exposure != tc.wantExposure {
				t.Errorf("Expected exposure %s, got %+v", tc.wantExposure, got)
			}
			if tc.wantGain < 0 {
				if got.setGain {
					t.Errorf("Expected gain unchanged, got %+v", got)
				}
			} else if !got.setGain || got.gain != tc.wantGain {
				t.Errorf("Expected gain %d, got %+v", tc.wantGain, got)
			}
		})
	}
}

func TestDummy_AutoGain(t *testing.T) {
	cfg := smallConfig()
	cfg.TimeScale = 0
	cam := newTestCamera(t, cfg, nil)

	if err := cam.SetProperty(control.GainAuto, property.Bool(true)); err != nil {
		t.Fatalf("SetProperty failed: %v", err)
	}
	if err := cam.SetProperty(control.AutoTargetBright, property.Float(0.9)); err != nil {
		t.Fatalf("SetProperty failed: %v", err)
	}

	// 平均輝度は 0.5 前後なので、フレームごとにゲインが 10 ずつ上がる
	for i, want := range []int64{0, 10, 20} {
		img, err := camera.Capture(context.Background(), cam, 50*time.Millisecond)
		if err != nil {
			t.Fatalf("Capture %d failed: %v", i, err)
		}
		if img.Meta.Keys["GAIN"] != want {
			t.Errorf("Frame %d: expected gain %d, got %v", i, want, img.Meta.Keys["GAIN"])
		}
	}
	model, err := cam.Property(control.Gain)
	if err != nil {
		t.Fatalf("Property failed: %v", err)
	}
	if model.Current() != property.Int(30) {
		t.Errorf("Expected gain 30 in catalog, got %v", model.Current())
	}
}

func TestDummy_AutoExposure(t *testing.T) {
	cfg := smallConfig()
	cfg.TimeScale = 0
	cam := newTestCamera(t, cfg, nil)

	if err := cam.SetProperty(control.ExposureAuto, property.Bool(true)); err != nil {
		t.Fatalf("SetProperty failed: %v", err)
	}
	if err := cam.SetProperty(control.AutoTargetBright, property.Float(0.25)); err != nil {
		t.Fatalf("SetProperty failed: %v", err)
	}
	if model, err := cam.Property(control.ExposureAuto); err != nil || model.Current() != property.Bool(true) {
		t.Fatalf("Expected auto exposure on, got %v (%v)", model.Current(), err)
	}

	if _, err := camera.Capture(context.Background(), cam, 50*time.Millisecond); err != nil {
		t.Fatalf("Capture failed: %v", err)
	}
	model, err := cam.Property(control.ExposureTime)
	if err != nil {
		t.Fatalf("Property failed: %v", err)
	}
	// 1 秒で平均 0.5 前後なので、目標 0.25 には約半分の露光時間になる
	exposure := time.Duration(model.Current().Int) * time.Microsecond
	if exposure < 400*time.Millisecond || exposure > 600*time.Millisecond {
		t.Errorf("Expected exposure near 500ms, got %s", exposure)
	}
	if gain, _ := cam.Property(control.Gain); gain.Current() != property.Int(0) {
		t.Errorf("Expected gain unchanged, got %v", gain.Current())
	}

	img, err := camera.Capture(context.Background(), cam, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("Capture failed: %v", err)
	}
	if img.Meta.Exposure != exposure {
		t.Errorf("Expected next frame to use %s, got %s", exposure, img.Meta.Exposure)
	}
}
