package camera

import (
	"context"
	"errors"
	"testing"
	"time"

	"gencam/internal/control"
	"gencam/internal/property"
)

func newTestDevice(opts ...DeviceOption) (*Device, *MockSensor) {
	sensor := NewMockSensor(4, 3)
	desc := Descriptor{ID: "test-camera-1", Name: "Test Camera", Driver: "mock"}
	return NewDevice(desc, sensor, NewMockCatalog(), opts...), sensor
}

func TestDevice_InitialState(t *testing.T) {
	device, _ := newTestDevice()

	if device.State() != StateIdle {
		t.Errorf("Expected initial state idle, got %s", device.State())
	}
	if device.Info().ID != "test-camera-1" {
		t.Errorf("Expected ID test-camera-1, got %s", device.Info().ID)
	}
	if device.Properties().Len() != 4 {
		t.Errorf("Expected 4 controls, got %d", device.Properties().Len())
	}
}

// refreshingSensor は読み取り専用値を更新する Sensor
type refreshingSensor struct {
	*MockSensor
	refreshes int
	err       error
}

func (s *refreshingSensor) Refresh(controls *control.Catalog) error {
	s.refreshes++
	if s.err != nil {
		return s.err
	}
	model := property.Must(property.NewInt(1, 4096, 1, int64(100+s.refreshes), property.ReadOnly()))
	return controls.Replace(control.WidthMax, model)
}

func TestDevice_PropertyRefreshesReadOnlyOnly(t *testing.T) {
	sensor := &refreshingSensor{MockSensor: NewMockSensor(4, 3)}
	device := NewDevice(Descriptor{ID: "cam"}, sensor, NewMockCatalog())

	// 書き込み可能な値の取得ではハードウェアを読まない
	for range 3 {
		if _, err := device.Property(control.Gain); err != nil {
			t.Fatalf("Property failed: %v", err)
		}
	}
	if sensor.refreshes != 0 {
		t.Errorf("Expected no refresh for writable control, got %d", sensor.refreshes)
	}

	model, err := device.Property(control.WidthMax)
	if err != nil {
		t.Fatalf("Property failed: %v", err)
	}
	if sensor.refreshes != 1 || model.Current() != property.Int(101) {
		t.Errorf("Expected refreshed value 101, got %v after %d refreshes", model.Current(), sensor.refreshes)
	}

	if _, err := device.Property(control.New(control.GroupAnalog, "missing")); !errors.Is(err, control.ErrUnknownControl) {
		t.Errorf("Expected ErrUnknownControl, got %v", err)
	}
	if sensor.refreshes != 1 {
		t.Errorf("Expected unknown control not to refresh, got %d", sensor.refreshes)
	}
}

func TestDevice_PropertyRefreshFailure(t *testing.T) {
	sensor := &refreshingSensor{MockSensor: NewMockSensor(4, 3), err: errors.New("i2c timeout")}
	device := NewDevice(Descriptor{ID: "cam"}, sensor, NewMockCatalog())

	_, err := device.Property(control.WidthMax)
	if !errors.Is(err, ErrHardware) {
		t.Fatalf("Expected ErrHardware, got %v", err)
	}
	if ErrorCode(err) != CodeHardware {
		t.Errorf("Expected hardware code, got %s", ErrorCode(err))
	}

	// 一覧取得は直前の値を返す
	model, err := device.Properties().Get(control.WidthMax)
	if err != nil || model.Current() != property.Int(4) {
		t.Errorf("Expected previous value 4, got %v (%v)", model.Current(), err)
	}
}

func TestDevice_SetProperty(t *testing.T) {
	device, sensor := newTestDevice()

	if err := device.SetProperty(control.Gain, property.Int(40)); err != nil {
		t.Fatalf("SetProperty failed: %v", err)
	}
	if v, ok := sensor.Applied(control.Gain); !ok || v != property.Int(40) {
		t.Errorf("Expected sensor to receive 40, got %v", v)
	}

	// 刻み外の値はハードウェアに届かない
	err := device.SetProperty(control.Gain, property.Int(45))
	if !errors.Is(err, ErrInvalidValue) {
		t.Fatalf("Expected ErrInvalidValue, got %v", err)
	}
	if sensor.Calls("apply") != 1 {
		t.Errorf("Expected 1 apply call, got %d", sensor.Calls("apply"))
	}
	model, _ := device.Property(control.Gain)
	if model.Current() != property.Int(40) {
		t.Errorf("Expected gain to stay 40, got %v", model.Current())
	}

	if err := device.SetProperty(control.Gamma, property.Float(1)); !errors.Is(err, ErrUnknownControl) {
		t.Errorf("Expected ErrUnknownControl, got %v", err)
	}
}

func TestDevice_SetPropertyHardwareFailureKeepsCatalog(t *testing.T) {
	device, sensor := newTestDevice()
	sensor.ApplyErr = errors.New("bus error")

	err := device.SetProperty(control.Gain, property.Int(40))
	if !errors.Is(err, ErrHardware) {
		t.Fatalf("Expected ErrHardware, got %v", err)
	}
	model, _ := device.Property(control.Gain)
	if model.Current() != property.Int(0) {
		t.Errorf("Expected gain to stay 0, got %v", model.Current())
	}
}

func TestDevice_SetPropertyRejectedWhileExposing(t *testing.T) {
	device, sensor := newTestDevice()
	sensor.ReadyAfter = -1

	if err := device.StartExposure(); err != nil {
		t.Fatalf("StartExposure failed: %v", err)
	}
	if err := device.SetProperty(control.Gain, property.Int(40)); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Expected ErrInvalidState, got %v", err)
	}
}

func TestDevice_ExposureCycle(t *testing.T) {
	ctx := context.Background()
	device, sensor := newTestDevice()
	sensor.ReadyAfter = 1

	if err := device.StartExposure(); err != nil {
		t.Fatalf("StartExposure failed: %v", err)
	}
	if device.State() != StateExposing {
		t.Fatalf("Expected exposing, got %s", device.State())
	}

	// 二重開始は拒否され、露光は続く
	if err := device.StartExposure(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Expected ErrInvalidState on double start, got %v", err)
	}
	if device.State() != StateExposing {
		t.Errorf("Expected still exposing, got %s", device.State())
	}

	// 露光中のダウンロードは拒否される
	if _, err := device.DownloadImage(ctx); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Expected ErrInvalidState on early download, got %v", err)
	}

	ready, err := device.ImageReady()
	if err != nil || ready {
		t.Fatalf("Expected not ready on first poll, got %v (%v)", ready, err)
	}
	ready, err = device.ImageReady()
	if err != nil || !ready {
		t.Fatalf("Expected ready on second poll, got %v (%v)", ready, err)
	}
	if device.State() != StateReadyForDownload {
		t.Fatalf("Expected ready_for_download, got %s", device.State())
	}

	img, err := device.DownloadImage(ctx)
	if err != nil {
		t.Fatalf("DownloadImage failed: %v", err)
	}
	if img.Width != 4 || img.Height != 3 || img.Pixels.Len() != 12 {
		t.Errorf("Unexpected image %dx%d (%d pixels)", img.Width, img.Height, img.Pixels.Len())
	}
	if img.Meta.Camera != "test-camera-1" || img.Meta.Controls == nil {
		t.Errorf("Expected metadata to be filled, got %+v", img.Meta)
	}
	if device.State() != StateIdle {
		t.Errorf("Expected idle after download, got %s", device.State())
	}

	// 二回目のダウンロードは拒否される
	if _, err := device.DownloadImage(ctx); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Expected ErrInvalidState on second download, got %v", err)
	}
}

func TestDevice_ImageReadyFromIdle(t *testing.T) {
	device, _ := newTestDevice()
	if _, err := device.ImageReady(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Expected ErrInvalidState, got %v", err)
	}
}

func TestDevice_ArmFailureStaysIdle(t *testing.T) {
	device, sensor := newTestDevice()
	sensor.ArmErr = errors.New("trigger not configured")

	if err := device.StartExposure(); !errors.Is(err, ErrHardware) {
		t.Fatalf("Expected ErrHardware, got %v", err)
	}
	if device.State() != StateIdle {
		t.Errorf("Expected idle, got %s", device.State())
	}
}

func TestDevice_PollFailureReturnsToIdle(t *testing.T) {
	device, sensor := newTestDevice()
	sensor.ReadyErr = errors.New("link lost")

	if err := device.StartExposure(); err != nil {
		t.Fatalf("StartExposure failed: %v", err)
	}
	if _, err := device.ImageReady(); !errors.Is(err, ErrHardware) {
		t.Fatalf("Expected ErrHardware, got %v", err)
	}
	if device.State() != StateIdle {
		t.Errorf("Expected idle, got %s", device.State())
	}
	if sensor.Armed() {
		t.Error("Expected sensor to be disarmed")
	}
}

func TestDevice_ReadFailureReturnsToIdle(t *testing.T) {
	device, sensor := newTestDevice()
	sensor.ReadErr = errors.New("dma timeout")

	if err := device.StartExposure(); err != nil {
		t.Fatalf("StartExposure failed: %v", err)
	}
	if ready, _ := device.ImageReady(); !ready {
		t.Fatal("Expected ready")
	}
	if _, err := device.DownloadImage(context.Background()); !errors.Is(err, ErrCaptureFailed) {
		t.Fatalf("Expected ErrCaptureFailed, got %v", err)
	}
	if device.State() != StateIdle {
		t.Errorf("Expected idle, got %s", device.State())
	}
}

func TestDevice_AbortExposure(t *testing.T) {
	device, sensor := newTestDevice()
	sensor.ReadyAfter = -1

	if _, err := device.AbortExposure(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Expected ErrInvalidState when idle, got %v", err)
	}

	if err := device.StartExposure(); err != nil {
		t.Fatalf("StartExposure failed: %v", err)
	}
	state, err := device.AbortExposure()
	if err != nil {
		t.Fatalf("AbortExposure failed: %v", err)
	}
	if state != StateAborted {
		t.Errorf("Expected aborted, got %s", state)
	}
	if device.State() != StateIdle {
		t.Errorf("Expected idle after abort, got %s", device.State())
	}

	// 破棄に失敗しても idle に戻る
	sensor.DisarmErr = errors.New("stuck shutter")
	if err := device.StartExposure(); err != nil {
		t.Fatalf("StartExposure failed: %v", err)
	}
	state, err = device.AbortExposure()
	if !errors.Is(err, ErrHardware) || state != StateAborted {
		t.Errorf("Expected aborted with ErrHardware, got %s (%v)", state, err)
	}
	if device.State() != StateIdle {
		t.Errorf("Expected idle after failed abort, got %s", device.State())
	}
}

func TestDevice_BlockingDownload(t *testing.T) {
	device, sensor := newTestDevice(WithBlockingDownload(time.Second))
	sensor.ReadyAfter = 3

	if err := device.StartExposure(); err != nil {
		t.Fatalf("StartExposure failed: %v", err)
	}
	img, err := device.DownloadImage(context.Background())
	if err != nil {
		t.Fatalf("DownloadImage failed: %v", err)
	}
	if img == nil {
		t.Fatal("Expected image")
	}
	if device.State() != StateIdle {
		t.Errorf("Expected idle, got %s", device.State())
	}
}

func TestDevice_BlockingDownloadTimeout(t *testing.T) {
	device, sensor := newTestDevice(WithBlockingDownload(30 * time.Millisecond))
	sensor.ReadyAfter = -1

	if err := device.StartExposure(); err != nil {
		t.Fatalf("StartExposure failed: %v", err)
	}
	if _, err := device.DownloadImage(context.Background()); !errors.Is(err, ErrTimeout) {
		t.Fatalf("Expected ErrTimeout, got %v", err)
	}
	if device.State() != StateIdle {
		t.Errorf("Expected idle after timeout, got %s", device.State())
	}
	if sensor.Calls("disarm") != 1 {
		t.Errorf("Expected exposure to be aborted, got %d disarm calls", sensor.Calls("disarm"))
	}
}

func TestDevice_Close(t *testing.T) {
	device, sensor := newTestDevice()
	sensor.ReadyAfter = -1

	if err := device.StartExposure(); err != nil {
		t.Fatalf("StartExposure failed: %v", err)
	}
	if err := device.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !sensor.Closed() || sensor.Armed() {
		t.Error("Expected sensor to be disarmed and closed")
	}
	// 二回目のクローズは何もしない
	if err := device.Close(); err != nil {
		t.Errorf("Expected second Close to succeed, got %v", err)
	}
	if err := device.StartExposure(); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
}

func TestErrorCode(t *testing.T) {
	testCases := []struct {
		err  error
		want Code
	}{
		{err: nil, want: ""},
		{err: &StateError{Op: "start_exposure", State: StateExposing}, want: CodeInvalidState},
		{err: &HardwareError{Op: "arm", Err: errors.New("x")}, want: CodeHardware},
		{err: property.Validate(property.Must(property.NewBool(false)), property.Int(1)), want: CodeInvalidValue},
		{err: ErrTimeout, want: CodeTimeout},
		{err: context.Canceled, want: CodeCanceled},
		{err: ErrUnknownHandle, want: CodeUnknownHandle},
		{err: control.ErrUnknownControl, want: CodeUnknownControl},
		{err: errors.New("boom"), want: CodeInternal},
	}

	for _, tc := range testCases {
		if got := ErrorCode(tc.err); got != tc.want {
			t.Errorf("ErrorCode(%v): expected %q, got %q", tc.err, tc.want, got)
		}
	}
}
