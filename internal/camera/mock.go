package camera

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"gencam/internal/control"
	"gencam/internal/property"
)

// MockDriver はテスト用のモック Driver 実装
type MockDriver struct {
	name    string
	devices []Descriptor
	sensors map[string]*MockSensor
	mu      sync.Mutex

	// ConnectErr が設定されていれば Connect はそれを返す
	ConnectErr error
}

// NewMockDriver は新しいMockDriverを作成する
func NewMockDriver(ids ...string) *MockDriver {
	d := &MockDriver{
		name:    "mock",
		sensors: make(map[string]*MockSensor),
	}
	for _, id := range ids {
		d.AddDevice(id)
	}
	return d
}

// Name はドライバー名を返す
func (d *MockDriver) Name() string {
	return d.name
}

// ListDevices はモックデバイス一覧を返す
func (d *MockDriver) ListDevices(_ context.Context) ([]Descriptor, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.devices), nil
}

// Connect はモックセンサーを持つ Device を返す
func (d *MockDriver) Connect(_ context.Context, desc Descriptor) (Camera, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.ConnectErr != nil {
		return nil, d.ConnectErr
	}
	if !slices.ContainsFunc(d.devices, func(known Descriptor) bool { return known.ID == desc.ID }) {
		return nil, fmt.Errorf("デバイスが見つかりません: %s", desc.ID)
	}
	sensor := NewMockSensor(4, 3)
	d.sensors[desc.ID] = sensor
	return NewDevice(desc, sensor, NewMockCatalog()), nil
}

// Sensor は接続済みデバイスのモックセンサーを返す
func (d *MockDriver) Sensor(id string) *MockSensor {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sensors[id]
}

// AddDevice はテスト用にデバイスを追加する
func (d *MockDriver) AddDevice(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	// 重複チェック
	for _, known := range d.devices {
		if known.ID == id {
			return
		}
	}
	d.devices = append(d.devices, Descriptor{
		ID:     id,
		Name:   fmt.Sprintf("テストカメラ %d", len(d.devices)+1),
		Vendor: "gencam",
		Driver: d.name,
	})
}

// RemoveDevice はテスト用にデバイスを削除する
func (d *MockDriver) RemoveDevice(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.devices = slices.DeleteFunc(d.devices, func(known Descriptor) bool {
		return known.ID == id
	})
}

// NewMockCatalog はモック用のコントロールカタログを作成する
func NewMockCatalog() *control.Catalog {
	return control.NewCatalog().
		MustAdd(control.ExposureTime, property.Must(property.NewInt(0, 10_000_000, 1, 0))).
		MustAdd(control.Gain, property.Must(property.NewInt(0, 100, 10, 0))).
		MustAdd(control.PixelFormat, property.Must(property.NewEnum([]string{"mono8", "mono16"}, 0))).
		MustAdd(control.WidthMax, property.Must(property.NewInt(1, 4096, 1, 4, property.ReadOnly())))
}

// MockSensor はテスト用のモック Sensor 実装
//
// ReadyAfter 回目の Ready 呼び出しで完了を報告する。0 なら即座に完了する。
// 負の値の場合は完了しない。
type MockSensor struct {
	mu sync.Mutex

	Width      int
	Height     int
	ReadyAfter int

	ApplyErr  error
	ArmErr    error
	ReadyErr  error
	ReadErr   error
	DisarmErr error
	CloseErr  error

	polls    int
	armed    bool
	closed   bool
	applied  map[control.ID]property.Value
	counters map[string]int
}

// NewMockSensor は新しいMockSensorを作成する
func NewMockSensor(width, height int) *MockSensor {
	return &MockSensor{
		Width:    width,
		Height:   height,
		applied:  make(map[control.ID]property.Value),
		counters: make(map[string]int),
	}
}

// Apply は反映された値を記録する
func (s *MockSensor) Apply(id control.ID, v property.Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters["apply"]++
	if s.ApplyErr != nil {
		return s.ApplyErr
	}
	s.applied[id] = v
	return nil
}

// Arm は露光開始を記録する
func (s *MockSensor) Arm(_ *control.Catalog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters["arm"]++
	if s.ArmErr != nil {
		return s.ArmErr
	}
	s.armed = true
	s.polls = 0
	return nil
}

// Ready は ReadyAfter 回目の呼び出しで true を返す
func (s *MockSensor) Ready() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters["ready"]++
	if s.ReadyErr != nil {
		return false, s.ReadyErr
	}
	if s.ReadyAfter < 0 {
		return false, nil
	}
	s.polls++
	return s.polls > s.ReadyAfter, nil
}

// Read は Width x Height の 8bit 画像を返す
func (s *MockSensor) Read() (*Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters["read"]++
	s.armed = false
	if s.ReadErr != nil {
		return nil, s.ReadErr
	}
	pixels := make([]uint8, s.Width*s.Height)
	for i := range pixels {
		pixels[i] = uint8(i)
	}
	return NewImage(s.Width, s.Height, Pixels{Kind: PixelU8, U8: pixels})
}

// Disarm は露光の破棄を記録する
func (s *MockSensor) Disarm() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters["disarm"]++
	s.armed = false
	return s.DisarmErr
}

// Close はクローズを記録する
func (s *MockSensor) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters["close"]++
	s.closed = true
	return s.CloseErr
}

// Calls は操作ごとの呼び出し回数を返す
func (s *MockSensor) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters[op]
}

// Applied は最後に反映された値を返す
func (s *MockSensor) Applied(id control.ID) (property.Value, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.applied[id]
	return v, ok
}

// Armed は露光中かどうかを返す
func (s *MockSensor) Armed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.armed
}

// Closed はクローズ済みかどうかを返す
func (s *MockSensor) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
