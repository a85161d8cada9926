package camera

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"gencam/internal/control"
	"gencam/internal/property"
)

// Device は Sensor に露光の状態機械とプロパティ検証を被せた Camera の実装
//
// バックエンドは Sensor とコントロールカタログを用意するだけでよい。
type Device struct {
	desc     Descriptor
	sensor   Sensor
	controls *control.Catalog

	state    ExposureState
	armed    *control.Catalog // 露光開始時点の設定
	started  time.Time
	closed   bool
	blocking bool
	grace    time.Duration
	now      func() time.Time
}

// DeviceOption は Device の追加設定
type DeviceOption func(*Device)

// WithBlockingDownload は露光中の DownloadImage を完了まで待たせる
//
// 待ち時間の上限は露光時間に grace を加えたもの。超過すると露光を中断して ErrTimeout を返す。
func WithBlockingDownload(grace time.Duration) DeviceOption {
	return func(d *Device) {
		d.blocking = true
		d.grace = grace
	}
}

// WithClock は時刻の取得元を差し替える
func WithClock(now func() time.Time) DeviceOption {
	return func(d *Device) {
		d.now = now
	}
}

// NewDevice は新しい Device を作成する。controls の所有権は Device に移る
func NewDevice(desc Descriptor, sensor Sensor, controls *control.Catalog, opts ...DeviceOption) *Device {
	if controls == nil {
		controls = control.NewCatalog()
	}
	d := &Device{
		desc:     desc,
		sensor:   sensor,
		controls: controls,
		state:    StateIdle,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Info はデバイス情報を返す
func (d *Device) Info() Descriptor {
	return d.desc
}

// Properties はコントロールカタログのスナップショットを返す
//
// 読み取り専用値の再取得に失敗した場合は直前の値のまま返す。
func (d *Device) Properties() *control.Catalog {
	_ = d.refresh()
	return d.controls.Clone()
}

// Property は指定コントロールの値域モデルを返す
//
// 読み取り専用のコントロールだけはハードウェアから値を読み直す。
func (d *Device) Property(id control.ID) (property.Model, error) {
	model, err := d.controls.Get(id)
	if err != nil || !model.ReadOnly() {
		return model, err
	}
	if err := d.refresh(); err != nil {
		return property.Model{}, &HardwareError{Op: "get_property", Err: err}
	}
	return d.controls.Get(id)
}

func (d *Device) refresh() error {
	r, ok := d.sensor.(Refresher)
	if !ok || d.closed {
		return nil
	}
	return r.Refresh(d.controls)
}

// SetProperty は値を検証し、ハードウェアに反映してからカタログを更新する
//
// 露光中の変更は受け付けない。
func (d *Device) SetProperty(id control.ID, v property.Value) error {
	if d.closed {
		return ErrClosed
	}
	if d.state != StateIdle {
		return &StateError{Op: "set_property", State: d.state}
	}
	if err := d.controls.Validate(id, v); err != nil {
		return err
	}
	if err := d.sensor.Apply(id, v); err != nil {
		return &HardwareError{Op: "set_property " + id.String(), Err: err}
	}
	return d.controls.Set(id, v)
}

// State は現在の露光状態を返す
func (d *Device) State() ExposureState {
	return d.state
}

// StartExposure は露光を開始する
func (d *Device) StartExposure() error {
	if d.closed {
		return ErrClosed
	}
	if d.state != StateIdle {
		return &StateError{Op: "start_exposure", State: d.state}
	}
	armed := d.controls.Clone()
	if err := d.sensor.Arm(armed); err != nil {
		return &HardwareError{Op: "start_exposure", Err: err}
	}
	d.armed = armed
	d.started = d.now()
	d.state = StateExposing
	return nil
}

// ImageReady は画像が取り出せるかを返す
//
// ハードウェアの問い合わせに失敗した場合、露光を破棄して idle に戻る。
func (d *Device) ImageReady() (bool, error) {
	if d.closed {
		return false, ErrClosed
	}
	switch d.state {
	case StateReadyForDownload:
		return true, nil
	case StateExposing:
	default:
		return false, &StateError{Op: "image_ready", State: d.state}
	}

	ready, err := d.sensor.Ready()
	if err != nil {
		disarmErr := d.sensor.Disarm()
		d.reset()
		return false, &HardwareError{Op: "image_ready", Err: errors.Join(err, disarmErr)}
	}
	if ready {
		d.state = StateReadyForDownload
	}
	return ready, nil
}

// DownloadImage は撮影済み画像を取り出す
//
// 露光中の呼び出しは既定では ErrInvalidState を返す。WithBlockingDownload を指定した場合は
// 完了まで待つ。成否にかかわらず idle に戻る。
func (d *Device) DownloadImage(ctx context.Context) (*Image, error) {
	if d.closed {
		return nil, ErrClosed
	}
	switch d.state {
	case StateReadyForDownload:
	case StateExposing:
		if !d.blocking {
			return nil, &StateError{Op: "download_image", State: d.state}
		}
		limit := d.expectedExposure() + d.grace - d.now().Sub(d.started)
		if err := pollUntilReady(ctx, d.ImageReady, limit); err != nil {
			if d.state != StateIdle {
				_, abortErr := d.AbortExposure()
				err = errors.Join(err, abortErr)
			}
			return nil, err
		}
	default:
		return nil, &StateError{Op: "download_image", State: d.state}
	}

	img, err := d.sensor.Read()
	armed, started := d.armed, d.started
	d.reset()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCaptureFailed, err)
	}
	if img == nil {
		return nil, fmt.Errorf("%w: バックエンドが画像を返しませんでした", ErrCaptureFailed)
	}
	if err := img.Validate(); err != nil {
		return nil, err
	}
	// 自動露光などで変わった値をカタログに反映する。失敗時は次の問い合わせで再取得する
	_ = d.refresh()

	if img.ID == uuid.Nil {
		img.ID = uuid.New()
	}
	if img.Meta.Timestamp.IsZero() {
		img.Meta.Timestamp = started
	}
	if img.Meta.Exposure == 0 {
		img.Meta.Exposure = exposureOf(armed)
	}
	if img.Meta.Camera == "" {
		img.Meta.Camera = d.desc.ID
	}
	if img.Meta.Controls == nil {
		img.Meta.Controls = armed
	}
	return img, nil
}

// AbortExposure は露光を中断する
//
// 破棄に失敗した場合も idle に戻り、ErrHardware を返す。
func (d *Device) AbortExposure() (ExposureState, error) {
	if d.closed {
		return d.state, ErrClosed
	}
	if d.state != StateExposing && d.state != StateReadyForDownload {
		return d.state, &StateError{Op: "abort_exposure", State: d.state}
	}
	err := d.sensor.Disarm()
	d.reset()
	if err != nil {
		return StateAborted, &HardwareError{Op: "abort_exposure", Err: err}
	}
	return StateAborted, nil
}

// Close は進行中の露光を破棄してデバイスを解放する。複数回呼び出してもよい
func (d *Device) Close() error {
	if d.closed {
		return nil
	}
	var errs []error
	if d.state != StateIdle {
		if err := d.sensor.Disarm(); err != nil {
			errs = append(errs, &HardwareError{Op: "close", Err: err})
		}
		d.reset()
	}
	if err := d.sensor.Close(); err != nil {
		errs = append(errs, &HardwareError{Op: "close", Err: err})
	}
	d.closed = true
	return errors.Join(errs...)
}

func (d *Device) reset() {
	d.state = StateIdle
	d.armed = nil
	d.started = time.Time{}
}

func (d *Device) expectedExposure() time.Duration {
	if d.armed != nil {
		return exposureOf(d.armed)
	}
	return exposureOf(d.controls)
}

// exposureOf はカタログの露光時間（マイクロ秒）を返す。公開されていなければ 0
func exposureOf(controls *control.Catalog) time.Duration {
	v, err := controls.Current(control.ExposureTime)
	if err != nil || v.Kind != property.KindInt {
		return 0
	}
	return time.Duration(v.Int) * time.Microsecond
}
