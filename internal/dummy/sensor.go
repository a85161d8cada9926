package dummy

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"gencam/internal/camera"
	"gencam/internal/control"
	"gencam/internal/property"
)

const ambientTemperature = 20.0

const (
	// autoDeadband は目標輝度との差がこれ以下ならゲインを動かさない幅
	autoDeadband = 0.05
	gainStep     = 10
	maxGain      = 100
)

var errNotArmed = errors.New("露光が開始されていません")

// settings は露光開始時点で確定する撮影条件
type settings struct {
	exposure   time.Duration
	gain       int64
	gamma      float64
	blackLevel int64
	format     string
	reverseX   bool
	roi        roi

	// 自動制御
	autoExposure bool
	autoGain     bool
	target       float64
	maxGain      int64
}

// adjustment は自動制御が決めた次のフレームの撮影条件
type adjustment struct {
	exposure    time.Duration
	gain        int64
	setExposure bool
	setGain     bool
}

type roi struct {
	x, y, width, height int
}

// Sensor は模擬センサー
type Sensor struct {
	width     int
	height    int
	timeScale float64
	reference time.Duration // 輝度の基準になる露光時間
	now       func() time.Time
	rng       *rand.Rand

	armed       bool
	armedAt     time.Time
	current     settings
	temperature float64
	pending     *adjustment
	closed      bool
}

func newSensor(cfg Config, seed uint64, now func() time.Time) *Sensor {
	return &Sensor{
		width:       cfg.Width,
		height:      cfg.Height,
		timeScale:   cfg.TimeScale,
		reference:   cfg.Exposure,
		now:         now,
		rng:         rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		temperature: ambientTemperature,
	}
}

// Apply は値を受け付ける。撮影条件は Arm 時点のカタログから読み直すため、ここでは保持しない
func (s *Sensor) Apply(_ control.ID, _ property.Value) error {
	if s.closed {
		return camera.ErrClosed
	}
	return nil
}

// Arm は露光を開始する
func (s *Sensor) Arm(controls *control.Catalog) error {
	if s.closed {
		return camera.ErrClosed
	}
	s.current = s.read(controls)
	s.armedAt = s.now()
	s.armed = true
	return nil
}

// Ready は経過時間が露光時間（倍率適用後）に達したかを返す
func (s *Sensor) Ready() (bool, error) {
	if !s.armed {
		return false, errNotArmed
	}
	wait := time.Duration(float64(s.current.exposure) * s.timeScale)
	return s.now().Sub(s.armedAt) >= wait, nil
}

// Read は ROI の大きさのノイズ画像を生成する
func (s *Sensor) Read() (*camera.Image, error) {
	if !s.armed {
		return nil, errNotArmed
	}
	s.armed = false

	r := s.current.roi
	pixels, mean := s.noise(r.width * r.height)
	img, err := camera.NewImage(r.width, r.height, pixels)
	if err != nil {
		return nil, err
	}
	s.pending = s.current.adjust(mean)
	if s.current.reverseX {
		reverseRows(img)
	}
	img.Meta.Timestamp = s.armedAt
	img.Meta.Exposure = s.current.exposure
	img.SetKey("XOFST", r.x)
	img.SetKey("YOFST", r.y)
	img.SetKey("GAIN", s.current.gain)
	img.SetKey("CCD-TEMP", s.temperature)
	return img, nil
}

// Disarm は露光を破棄する
func (s *Sensor) Disarm() error {
	s.armed = false
	return nil
}

// Close はセンサーを解放する
func (s *Sensor) Close() error {
	s.armed = false
	s.closed = true
	return nil
}

// Refresh はセンサー温度と自動制御の結果をカタログに反映する。温度は露光中にわずかに上昇する
func (s *Sensor) Refresh(controls *control.Catalog) error {
	if err := s.refreshTemperature(controls); err != nil {
		return err
	}
	if s.pending == nil {
		return nil
	}
	if s.pending.setExposure {
		if err := controls.Set(control.ExposureTime, property.Int(s.pending.exposure.Microseconds())); err != nil {
			return fmt.Errorf("自動露光の反映に失敗: %w", err)
		}
	}
	if s.pending.setGain {
		if err := controls.Set(control.Gain, property.Int(s.pending.gain)); err != nil {
			return fmt.Errorf("自動ゲインの反映に失敗: %w", err)
		}
	}
	s.pending = nil
	return nil
}

func (s *Sensor) refreshTemperature(controls *control.Catalog) error {
	target := ambientTemperature
	if s.armed {
		target += 2
	}
	s.temperature += (target-s.temperature)*0.5 + (s.rng.Float64()-0.5)*0.1
	model, err := temperatureModel(math.Round(s.temperature*100) / 100)
	if err != nil {
		return err
	}
	return controls.Replace(control.Temperature, model)
}

// read はカタログから撮影条件を取り出し、ROI をセンサー内に収める
func (s *Sensor) read(controls *control.Catalog) settings {
	intOf := func(id control.ID, fallback int64) int64 {
		if v, err := controls.Current(id); err == nil && v.Kind == property.KindInt {
			return v.Int
		}
		return fallback
	}

	cfg := settings{
		exposure:   time.Duration(intOf(control.ExposureTime, 0)) * time.Microsecond,
		gain:       intOf(control.Gain, 0),
		gamma:      1,
		blackLevel: intOf(control.BlackLevel, 0),
		format:     pixelFormats[0],
	}
	if v, err := controls.Current(control.Gamma); err == nil && v.Kind == property.KindFloat {
		cfg.gamma = v.Float
	}
	if model, err := controls.Get(control.PixelFormat); err == nil {
		if name, ok := model.CurrentOption(); ok {
			cfg.format = name
		}
	}
	boolOf := func(id control.ID) bool {
		v, err := controls.Current(id)
		return err == nil && v.Kind == property.KindBool && v.Bool
	}
	cfg.reverseX = boolOf(control.ReverseX)
	cfg.autoExposure = boolOf(control.ExposureAuto)
	cfg.autoGain = boolOf(control.GainAuto)
	cfg.target = 0.5
	if v, err := controls.Current(control.AutoTargetBright); err == nil && v.Kind == property.KindFloat {
		cfg.target = v.Float
	}
	cfg.maxGain = intOf(control.AutoMaxGain, maxGain)

	x := int(intOf(control.OffsetX, 0))
	y := int(intOf(control.OffsetY, 0))
	x = min(max(x, 0), s.width-1)
	y = min(max(y, 0), s.height-1)
	cfg.roi = roi{
		x:      x,
		y:      y,
		width:  min(int(intOf(control.Width, int64(s.width))), s.width-x),
		height: min(int(intOf(control.Height, int64(s.height))), s.height-y),
	}
	return cfg
}

// adjust は直前のフレームの平均輝度から次のフレームの露光時間とゲインを決める
//
// 露光時間を優先し、ゲインは自動露光が無効か露光時間が上下限に達したときだけ動かす。
func (c settings) adjust(mean float64) *adjustment {
	if (!c.autoExposure && !c.autoGain) || mean <= 0 {
		return nil
	}
	a := &adjustment{}
	limited := true
	if c.autoExposure {
		next := time.Duration(float64(c.exposure) * c.target / mean).Round(minExposure)
		next = min(max(next, minExposure), maxExposure)
		a.exposure, a.setExposure = next, true
		limited = (next == maxExposure && mean < c.target) || (next == minExposure && mean > c.target)
	}
	if c.autoGain && limited {
		gain := c.gain
		switch {
		case mean < c.target-autoDeadband:
			gain += gainStep
		case mean > c.target+autoDeadband:
			gain -= gainStep
		}
		a.gain, a.setGain = min(max(gain, 0), c.maxGain), true
	}
	return a
}

// noise は撮影条件に応じたノイズ画素を生成し、正規化した平均輝度とともに返す
func (s *Sensor) noise(n int) (camera.Pixels, float64) {
	c := s.current
	gain := 1 + float64(c.gain)/100
	// 明るさは露光時間に比例する
	if s.reference > 0 {
		gain *= float64(c.exposure) / float64(s.reference)
	}
	black := float64(c.blackLevel) / 255
	var sum float64
	sample := func() float64 {
		v := black + s.rng.Float64()*(1-black)*gain
		v = math.Pow(math.Min(v, 1), 1/c.gamma)
		sum += v
		return v
	}
	mean := func() float64 { return sum / float64(max(n, 1)) }

	switch c.format {
	case "mono16":
		data := make([]uint16, n)
		for i := range data {
			data[i] = uint16(sample() * math.MaxUint16)
		}
		return camera.Pixels{Kind: camera.PixelU16, U16: data}, mean()
	case "float32":
		data := make([]float32, n)
		for i := range data {
			data[i] = float32(sample())
		}
		return camera.Pixels{Kind: camera.PixelF32, F32: data}, mean()
	default:
		data := make([]uint8, n)
		for i := range data {
			data[i] = uint8(sample() * math.MaxUint8)
		}
		return camera.Pixels{Kind: camera.PixelU8, U8: data}, mean()
	}
}

// reverseRows は各行の画素を左右反転する
func reverseRows(img *camera.Image) {
	w := img.Width
	for row := range img.Height {
		lo, hi := row*w, row*w+w-1
		for lo < hi {
			switch img.Pixels.Kind {
			case camera.PixelU8:
				img.Pixels.U8[lo], img.Pixels.U8[hi] = img.Pixels.U8[hi], img.Pixels.U8[lo]
			case camera.PixelU16:
				img.Pixels.U16[lo], img.Pixels.U16[hi] = img.Pixels.U16[hi], img.Pixels.U16[lo]
			case camera.PixelF32:
				img.Pixels.F32[lo], img.Pixels.F32[hi] = img.Pixels.F32[hi], img.Pixels.F32[lo]
			}
			lo++
			hi--
		}
	}
}
