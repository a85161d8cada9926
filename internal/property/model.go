package property

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/samber/lo"
)

// ErrInvalidModel は値域そのものが矛盾している場合のエラー
var ErrInvalidModel = errors.New("不正な値域モデル")

// Model は1つのコントロールの値域と現在値を記述する
//
// ゼロ値は種類を持たず、どの値も受け付けない。NewInt / NewFloat / NewEnum / NewBool
// のいずれかで生成すること。生成後は不変であり、With で現在値を差し替えたコピーを得る。
type Model struct {
	kind     Kind
	label    string
	readOnly bool
	current  Value
	def      Value

	imin, imax, istep int64
	fmin, fmax, fstep float64
	options           []string
}

// Option はモデル生成時の追加設定
type Option func(*Model)

// WithLabel は表示用ラベルを設定する
func WithLabel(label string) Option {
	return func(m *Model) {
		m.label = label
	}
}

// ReadOnly は読み取り専用に設定する
func ReadOnly() Option {
	return func(m *Model) {
		m.readOnly = true
	}
}

// WithDefault は既定値を設定する（未指定の場合は生成時の現在値）
func WithDefault(v Value) Option {
	return func(m *Model) {
		m.def = v
	}
}

// IntRange は整数範囲の境界
type IntRange struct {
	Min  int64
	Max  int64
	Step int64
}

// FloatRange は浮動小数点範囲の境界（Step 0 は連続値）
type FloatRange struct {
	Min  float64
	Max  float64
	Step float64
}

// NewInt は整数範囲のモデルを作成する
//
// step が 1 以下の場合は刻みの検査を行わない。
func NewInt(min, max, step, current int64, opts ...Option) (Model, error) {
	if min > max {
		return Model{}, fmt.Errorf("%w: 最小値 %d が最大値 %d を超えています", ErrInvalidModel, min, max)
	}
	if step < 0 {
		return Model{}, fmt.Errorf("%w: 負の刻み %d", ErrInvalidModel, step)
	}
	m := Model{kind: KindInt, imin: min, imax: max, istep: step}
	return m.finish(Int(current), opts)
}

// NewFloat は浮動小数点範囲のモデルを作成する
//
// step が 0 の場合は連続値として扱う。
func NewFloat(min, max, step, current float64, opts ...Option) (Model, error) {
	for _, f := range []float64{min, max, step} {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return Model{}, fmt.Errorf("%w: 有限でない境界値 %v", ErrInvalidModel, f)
		}
	}
	if min > max {
		return Model{}, fmt.Errorf("%w: 最小値 %g が最大値 %g を超えています", ErrInvalidModel, min, max)
	}
	if step < 0 {
		return Model{}, fmt.Errorf("%w: 負の刻み %g", ErrInvalidModel, step)
	}
	m := Model{kind: KindFloat, fmin: min, fmax: max, fstep: step}
	return m.finish(Float(current), opts)
}

// NewEnum は列挙のモデルを作成する
func NewEnum(options []string, current int, opts ...Option) (Model, error) {
	if len(options) == 0 {
		return Model{}, fmt.Errorf("%w: 選択肢が空です", ErrInvalidModel)
	}
	if dup := lo.FindDuplicates(options); len(dup) > 0 {
		return Model{}, fmt.Errorf("%w: 選択肢が重複しています: %s", ErrInvalidModel, strings.Join(dup, ", "))
	}
	m := Model{kind: KindEnum, options: append([]string(nil), options...)}
	return m.finish(Enum(current), opts)
}

// NewBool は真偽値のモデルを作成する
func NewBool(current bool, opts ...Option) (Model, error) {
	m := Model{kind: KindBool}
	return m.finish(Bool(current), opts)
}

// Must はモデル生成のエラーでパニックする。静的に定義されたカタログ用
func Must(m Model, err error) Model {
	if err != nil {
		panic(err)
	}
	return m
}

// finish はオプションを適用し、現在値と既定値が値域内であることを確認する
func (m Model) finish(current Value, opts []Option) (Model, error) {
	m.current = current
	m.def = current
	for _, opt := range opts {
		opt(&m)
	}
	if err := checkDomain(m, m.current); err != nil {
		return Model{}, fmt.Errorf("%w: 現在値: %v", ErrInvalidModel, err)
	}
	if err := checkDomain(m, m.def); err != nil {
		return Model{}, fmt.Errorf("%w: 既定値: %v", ErrInvalidModel, err)
	}
	return m, nil
}

// Kind は値域の種類を返す
func (m Model) Kind() Kind { return m.kind }

// Label は表示用ラベルを返す
func (m Model) Label() string { return m.label }

// ReadOnly は読み取り専用かどうかを返す
func (m Model) ReadOnly() bool { return m.readOnly }

// Current は現在値を返す
func (m Model) Current() Value { return m.current }

// Default は既定値を返す
func (m Model) Default() Value { return m.def }

// IntRange は整数範囲の境界を返す
func (m Model) IntRange() (IntRange, bool) {
	if m.kind != KindInt {
		return IntRange{}, false
	}
	return IntRange{Min: m.imin, Max: m.imax, Step: m.istep}, true
}

// FloatRange は浮動小数点範囲の境界を返す
func (m Model) FloatRange() (FloatRange, bool) {
	if m.kind != KindFloat {
		return FloatRange{}, false
	}
	return FloatRange{Min: m.fmin, Max: m.fmax, Step: m.fstep}, true
}

// Options は列挙の選択肢のコピーを返す
func (m Model) Options() []string {
	if m.kind != KindEnum {
		return nil
	}
	return append([]string(nil), m.options...)
}

// CurrentOption は列挙の現在の選択肢名を返す
func (m Model) CurrentOption() (string, bool) {
	if m.kind != KindEnum {
		return "", false
	}
	return m.options[m.current.Index], true
}

// With は検証に通った場合のみ、現在値を v に差し替えたコピーを返す
func (m Model) With(v Value) (Model, error) {
	if err := Validate(m, v); err != nil {
		return m, err
	}
	m.current = v
	return m, nil
}

// EnumValue は選択肢名から列挙値を作成する
func (m Model) EnumValue(option string) (Value, error) {
	if m.kind != KindEnum {
		return Value{}, invalid(ReasonWrongKind, "列挙ではない値域に選択肢 %q が指定されました", option)
	}
	idx := lo.IndexOf(m.options, option)
	if idx < 0 {
		return Value{}, invalid(ReasonNotInEnum, "%q は選択肢 [%s] にありません", option, strings.Join(m.options, ", "))
	}
	return Enum(idx), nil
}

// Parse は文字列をモデルの種類に応じた値に変換する。値域の検証は行わない
func (m Model) Parse(s string) (Value, error) {
	s = strings.TrimSpace(s)
	switch m.kind {
	case KindInt:
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return Value{}, invalid(ReasonWrongKind, "%q は整数ではありません", s)
		}
		return Int(v), nil
	case KindFloat:
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Value{}, invalid(ReasonWrongKind, "%q は数値ではありません", s)
		}
		return Float(v), nil
	case KindEnum:
		return m.EnumValue(s)
	case KindBool:
		v, err := strconv.ParseBool(s)
		if err != nil {
			return Value{}, invalid(ReasonWrongKind, "%q は真偽値ではありません", s)
		}
		return Bool(v), nil
	default:
		return Value{}, invalid(ReasonWrongKind, "種類のない値域です")
	}
}

// Format は値をモデルに即した表示文字列にする（列挙は選択肢名）
func (m Model) Format(v Value) string {
	if m.kind == KindEnum && v.Kind == KindEnum && v.Index >= 0 && v.Index < len(m.options) {
		return m.options[v.Index]
	}
	return v.String()
}

// String はモデルの概要を返す
func (m Model) String() string {
	var domain string
	switch m.kind {
	case KindInt:
		domain = fmt.Sprintf("[%d, %d] step %d", m.imin, m.imax, m.istep)
	case KindFloat:
		domain = fmt.Sprintf("[%g, %g] step %g", m.fmin, m.fmax, m.fstep)
	case KindEnum:
		domain = "{" + strings.Join(m.options, ", ") + "}"
	case KindBool:
		domain = "{false, true}"
	default:
		return "<空の値域>"
	}
	access := "rw"
	if m.readOnly {
		access = "ro"
	}
	return fmt.Sprintf("%s %s = %s (%s)", m.kind, domain, m.Format(m.current), access)
}
