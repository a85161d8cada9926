package property

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidValue は値が値域の検証に失敗したことを表す
var ErrInvalidValue = errors.New("不正なプロパティ値")

// Reason は値が拒否された理由
type Reason string

const (
	ReasonOutOfRange Reason = "out_of_range" // 範囲外
	ReasonOffStep    Reason = "off_step"     // 刻みに乗らない
	ReasonNotInEnum  Reason = "not_in_enum"  // 選択肢にない
	ReasonWrongKind  Reason = "wrong_kind"   // 種類が一致しない
	ReasonReadOnly   Reason = "read_only"    // 読み取り専用
)

// InvalidValueError は拒否理由付きの検証エラー
type InvalidValueError struct {
	Reason Reason
	Detail string
}

func (e *InvalidValueError) Error() string {
	return fmt.Sprintf("%s (%s): %s", ErrInvalidValue, e.Reason, e.Detail)
}

// Is は errors.Is(err, ErrInvalidValue) を成立させる
func (e *InvalidValueError) Is(target error) bool {
	return target == ErrInvalidValue
}

func invalid(reason Reason, format string, args ...any) *InvalidValueError {
	return &InvalidValueError{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// ReasonOf はエラーから拒否理由を取り出す
func ReasonOf(err error) (Reason, bool) {
	var ive *InvalidValueError
	if errors.As(err, &ive) {
		return ive.Reason, true
	}
	return "", false
}

// Validate は値 v がモデル m の値域に収まり、書き込み可能かを検証する
func Validate(m Model, v Value) error {
	if err := checkKind(m, v); err != nil {
		return err
	}
	if m.readOnly {
		return invalid(ReasonReadOnly, "読み取り専用のコントロールです")
	}
	return checkDomain(m, v)
}

func checkKind(m Model, v Value) error {
	if !m.kind.Valid() {
		return invalid(ReasonWrongKind, "種類のない値域です")
	}
	if v.Kind != m.kind {
		return invalid(ReasonWrongKind, "%s の値域に %q の値が指定されました", m.kind, v.Kind)
	}
	return nil
}

// checkDomain は読み取り専用フラグを除いた値域の検査を行う
func checkDomain(m Model, v Value) error {
	if err := checkKind(m, v); err != nil {
		return err
	}
	switch m.kind {
	case KindInt:
		if v.Int < m.imin || v.Int > m.imax {
			return invalid(ReasonOutOfRange, "%d は範囲 [%d, %d] の外です", v.Int, m.imin, m.imax)
		}
		// 差は int64 に収まらないことがあるため uint64 で計算する
		if m.istep > 1 && (uint64(v.Int)-uint64(m.imin))%uint64(m.istep) != 0 {
			return invalid(ReasonOffStep, "%d は %d から刻み %d に乗りません", v.Int, m.imin, m.istep)
		}
	case KindFloat:
		if math.IsNaN(v.Float) || v.Float < m.fmin || v.Float > m.fmax {
			return invalid(ReasonOutOfRange, "%g は範囲 [%g, %g] の外です", v.Float, m.fmin, m.fmax)
		}
		if m.fstep > 0 && !onFloatStep(v.Float-m.fmin, m.fstep) {
			return invalid(ReasonOffStep, "%g は %g から刻み %g に乗りません", v.Float, m.fmin, m.fstep)
		}
	case KindEnum:
		if v.Index < 0 || v.Index >= len(m.options) {
			return invalid(ReasonNotInEnum, "インデックス %d は選択肢数 %d の外です", v.Index, len(m.options))
		}
	case KindBool:
	}
	return nil
}

// onFloatStep は offset が step の整数倍かを丸め誤差を許容して判定する
func onFloatStep(offset, step float64) bool {
	q := offset / step
	return math.Abs(q-math.Round(q)) <= 1e-9*math.Max(1, math.Abs(q))
}
