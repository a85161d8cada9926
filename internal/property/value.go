package property

import (
	"fmt"
	"strconv"
)

// Kind は値域の種類を表す
type Kind string

const (
	KindInt   Kind = "int"   // 整数範囲
	KindFloat Kind = "float" // 浮動小数点範囲
	KindEnum  Kind = "enum"  // 列挙
	KindBool  Kind = "bool"  // 真偽値
)

// Valid は既知の種類かどうかを返す
func (k Kind) Valid() bool {
	switch k {
	case KindInt, KindFloat, KindEnum, KindBool:
		return true
	}
	return false
}

// Value は値域の種類でタグ付けされた具体的な値
//
// Kind に対応するフィールドのみが意味を持つ。列挙の場合は選択肢のインデックスを保持する。
type Value struct {
	Kind  Kind    `json:"kind" yaml:"kind"`
	Int   int64   `json:"int,omitempty" yaml:"int,omitempty"`
	Float float64 `json:"float,omitempty" yaml:"float,omitempty"`
	Index int     `json:"index,omitempty" yaml:"index,omitempty"`
	Bool  bool    `json:"bool,omitempty" yaml:"bool,omitempty"`
}

// Int は整数値を作成する
func Int(v int64) Value {
	return Value{Kind: KindInt, Int: v}
}

// Float は浮動小数点値を作成する
func Float(v float64) Value {
	return Value{Kind: KindFloat, Float: v}
}

// Enum は列挙の選択肢インデックスを値として作成する
func Enum(index int) Value {
	return Value{Kind: KindEnum, Index: index}
}

// Bool は真偽値を作成する
func Bool(v bool) Value {
	return Value{Kind: KindBool, Bool: v}
}

// String は値を表示用の文字列にする
func (v Value) String() string {
	switch v.Kind {
	case KindInt:
		return strconv.FormatInt(v.Int, 10)
	case KindFloat:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	case KindEnum:
		return fmt.Sprintf("#%d", v.Index)
	case KindBool:
		return strconv.FormatBool(v.Bool)
	default:
		return fmt.Sprintf("<不明な種類 %q>", string(v.Kind))
	}
}
