package property

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// modelWire はモデルのフィールドタグ付き表現
type modelWire struct {
	Kind     Kind       `json:"kind" yaml:"kind"`
	Label    string     `json:"label,omitempty" yaml:"label,omitempty"`
	ReadOnly bool       `json:"read_only" yaml:"read_only"`
	Int      *intWire   `json:"int,omitempty" yaml:"int,omitempty"`
	Float    *floatWire `json:"float,omitempty" yaml:"float,omitempty"`
	Enum     *enumWire  `json:"enum,omitempty" yaml:"enum,omitempty"`
	Bool     *boolWire  `json:"bool,omitempty" yaml:"bool,omitempty"`
}

type intWire struct {
	Min     int64 `json:"min" yaml:"min"`
	Max     int64 `json:"max" yaml:"max"`
	Step    int64 `json:"step" yaml:"step"`
	Current int64 `json:"current" yaml:"current"`
	Default int64 `json:"default" yaml:"default"`
}

type floatWire struct {
	Min     float64 `json:"min" yaml:"min"`
	Max     float64 `json:"max" yaml:"max"`
	Step    float64 `json:"step" yaml:"step"`
	Current float64 `json:"current" yaml:"current"`
	Default float64 `json:"default" yaml:"default"`
}

type enumWire struct {
	Options []string `json:"options" yaml:"options"`
	Current int      `json:"current" yaml:"current"`
	Default int      `json:"default" yaml:"default"`
}

type boolWire struct {
	Current bool `json:"current" yaml:"current"`
	Default bool `json:"default" yaml:"default"`
}

func (m Model) wire() modelWire {
	w := modelWire{Kind: m.kind, Label: m.label, ReadOnly: m.readOnly}
	switch m.kind {
	case KindInt:
		w.Int = &intWire{Min: m.imin, Max: m.imax, Step: m.istep, Current: m.current.Int, Default: m.def.Int}
	case KindFloat:
		w.Float = &floatWire{Min: m.fmin, Max: m.fmax, Step: m.fstep, Current: m.current.Float, Default: m.def.Float}
	case KindEnum:
		w.Enum = &enumWire{Options: m.Options(), Current: m.current.Index, Default: m.def.Index}
	case KindBool:
		w.Bool = &boolWire{Current: m.current.Bool, Default: m.def.Bool}
	}
	return w
}

// fromWire はコンストラクタを通してモデルを復元する
func fromWire(w modelWire) (Model, error) {
	opts := []Option{WithLabel(w.Label)}
	if w.ReadOnly {
		opts = append(opts, ReadOnly())
	}
	switch w.Kind {
	case KindInt:
		if w.Int == nil {
			return Model{}, fmt.Errorf("%w: int フィールドがありません", ErrInvalidModel)
		}
		opts = append(opts, WithDefault(Int(w.Int.Default)))
		return NewInt(w.Int.Min, w.Int.Max, w.Int.Step, w.Int.Current, opts...)
	case KindFloat:
		if w.Float == nil {
			return Model{}, fmt.Errorf("%w: float フィールドがありません", ErrInvalidModel)
		}
		opts = append(opts, WithDefault(Float(w.Float.Default)))
		return NewFloat(w.Float.Min, w.Float.Max, w.Float.Step, w.Float.Current, opts...)
	case KindEnum:
		if w.Enum == nil {
			return Model{}, fmt.Errorf("%w: enum フィールドがありません", ErrInvalidModel)
		}
		opts = append(opts, WithDefault(Enum(w.Enum.Default)))
		return NewEnum(w.Enum.Options, w.Enum.Current, opts...)
	case KindBool:
		if w.Bool == nil {
			return Model{}, fmt.Errorf("%w: bool フィールドがありません", ErrInvalidModel)
		}
		opts = append(opts, WithDefault(Bool(w.Bool.Default)))
		return NewBool(w.Bool.Current, opts...)
	default:
		return Model{}, fmt.Errorf("%w: 未知の種類 %q", ErrInvalidModel, w.Kind)
	}
}

// MarshalJSON はモデルをフィールドタグ付きの JSON にする
func (m Model) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.wire())
}

// UnmarshalJSON は JSON からモデルを検証付きで復元する
func (m *Model) UnmarshalJSON(data []byte) error {
	var w modelWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	decoded, err := fromWire(w)
	if err != nil {
		return err
	}
	*m = decoded
	return nil
}

// MarshalYAML はモデルを YAML 用の表現にする
func (m Model) MarshalYAML() (any, error) {
	return m.wire(), nil
}

// UnmarshalYAML は YAML からモデルを検証付きで復元する
func (m *Model) UnmarshalYAML(node *yaml.Node) error {
	var w modelWire
	if err := node.Decode(&w); err != nil {
		return err
	}
	decoded, err := fromWire(w)
	if err != nil {
		return err
	}
	*m = decoded
	return nil
}
