package camera

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"gencam/internal/control"
)

// PixelKind は画素の型
type PixelKind string

const (
	PixelU8  PixelKind = "u8"
	PixelU16 PixelKind = "u16"
	PixelF32 PixelKind = "f32"
)

// Pixels は行優先で並んだ画素データ。Kind に対応するスライスだけが使われる
type Pixels struct {
	Kind PixelKind `json:"kind"`
	U8   []uint8   `json:"u8,omitempty"`
	U16  []uint16  `json:"u16,omitempty"`
	F32  []float32 `json:"f32,omitempty"`
}

// Len は画素数を返す
func (p Pixels) Len() int {
	switch p.Kind {
	case PixelU8:
		return len(p.U8)
	case PixelU16:
		return len(p.U16)
	case PixelF32:
		return len(p.F32)
	default:
		return 0
	}
}

// Meta は撮影時の付帯情報
type Meta struct {
	Timestamp time.Time        `json:"timestamp"`
	Exposure  time.Duration    `json:"exposure"`
	Camera    string           `json:"camera"`
	Controls  *control.Catalog `json:"controls,omitempty"` // 露光開始時点の設定
	Keys      map[string]any   `json:"keys,omitempty"`     // 追加のヘッダー情報（XOFST など）
}

// Image は取り出した画像。所有権は呼び出し元に移る
type Image struct {
	ID     uuid.UUID `json:"id"`
	Width  int       `json:"width"`
	Height int       `json:"height"`
	Pixels Pixels    `json:"pixels"`
	Meta   Meta      `json:"meta"`
}

// NewImage は寸法と画素数が一致する画像を作成する
func NewImage(width, height int, pixels Pixels) (*Image, error) {
	img := &Image{
		ID:     uuid.New(),
		Width:  width,
		Height: height,
		Pixels: pixels,
	}
	if err := img.Validate(); err != nil {
		return nil, err
	}
	return img, nil
}

// Validate は寸法と画素データの整合性を検証する
func (img *Image) Validate() error {
	if img.Width <= 0 || img.Height <= 0 {
		return fmt.Errorf("%w: 不正な寸法 %dx%d", ErrCaptureFailed, img.Width, img.Height)
	}
	if got, want := img.Pixels.Len(), img.Width*img.Height; got != want {
		return fmt.Errorf("%w: 画素数 %d が寸法 %dx%d と一致しません", ErrCaptureFailed, got, img.Width, img.Height)
	}
	return nil
}

// SetKey は追加のヘッダー情報を設定する
func (img *Image) SetKey(key string, value any) {
	if img.Meta.Keys == nil {
		img.Meta.Keys = make(map[string]any)
	}
	img.Meta.Keys[key] = value
}
