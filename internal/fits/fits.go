// Package fits 撮影画像を FITS 形式に変換する
//
// # 仕様
// - u8 は BITPIX 8、u16 は BITPIX 16 と BZERO 32768、f32 は BITPIX -32 で書き出す
// - DATE-OBS / EXPTIME / CAMERA / IMAGEID と画像の追加キーをヘッダーに載せる
package fits

import (
	"bytes"
	"fmt"
	"io"
	"regexp"
	"slices"
	"strings"

	"github.com/astrogo/fitsio"
	"github.com/samber/lo"

	"gencam/internal/camera"
)

// ContentType は FITS の MIME タイプ
const ContentType = "image/fits"

const dateFormat = "2006-01-02T15:04:05.000"

var keyPattern = regexp.MustCompile(`^[A-Z0-9_-]{1,8}$`)

// reserved は画像の追加キーで上書きできないキーワード
var reserved = []string{"SIMPLE", "BITPIX", "NAXIS", "NAXIS1", "NAXIS2", "EXTEND", "BZERO", "BSCALE", "END",
	"DATE-OBS", "EXPTIME", "CAMERA", "IMAGEID"}

// Encode は画像を FITS として w に書き出す
func Encode(w io.Writer, img *camera.Image) error {
	if err := img.Validate(); err != nil {
		return err
	}

	f, err := fitsio.Create(w)
	if err != nil {
		return fmt.Errorf("FITS ファイルの作成に失敗: %w", err)
	}
	defer f.Close()

	bitpix, data, cards := pixelData(img.Pixels)
	hdu := fitsio.NewImage(bitpix, []int{img.Width, img.Height})
	defer hdu.Close()

	meta, err := headerCards(img)
	if err != nil {
		return err
	}
	if err := hdu.Header().Append(append(cards, meta...)...); err != nil {
		return fmt.Errorf("FITS ヘッダーの作成に失敗: %w", err)
	}
	if err := hdu.Write(data); err != nil {
		return fmt.Errorf("FITS 画素データの書き込みに失敗: %w", err)
	}
	if err := f.Write(hdu); err != nil {
		return fmt.Errorf("FITS の書き出しに失敗: %w", err)
	}
	return nil
}

// Bytes は画像を FITS のバイト列にする
func Bytes(img *camera.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// pixelData は画素の型から BITPIX と書き込むスライスを決める
func pixelData(p camera.Pixels) (int, any, []fitsio.Card) {
	switch p.Kind {
	case camera.PixelU16:
		// FITS に符号なし16bitはないため BZERO でずらす
		shifted := lo.Map(p.U16, func(v uint16, _ int) int16 {
			return int16(int32(v) - 32768)
		})
		return 16, shifted, []fitsio.Card{
			{Name: "BZERO", Value: 32768, Comment: "offset for unsigned 16-bit data"},
			{Name: "BSCALE", Value: 1, Comment: "data scaling"},
		}
	case camera.PixelF32:
		return -32, p.F32, nil
	default:
		return 8, p.U8, nil
	}
}

func headerCards(img *camera.Image) ([]fitsio.Card, error) {
	cards := []fitsio.Card{
		{Name: "DATE-OBS", Value: img.Meta.Timestamp.UTC().Format(dateFormat), Comment: "exposure start (UTC)"},
		{Name: "EXPTIME", Value: img.Meta.Exposure.Seconds(), Comment: "exposure time [s]"},
		{Name: "CAMERA", Value: img.Meta.Camera, Comment: "camera identifier"},
		{Name: "IMAGEID", Value: img.ID.String(), Comment: "image identifier"},
	}

	keys := lo.Keys(img.Meta.Keys)
	slices.Sort(keys)
	for _, key := range keys {
		name := strings.ToUpper(key)
		if !keyPattern.MatchString(name) {
			return nil, fmt.Errorf("FITS のキーワードとして使えません: %q", key)
		}
		if slices.Contains(reserved, name) {
			continue
		}
		cards = append(cards, fitsio.Card{Name: name, Value: cardValue(img.Meta.Keys[key])})
	}
	return cards, nil
}

// cardValue はヘッダーに書ける型に変換する
func cardValue(v any) any {
	switch v := v.(type) {
	case int:
		return v
	case int64:
		return int(v)
	case int32:
		return int(v)
	case uint32:
		return int(v)
	case float32:
		return float64(v)
	case float64:
		// JSON を経由した整数値は整数として書く
		if v == float64(int64(v)) {
			return int(v)
		}
		return v
	case bool, string:
		return v
	default:
		return fmt.Sprint(v)
	}
}
