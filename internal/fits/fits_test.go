package fits

import (
	"bytes"
	"testing"
	"time"

	"github.com/astrogo/fitsio"

	"gencam/internal/camera"
)

func newTestImage(t *testing.T, pixels camera.Pixels) *camera.Image {
	t.Helper()
	img, err := camera.NewImage(3, 2, pixels)
	if err != nil {
		t.Fatalf("NewImage failed: %v", err)
	}
	img.Meta = camera.Meta{
		Timestamp: time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC),
		Exposure:  1500 * time.Millisecond,
		Camera:    "test-camera-1",
	}
	img.SetKey("XOFST", 4)
	img.SetKey("YOFST", float64(2))
	return img
}

func decode(t *testing.T, data []byte) fitsio.Image {
	t.Helper()
	f, err := fitsio.Open(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("fitsio.Open failed: %v", err)
	}
	t.Cleanup(func() { _ = f.Close() })
	hdu, ok := f.HDU(0).(fitsio.Image)
	if !ok {
		t.Fatalf("Expected primary image HDU, got %T", f.HDU(0))
	}
	return hdu
}

func TestEncode_U16UsesBZERO(t *testing.T) {
	img := newTestImage(t, camera.Pixels{Kind: camera.PixelU16, U16: []uint16{0, 1, 32768, 40000, 65534, 65535}})

	data, err := Bytes(img)
	if err != nil {
		t.Fatalf("Bytes failed: %v", err)
	}
	if len(data)%2880 != 0 {
		t.Errorf("Expected FITS block alignment, got %d bytes", len(data))
	}

	hdu := decode(t, data)
	hdr := hdu.Header()
	if hdr.Bitpix() != 16 {
		t.Errorf("Expected BITPIX 16, got %d", hdr.Bitpix())
	}
	if axes := hdr.Axes(); len(axes) != 2 || axes[0] != 3 || axes[1] != 2 {
		t.Errorf("Expected axes [3 2], got %v", axes)
	}
	if card := hdr.Get("BZERO"); card == nil {
		t.Error("Expected BZERO card")
	}
	if card := hdr.Get("CAMERA"); card == nil || card.Value != "test-camera-1" {
		t.Errorf("Unexpected CAMERA card %+v", card)
	}
	if card := hdr.Get("XOFST"); card == nil {
		t.Error("Expected XOFST card")
	}

	raw := make([]int16, len(img.Pixels.U16))
	if err := hdu.Read(&raw); err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	for i, v := range img.Pixels.U16 {
		if got := uint16(int32(raw[i]) + 32768); got != v {
			t.Errorf("Pixel %d: expected %d, got %d", i, v, got)
		}
	}
}

func TestEncode_PixelKinds(t *testing.T) {
	testCases := []struct {
		name   string
		pixels camera.Pixels
		bitpix int
	}{
		{name: "u8", pixels: camera.Pixels{Kind: camera.PixelU8, U8: []uint8{1, 2, 3, 4, 5, 6}}, bitpix: 8},
		{name: "f32", pixels: camera.Pixels{Kind: camera.PixelF32, F32: []float32{0, 0.2, 0.4, 0.6, 0.8, 1}}, bitpix: -32},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			data, err := Bytes(newTestImage(t, tc.pixels))
			if err != nil {
				t.Fatalf("Bytes failed: %v", err)
			}
			if got := decode(t, data).Header().Bitpix(); got != tc.bitpix {
				t.Errorf("Expected BITPIX %d, got %d", tc.bitpix, got)
			}
		})
	}
}

func TestEncode_RejectsInvalidKey(t *testing.T) {
	img := newTestImage(t, camera.Pixels{Kind: camera.PixelU8, U8: make([]uint8, 6)})
	img.SetKey("exposure offset", 1)

	if _, err := Bytes(img); err == nil {
		t.Error("Expected error for invalid keyword")
	}
}

func TestEncode_RejectsMismatchedPixels(t *testing.T) {
	img := &camera.Image{Width: 3, Height: 2, Pixels: camera.Pixels{Kind: camera.PixelU8, U8: make([]uint8, 5)}}
	if _, err := Bytes(img); err == nil {
		t.Error("Expected error for pixel count mismatch")
	}
}
