package sequence

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"gencam/internal/camera"
	"gencam/internal/fits"
)

// Sink は撮影した画像の保存先。archive.Archive もこれを満たす
type Sink interface {
	Store(ctx context.Context, img *camera.Image) (string, error)
}

// DirSink は画像を FITS ファイルとしてディレクトリに保存する
//
// ファイルは <dir>/<camera>/<yyyymmdd>/<image id>.fits に置く。
type DirSink struct {
	dir string
}

// NewDirSink は保存先ディレクトリを作成して DirSink を返す
func NewDirSink(dir string) (*DirSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("出力ディレクトリの作成に失敗: %w", err)
	}
	return &DirSink{dir: dir}, nil
}

// Store は画像を FITS で書き込み、ファイルパスを返す
func (s *DirSink) Store(ctx context.Context, img *camera.Image) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	cameraID := img.Meta.Camera
	if cameraID == "" {
		cameraID = "unknown"
	}
	dir := filepath.Join(s.dir, cameraID, img.Meta.Timestamp.UTC().Format("20060102"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("出力ディレクトリの作成に失敗: %w", err)
	}

	path := filepath.Join(dir, img.ID.String()+".fits")
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("ファイル %s の作成に失敗: %w", path, err)
	}
	if err := fits.Encode(f, img); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("ファイル %s の書き込みに失敗: %w", path, err)
	}
	return path, nil
}
