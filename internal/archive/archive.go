// Package archive 撮影画像をオブジェクトストレージ（MinIO / S3）に保存する
//
// # 仕様
// - 画像は FITS に変換して <prefix>/<camera>/<yyyymmdd>/<image id>.fits に保存する
// - バケットが存在しなければ EnsureBucket で作成する
package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"gencam/internal/camera"
	"gencam/internal/fits"
)

// Config は接続先の設定
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
	Secure    bool
}

// objectStore は Archive が使う minio.Client の操作
type objectStore interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	ListObjects(ctx context.Context, bucket string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
}

// Archive は画像の保存先
type Archive struct {
	store  objectStore
	bucket string
	prefix string
}

// Object は保存済みの画像
type Object struct {
	Key  string `json:"key"`
	Size int64  `json:"size"`
}

// New は MinIO クライアントを作成する
func New(cfg Config) (*Archive, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("MinIO クライアントの作成に失敗: %w", err)
	}
	return newArchive(client, cfg.Bucket, cfg.Prefix), nil
}

func newArchive(store objectStore, bucket, prefix string) *Archive {
	return &Archive{
		store:  store,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
	}
}

// EnsureBucket はバケットがなければ作成する
func (a *Archive) EnsureBucket(ctx context.Context) error {
	exists, err := a.store.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("バケット %s の確認に失敗: %w", a.bucket, err)
	}
	if exists {
		return nil
	}
	if err := a.store.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("バケット %s の作成に失敗: %w", a.bucket, err)
	}
	return nil
}

// Key は画像の保存先キーを返す
func (a *Archive) Key(img *camera.Image) string {
	cameraID := img.Meta.Camera
	if cameraID == "" {
		cameraID = "unknown"
	}
	return path.Join(a.prefix, cameraID, img.Meta.Timestamp.UTC().Format("20060102"), img.ID.String()+".fits")
}

// Store は画像を FITS に変換して保存し、キーを返す
func (a *Archive) Store(ctx context.Context, img *camera.Image) (string, error) {
	data, err := fits.Bytes(img)
	if err != nil {
		return "", err
	}

	key := a.Key(img)
	_, err = a.store.PutObject(ctx, a.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: fits.ContentType,
		UserMetadata: map[string]string{
			"camera":   img.Meta.Camera,
			"exposure": img.Meta.Exposure.String(),
		},
	})
	if err != nil {
		return "", fmt.Errorf("画像 %s の保存に失敗: %w", key, err)
	}
	return key, nil
}

// List はカメラの保存済み画像を列挙する。cameraID が空なら全カメラ
func (a *Archive) List(ctx context.Context, cameraID string) ([]Object, error) {
	prefix := a.prefix
	if cameraID != "" {
		prefix = path.Join(prefix, cameraID)
	}
	if prefix != "" {
		prefix += "/"
	}

	var objects []Object
	for info := range a.store.ListObjects(ctx, a.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if info.Err != nil {
			return nil, fmt.Errorf("画像の列挙に失敗: %w", info.Err)
		}
		if strings.HasSuffix(info.Key, "/") {
			continue
		}
		objects = append(objects, Object{Key: info.Key, Size: info.Size})
	}
	return objects, nil
}
