// Package sequence はハンドルのカメラで露光を繰り返し、画像を保存先に送る
//
// # 責務
// - 撮影シーケンスの開始と停止
// - 撮影枚数と直近の保存先キーの記録
//
// # 仕様
// - 1つのハンドルで同時に実行できるシーケンスは1つ
// - 各フレームは集約サーバーの capture コマンドで撮影する
// - 停止すると進行中の露光は中断される
// - 撮影や保存に失敗するとシーケンスはエラーで終了する
package sequence

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"gencam/internal/camera"
)

var (
	// ErrNotFound はシーケンスが存在しない場合のエラー
	ErrNotFound = errors.New("撮影シーケンスが見つかりません")
	// ErrBusy はハンドルで別のシーケンスが実行中の場合のエラー
	ErrBusy = errors.New("撮影シーケンスが実行中です")
	// ErrInvalidConfig は設定が不正な場合のエラー
	ErrInvalidConfig = errors.New("撮影シーケンスの設定が不正です")
)

// MaxCount は1回のシーケンスで撮影できる最大枚数
const MaxCount = 100000

// Config は撮影シーケンスの設定
type Config struct {
	Count    int           // 撮影枚数 (0 なら停止されるまで)
	Interval time.Duration // 撮影開始の間隔 (0 なら連続)
	Grace    time.Duration // 露光時間に加えて待つ時間 (0 ならサーバーの既定値)
}

// Validate は設定の妥当性を検証する
func (c Config) Validate() error {
	switch {
	case c.Count < 0 || c.Count > MaxCount:
		return fmt.Errorf("%w: 撮影枚数 %d は 0〜%d の範囲外です", ErrInvalidConfig, c.Count, MaxCount)
	case c.Interval < 0:
		return fmt.Errorf("%w: 撮影間隔が負です", ErrInvalidConfig)
	case c.Grace < 0:
		return fmt.Errorf("%w: 猶予時間が負です", ErrInvalidConfig)
	}
	return nil
}

type configWire struct {
	Count      int   `json:"count"`
	IntervalMS int64 `json:"interval_ms,omitempty"`
	GraceMS    int64 `json:"grace_ms,omitempty"`
}

// MarshalJSON は時間をミリ秒で出力する
func (c Config) MarshalJSON() ([]byte, error) {
	return json.Marshal(configWire{
		Count:      c.Count,
		IntervalMS: c.Interval.Milliseconds(),
		GraceMS:    c.Grace.Milliseconds(),
	})
}

// UnmarshalJSON は時間をミリ秒として読み込む
func (c *Config) UnmarshalJSON(data []byte) error {
	var w configWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*c = Config{
		Count:    w.Count,
		Interval: time.Duration(w.IntervalMS) * time.Millisecond,
		Grace:    time.Duration(w.GraceMS) * time.Millisecond,
	}
	return nil
}

// Status はシーケンスの状態
type Status string

// Status の定数定義
const (
	StatusRunning   Status = "running"   // 撮影中
	StatusCompleted Status = "completed" // 指定枚数を撮影した
	StatusStopped   Status = "stopped"   // 停止された
	StatusError     Status = "error"     // 撮影または保存に失敗した
)

// Info はシーケンスの状態情報
type Info struct {
	ID         uuid.UUID     `json:"id"`
	Handle     camera.Handle `json:"handle"`
	Camera     string        `json:"camera"`
	Config     Config        `json:"config"`
	Status     Status        `json:"status"`
	Frames     int           `json:"frames"`
	Keys       []string      `json:"keys"` // 直近の保存先キー
	LastError  string        `json:"last_error,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt *time.Time    `json:"finished_at,omitempty"`
}

// Done は終了済みかどうかを返す
func (i Info) Done() bool {
	return i.Status != StatusRunning
}
