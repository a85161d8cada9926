package camera

import (
	"context"
	"time"

	"gencam/internal/control"
	"gencam/internal/property"
)

// ExposureState は露光の状態を表す
type ExposureState string

const (
	StateIdle             ExposureState = "idle"               // 待機中
	StateExposing         ExposureState = "exposing"           // 露光中
	StateReadyForDownload ExposureState = "ready_for_download" // 画像の取り出し待ち
	StateAborted          ExposureState = "aborted"            // 中断直後（AbortExposure の戻り値のみ）
)

// Handle は集約サーバーに登録されたカメラの識別子
type Handle int32

// InvalidHandle はどのカメラも指さないハンドル
const InvalidHandle Handle = -1

// Descriptor はドライバーが列挙したデバイスの情報を表す
//
// ID はシリアル番号などデバイスを一意に識別する値、Info はドライバー固有の追加情報
type Descriptor struct {
	ID     string            `json:"id" yaml:"id"`
	Name   string            `json:"name" yaml:"name"`
	Vendor string            `json:"vendor,omitempty" yaml:"vendor,omitempty"`
	Driver string            `json:"driver" yaml:"driver"`
	Info   map[string]string `json:"info,omitempty" yaml:"info,omitempty"`
}

// Camera は1台のカメラを操作する統一インターフェース
//
// 実装はスレッドセーフである必要はない。
type Camera interface {
	// Info はデバイス情報を返す
	Info() Descriptor

	// Properties はコントロールカタログのスナップショットを返す
	Properties() *control.Catalog

	// Property は指定コントロールの値域モデルを返す。読み取り専用値は呼ぶたびに読み直す
	Property(id control.ID) (property.Model, error)

	// SetProperty は値を検証し、ハードウェアに反映してからカタログを更新する
	SetProperty(id control.ID, v property.Value) error

	// State は現在の露光状態を返す
	State() ExposureState

	// StartExposure は露光を開始する。idle 以外では ErrInvalidState を返す
	StartExposure() error

	// ImageReady は画像が取り出せるかをブロックせずに返す
	ImageReady() (bool, error)

	// DownloadImage は撮影済み画像を取り出す。成否にかかわらず idle に戻る
	DownloadImage(ctx context.Context) (*Image, error)

	// AbortExposure は露光を中断し StateAborted を返す。カメラは idle に戻る
	AbortExposure() (ExposureState, error)

	// Close はデバイスを解放する
	Close() error
}

// Driver はカメラのバックエンドを表す
type Driver interface {
	// Name はドライバー名を返す
	Name() string

	// ListDevices は接続可能なデバイスを列挙する。何度呼び出してもよい
	ListDevices(ctx context.Context) ([]Descriptor, error)

	// Connect は列挙されたデバイスに接続する
	Connect(ctx context.Context, desc Descriptor) (Camera, error)
}

// Sensor はバックエンド固有のハードウェア操作
//
// 状態遷移の規則とプロパティ検証は Device が担うため、Sensor は呼び出された操作を
// そのまま実行すればよい。
type Sensor interface {
	// Apply は検証済みの値をハードウェアに反映する
	Apply(id control.ID, v property.Value) error

	// Arm は露光を開始する。controls は開始時点の設定のスナップショット
	Arm(controls *control.Catalog) error

	// Ready は露光が完了したかを返す。ブロックしてはならない
	Ready() (bool, error)

	// Read は完了した露光の画像を読み出す。呼び出し後は露光していない状態になる
	Read() (*Image, error)

	// Disarm は進行中の露光を破棄する
	Disarm() error

	// Close はハードウェアを解放する
	Close() error
}

// Refresher はハードウェアが更新する読み取り専用値をカタログに反映できる Sensor が実装する
type Refresher interface {
	Refresh(controls *control.Catalog) error
}

// Registration は集約サーバーに登録されたカメラの概要
type Registration struct {
	Handle       Handle     `json:"handle"`
	Descriptor   Descriptor `json:"descriptor"`
	RegisteredAt time.Time  `json:"registered_at"`
}
