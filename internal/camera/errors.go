package camera

import (
	"context"
	"errors"
	"fmt"

	"gencam/internal/control"
	"gencam/internal/property"
)

var (
	// ErrInvalidValue は値が値域の検証に失敗した場合のエラー
	ErrInvalidValue = property.ErrInvalidValue
	// ErrUnknownControl はカメラが公開していないコントロールが指定された場合のエラー
	ErrUnknownControl = control.ErrUnknownControl

	ErrInvalidState   = errors.New("現在の露光状態では実行できません")
	ErrHardware       = errors.New("ハードウェアエラー")
	ErrCaptureFailed  = errors.New("画像の取得に失敗")
	ErrTimeout        = errors.New("タイムアウト")
	ErrUnknownHandle  = errors.New("未登録のハンドル")
	ErrUnknownCommand = errors.New("未知のコマンド")
	ErrNoDevices      = errors.New("接続可能なデバイスがありません")
	ErrClosed         = errors.New("カメラは既に閉じられています")
)

// StateError は状態遷移の規則に反した操作を表す
type StateError struct {
	Op    string
	State ExposureState
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s: %s 状態で %s は実行できません", ErrInvalidState, e.State, e.Op)
}

// Is は errors.Is(err, ErrInvalidState) を成立させる
func (e *StateError) Is(target error) bool {
	return target == ErrInvalidState
}

// HardwareError はバックエンドが報告した失敗を表す
type HardwareError struct {
	Op  string
	Err error
}

func (e *HardwareError) Error() string {
	return fmt.Sprintf("%s (%s): %v", ErrHardware, e.Op, e.Err)
}

// Is は errors.Is(err, ErrHardware) を成立させる
func (e *HardwareError) Is(target error) bool {
	return target == ErrHardware
}

func (e *HardwareError) Unwrap() error {
	return e.Err
}

// Code は応答に載せるエラーの分類
type Code string

const (
	CodeInvalidValue   Code = "invalid_value"
	CodeInvalidState   Code = "invalid_state"
	CodeHardware       Code = "hardware_error"
	CodeCaptureFailed  Code = "capture_failed"
	CodeTimeout        Code = "timeout"
	CodeCanceled       Code = "canceled"
	CodeUnknownHandle  Code = "unknown_handle"
	CodeUnknownControl Code = "unknown_control"
	CodeUnknownCommand Code = "unknown_command"
	CodeNoDevices      Code = "no_devices"
	CodeInternal       Code = "internal"
)

// ErrorCode はエラーを分類する。nil の場合は空文字を返す
func ErrorCode(err error) Code {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnknownHandle):
		return CodeUnknownHandle
	case errors.Is(err, ErrUnknownControl):
		return CodeUnknownControl
	case errors.Is(err, ErrUnknownCommand):
		return CodeUnknownCommand
	case errors.Is(err, ErrInvalidValue), errors.Is(err, control.ErrInvalidID):
		return CodeInvalidValue
	case errors.Is(err, ErrInvalidState), errors.Is(err, ErrClosed):
		return CodeInvalidState
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	case errors.Is(err, context.Canceled):
		return CodeCanceled
	case errors.Is(err, ErrCaptureFailed):
		return CodeCaptureFailed
	case errors.Is(err, ErrHardware):
		return CodeHardware
	case errors.Is(err, ErrNoDevices):
		return CodeNoDevices
	default:
		return CodeInternal
	}
}
