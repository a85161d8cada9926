package camera

import (
	"time"

	"gencam/internal/control"
	"gencam/internal/property"
)

// CommandKind はコマンドの種類
type CommandKind string

const (
	CmdGetProperties CommandKind = "get_properties"
	CmdGetProperty   CommandKind = "get_property"
	CmdSetProperty   CommandKind = "set_property"
	CmdStartExposure CommandKind = "start_exposure"
	CmdImageReady    CommandKind = "image_ready"
	CmdDownloadImage CommandKind = "download_image"
	CmdAbortExposure CommandKind = "abort_exposure"
	CmdCapture       CommandKind = "capture"
	CmdGetState      CommandKind = "get_state"
	CmdInfo          CommandKind = "info"
)

// CommandKinds は全コマンドの一覧
var CommandKinds = []CommandKind{
	CmdGetProperties,
	CmdGetProperty,
	CmdSetProperty,
	CmdStartExposure,
	CmdImageReady,
	CmdDownloadImage,
	CmdAbortExposure,
	CmdCapture,
	CmdGetState,
	CmdInfo,
}

// Command は集約サーバーに送るコマンド
type Command struct {
	Kind    CommandKind     `json:"kind"`
	Control *control.ID     `json:"control,omitempty"`
	Value   *property.Value `json:"value,omitempty"`
	GraceMS int64           `json:"grace_ms,omitempty"` // capture のみ。0 ならサーバーの既定値
}

// NewCommand は引数を取らないコマンドを作成する
func NewCommand(kind CommandKind) Command {
	return Command{Kind: kind}
}

// GetPropertyCommand は get_property コマンドを作成する
func GetPropertyCommand(id control.ID) Command {
	return Command{Kind: CmdGetProperty, Control: &id}
}

// SetPropertyCommand は set_property コマンドを作成する
func SetPropertyCommand(id control.ID, v property.Value) Command {
	return Command{Kind: CmdSetProperty, Control: &id, Value: &v}
}

// CaptureCommand は capture コマンドを作成する
func CaptureCommand(grace time.Duration) Command {
	return Command{Kind: CmdCapture, GraceMS: grace.Milliseconds()}
}

// Reply はコマンドの応答。Kind に対応するフィールドだけが設定される
type Reply struct {
	Kind       CommandKind      `json:"kind"`
	Properties *control.Catalog `json:"properties,omitempty"`
	Property   *property.Model  `json:"property,omitempty"`
	Ready      *bool            `json:"ready,omitempty"`
	Image      *Image           `json:"image,omitempty"`
	State      ExposureState    `json:"state,omitempty"`
	Info       *Descriptor      `json:"info,omitempty"`
	Error      *ReplyError      `json:"error,omitempty"`
}

// ReplyError は応答に載せるエラー
type ReplyError struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

func (e *ReplyError) Error() string {
	return string(e.Code) + ": " + e.Message
}

// Err は応答のエラーを Go のエラーに戻す。コードに対応する番兵エラーで errors.Is が成立する
func (r *Reply) Err() error {
	if r == nil || r.Error == nil {
		return nil
	}
	if sentinel, ok := codeSentinels[r.Error.Code]; ok {
		return &remoteError{sentinel: sentinel, reply: r.Error}
	}
	return r.Error
}

var codeSentinels = map[Code]error{
	CodeInvalidValue:   ErrInvalidValue,
	CodeInvalidState:   ErrInvalidState,
	CodeHardware:       ErrHardware,
	CodeCaptureFailed:  ErrCaptureFailed,
	CodeTimeout:        ErrTimeout,
	CodeUnknownHandle:  ErrUnknownHandle,
	CodeUnknownControl: ErrUnknownControl,
	CodeUnknownCommand: ErrUnknownCommand,
	CodeNoDevices:      ErrNoDevices,
}

type remoteError struct {
	sentinel error
	reply    *ReplyError
}

func (e *remoteError) Error() string { return e.reply.Error() }
func (e *remoteError) Unwrap() error { return e.sentinel }

func replyError(err error) *ReplyError {
	if err == nil {
		return nil
	}
	return &ReplyError{Code: ErrorCode(err), Message: err.Error()}
}
