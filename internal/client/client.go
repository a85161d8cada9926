// Package client は集約サーバーの HTTP API を呼び出すクライアント
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"gencam/internal/camera"
	"gencam/internal/control"
	"gencam/internal/preset"
	"gencam/internal/property"
	"gencam/internal/sequence"
	"gencam/internal/server"
)

// Client は集約サーバーのクライアント
type Client struct {
	HTTP *resty.Client
}

// APIError はサーバーが返したエラー。コードに対応する camera の番兵エラーで errors.Is が成立する
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d %s: %s", e.Status, e.Code, e.Message)
}

func (e *APIError) Unwrap() error {
	reply := camera.Reply{Error: &camera.ReplyError{Code: camera.Code(e.Code), Message: e.Message}}
	return reply.Err()
}

// CaptureResult は FITS 撮影の結果
type CaptureResult struct {
	Data         []byte
	ArchiveKey   string
	ArchiveError string
}

// New は新しいClientを作成する
func New(baseURL string, timeout time.Duration) *Client {
	r := resty.New()
	r.SetBaseURL(baseURL)
	r.SetHeader("Accept", "application/json")
	if timeout > 0 {
		r.SetTimeout(timeout)
	}
	return &Client{HTTP: r}
}

// Status はサーバーの状態を取得する
func (c *Client) Status(ctx context.Context) (*server.StatusResponse, error) {
	var status server.StatusResponse
	if err := c.getJSON(ctx, "/api/status", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Devices はドライバーのデバイス一覧を取得する。driver が空なら全ドライバー
func (c *Client) Devices(ctx context.Context, driver string) ([]camera.Descriptor, error) {
	var resp server.DevicesResponse
	var query map[string]string
	if driver != "" {
		query = map[string]string{"driver": driver}
	}
	if err := c.getJSON(ctx, "/api/devices", query, &resp); err != nil {
		return nil, err
	}
	return resp.Devices, nil
}

// Cameras は登録済みカメラの一覧を取得する
func (c *Client) Cameras(ctx context.Context) ([]camera.Registration, error) {
	var resp server.CamerasResponse
	if err := c.getJSON(ctx, "/api/cameras", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Cameras, nil
}

// Connect はデバイスに接続して登録する。deviceID が空なら最初のデバイス
func (c *Client) Connect(ctx context.Context, driver, deviceID string) (camera.Registration, error) {
	var reg camera.Registration
	resp, err := c.HTTP.R().
		SetContext(ctx).
		SetBody(server.ConnectRequest{Driver: driver, DeviceID: deviceID}).
		SetResult(&reg).
		Post("/api/cameras")
	if err := check(resp, err); err != nil {
		return camera.Registration{}, err
	}
	return reg, nil
}

// Disconnect はカメラの登録を解除する
func (c *Client) Disconnect(ctx context.Context, h camera.Handle) error {
	resp, err := c.HTTP.R().
		SetContext(ctx).
		Delete(cameraPath(h))
	return check(resp, err)
}

// Sync はドライバーのデバイス一覧と登録状態を突き合わせる
func (c *Client) Sync(ctx context.Context, driver string) (*server.SyncResponse, error) {
	var sync server.SyncResponse
	resp, err := c.HTTP.R().
		SetContext(ctx).
		SetResult(&sync).
		Post("/api/drivers/" + driver + "/sync")
	if err := check(resp, err); err != nil {
		return nil, err
	}
	return &sync, nil
}

// Dispatch はコマンドを送る
//
// コマンドが失敗した場合も応答が得られれば Reply を返し、エラーは Reply.Err() と同じものになる。
func (c *Client) Dispatch(ctx context.Context, h camera.Handle, cmd camera.Command) (*camera.Reply, error) {
	resp, err := c.HTTP.R().
		SetContext(ctx).
		SetBody(cmd).
		Post(cameraPath(h) + "/dispatch")
	if err != nil {
		return nil, fmt.Errorf("ディスパッチに失敗: %w", err)
	}

	var reply camera.Reply
	if err := json.Unmarshal(resp.Body(), &reply); err != nil || (resp.IsError() && reply.Error == nil) {
		return nil, apiError(resp)
	}
	return &reply, reply.Err()
}

// Property は get_property を送ってコントロールの値域を取得する
func (c *Client) Property(ctx context.Context, h camera.Handle, id control.ID) (*property.Model, error) {
	reply, err := c.Dispatch(ctx, h, camera.GetPropertyCommand(id))
	if err != nil {
		return nil, err
	}
	return reply.Property, nil
}

// SetProperty は set_property を送る
func (c *Client) SetProperty(ctx context.Context, h camera.Handle, id control.ID, v property.Value) (*property.Model, error) {
	reply, err := c.Dispatch(ctx, h, camera.SetPropertyCommand(id, v))
	if err != nil {
		return nil, err
	}
	return reply.Property, nil
}

// CaptureFITS は露光を1回行い、FITS を取得する。archive が真ならサーバー側でも保存する
func (c *Client) CaptureFITS(ctx context.Context, h camera.Handle, grace time.Duration, archive bool) (*CaptureResult, error) {
	req := c.HTTP.R().
		SetContext(ctx).
		SetHeader("Accept", "image/fits")
	if grace > 0 {
		req.SetQueryParam("grace_ms", strconv.FormatInt(grace.Milliseconds(), 10))
	}
	if archive {
		req.SetQueryParam("archive", "true")
	}
	resp, err := req.Get(cameraPath(h) + "/image.fits")
	if err := check(resp, err); err != nil {
		return nil, err
	}
	if len(resp.Body()) == 0 {
		return nil, fmt.Errorf("FITS の応答が空です")
	}
	return &CaptureResult{
		Data:         resp.Body(),
		ArchiveKey:   resp.Header().Get(server.ArchiveKeyHeader),
		ArchiveError: resp.Header().Get(server.ArchiveErrorHeader),
	}, nil
}

// Presets はカメラのプリセット一覧を取得する
func (c *Client) Presets(ctx context.Context, h camera.Handle) ([]preset.Preset, error) {
	var resp server.PresetsResponse
	if err := c.getJSON(ctx, cameraPath(h)+"/presets", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Presets, nil
}

// SavePreset はプリセットを保存する。values が空ならカメラの現在値を保存する
func (c *Client) SavePreset(ctx context.Context, h camera.Handle, name string, values map[control.ID]property.Value) (*preset.Preset, error) {
	var saved preset.Preset
	req := c.HTTP.R().
		SetContext(ctx).
		SetResult(&saved)
	if len(values) > 0 {
		req.SetBody(server.PresetRequest{Values: values})
	}
	resp, err := req.Put(cameraPath(h) + "/presets/" + name)
	if err := check(resp, err); err != nil {
		return nil, err
	}
	return &saved, nil
}

// ApplyPreset はプリセットを適用し、適用後のコントロール一覧を返す
func (c *Client) ApplyPreset(ctx context.Context, h camera.Handle, name string) (*control.Catalog, error) {
	var reply camera.Reply
	resp, err := c.HTTP.R().
		SetContext(ctx).
		SetResult(&reply).
		Post(cameraPath(h) + "/presets/" + name + "/apply")
	if err := check(resp, err); err != nil {
		return nil, err
	}
	return reply.Properties, nil
}

// DeletePreset はプリセットを削除する
func (c *Client) DeletePreset(ctx context.Context, h camera.Handle, name string) error {
	resp, err := c.HTTP.R().
		SetContext(ctx).
		Delete(cameraPath(h) + "/presets/" + name)
	return check(resp, err)
}

// StartSequence は撮影シーケンスを開始する
func (c *Client) StartSequence(ctx context.Context, h camera.Handle, cfg sequence.Config) (*sequence.Info, error) {
	var info sequence.Info
	resp, err := c.HTTP.R().
		SetContext(ctx).
		SetBody(cfg).
		SetResult(&info).
		Post(cameraPath(h) + "/sequences")
	if err := check(resp, err); err != nil {
		return nil, err
	}
	return &info, nil
}

// Sequences は撮影シーケンスの一覧を返す
func (c *Client) Sequences(ctx context.Context) ([]sequence.Info, error) {
	var resp server.SequencesResponse
	if err := c.getJSON(ctx, "/api/sequences", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Sequences, nil
}

// Sequence は撮影シーケンスの状態を返す
func (c *Client) Sequence(ctx context.Context, id uuid.UUID) (*sequence.Info, error) {
	var info sequence.Info
	if err := c.getJSON(ctx, "/api/sequences/"+id.String(), nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// StopSequence は撮影シーケンスを停止し、最終状態を返す
func (c *Client) StopSequence(ctx context.Context, id uuid.UUID) (*sequence.Info, error) {
	var info sequence.Info
	resp, err := c.HTTP.R().
		SetContext(ctx).
		SetResult(&info).
		Delete("/api/sequences/" + id.String())
	if err := check(resp, err); err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *Client) getJSON(ctx context.Context, path string, query map[string]string, result any) error {
	req := c.HTTP.R().
		SetContext(ctx).
		SetResult(result)
	if query != nil {
		req.SetQueryParams(query)
	}
	resp, err := req.Get(path)
	return check(resp, err)
}

func cameraPath(h camera.Handle) string {
	return "/api/cameras/" + strconv.FormatInt(int64(h), 10)
}

// check は通信エラーと HTTP エラーをまとめて返す
func check(resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("リクエストに失敗: %w", err)
	}
	if resp.IsError() {
		return apiError(resp)
	}
	return nil
}

func apiError(resp *resty.Response) error {
	apiErr := &APIError{Status: resp.StatusCode(), Message: http.StatusText(resp.StatusCode())}
	var body server.ErrorResponse
	if err := json.Unmarshal(resp.Body(), &body); err == nil && body.Error != "" {
		apiErr.Code = body.Error
		apiErr.Message = body.Message
	}
	return apiErr
}
