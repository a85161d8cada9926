package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/samber/lo"

	"gencam/internal/camera"
	"gencam/internal/config"
	"gencam/internal/control"
	"gencam/internal/fits"
	"gencam/internal/metrics"
	"gencam/internal/preset"
	"gencam/internal/property"
	"gencam/internal/sequence"
)

// ArchiveKeyHeader は保存した画像のキーを返すヘッダー
const ArchiveKeyHeader = "X-Archive-Key"

// ArchiveErrorHeader は画像の保存に失敗した理由を返すヘッダー
const ArchiveErrorHeader = "X-Archive-Error"

// Handler は HTTP API の実装
type Handler struct {
	config    *config.Config
	manager   *camera.DefaultManager
	drivers   map[string]camera.Driver
	presets   *preset.Store
	archive   Archiver
	sequences *sequence.Manager
	metrics   *metrics.Collector
	logger    *slog.Logger
	started   time.Time
}

// ErrorResponse は API のエラー応答
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// StatusResponse はシステム状態の応答
type StatusResponse struct {
	Status    string     `json:"status"`
	Server    ServerInfo `json:"server"`
	Cameras   int        `json:"cameras"`
	Drivers   []string   `json:"drivers"`
	Presets   bool       `json:"presets"`
	Archive   bool       `json:"archive"`
	Sequences bool       `json:"sequences"`
	Uptime    string     `json:"uptime"`
	Timestamp time.Time  `json:"timestamp"`
}

// ServerInfo はリッスン先の情報
type ServerInfo struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// DevicesResponse はデバイス一覧の応答
type DevicesResponse struct {
	Devices []camera.Descriptor `json:"devices"`
}

// CamerasResponse は登録済みカメラ一覧の応答
type CamerasResponse struct {
	Cameras []camera.Registration `json:"cameras"`
}

// ConnectRequest はカメラ接続の要求。DeviceID が空なら最初のデバイスに接続する
type ConnectRequest struct {
	Driver   string `json:"driver" binding:"required"`
	DeviceID string `json:"device_id"`
}

// SyncResponse はドライバーとの突き合わせ結果
type SyncResponse struct {
	Added   []camera.Handle       `json:"added"`
	Cameras []camera.Registration `json:"cameras"`
}

// PresetRequest はプリセット保存の要求。Values が空なら現在値を保存する
type PresetRequest struct {
	Values map[control.ID]property.Value `json:"values"`
}

// PresetsResponse はプリセット一覧の応答
type PresetsResponse struct {
	Presets []preset.Preset `json:"presets"`
}

// ArchiveResponse は保存済み画像一覧の応答
type ArchiveResponse struct {
	Objects []ArchiveObject `json:"objects"`
}

// ArchiveObject は保存済み画像
type ArchiveObject struct {
	Key  string `json:"key"`
	Size int64  `json:"size"`
}

// SequencesResponse は撮影シーケンス一覧の応答
type SequencesResponse struct {
	Sequences []sequence.Info `json:"sequences"`
}

// HealthCheck はヘルスチェックエンドポイントの実装
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now(),
	})
}

// GetStatus はシステム状態取得エンドポイントの実装
func (h *Handler) GetStatus(c *gin.Context) {
	drivers := lo.Keys(h.drivers)
	slices.Sort(drivers)

	c.JSON(http.StatusOK, StatusResponse{
		Status: "running",
		Server: ServerInfo{
			Host: h.config.Server.Host,
			Port: h.config.Server.Port,
		},
		Cameras:   h.manager.Len(),
		Drivers:   drivers,
		Presets:   h.presets != nil,
		Archive:   h.archive != nil,
		Sequences: h.sequences != nil,
		Uptime:    time.Since(h.started).Truncate(time.Second).String(),
		Timestamp: time.Now(),
	})
}

// GetDevices はドライバーのデバイス一覧取得エンドポイントの実装
// クエリ driver でドライバーを絞り込む
func (h *Handler) GetDevices(c *gin.Context) {
	names := lo.Keys(h.drivers)
	if name := c.Query("driver"); name != "" {
		if _, ok := h.drivers[name]; !ok {
			h.writeError(c, http.StatusNotFound, "unknown_driver", fmt.Errorf("ドライバー %s は登録されていません", name))
			return
		}
		names = []string{name}
	}
	slices.Sort(names)

	devices := []camera.Descriptor{}
	for _, name := range names {
		found, err := h.drivers[name].ListDevices(c.Request.Context())
		if err != nil {
			h.writeCameraError(c, fmt.Errorf("ドライバー %s のデバイス列挙に失敗: %w", name, err))
			return
		}
		devices = append(devices, found...)
	}
	c.JSON(http.StatusOK, DevicesResponse{Devices: devices})
}

// SyncDriver はドライバーのデバイス一覧と登録状態を突き合わせる
func (h *Handler) SyncDriver(c *gin.Context) {
	driver, ok := h.driver(c, c.Param("driver"))
	if !ok {
		return
	}
	added, err := h.manager.ConnectAll(c.Request.Context(), driver)
	if err != nil {
		h.writeCameraError(c, err)
		return
	}
	if added == nil {
		added = []camera.Handle{}
	}
	c.JSON(http.StatusOK, SyncResponse{Added: added, Cameras: h.manager.Registrations()})
}

// GetCameras は登録済みカメラ一覧取得エンドポイントの実装
func (h *Handler) GetCameras(c *gin.Context) {
	c.JSON(http.StatusOK, CamerasResponse{Cameras: h.manager.Registrations()})
}

// ConnectCamera はデバイスに接続して登録する
func (h *Handler) ConnectCamera(c *gin.Context) {
	var req ConnectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.writeError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	driver, ok := h.driver(c, req.Driver)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	var desc camera.Descriptor
	if req.DeviceID != "" {
		found, err := camera.FindDevice(ctx, driver, req.DeviceID)
		if err != nil {
			h.writeCameraError(c, err)
			return
		}
		desc = found
	} else {
		devices, err := driver.ListDevices(ctx)
		if err != nil {
			h.writeCameraError(c, err)
			return
		}
		if len(devices) == 0 {
			h.writeCameraError(c, fmt.Errorf("%w: ドライバー %s", camera.ErrNoDevices, driver.Name()))
			return
		}
		desc = devices[0]
	}

	handle, err := h.manager.Connect(ctx, driver, desc)
	if err != nil {
		h.writeCameraError(c, err)
		return
	}
	reg, _ := h.manager.Lookup(handle)
	h.logger.Info("カメラを接続しました", "handle", handle, "device", desc.ID, "driver", driver.Name())
	c.JSON(http.StatusCreated, reg)
}

// DisconnectCamera はカメラの登録を解除する
func (h *Handler) DisconnectCamera(c *gin.Context) {
	handle, ok := h.handle(c)
	if !ok {
		return
	}
	err := h.manager.Deregister(handle)
	if errors.Is(err, camera.ErrUnknownHandle) {
		h.writeCameraError(c, err)
		return
	}
	if err != nil {
		// 登録は解除済み。後始末の失敗だけを記録する
		h.logger.Warn("カメラの後始末に失敗しました", "handle", handle, "error", err)
	}
	c.Status(http.StatusNoContent)
}

// Dispatch はコマンドをカメラに送る。応答はエラー時も Reply を返す
func (h *Handler) Dispatch(c *gin.Context) {
	handle, ok := h.handle(c)
	if !ok {
		return
	}
	var cmd camera.Command
	if err := c.ShouldBindJSON(&cmd); err != nil {
		h.writeError(c, http.StatusBadRequest, "bad_request", err)
		return
	}

	reply, err := h.manager.Dispatch(c.Request.Context(), handle, cmd)
	c.JSON(statusFor(camera.ErrorCode(err)), reply)
}

// CaptureFITS は露光を1回行い、画像を FITS で返す
// クエリ grace_ms で待ち時間の猶予を、archive=true で保存を指定する
func (h *Handler) CaptureFITS(c *gin.Context) {
	handle, ok := h.handle(c)
	if !ok {
		return
	}
	var grace time.Duration
	if s := c.Query("grace_ms"); s != "" {
		ms, err := strconv.ParseInt(s, 10, 64)
		if err != nil || ms < 0 {
			h.writeError(c, http.StatusBadRequest, "bad_request", fmt.Errorf("grace_ms が不正です: %q", s))
			return
		}
		grace = time.Duration(ms) * time.Millisecond
	}

	ctx := c.Request.Context()
	reply, err := h.manager.Dispatch(ctx, handle, camera.CaptureCommand(grace))
	if err != nil {
		h.writeCameraError(c, err)
		return
	}
	img := reply.Image

	data, err := fits.Bytes(img)
	if err != nil {
		h.writeError(c, http.StatusInternalServerError, string(camera.CodeInternal), err)
		return
	}

	if archiveRequested(c) {
		if h.archive == nil {
			c.Header(ArchiveErrorHeader, "archive disabled")
		} else if key, err := h.archive.Store(ctx, img); err != nil {
			h.logger.Warn("画像の保存に失敗しました", "handle", handle, "image", img.ID, "error", err)
			c.Header(ArchiveErrorHeader, err.Error())
		} else {
			c.Header(ArchiveKeyHeader, key)
		}
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.fits"`, img.ID))
	c.Data(http.StatusOK, fits.ContentType, data)
}

// GetArchive は保存済み画像の一覧を返す。クエリ camera でカメラを絞り込む
func (h *Handler) GetArchive(c *gin.Context) {
	if h.archive == nil {
		h.writeError(c, http.StatusNotImplemented, "archive_disabled", errors.New("画像の保存先が設定されていません"))
		return
	}
	objects, err := h.archive.List(c.Request.Context(), c.Query("camera"))
	if err != nil {
		h.writeError(c, http.StatusBadGateway, "archive_failed", err)
		return
	}
	resp := ArchiveResponse{Objects: make([]ArchiveObject, 0, len(objects))}
	for _, o := range objects {
		resp.Objects = append(resp.Objects, ArchiveObject{Key: o.Key, Size: o.Size})
	}
	c.JSON(http.StatusOK, resp)
}

// GetPresets はカメラのプリセット一覧を返す
func (h *Handler) GetPresets(c *gin.Context) {
	_, device, ok := h.presetTarget(c)
	if !ok {
		return
	}
	presets, err := h.presets.List(c.Request.Context(), device)
	if err != nil {
		h.writeError(c, http.StatusInternalServerError, string(camera.CodeInternal), err)
		return
	}
	if presets == nil {
		presets = []preset.Preset{}
	}
	c.JSON(http.StatusOK, PresetsResponse{Presets: presets})
}

// SavePreset はプリセットを保存する
func (h *Handler) SavePreset(c *gin.Context) {
	handle, device, ok := h.presetTarget(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	name := c.Param("name")

	var req PresetRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.writeError(c, http.StatusBadRequest, "bad_request", err)
			return
		}
	}

	p := preset.Preset{Device: device, Name: name, Values: req.Values}
	if len(req.Values) == 0 {
		snap, err := preset.Snapshot(ctx, h.manager, handle, name)
		if err != nil {
			h.writeCameraError(c, err)
			return
		}
		p = snap
	}

	saved, err := h.presets.Save(ctx, p)
	if err != nil {
		h.writeError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	c.JSON(http.StatusOK, saved)
}

// ApplyPreset はプリセットをカメラに適用する
func (h *Handler) ApplyPreset(c *gin.Context) {
	handle, device, ok := h.presetTarget(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	p, err := h.presets.Get(ctx, device, c.Param("name"))
	if err != nil {
		h.writePresetError(c, err)
		return
	}
	if err := preset.Apply(ctx, h.manager, handle, p); err != nil {
		h.writeCameraError(c, err)
		return
	}

	reply, err := h.manager.Dispatch(ctx, handle, camera.NewCommand(camera.CmdGetProperties))
	if err != nil {
		h.writeCameraError(c, err)
		return
	}
	c.JSON(http.StatusOK, reply)
}

// DeletePreset はプリセットを削除する
func (h *Handler) DeletePreset(c *gin.Context) {
	_, device, ok := h.presetTarget(c)
	if !ok {
		return
	}
	if err := h.presets.Delete(c.Request.Context(), device, c.Param("name")); err != nil {
		h.writePresetError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// StartSequence はカメラで撮影シーケンスを開始する
// 本文は {"count": 10, "interval_ms": 1000, "grace_ms": 0}。空なら停止されるまで連続で撮影する
func (h *Handler) StartSequence(c *gin.Context) {
	if !h.sequencesEnabled(c) {
		return
	}
	handle, ok := h.handle(c)
	if !ok {
		return
	}
	var cfg sequence.Config
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&cfg); err != nil {
			h.writeError(c, http.StatusBadRequest, "bad_request", err)
			return
		}
	}

	info, err := h.sequences.Start(handle, cfg)
	if err != nil {
		h.writeSequenceError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, info)
}

// GetSequences は撮影シーケンスの一覧を返す
func (h *Handler) GetSequences(c *gin.Context) {
	if !h.sequencesEnabled(c) {
		return
	}
	c.JSON(http.StatusOK, SequencesResponse{Sequences: h.sequences.List()})
}

// GetSequence は撮影シーケンスの状態を返す
func (h *Handler) GetSequence(c *gin.Context) {
	id, ok := h.sequenceID(c)
	if !ok {
		return
	}
	info, err := h.sequences.Get(id)
	if err != nil {
		h.writeSequenceError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// StopSequence は撮影シーケンスを停止し、最終状態を返す
func (h *Handler) StopSequence(c *gin.Context) {
	id, ok := h.sequenceID(c)
	if !ok {
		return
	}
	info, err := h.sequences.Stop(c.Request.Context(), id)
	if err != nil {
		h.writeSequenceError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// ヘルパー関数

// handle はパスのハンドルを解析する。失敗した場合は応答を書いて false を返す
func (h *Handler) handle(c *gin.Context) (camera.Handle, bool) {
	raw := c.Param("handle")
	n, err := strconv.ParseInt(raw, 10, 32)
	if err != nil {
		h.writeError(c, http.StatusBadRequest, "bad_request", fmt.Errorf("ハンドルが不正です: %q", raw))
		return camera.InvalidHandle, false
	}
	return camera.Handle(n), true
}

func (h *Handler) driver(c *gin.Context, name string) (camera.Driver, bool) {
	driver, ok := h.drivers[name]
	if !ok {
		h.writeError(c, http.StatusNotFound, "unknown_driver", fmt.Errorf("ドライバー %s は登録されていません", name))
	}
	return driver, ok
}

// presetTarget はプリセット操作の対象カメラを解決する
func (h *Handler) presetTarget(c *gin.Context) (camera.Handle, string, bool) {
	if h.presets == nil {
		h.writeError(c, http.StatusNotImplemented, "presets_disabled", errors.New("プリセットの保存先が設定されていません"))
		return camera.InvalidHandle, "", false
	}
	handle, ok := h.handle(c)
	if !ok {
		return camera.InvalidHandle, "", false
	}
	reg, ok := h.manager.Lookup(handle)
	if !ok {
		h.writeCameraError(c, fmt.Errorf("%w: %d", camera.ErrUnknownHandle, handle))
		return camera.InvalidHandle, "", false
	}
	return handle, reg.Descriptor.ID, true
}

func (h *Handler) sequencesEnabled(c *gin.Context) bool {
	if h.sequences == nil {
		h.writeError(c, http.StatusNotImplemented, "sequences_disabled", errors.New("撮影シーケンスの保存先が設定されていません"))
		return false
	}
	return true
}

func (h *Handler) sequenceID(c *gin.Context) (uuid.UUID, bool) {
	if !h.sequencesEnabled(c) {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.writeError(c, http.StatusBadRequest, "bad_request", fmt.Errorf("シーケンス ID が不正です: %q", c.Param("id")))
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) writeError(c *gin.Context, status int, code string, err error) {
	c.JSON(status, ErrorResponse{
		Error:     code,
		Message:   err.Error(),
		Timestamp: time.Now(),
	})
}

func (h *Handler) writeCameraError(c *gin.Context, err error) {
	code := camera.ErrorCode(err)
	h.writeError(c, statusFor(code), string(code), err)
}

func (h *Handler) writePresetError(c *gin.Context, err error) {
	if errors.Is(err, preset.ErrNotFound) {
		h.writeError(c, http.StatusNotFound, "not_found", err)
		return
	}
	h.writeError(c, http.StatusInternalServerError, string(camera.CodeInternal), err)
}

func (h *Handler) writeSequenceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, sequence.ErrNotFound):
		h.writeError(c, http.StatusNotFound, "not_found", err)
	case errors.Is(err, sequence.ErrBusy):
		h.writeError(c, http.StatusConflict, "sequence_busy", err)
	case errors.Is(err, sequence.ErrInvalidConfig):
		h.writeError(c, http.StatusBadRequest, "bad_request", err)
	default:
		h.writeCameraError(c, err)
	}
}

// statusFor はエラーコードを HTTP ステータスに変換する
func statusFor(code camera.Code) int {
	switch code {
	case "":
		return http.StatusOK
	case camera.CodeInvalidValue, camera.CodeUnknownControl, camera.CodeUnknownCommand:
		return http.StatusBadRequest
	case camera.CodeUnknownHandle, camera.CodeNoDevices:
		return http.StatusNotFound
	case camera.CodeInvalidState:
		return http.StatusConflict
	case camera.CodeHardware, camera.CodeCaptureFailed:
		return http.StatusBadGateway
	case camera.CodeTimeout:
		return http.StatusGatewayTimeout
	case camera.CodeCanceled:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func archiveRequested(c *gin.Context) bool {
	v := strings.ToLower(c.Query("archive"))
	return v == "1" || v == "true" || v == "yes"
}
