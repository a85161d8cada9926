package client

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gencam/internal/camera"
	"gencam/internal/config"
	"gencam/internal/control"
	"gencam/internal/preset"
	"gencam/internal/property"
	"gencam/internal/sequence"
	"gencam/internal/server"
)

func newTestClient(t *testing.T) (*Client, *camera.MockDriver) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	manager := camera.NewDefaultManager(camera.WithLogger(logger))
	t.Cleanup(func() { _ = manager.Close() })

	store, err := preset.Open(filepath.Join(t.TempDir(), "presets.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	sink, err := sequence.NewDirSink(filepath.Join(t.TempDir(), "frames"))
	if err != nil {
		t.Fatalf("NewDirSink failed: %v", err)
	}
	sequences := sequence.NewManager(manager, sink, logger)
	t.Cleanup(func() { _ = sequences.Close(context.Background()) })

	driver := camera.NewMockDriver("cam-a")
	srv := server.New(config.Default(), manager,
		server.WithLogger(logger),
		server.WithDriver(driver),
		server.WithPresets(store),
		server.WithSequences(sequences),
	)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return New(ts.URL, 5*time.Second), driver
}

func TestClient_ConnectAndDispatch(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t)

	devices, err := c.Devices(ctx, "mock")
	if err != nil {
		t.Fatalf("Devices failed: %v", err)
	}
	if len(devices) != 1 || devices[0].ID != "cam-a" {
		t.Fatalf("Expected [cam-a], got %+v", devices)
	}

	reg, err := c.Connect(ctx, "mock", "cam-a")
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	cameras, err := c.Cameras(ctx)
	if err != nil {
		t.Fatalf("Cameras failed: %v", err)
	}
	if len(cameras) != 1 || cameras[0].Handle != reg.Handle {
		t.Errorf("Expected registered handle %d, got %+v", reg.Handle, cameras)
	}

	model, err := c.SetProperty(ctx, reg.Handle, control.Gain, property.Int(20))
	if err != nil {
		t.Fatalf("SetProperty failed: %v", err)
	}
	if model.Current() != property.Int(20) {
		t.Errorf("Expected gain 20, got %v", model.Current())
	}

	// コマンドの失敗は応答と番兵エラーの両方で返る
	reply, err := c.Dispatch(ctx, reg.Handle, camera.NewCommand(camera.CmdImageReady))
	if !errors.Is(err, camera.ErrInvalidState) {
		t.Fatalf("Expected ErrInvalidState, got %v", err)
	}
	if reply == nil || reply.Error == nil || reply.Error.Code != camera.CodeInvalidState {
		t.Errorf("Expected invalid_state reply, got %+v", reply)
	}

	if _, err := c.Property(ctx, reg.Handle, control.ID{Group: control.GroupSensor, Name: "focus"}); !errors.Is(err, camera.ErrUnknownControl) {
		t.Errorf("Expected ErrUnknownControl, got %v", err)
	}

	if err := c.Disconnect(ctx, reg.Handle); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}
	if _, err := c.Dispatch(ctx, reg.Handle, camera.NewCommand(camera.CmdGetState)); !errors.Is(err, camera.ErrUnknownHandle) {
		t.Errorf("Expected ErrUnknownHandle, got %v", err)
	}
}

func TestClient_CaptureFITS(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t)

	reg, err := c.Connect(ctx, "mock", "")
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	result, err := c.CaptureFITS(ctx, reg.Handle, 100*time.Millisecond, true)
	if err != nil {
		t.Fatalf("CaptureFITS failed: %v", err)
	}
	if !bytes.HasPrefix(result.Data, []byte("SIMPLE")) {
		t.Error("Expected FITS data")
	}
	// 保存先なしで archive を要求した
	if result.ArchiveKey != "" || result.ArchiveError == "" {
		t.Errorf("Expected archive error header, got key=%q err=%q", result.ArchiveKey, result.ArchiveError)
	}
}

func TestClient_Presets(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t)
	reg, err := c.Connect(ctx, "mock", "cam-a")
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	if _, err := c.SavePreset(ctx, reg.Handle, "high", map[control.ID]property.Value{control.Gain: property.Int(90)}); err != nil {
		t.Fatalf("SavePreset failed: %v", err)
	}
	presets, err := c.Presets(ctx, reg.Handle)
	if err != nil || len(presets) != 1 {
		t.Fatalf("Expected 1 preset, got %d (%v)", len(presets), err)
	}

	catalog, err := c.ApplyPreset(ctx, reg.Handle, "high")
	if err != nil {
		t.Fatalf("ApplyPreset failed: %v", err)
	}
	if v, _ := catalog.Current(control.Gain); v != property.Int(90) {
		t.Errorf("Expected gain 90, got %v", v)
	}

	if err := c.DeletePreset(ctx, reg.Handle, "high"); err != nil {
		t.Fatalf("DeletePreset failed: %v", err)
	}
	var apiErr *APIError
	if err := c.DeletePreset(ctx, reg.Handle, "high"); !errors.As(err, &apiErr) || apiErr.Status != http.StatusNotFound {
		t.Errorf("Expected 404 APIError, got %v", err)
	}
}

func TestClient_Sequences(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t)
	reg, err := c.Connect(ctx, "mock", "cam-a")
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	started, err := c.StartSequence(ctx, reg.Handle, sequence.Config{Count: 2})
	if err != nil {
		t.Fatalf("StartSequence failed: %v", err)
	}

	info := started
	deadline := time.Now().Add(5 * time.Second)
	for !info.Done() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
		if info, err = c.Sequence(ctx, started.ID); err != nil {
			t.Fatalf("Sequence failed: %v", err)
		}
	}
	if info.Status != sequence.StatusCompleted || len(info.Keys) != 2 {
		t.Fatalf("Expected 2 frames written, got %s %v (%s)", info.Status, info.Keys, info.LastError)
	}
	if !strings.HasSuffix(info.Keys[0], ".fits") {
		t.Errorf("Expected FITS file path, got %s", info.Keys[0])
	}

	running, err := c.StartSequence(ctx, reg.Handle, sequence.Config{Interval: time.Hour})
	if err != nil {
		t.Fatalf("StartSequence failed: %v", err)
	}
	stopped, err := c.StopSequence(ctx, running.ID)
	if err != nil {
		t.Fatalf("StopSequence failed: %v", err)
	}
	if stopped.Status != sequence.StatusStopped || stopped.Frames > 1 {
		t.Errorf("Expected stopped within the first interval, got %s %d", stopped.Status, stopped.Frames)
	}

	all, err := c.Sequences(ctx)
	if err != nil || len(all) != 2 {
		t.Errorf("Expected 2 sequences, got %d (%v)", len(all), err)
	}
}

func TestClient_APIError(t *testing.T) {
	c, _ := newTestClient(t)
	_, err := c.Connect(context.Background(), "v4l2", "")

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Expected APIError, got %v", err)
	}
	if apiErr.Status != http.StatusNotFound || apiErr.Code != "unknown_driver" {
		t.Errorf("Unexpected error: %+v", apiErr)
	}

	_, err = c.Connect(context.Background(), "mock", "cam-z")
	if !errors.Is(err, camera.ErrNoDevices) {
		t.Errorf("Expected ErrNoDevices, got %v", err)
	}
}
