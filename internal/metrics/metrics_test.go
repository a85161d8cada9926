package metrics

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"gencam/internal/camera"
)

func TestCollector_ObservesManager(t *testing.T) {
	collector := New()
	manager := camera.NewDefaultManager(
		camera.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		camera.WithObserver(collector),
	)
	device := camera.NewDevice(camera.Descriptor{ID: "cam-a"}, camera.NewMockSensor(2, 2), camera.NewMockCatalog())
	h := manager.Register(device)

	ctx := context.Background()
	_, _ = manager.Dispatch(ctx, h, camera.NewCommand(camera.CmdGetState))
	_, _ = manager.Dispatch(ctx, h, camera.NewCommand(camera.CmdGetState))
	_, _ = manager.Dispatch(ctx, h, camera.NewCommand(camera.CmdDownloadImage))

	if got := testutil.ToFloat64(collector.dispatches.WithLabelValues("get_state", "ok")); got != 2 {
		t.Errorf("Expected 2 successful get_state, got %g", got)
	}
	if got := testutil.ToFloat64(collector.dispatches.WithLabelValues("download_image", "invalid_state")); got != 1 {
		t.Errorf("Expected 1 failed download_image, got %g", got)
	}
	if got := testutil.ToFloat64(collector.cameras); got != 1 {
		t.Errorf("Expected 1 registered camera, got %g", got)
	}

	if err := manager.Deregister(h); err != nil {
		t.Fatalf("Deregister failed: %v", err)
	}
	if got := testutil.ToFloat64(collector.cameras); got != 0 {
		t.Errorf("Expected 0 registered cameras, got %g", got)
	}
}

func TestCollector_UnknownKindsShareOneSeries(t *testing.T) {
	collector := New()
	manager := camera.NewDefaultManager(
		camera.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		camera.WithObserver(collector),
	)
	device := camera.NewDevice(camera.Descriptor{ID: "cam-a"}, camera.NewMockSensor(2, 2), camera.NewMockCatalog())
	h := manager.Register(device)

	ctx := context.Background()
	for i := range 500 {
		_, _ = manager.Dispatch(ctx, h, camera.NewCommand(camera.CommandKind(fmt.Sprintf("junk%d", i))))
	}

	if got := testutil.CollectAndCount(collector.dispatches); got != 1 {
		t.Errorf("Expected 1 dispatch series, got %d", got)
	}
	if got := testutil.CollectAndCount(collector.latency); got != 1 {
		t.Errorf("Expected 1 latency series, got %d", got)
	}
	if got := testutil.ToFloat64(collector.dispatches.WithLabelValues("unknown", string(camera.CodeUnknownCommand))); got != 500 {
		t.Errorf("Expected 500 unknown commands, got %g", got)
	}
}

func TestCollector_Handler(t *testing.T) {
	collector := New()
	collector.ObserveDispatch(camera.CmdCapture, camera.CodeTimeout, 2*time.Second)

	rec := httptest.NewRecorder()
	collector.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	if !strings.Contains(body, `gencam_dispatch_total{code="timeout",kind="capture"} 1`) {
		t.Errorf("Expected capture timeout counter in output:\n%s", body)
	}
	if !strings.Contains(body, "gencam_dispatch_duration_seconds_bucket") {
		t.Error("Expected latency histogram in output")
	}
}
