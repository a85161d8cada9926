package sequence

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"gencam/internal/camera"
)

// keyLimit は Info.Keys に残す保存先キーの数
const keyLimit = 100

// run は1回分の撮影シーケンス
type run struct {
	info    Info
	cameras camera.Manager
	sink    Sink
	logger  *slog.Logger

	// 制御用
	cancel context.CancelFunc
	done   chan struct{}
	mu     sync.RWMutex
}

func newRun(h camera.Handle, cameraID string, cfg Config, cameras camera.Manager, sink Sink, logger *slog.Logger) *run {
	return &run{
		info: Info{
			ID:        uuid.New(),
			Handle:    h,
			Camera:    cameraID,
			Config:    cfg,
			Status:    StatusRunning,
			Keys:      []string{},
			StartedAt: time.Now(),
		},
		cameras: cameras,
		sink:    sink,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

// start はシーケンスを別ゴルーチンで開始する
func (r *run) start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	go r.loop(ctx)
}

// stop は進行中の露光を中断し、終了を待つ
func (r *run) stop(ctx context.Context) error {
	r.cancel()
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("撮影シーケンス %s の停止待ちが中断されました: %w", r.info.ID, ctx.Err())
	}
}

// loop は間隔ごとにフレームを撮影する
func (r *run) loop(ctx context.Context) {
	defer close(r.done)
	defer r.cancel()

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			r.finish(StatusStopped, nil)
			return
		case <-timer.C:
		}

		started := time.Now()
		if err := r.captureFrame(ctx); err != nil {
			if ctx.Err() != nil {
				r.finish(StatusStopped, nil)
				return
			}
			r.logger.Warn("撮影シーケンスが失敗しました", "sequence", r.info.ID, "handle", r.info.Handle, "error", err)
			r.finish(StatusError, err)
			return
		}

		if count := r.info.Config.Count; count > 0 && r.frames() >= count {
			r.finish(StatusCompleted, nil)
			return
		}
		timer.Reset(max(0, r.info.Config.Interval-time.Since(started)))
	}
}

// captureFrame は1枚撮影して保存する
func (r *run) captureFrame(ctx context.Context) error {
	reply, err := r.cameras.Dispatch(ctx, r.info.Handle, camera.CaptureCommand(r.info.Config.Grace))
	if err != nil {
		return fmt.Errorf("フレーム %d の撮影に失敗: %w", r.frames()+1, err)
	}
	key, err := r.sink.Store(ctx, reply.Image)
	if err != nil {
		return fmt.Errorf("フレーム %d の保存に失敗: %w", r.frames()+1, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.info.Frames++
	r.info.Keys = append(r.info.Keys, key)
	// 古いキーから削除
	if len(r.info.Keys) > keyLimit {
		r.info.Keys = r.info.Keys[len(r.info.Keys)-keyLimit:]
	}
	r.logger.Debug("フレームを保存しました", "sequence", r.info.ID, "frame", r.info.Frames, "key", key)
	return nil
}

func (r *run) frames() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.info.Frames
}

func (r *run) finish(status Status, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	r.info.Status = status
	r.info.FinishedAt = &now
	if err != nil {
		r.info.LastError = err.Error()
	}
	r.logger.Info("撮影シーケンスが終了しました", "sequence", r.info.ID, "status", status, "frames", r.info.Frames)
}

// snapshot は状態のコピーを返す
func (r *run) snapshot() Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info := r.info
	info.Keys = slices.Clone(r.info.Keys)
	return info
}
