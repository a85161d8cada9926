package sequence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"gencam/internal/camera"
)

// historyLimit は終了済みシーケンスを残す数
const historyLimit = 100

// Manager は撮影シーケンスを管理する
type Manager struct {
	cameras camera.Manager
	sink    Sink
	logger  *slog.Logger

	runs map[uuid.UUID]*run
	ctx  context.Context
	stop context.CancelFunc
	mu   sync.RWMutex
}

// NewManager は新しい Manager を作成する
func NewManager(cameras camera.Manager, sink Sink, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cameras: cameras,
		sink:    sink,
		logger:  logger,
		runs:    make(map[uuid.UUID]*run),
		ctx:     ctx,
		stop:    cancel,
	}
}

// Start はハンドルのカメラで撮影シーケンスを開始する
func (m *Manager) Start(h camera.Handle, cfg Config) (Info, error) {
	if err := cfg.Validate(); err != nil {
		return Info{}, err
	}
	reg, ok := lo.Find(m.cameras.Registrations(), func(r camera.Registration) bool {
		return r.Handle == h
	})
	if !ok {
		return Info{}, fmt.Errorf("ハンドル %d: %w", h, camera.ErrUnknownHandle)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.ctx.Err(); err != nil {
		return Info{}, fmt.Errorf("撮影シーケンスは終了処理中です: %w", err)
	}
	for _, r := range m.runs {
		if info := r.snapshot(); info.Handle == h && !info.Done() {
			return Info{}, fmt.Errorf("ハンドル %d (%s): %w", h, info.ID, ErrBusy)
		}
	}

	r := newRun(h, reg.Descriptor.ID, cfg, m.cameras, m.sink, m.logger)
	m.runs[r.info.ID] = r
	m.prune()
	r.start(m.ctx)

	m.logger.Info("撮影シーケンスを開始しました", "sequence", r.info.ID, "handle", h, "count", cfg.Count, "interval", cfg.Interval)
	return r.snapshot(), nil
}

// Stop はシーケンスを停止して最終状態を返す。終了済みならそのまま返す
func (m *Manager) Stop(ctx context.Context, id uuid.UUID) (Info, error) {
	m.mu.RLock()
	r, ok := m.runs[id]
	m.mu.RUnlock()
	if !ok {
		return Info{}, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	if err := r.stop(ctx); err != nil {
		return r.snapshot(), err
	}
	return r.snapshot(), nil
}

// Get はシーケンスの状態を返す
func (m *Manager) Get(id uuid.UUID) (Info, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.runs[id]
	if !ok {
		return Info{}, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return r.snapshot(), nil
}

// List は全シーケンスを開始順に返す
func (m *Manager) List() []Info {
	m.mu.RLock()
	infos := make([]Info, 0, len(m.runs))
	for _, r := range m.runs {
		infos = append(infos, r.snapshot())
	}
	m.mu.RUnlock()

	slices.SortFunc(infos, func(a, b Info) int {
		return a.StartedAt.Compare(b.StartedAt)
	})
	return infos
}

// Close は実行中のシーケンスを全て停止する
func (m *Manager) Close(ctx context.Context) error {
	m.stop()

	m.mu.RLock()
	runs := lo.Values(m.runs)
	m.mu.RUnlock()

	var errs []error
	for _, r := range runs {
		if err := r.stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// prune は古い終了済みシーケンスから削除する。m.mu を保持して呼ぶ
func (m *Manager) prune() {
	finished := lo.Filter(lo.Values(m.runs), func(r *run, _ int) bool {
		return r.snapshot().Done()
	})
	if len(finished) <= historyLimit {
		return
	}
	slices.SortFunc(finished, func(a, b *run) int {
		return a.info.StartedAt.Compare(b.info.StartedAt)
	})
	for _, r := range finished[:len(finished)-historyLimit] {
		delete(m.runs, r.info.ID)
	}
}
