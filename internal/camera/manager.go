package camera

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/samber/lo"
)

// Manager は複数カメラを整数ハンドルで束ねる集約サーバー
type Manager interface {
	// Register はカメラを登録して新しいハンドルを返す
	Register(cam Camera) Handle

	// Deregister は登録を解除し、進行中の露光を中断してカメラを閉じる
	Deregister(h Handle) error

	// Dispatch はハンドルのカメラにコマンドを実行する
	Dispatch(ctx context.Context, h Handle, cmd Command) (*Reply, error)

	// Registrations は登録済みカメラの一覧をハンドル順に返す
	Registrations() []Registration

	// Len は登録済みカメラ数を返す
	Len() int
}

// DispatchObserver はディスパッチの結果を受け取る
type DispatchObserver interface {
	// ObserveDispatch はコマンド1件の実行結果を受け取る。成功時の code は空文字
	ObserveDispatch(kind CommandKind, code Code, elapsed time.Duration)

	// ObserveCameras は登録済みカメラ数の変化を受け取る。
	// マネージャーのロックを保持したまま呼ばれるため、マネージャーを呼び返してはならない
	ObserveCameras(n int)
}

// DefaultManager は Manager のデフォルト実装
type DefaultManager struct {
	cameras map[Handle]*entry
	next    Handle
	wrapped bool
	mu      sync.RWMutex

	captureGrace time.Duration
	logger       *slog.Logger
	observers    []DispatchObserver
}

// entry は1台分の登録情報。mu でそのカメラへの操作を直列化する
type entry struct {
	mu      sync.Mutex
	cam     Camera
	reg     Registration
	removed bool
}

// ManagerOption は DefaultManager の追加設定
type ManagerOption func(*DefaultManager)

// WithLogger はロガーを設定する
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *DefaultManager) {
		m.logger = logger
	}
}

// WithCaptureGrace は capture コマンドの既定の猶予時間を設定する
func WithCaptureGrace(grace time.Duration) ManagerOption {
	return func(m *DefaultManager) {
		m.captureGrace = grace
	}
}

// WithObserver はディスパッチの監視者を追加する
func WithObserver(observer DispatchObserver) ManagerOption {
	return func(m *DefaultManager) {
		m.observers = append(m.observers, observer)
	}
}

// NewDefaultManager は新しいDefaultManagerを作成する
func NewDefaultManager(opts ...ManagerOption) *DefaultManager {
	m := &DefaultManager{
		cameras:      make(map[Handle]*entry),
		captureGrace: 5 * time.Second,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Register はカメラを登録して新しいハンドルを返す
//
// 解除されたハンドルはカウンタが一巡するまで再利用しない。空きがなければ InvalidHandle を返す。
func (m *DefaultManager) Register(cam Camera) Handle {
	m.mu.Lock()
	h := m.allocate()
	if h == InvalidHandle {
		m.mu.Unlock()
		m.logger.Error("ハンドルが枯渇しています", "camera", cam.Info().ID)
		return InvalidHandle
	}
	e := &entry{
		cam: cam,
		reg: Registration{Handle: h, Descriptor: cam.Info(), RegisteredAt: time.Now()},
	}
	m.cameras[h] = e
	// 通知の順序が登録順と一致するようロック中に通知する
	m.notifyCameras(len(m.cameras))
	m.mu.Unlock()

	m.logger.Info("カメラを登録しました", "handle", h, "camera", e.reg.Descriptor.ID, "driver", e.reg.Descriptor.Driver)
	return h
}

// allocate は未使用のハンドルを払い出す（ロック済み前提）
func (m *DefaultManager) allocate() Handle {
	if !m.wrapped {
		h := m.next
		if h == math.MaxInt32 {
			m.wrapped = true
		} else {
			m.next++
		}
		return h
	}
	for h := Handle(0); ; h++ {
		if _, used := m.cameras[h]; !used {
			return h
		}
		if h == math.MaxInt32 {
			return InvalidHandle
		}
	}
}

// Deregister は登録を解除し、進行中の露光を中断してカメラを閉じる
//
// 実行中のコマンドがあれば完了を待つ。ハンドルは解除時点で無効になる。
func (m *DefaultManager) Deregister(h Handle) error {
	m.mu.Lock()
	e, exists := m.cameras[h]
	if !exists {
		m.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrUnknownHandle, h)
	}
	delete(m.cameras, h)
	m.notifyCameras(len(m.cameras))
	m.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.removed = true

	var errs []error
	if state := e.cam.State(); state == StateExposing || state == StateReadyForDownload {
		if _, err := e.cam.AbortExposure(); err != nil {
			errs = append(errs, fmt.Errorf("ハンドル %d の露光中断に失敗: %w", h, err))
		}
	}
	if err := e.cam.Close(); err != nil {
		errs = append(errs, fmt.Errorf("ハンドル %d のクローズに失敗: %w", h, err))
	}

	m.logger.Info("カメラの登録を解除しました", "handle", h, "camera", e.reg.Descriptor.ID)
	return errors.Join(errs...)
}

// Dispatch はハンドルのカメラにコマンドを実行する
//
// 応答は常に返り、失敗時は Reply.Error にもエラーが設定される。
func (m *DefaultManager) Dispatch(ctx context.Context, h Handle, cmd Command) (*Reply, error) {
	start := time.Now()
	reply, err := m.dispatch(ctx, h, cmd)
	if err != nil {
		reply.Error = replyError(err)
		m.logger.Debug("コマンドが失敗しました", "handle", h, "kind", cmd.Kind, "error", err)
	}
	for _, o := range m.observers {
		o.ObserveDispatch(cmd.Kind, ErrorCode(err), time.Since(start))
	}
	return reply, err
}

func (m *DefaultManager) dispatch(ctx context.Context, h Handle, cmd Command) (*Reply, error) {
	reply := &Reply{Kind: cmd.Kind}

	m.mu.RLock()
	e, exists := m.cameras[h]
	m.mu.RUnlock()
	if !exists {
		return reply, fmt.Errorf("%w: %d", ErrUnknownHandle, h)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return reply, fmt.Errorf("%w: %d", ErrUnknownHandle, h)
	}
	if err := ctx.Err(); err != nil {
		return reply, err
	}
	return reply, m.execute(ctx, e.cam, cmd, reply)
}

// execute はコマンドをカメラの操作に変換する（エントリのロック済み前提）
func (m *DefaultManager) execute(ctx context.Context, cam Camera, cmd Command, reply *Reply) error {
	switch cmd.Kind {
	case CmdGetProperties:
		reply.Properties = cam.Properties()
		return nil

	case CmdGetProperty:
		if cmd.Control == nil {
			return fmt.Errorf("%w: control が指定されていません", ErrInvalidValue)
		}
		model, err := cam.Property(*cmd.Control)
		if err != nil {
			return err
		}
		reply.Property = &model
		return nil

	case CmdSetProperty:
		if cmd.Control == nil || cmd.Value == nil {
			return fmt.Errorf("%w: control と value が必要です", ErrInvalidValue)
		}
		if err := cam.SetProperty(*cmd.Control, *cmd.Value); err != nil {
			return err
		}
		model, err := cam.Property(*cmd.Control)
		if err != nil {
			return err
		}
		reply.Property = &model
		return nil

	case CmdStartExposure:
		err := cam.StartExposure()
		reply.State = cam.State()
		return err

	case CmdImageReady:
		ready, err := cam.ImageReady()
		if err != nil {
			return err
		}
		reply.Ready = &ready
		return nil

	case CmdDownloadImage:
		img, err := cam.DownloadImage(ctx)
		if err != nil {
			return err
		}
		reply.Image = img
		return nil

	case CmdAbortExposure:
		state, err := cam.AbortExposure()
		reply.State = state
		return err

	case CmdCapture:
		grace := m.captureGrace
		if cmd.GraceMS > 0 {
			grace = time.Duration(cmd.GraceMS) * time.Millisecond
		}
		img, err := Capture(ctx, cam, grace)
		if err != nil {
			return err
		}
		reply.Image = img
		return nil

	case CmdGetState:
		reply.State = cam.State()
		return nil

	case CmdInfo:
		info := cam.Info()
		reply.Info = &info
		return nil

	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Kind)
	}
}

// Registrations は登録済みカメラの一覧をハンドル順に返す
func (m *DefaultManager) Registrations() []Registration {
	m.mu.RLock()
	defer m.mu.RUnlock()

	regs := lo.MapToSlice(m.cameras, func(_ Handle, e *entry) Registration {
		return e.reg
	})
	slices.SortFunc(regs, func(a, b Registration) int {
		return int(a.Handle) - int(b.Handle)
	})
	return regs
}

// Lookup はハンドルの登録情報を返す
func (m *DefaultManager) Lookup(h Handle) (Registration, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, exists := m.cameras[h]
	if !exists {
		return Registration{}, false
	}
	return e.reg, true
}

// Len は登録済みカメラ数を返す
func (m *DefaultManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.cameras)
}

// Connect はドライバーでデバイスに接続して登録する
func (m *DefaultManager) Connect(ctx context.Context, driver Driver, desc Descriptor) (Handle, error) {
	cam, err := driver.Connect(ctx, desc)
	if err != nil {
		return InvalidHandle, fmt.Errorf("デバイス %s への接続に失敗: %w", desc.ID, err)
	}
	h := m.Register(cam)
	if h == InvalidHandle {
		_ = cam.Close()
		return InvalidHandle, fmt.Errorf("デバイス %s を登録できません: ハンドルが枯渇しています", desc.ID)
	}
	return h, nil
}

// ConnectAll はドライバーのデバイス一覧と登録状態を突き合わせる
//
// 未登録のデバイスに接続し、一覧から消えた同じドライバーのデバイスは登録を解除する。
// 新たに登録したハンドルを返す。
func (m *DefaultManager) ConnectAll(ctx context.Context, driver Driver) ([]Handle, error) {
	devices, err := driver.ListDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("デバイスの列挙に失敗: %w", err)
	}

	registered := make(map[string]Handle)
	for _, reg := range m.Registrations() {
		if reg.Descriptor.Driver == driver.Name() {
			registered[reg.Descriptor.ID] = reg.Handle
		}
	}

	// 新しく見つかったデバイスを追加
	var added []Handle
	for _, desc := range devices {
		if _, ok := registered[desc.ID]; ok {
			continue
		}
		h, err := m.Connect(ctx, driver, desc)
		if err != nil {
			m.logger.Warn("デバイスを追加できませんでした", "device", desc.ID, "error", err)
			continue
		}
		added = append(added, h)
	}

	// 存在しなくなったデバイスを削除
	present := lo.SliceToMap(devices, func(d Descriptor) (string, struct{}) {
		return d.ID, struct{}{}
	})
	for id, h := range registered {
		if _, ok := present[id]; ok {
			continue
		}
		if err := m.Deregister(h); err != nil && !errors.Is(err, ErrUnknownHandle) {
			m.logger.Warn("消えたデバイスの解除に失敗しました", "handle", h, "device", id, "error", err)
		}
	}

	return added, nil
}

// Close は全カメラの登録を解除する
func (m *DefaultManager) Close() error {
	m.mu.RLock()
	handles := lo.Keys(m.cameras)
	m.mu.RUnlock()

	var errs []error
	for _, h := range handles {
		if err := m.Deregister(h); err != nil && !errors.Is(err, ErrUnknownHandle) {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("一部のカメラの解除に失敗: %w", errors.Join(errs...))
	}
	return nil
}

func (m *DefaultManager) notifyCameras(n int) {
	for _, o := range m.observers {
		o.ObserveCameras(n)
	}
}
