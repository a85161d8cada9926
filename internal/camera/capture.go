package camera

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gencam/internal/control"
	"gencam/internal/property"
)

// PollInterval は完了待ちで ImageReady を問い合わせる間隔
const PollInterval = 10 * time.Millisecond

// Capture は露光開始から画像の取り出しまでを行う
//
// idle のカメラに対してのみ実行できる。露光時間に grace を加えた時間内に完了しなければ
// 露光を中断し ErrTimeout を返す。ctx がキャンセルされた場合も露光を中断する。
// いずれの場合もカメラは idle に戻る。
func Capture(ctx context.Context, cam Camera, grace time.Duration) (*Image, error) {
	if state := cam.State(); state != StateIdle {
		return nil, &StateError{Op: "capture", State: state}
	}
	limit := ExpectedExposure(cam) + grace

	if err := cam.StartExposure(); err != nil {
		return nil, err
	}
	if err := pollUntilReady(ctx, cam.ImageReady, limit); err != nil {
		if cam.State() != StateIdle {
			_, abortErr := cam.AbortExposure()
			err = errors.Join(err, abortErr)
		}
		return nil, err
	}
	return cam.DownloadImage(ctx)
}

// ExpectedExposure はカメラの露光時間を返す。exposure/exposure_time がなければ 0
func ExpectedExposure(cam Camera) time.Duration {
	model, err := cam.Property(control.ExposureTime)
	if err != nil || model.Kind() != property.KindInt {
		return 0
	}
	return time.Duration(model.Current().Int) * time.Microsecond
}

// pollUntilReady は ready が true を返すまで PollInterval ごとに問い合わせる
func pollUntilReady(ctx context.Context, ready func() (bool, error), limit time.Duration) error {
	deadline := time.NewTimer(max(limit, 0))
	defer deadline.Stop()
	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	for {
		ok, err := ready()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("%w: %s 以内に露光が完了しませんでした", ErrTimeout, limit)
		case <-ticker.C:
		}
	}
}
