package preset

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/samber/lo"

	"gencam/internal/camera"
	"gencam/internal/control"
	"gencam/internal/property"
)

// Snapshot はカメラの書き込み可能なコントロールの現在値からプリセットを作る
func Snapshot(ctx context.Context, mgr camera.Manager, h camera.Handle, name string) (Preset, error) {
	info, err := mgr.Dispatch(ctx, h, camera.NewCommand(camera.CmdInfo))
	if err != nil {
		return Preset{}, err
	}
	props, err := mgr.Dispatch(ctx, h, camera.NewCommand(camera.CmdGetProperties))
	if err != nil {
		return Preset{}, err
	}

	values := make(map[control.ID]property.Value)
	for _, id := range props.Properties.IDs() {
		model, err := props.Properties.Get(id)
		if err != nil || model.ReadOnly() {
			continue
		}
		values[id] = model.Current()
	}
	return Preset{Device: info.Info.ID, Name: name, Values: values}, nil
}

// Apply はプリセットの値を順に set_property でカメラに反映する
//
// 一部の値が拒否されても残りの値は適用を続け、失敗をまとめて返す。
func Apply(ctx context.Context, mgr camera.Manager, h camera.Handle, p Preset) error {
	ids := lo.Keys(p.Values)
	slices.SortFunc(ids, func(a, b control.ID) int {
		return strings.Compare(a.String(), b.String())
	})

	var errs []error
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if _, err := mgr.Dispatch(ctx, h, camera.SetPropertyCommand(id, p.Values[id])); err != nil {
			if errors.Is(err, camera.ErrUnknownHandle) {
				return err
			}
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("プリセット %s の適用に失敗: %w", p.Name, errors.Join(errs...))
	}
	return nil
}
