package camera

import (
	"context"
	"fmt"
)

// ConnectFirst は最初に列挙されたデバイスに接続する
func ConnectFirst(ctx context.Context, driver Driver) (Camera, error) {
	devices, err := driver.ListDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("デバイスの列挙に失敗: %w", err)
	}
	if len(devices) == 0 {
		return nil, fmt.Errorf("%w: ドライバー %s", ErrNoDevices, driver.Name())
	}
	return driver.Connect(ctx, devices[0])
}

// FindDevice は ID に一致するデバイスを列挙結果から探す
func FindDevice(ctx context.Context, driver Driver, id string) (Descriptor, error) {
	devices, err := driver.ListDevices(ctx)
	if err != nil {
		return Descriptor{}, fmt.Errorf("デバイスの列挙に失敗: %w", err)
	}
	for _, desc := range devices {
		if desc.ID == id {
			return desc, nil
		}
	}
	return Descriptor{}, fmt.Errorf("%w: ドライバー %s にデバイス %s がありません", ErrNoDevices, driver.Name(), id)
}
