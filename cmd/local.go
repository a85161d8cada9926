package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"gencam/internal/camera"
	"gencam/internal/control"
	"gencam/internal/fits"
)

var (
	yamlOutput    bool
	captureOutput string
	captureSets   []string
	captureGrace  time.Duration
	captureStore  bool
)

// devicesCmd は設定の模擬カメラを列挙する
var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "模擬カメラのデバイスとコントロールを表示する",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		devices, err := a.driver.ListDevices(cmd.Context())
		if err != nil {
			return err
		}

		switch {
		case jsonOutput:
			return writeJSON(devices)
		case yamlOutput:
			// コントロールの値域も含めて出力する
			type deviceDump struct {
				Device   camera.Descriptor `yaml:"device"`
				Controls *control.Catalog  `yaml:"controls"`
			}
			var dump []deviceDump
			for _, desc := range devices {
				cam, err := a.driver.Connect(cmd.Context(), desc)
				if err != nil {
					return err
				}
				dump = append(dump, deviceDump{Device: desc, Controls: cam.Properties()})
				_ = cam.Close()
			}
			enc := yaml.NewEncoder(os.Stdout)
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(dump)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tVENDOR\tDRIVER\tSENSOR")
		fmt.Fprintln(w, "--\t----\t------\t------\t------")
		for _, desc := range devices {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", desc.ID, desc.Name, desc.Vendor, desc.Driver, desc.Info["Sensor"])
		}
		return w.Flush()
	},
}

// captureCmd はサーバーを起動せずに模擬カメラで1枚撮影する
var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "模擬カメラで1枚撮影して FITS に保存する",
	Example: `  gencam capture --set exposure/exposure_time=20000 --set analog/gain=30 --output frame.fits
  gencam capture --config gencam.yaml --archive`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		cam, err := camera.ConnectFirst(ctx, a.driver)
		if err != nil {
			return err
		}
		h := a.manager.Register(cam)

		for _, assignment := range captureSets {
			id, raw, ok := strings.Cut(assignment, "=")
			if !ok {
				return fmt.Errorf("--set は <group>/<name>=<value> の形式です: %q", assignment)
			}
			if err := setLocal(cmd, a, h, id, raw); err != nil {
				return err
			}
		}

		grace := captureGrace
		if grace == 0 {
			grace = cfg.Camera.CaptureGrace
		}
		reply, err := a.manager.Dispatch(ctx, h, camera.CaptureCommand(grace))
		if err != nil {
			return err
		}
		img := reply.Image

		data, err := fits.Bytes(img)
		if err != nil {
			return err
		}
		output := captureOutput
		if output == "" {
			output = img.ID.String() + ".fits"
		}
		if err := os.WriteFile(output, data, 0o644); err != nil {
			return fmt.Errorf("ファイルの書き込みに失敗: %w", err)
		}
		fmt.Printf("%dx%d の画像を %s に保存しました (露光 %s)\n", img.Width, img.Height, output, img.Meta.Exposure)

		if captureStore {
			if a.archive == nil {
				return fmt.Errorf("画像の保存先が設定されていません (archive.enabled)")
			}
			key, err := a.archive.Store(ctx, img)
			if err != nil {
				return err
			}
			fmt.Printf("保存先: %s\n", key)
		}
		return nil
	},
}

// setLocal は文字列の値をコントロールの値域で解釈して設定する
func setLocal(cmd *cobra.Command, a *app, h camera.Handle, rawID, rawValue string) error {
	id, err := control.Parse(rawID)
	if err != nil {
		return err
	}
	reply, err := a.manager.Dispatch(cmd.Context(), h, camera.GetPropertyCommand(id))
	if err != nil {
		return err
	}
	v, err := reply.Property.Parse(rawValue)
	if err != nil {
		return fmt.Errorf("コントロール %s: %w", id, err)
	}
	_, err = a.manager.Dispatch(cmd.Context(), h, camera.SetPropertyCommand(id, v))
	return err
}

func writeJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(captureCmd)

	devicesCmd.Flags().BoolVar(&yamlOutput, "yaml", false, "コントロールを含めて YAML で出力する")

	captureCmd.Flags().StringVarP(&captureOutput, "output", "o", "", "出力ファイル (デフォルト: <画像ID>.fits)")
	captureCmd.Flags().StringArrayVar(&captureSets, "set", nil, "撮影前に設定するコントロール (<group>/<name>=<value>)")
	captureCmd.Flags().DurationVar(&captureGrace, "grace", 0, "露光時間に加えて待つ時間 (デフォルト: 設定値)")
	captureCmd.Flags().BoolVar(&captureStore, "archive", false, "オブジェクトストレージにも保存する")
}
