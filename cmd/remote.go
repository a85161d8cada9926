package cmd

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"gencam/internal/camera"
	"gencam/internal/client"
	"gencam/internal/control"
	"gencam/internal/sequence"
)

var (
	remoteDriver  string
	remoteDevice  string
	remoteOutput  string
	remoteGrace   time.Duration
	remoteArchive bool

	sequenceCount    int
	sequenceInterval time.Duration
)

// setupClient は --server と --timeout からクライアントを作成する
func setupClient() *client.Client {
	return client.New(viper.GetString("server"), viper.GetDuration("timeout"))
}

func parseHandle(s string) (camera.Handle, error) {
	n, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return camera.InvalidHandle, fmt.Errorf("ハンドルが不正です: %q", s)
	}
	return camera.Handle(n), nil
}

// Parent Command
var remoteCmd = &cobra.Command{
	Use:   "remote",
	Short: "稼働中のサーバーを操作する",
	Long:  `--server (または GENCAM_SERVER) のサーバーに接続し、カメラの接続・コマンド送信・撮影を行います。`,
}

var remoteStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "サーバーの状態を表示する",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, err := setupClient().Status(cmd.Context())
		if err != nil {
			return err
		}
		if jsonOutput {
			return writeJSON(status)
		}
		fmt.Printf("status:  %s\ncameras: %d\ndrivers: %v\nuptime:  %s\n", status.Status, status.Cameras, status.Drivers, status.Uptime)
		return nil
	},
}

var remoteCamerasCmd = &cobra.Command{
	Use:   "cameras",
	Short: "登録済みカメラを一覧する",
	RunE: func(cmd *cobra.Command, args []string) error {
		cameras, err := setupClient().Cameras(cmd.Context())
		if err != nil {
			return err
		}
		if jsonOutput {
			return writeJSON(cameras)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "HANDLE\tDEVICE\tNAME\tDRIVER\tREGISTERED")
		fmt.Fprintln(w, "------\t------\t----\t------\t----------")
		for _, reg := range cameras {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
				reg.Handle,
				reg.Descriptor.ID,
				reg.Descriptor.Name,
				reg.Descriptor.Driver,
				reg.RegisteredAt.Format(time.RFC3339),
			)
		}
		return w.Flush()
	},
}

var remoteConnectCmd = &cobra.Command{
	Use:   "connect",
	Short: "デバイスに接続して登録する",
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := setupClient().Connect(cmd.Context(), remoteDriver, remoteDevice)
		if err != nil {
			return err
		}
		if jsonOutput {
			return writeJSON(reg)
		}
		fmt.Printf("ハンドル %d: %s (%s)\n", reg.Handle, reg.Descriptor.Name, reg.Descriptor.ID)
		return nil
	},
}

var remoteDisconnectCmd = &cobra.Command{
	Use:   "disconnect <handle>",
	Short: "カメラの登録を解除する",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := parseHandle(args[0])
		if err != nil {
			return err
		}
		return setupClient().Disconnect(cmd.Context(), h)
	},
}

var remoteGetCmd = &cobra.Command{
	Use:   "get <handle> [<group>/<name>]",
	Short: "コントロールを表示する。省略すると全て",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := parseHandle(args[0])
		if err != nil {
			return err
		}
		api := setupClient()

		if len(args) == 2 {
			id, err := control.Parse(args[1])
			if err != nil {
				return err
			}
			model, err := api.Property(cmd.Context(), h, id)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(model)
			}
			fmt.Printf("%s = %s  %s\n", id, model.Format(model.Current()), model)
			return nil
		}

		reply, err := api.Dispatch(cmd.Context(), h, camera.NewCommand(camera.CmdGetProperties))
		if err != nil {
			return err
		}
		if jsonOutput {
			return writeJSON(reply.Properties)
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "CONTROL\tVALUE\tDOMAIN")
		for _, id := range reply.Properties.IDs() {
			model, _ := reply.Properties.Get(id)
			fmt.Fprintf(w, "%s\t%s\t%s\n", id, model.Format(model.Current()), model)
		}
		return w.Flush()
	},
}

var remoteSetCmd = &cobra.Command{
	Use:   "set <handle> <group>/<name> <value>",
	Short: "コントロールの値を設定する",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := parseHandle(args[0])
		if err != nil {
			return err
		}
		id, err := control.Parse(args[1])
		if err != nil {
			return err
		}
		api := setupClient()

		// 値域に合わせて文字列を解釈する
		model, err := api.Property(cmd.Context(), h, id)
		if err != nil {
			return err
		}
		v, err := model.Parse(args[2])
		if err != nil {
			return fmt.Errorf("コントロール %s: %w", id, err)
		}
		updated, err := api.SetProperty(cmd.Context(), h, id, v)
		if err != nil {
			return err
		}
		fmt.Printf("%s = %s\n", id, updated.Format(updated.Current()))
		return nil
	},
}

var remoteDispatchCmd = &cobra.Command{
	Use:       "dispatch <handle> <command>",
	Short:     "引数のないコマンドを送る (state, info, start_exposure など)",
	Args:      cobra.ExactArgs(2),
	ValidArgs: commandNames(),
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := parseHandle(args[0])
		if err != nil {
			return err
		}
		reply, err := setupClient().Dispatch(cmd.Context(), h, camera.NewCommand(commandKind(args[1])))
		if reply != nil && (jsonOutput || err == nil) {
			if werr := writeJSON(reply); werr != nil {
				return werr
			}
		}
		return err
	},
}

var remoteCaptureCmd = &cobra.Command{
	Use:   "capture <handle>",
	Short: "露光を1回行い FITS を保存する",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := parseHandle(args[0])
		if err != nil {
			return err
		}
		result, err := setupClient().CaptureFITS(cmd.Context(), h, remoteGrace, remoteArchive)
		if err != nil {
			return err
		}

		output := remoteOutput
		if output == "" {
			output = fmt.Sprintf("capture-%d-%s.fits", h, time.Now().UTC().Format("20060102T150405"))
		}
		if err := os.WriteFile(output, result.Data, 0o644); err != nil {
			return fmt.Errorf("ファイルの書き込みに失敗: %w", err)
		}
		fmt.Printf("%s に保存しました (%d bytes)\n", output, len(result.Data))
		if result.ArchiveKey != "" {
			fmt.Printf("保存先: %s\n", result.ArchiveKey)
		}
		if result.ArchiveError != "" {
			fmt.Fprintf(os.Stderr, "サーバー側の保存に失敗: %s\n", result.ArchiveError)
		}
		return nil
	},
}

var remotePresetCmd = &cobra.Command{
	Use:   "preset",
	Short: "プリセットを操作する",
}

var remotePresetListCmd = &cobra.Command{
	Use:   "list <handle>",
	Short: "プリセットを一覧する",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := parseHandle(args[0])
		if err != nil {
			return err
		}
		presets, err := setupClient().Presets(cmd.Context(), h)
		if err != nil {
			return err
		}
		if jsonOutput {
			return writeJSON(presets)
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "NAME\tCONTROLS\tUPDATED")
		for _, p := range presets {
			fmt.Fprintf(w, "%s\t%d\t%s\n", p.Name, len(p.Values), p.UpdatedAt.Format(time.RFC3339))
		}
		return w.Flush()
	},
}

var remotePresetSaveCmd = &cobra.Command{
	Use:   "save <handle> <name>",
	Short: "現在のコントロール値をプリセットとして保存する",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPreset(args, func(api *client.Client, h camera.Handle, name string) error {
			p, err := api.SavePreset(cmd.Context(), h, name, nil)
			if err != nil {
				return err
			}
			fmt.Printf("プリセット %s を保存しました (%d 個のコントロール)\n", p.Name, len(p.Values))
			return nil
		})
	},
}

var remotePresetApplyCmd = &cobra.Command{
	Use:   "apply <handle> <name>",
	Short: "プリセットを適用する",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPreset(args, func(api *client.Client, h camera.Handle, name string) error {
			if _, err := api.ApplyPreset(cmd.Context(), h, name); err != nil {
				return err
			}
			fmt.Printf("プリセット %s を適用しました\n", name)
			return nil
		})
	},
}

var remotePresetDeleteCmd = &cobra.Command{
	Use:   "delete <handle> <name>",
	Short: "プリセットを削除する",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPreset(args, func(api *client.Client, h camera.Handle, name string) error {
			return api.DeletePreset(cmd.Context(), h, name)
		})
	},
}

var remoteSequenceCmd = &cobra.Command{
	Use:   "sequence",
	Short: "撮影シーケンスを操作する",
}

var remoteSequenceStartCmd = &cobra.Command{
	Use:   "start <handle>",
	Short: "撮影シーケンスを開始する",
	Example: `  gencam remote sequence start 1 --count 100 --interval 30s
  gencam remote sequence start 2 --interval 0`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := parseHandle(args[0])
		if err != nil {
			return err
		}
		info, err := setupClient().StartSequence(cmd.Context(), h, sequence.Config{
			Count:    sequenceCount,
			Interval: sequenceInterval,
			Grace:    remoteGrace,
		})
		if err != nil {
			return err
		}
		if jsonOutput {
			return writeJSON(info)
		}
		fmt.Printf("撮影シーケンス %s を開始しました (ハンドル %d)\n", info.ID, info.Handle)
		return nil
	},
}

var remoteSequenceListCmd = &cobra.Command{
	Use:   "list",
	Short: "撮影シーケンスを一覧する",
	RunE: func(cmd *cobra.Command, args []string) error {
		infos, err := setupClient().Sequences(cmd.Context())
		if err != nil {
			return err
		}
		if jsonOutput {
			return writeJSON(infos)
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "ID\tHANDLE\tCAMERA\tSTATUS\tFRAMES\tSTARTED")
		for _, info := range infos {
			frames := strconv.Itoa(info.Frames)
			if info.Config.Count > 0 {
				frames += "/" + strconv.Itoa(info.Config.Count)
			}
			fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%s\n",
				info.ID, info.Handle, info.Camera, info.Status, frames, info.StartedAt.Format(time.RFC3339))
		}
		return w.Flush()
	},
}

var remoteSequenceStopCmd = &cobra.Command{
	Use:   "stop <id>",
	Short: "撮影シーケンスを停止する",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("シーケンス ID が不正です: %q", args[0])
		}
		info, err := setupClient().StopSequence(cmd.Context(), id)
		if err != nil {
			return err
		}
		if jsonOutput {
			return writeJSON(info)
		}
		fmt.Printf("撮影シーケンス %s: %s (%d 枚)\n", info.ID, info.Status, info.Frames)
		return nil
	},
}

func withPreset(args []string, fn func(*client.Client, camera.Handle, string) error) error {
	h, err := parseHandle(args[0])
	if err != nil {
		return err
	}
	return fn(setupClient(), h, args[1])
}

func commandNames() []string {
	names := make([]string, 0, len(camera.CommandKinds))
	for _, kind := range camera.CommandKinds {
		names = append(names, string(kind))
	}
	return names
}

// commandKind は state / get_state のような短縮名も受け付ける
func commandKind(name string) camera.CommandKind {
	switch name {
	case "state":
		return camera.CmdGetState
	case "ready":
		return camera.CmdImageReady
	case "abort":
		return camera.CmdAbortExposure
	case "start":
		return camera.CmdStartExposure
	}
	return camera.CommandKind(name)
}

func init() {
	rootCmd.AddCommand(remoteCmd)
	remoteCmd.AddCommand(
		remoteStatusCmd,
		remoteCamerasCmd,
		remoteConnectCmd,
		remoteDisconnectCmd,
		remoteGetCmd,
		remoteSetCmd,
		remoteDispatchCmd,
		remoteCaptureCmd,
		remotePresetCmd,
		remoteSequenceCmd,
	)
	remotePresetCmd.AddCommand(remotePresetListCmd, remotePresetSaveCmd, remotePresetApplyCmd, remotePresetDeleteCmd)
	remoteSequenceCmd.AddCommand(remoteSequenceStartCmd, remoteSequenceListCmd, remoteSequenceStopCmd)

	remoteConnectCmd.Flags().StringVar(&remoteDriver, "driver", "dummy", "ドライバー名")
	remoteConnectCmd.Flags().StringVar(&remoteDevice, "device", "", "デバイス ID (デフォルト: 最初のデバイス)")

	remoteCaptureCmd.Flags().StringVarP(&remoteOutput, "output", "o", "", "出力ファイル")
	remoteCaptureCmd.Flags().DurationVar(&remoteGrace, "grace", 0, "露光時間に加えて待つ時間 (デフォルト: サーバーの設定値)")
	remoteCaptureCmd.Flags().BoolVar(&remoteArchive, "archive", false, "サーバー側でも保存する")

	remoteSequenceStartCmd.Flags().IntVar(&sequenceCount, "count", 0, "撮影枚数 (0 なら停止されるまで)")
	remoteSequenceStartCmd.Flags().DurationVar(&sequenceInterval, "interval", 0, "撮影開始の間隔")
	remoteSequenceStartCmd.Flags().DurationVar(&remoteGrace, "grace", 0, "露光時間に加えて待つ時間 (デフォルト: サーバーの設定値)")
}
