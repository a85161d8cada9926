// Package cmd は gencam コマンドの実装です
package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile    string // サーバー設定ファイル
	cliFile    string // クライアント設定ファイル
	jsonOutput bool
)

// rootCmd はサブコマンドなしで呼ばれたときのコマンド
var rootCmd = &cobra.Command{
	Use:   "gencam",
	Short: "ハードウェアに依存しないカメラ制御サーバー",
	Long: `gencam はカメラをハンドルで集約し、露光・ダウンロード・コントロール設定を
共通のコマンドで扱うサーバーとクライアントです。`,
	SilenceUsage: true,
}

// Execute はコマンドを実行する
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initCLIConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "サーバー設定ファイル (YAML)")
	rootCmd.PersistentFlags().StringVar(&cliFile, "cli-config", "", "クライアント設定ファイル (デフォルト: $HOME/.gencam.yaml)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "結果を JSON で出力する")

	rootCmd.PersistentFlags().String("server", "http://127.0.0.1:8080", "接続先サーバーの URL")
	rootCmd.PersistentFlags().Duration("timeout", 0, "リクエストのタイムアウト (0 で無制限)")
	_ = viper.BindPFlag("server", rootCmd.PersistentFlags().Lookup("server"))
	_ = viper.BindPFlag("timeout", rootCmd.PersistentFlags().Lookup("timeout"))
}

// initCLIConfig はクライアント設定ファイルと環境変数を読み込む
func initCLIConfig() {
	if cliFile != "" {
		viper.SetConfigFile(cliFile)
	} else if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".gencam")
	}

	// GENCAM_SERVER, GENCAM_TIMEOUT
	viper.SetEnvPrefix("gencam")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	// 既定の場所にファイルがないのは正常
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cliFile != "" || !errors.As(err, &notFound) {
			fmt.Fprintf(os.Stderr, "クライアント設定の読み込みに失敗: %v\n", err)
		}
	}
}
