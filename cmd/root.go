package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shouni/go-storyboard-kit/internal/builder"
	"github.com/shouni/go-storyboard-kit/internal/config"
	kit "github.com/shouni/go-storyboard-kit/pkg/config"
)

var (
	opts config.GenerateOptions
	cfg  kit.Config
)

var rootCmd = &cobra.Command{
	Use:   "storyboard",
	Short: "広告動画の絵コンテを生成するのだ。",
	Long: `ブリーフと参照画像から背景プレートとフレームの絵コンテを組み立て、
必要に応じて各フレームを短い動画にするのだ。`,
	SilenceUsage:      true,
	PersistentPreRunE: preRunAppE,
}

func init() {
	addAppFlags(rootCmd)
	rootCmd.AddCommand(planCmd, generateCmd, animateCmd, statusCmd, serveCmd)
}

// addAppFlags は、すべてのサブコマンドに共通するフラグを定義するのだ。
func addAppFlags(root *cobra.Command) {
	root.PersistentFlags().StringVarP(&opts.OutputDir, "output-dir", "o", config.DefaultOutputDir, "成果物の保存先（ローカル or s3://...）なのだ。")
	root.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "デバッグログを出力するのだ。")
	root.PersistentFlags().DurationVar(&opts.HTTPTimeout, "http-timeout", config.DefaultHTTPTimeout, "参照画像取得とプロバイダ通信のタイムアウトなのだ。")
}

// preRunAppE は、ロガーを整えてから .env と環境変数の設定を読み込むのだ。
func preRunAppE(cmd *cobra.Command, args []string) error {
	setupLogger(opts.Verbose)

	if err := config.LoadDotEnv(); err != nil {
		return err
	}
	loaded, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("環境変数の読み込みに失敗したのだ: %w", err)
	}
	cfg = loaded
	return nil
}

func setupLogger(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// buildApp は現在の設定とフラグから AppContext を組み立てるのだ。
// allowLocalFiles はローカルパスの参照画像を読むかどうかで、サーバーでは false にするのだ。
func buildApp(ctx context.Context, allowLocalFiles bool) (*builder.AppContext, error) {
	o := opts
	o.AllowLocalFiles = allowLocalFiles
	app, err := builder.Build(ctx, cfg, o)
	if err != nil {
		return nil, fmt.Errorf("アプリケーションの初期化に失敗したのだ: %w", err)
	}
	return app, nil
}

// Execute は、アプリケーションのメインエントリポイントなのだ。
// SIGINT / SIGTERM でコンテキストを終了させ、実行中の処理に伝えるのだよ。
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		slog.Error("コマンドの実行に失敗したのだ", "error", err)
		stop()
		os.Exit(1)
	}
}
