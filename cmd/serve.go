package cmd

import (
	"github.com/spf13/cobra"

	"github.com/shouni/go-storyboard-kit/internal/config"
	"github.com/shouni/go-storyboard-kit/internal/server"
)

// serveCmd は、各アクションとジョブ投入を HTTP で受け付けるのだ。
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "HTTP サーバーを起動するのだ。",
	Long: `/v1/actions/* で単発のアクションを、/v1/sequences で非同期の生成ジョブを受け付けるのだ。
ジョブは NATS_URL があれば NATS に、無ければプロセス内のワーカーに流すのだよ。`,
	RunE: serveCommand,
}

func init() {
	serveCmd.Flags().StringVar(&opts.ServerAddr, "addr", config.DefaultServerAddr, "待ち受けアドレスなのだ。")
}

func serveCommand(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	app, err := buildApp(ctx, false)
	if err != nil {
		return err
	}
	defer app.Close()

	if err := app.StartWorkers(ctx); err != nil {
		return err
	}

	srv, err := server.New(server.Deps{
		Orchestrator: app.Manager,
		Dispatcher:   app.Dispatcher,
		Jobs:         app.Jobs,
		Store:        app.Store,
		Gatherer:     app.Registry,
	})
	if err != nil {
		return err
	}
	return srv.Run(ctx, opts.ServerAddr)
}
