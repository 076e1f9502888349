package builder

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/shouni/go-storyboard-kit/internal/config"
	kit "github.com/shouni/go-storyboard-kit/pkg/config"
	"github.com/shouni/go-storyboard-kit/pkg/dispatch"
	"github.com/shouni/go-storyboard-kit/pkg/metrics"
	"github.com/shouni/go-storyboard-kit/pkg/store"
	"github.com/shouni/go-storyboard-kit/pkg/workflow"
)

// AppContext は、アプリケーション実行に必要な共通コンテキストを保持するのだ。
// cmd と server はこれを受け取って動くので、依存関係の組み立てはここに閉じ込めるのだ。
type AppContext struct {
	Config     kit.Config             // Config は環境変数から読み込まれた設定なのだ（APIキー、モデル名など）。
	Options    config.GenerateOptions // Options はコマンドラインから渡された実行時の設定なのだ。
	Registry   *prometheus.Registry   // Registry は /metrics で公開するコレクタの登録先なのだ。
	Metrics    *metrics.Metrics
	Store      store.ProjectStateStore
	Jobs       *dispatch.JobRegistry
	Dispatcher dispatch.Dispatcher
	Manager    *workflow.Manager

	closers []func() error
}

// OutputDir は成果物の出力先を返すのだ。
func (a *AppContext) OutputDir() string {
	if a.Options.OutputDir != "" {
		return a.Options.OutputDir
	}
	return config.DefaultOutputDir
}

// StartWorkers はジョブ実行ワーカーを起動するのだ。
func (a *AppContext) StartWorkers(ctx context.Context) error {
	return a.Dispatcher.Start(ctx, workflow.JobHandler(a.Manager))
}

// Close は確保したリソースを逆順に解放するのだ。
func (a *AppContext) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *AppContext) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}
