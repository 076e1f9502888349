// Package generator は絵コンテ生成の各ステージ（参照解析、計画、アンカー、背景、フレーム、動画）を実装します。
package generator

import (
	"context"
	"fmt"
	"sync"

	"github.com/shouni/go-storyboard-kit/pkg/asset"
	"github.com/shouni/go-storyboard-kit/pkg/config"
	"github.com/shouni/go-storyboard-kit/pkg/domain"
	"github.com/shouni/go-storyboard-kit/pkg/metrics"
	"github.com/shouni/go-storyboard-kit/pkg/poller"
	"github.com/shouni/go-storyboard-kit/pkg/prompts"
	"github.com/shouni/go-storyboard-kit/pkg/provider"
	"github.com/shouni/go-storyboard-kit/pkg/retry"
	"github.com/shouni/go-storyboard-kit/pkg/scheduler"
)

// StoryboardComposer は各ステージが共有する依存関係を保持します。
type StoryboardComposer struct {
	Config      config.Config
	Providers   provider.Suite
	Poller      *poller.Poller
	Scheduler   *scheduler.BatchScheduler
	Fetcher     *asset.Fetcher
	TextPrompt  prompts.TextPrompt
	ImagePrompt prompts.ImagePrompt
	Retry       retry.Policy
	Metrics     *metrics.Metrics
}

// Validate は必須の依存関係が揃っているかを確認します。
func (sc *StoryboardComposer) Validate() error {
	switch {
	case sc.Providers.Text == nil:
		return fmt.Errorf("TextProvider は必須です")
	case sc.Providers.Image == nil:
		return fmt.Errorf("ImageProvider は必須です")
	case sc.Poller == nil:
		return fmt.Errorf("Poller は必須です")
	case sc.Scheduler == nil:
		return fmt.Errorf("BatchScheduler は必須です")
	case sc.Fetcher == nil:
		return fmt.Errorf("Fetcher は必須です")
	case sc.TextPrompt == nil || sc.ImagePrompt == nil:
		return fmt.Errorf("プロンプトビルダーは必須です")
	}
	return nil
}

func (sc *StoryboardComposer) imageSource(req provider.ImageRequest) poller.Source {
	img := sc.Providers.Image
	return poller.SourceFuncs{
		SubmitFunc: func(ctx context.Context) (provider.Submission, error) {
			return img.SubmitImage(ctx, req)
		},
		PollFunc: img.PollImage,
	}
}

func (sc *StoryboardComposer) videoSource(req provider.VideoRequest) poller.Source {
	vid := sc.Providers.Video
	return poller.SourceFuncs{
		SubmitFunc: func(ctx context.Context) (provider.Submission, error) {
			return vid.SubmitVideo(ctx, req)
		},
		PollFunc: vid.PollVideo,
	}
}

// StageReport はステージ1回分の集計です。
type StageReport struct {
	Stage     string               `json:"stage"`
	Succeeded int                  `json:"succeeded"`
	Failed    int                  `json:"failed"`
	Skipped   int                  `json:"skipped"`
	Failures  []domain.UnitFailure `json:"failures,omitempty"`
}

// reportBuilder は並行に実行されるユニットの結果を集計します。
type reportBuilder struct {
	mu     sync.Mutex
	report StageReport
}

func newReport(stage string) *reportBuilder {
	return &reportBuilder{report: StageReport{Stage: stage}}
}

func (b *reportBuilder) success() {
	b.mu.Lock()
	b.report.Succeeded++
	b.mu.Unlock()
}

func (b *reportBuilder) skip(n int) {
	b.mu.Lock()
	b.report.Skipped += n
	b.mu.Unlock()
}

func (b *reportBuilder) fail(kind, id string, err error) {
	b.mu.Lock()
	b.report.Failed++
	b.report.Failures = append(b.report.Failures, domain.UnitFailure{Kind: kind, ID: id, Err: err.Error()})
	b.mu.Unlock()
}

func (b *reportBuilder) build() StageReport {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.report
}
