package generator

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/shouni/go-storyboard-kit/pkg/domain"
	"github.com/shouni/go-storyboard-kit/pkg/provider"
)

// BackgroundStage は計画内の背景プレートを並行に生成します。
type BackgroundStage struct {
	composer *StoryboardComposer
}

// NewBackgroundStage は BackgroundStage の新しいインスタンスを初期化します。
func NewBackgroundStage(composer *StoryboardComposer) *BackgroundStage {
	return &BackgroundStage{composer: composer}
}

// Run は URL を持たない背景をすべて同時に生成します。背景数は計画上限で抑えられているため並列数は制限しません。
// 失敗した背景は URL が空のまま残り、レポートに記録されます。
func (bs *BackgroundStage) Run(ctx context.Context, plan *domain.StoryboardPlan, style string) StageReport {
	report := newReport("backgrounds")
	pending := plan.PendingBackgrounds()
	report.skip(len(plan.Backgrounds) - len(pending))
	if len(pending) == 0 {
		return report.build()
	}

	slog.InfoContext(ctx, "Starting background generation", "count", len(pending))
	startTime := time.Now()

	var eg errgroup.Group
	for _, idx := range pending {
		bg := &plan.Backgrounds[idx]
		eg.Go(func() error {
			bg.Status = domain.StatusGenerating
			url, err := bs.Generate(ctx, *bg, style)
			if err != nil {
				bg.Status = domain.StatusFailed
				bg.Error = err.Error()
				report.fail("background", bg.ID, err)
				bs.composer.Metrics.UnitFailed("background")
				return nil
			}
			bg.ImageURL = url
			bg.Status = domain.StatusReady
			bg.Error = ""
			report.success()
			return nil
		})
	}
	_ = eg.Wait()

	elapsed := time.Since(startTime)
	bs.composer.Metrics.ObserveStage("backgrounds", elapsed)
	slog.InfoContext(ctx, "Background generation finished", "duration", elapsed.Round(time.Millisecond))
	return report.build()
}

// Generate は背景1枚を生成し URL を返します。
func (bs *BackgroundStage) Generate(ctx context.Context, bg domain.Background, style string) (string, error) {
	logger := slog.With("background_id", bg.ID)
	user, system := bs.composer.ImagePrompt.BuildBackground(bg, style)
	req := provider.ImageRequest{
		Prompt:         user,
		SystemPrompt:   system,
		NegativePrompt: bs.composer.Config.NegativePrompt,
		AspectRatio:    bs.composer.Config.AspectRatio,
	}

	res := bs.composer.Poller.Await(ctx, domain.TaskImage, bs.composer.imageSource(req))
	if res.Err != nil {
		logger.ErrorContext(ctx, "Background generation failed", "outcome", res.Outcome, "error", res.Err)
		return "", res.Err
	}
	logger.InfoContext(ctx, "Background generated", "url", res.URL())
	return res.URL(), nil
}
