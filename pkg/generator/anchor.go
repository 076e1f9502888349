package generator

import (
	"context"
	"log/slog"
	"time"

	"github.com/shouni/go-storyboard-kit/pkg/domain"
	"github.com/shouni/go-storyboard-kit/pkg/provider"
)

// AnchorImageStage は被写体の正準画像を1枚生成し、全フレームで再利用させます。
type AnchorImageStage struct {
	composer *StoryboardComposer
}

// NewAnchorImageStage は AnchorImageStage の新しいインスタンスを初期化します。
func NewAnchorImageStage(composer *StoryboardComposer) *AnchorImageStage {
	return &AnchorImageStage{composer: composer}
}

// Run は計画にアンカー画像を設定します。既にアンカーがある場合や無効化されている場合は何もしません。
// 失敗はエラーとして返しますが、呼び出し側はアンカーなしで続行できます。
func (as *AnchorImageStage) Run(ctx context.Context, plan *domain.StoryboardPlan, refs domain.References, style string) (StageReport, error) {
	report := newReport("anchor")
	if !as.composer.Config.UseAnchor || plan.AnchorURL() != "" {
		report.skip(1)
		return report.build(), nil
	}

	subjects := refs.Subjects()
	prompt, _ := as.composer.ImagePrompt.BuildAnchor(plan.ConsistencyRules, subjects, style)
	url, err := as.Create(ctx, prompt, subjects.SubjectURLs(), style)
	if err != nil {
		slog.WarnContext(ctx, "Anchor image generation failed; continuing without anchor", "error", err)
		report.fail("anchor", "anchor", err)
		as.composer.Metrics.UnitFailed("anchor")
		return report.build(), err
	}

	plan.Anchor = &domain.AnchorImage{URL: url, SourcePrompt: prompt}
	report.success()
	return report.build(), nil
}

// Create はプロンプトと参照画像からアンカー画像を1枚生成し URL を返します。
func (as *AnchorImageStage) Create(ctx context.Context, prompt string, referenceURLs []string, style string) (string, error) {
	_, system := as.composer.ImagePrompt.BuildAnchor("", nil, style)
	req := provider.ImageRequest{
		Prompt:         prompt,
		SystemPrompt:   system,
		NegativePrompt: as.composer.Config.NegativePrompt,
		AspectRatio:    "1:1",
		ReferenceURLs:  referenceURLs,
	}

	startTime := time.Now()
	res := as.composer.Poller.Await(ctx, domain.TaskImage, as.composer.imageSource(req))
	if res.Err != nil {
		return "", res.Err
	}
	slog.InfoContext(ctx, "Anchor image generated",
		"references", len(referenceURLs),
		"duration", time.Since(startTime).Round(time.Millisecond))
	return res.URL(), nil
}
