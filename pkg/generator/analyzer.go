package generator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/shouni/go-storyboard-kit/pkg/domain"
	"github.com/shouni/go-storyboard-kit/pkg/parser"
	"github.com/shouni/go-storyboard-kit/pkg/prompts"
	"github.com/shouni/go-storyboard-kit/pkg/provider"
	"github.com/shouni/go-storyboard-kit/pkg/retry"
)

// ReferenceAnalyzer は参照画像をビジョンプロバイダで役割ごとに分類します。
type ReferenceAnalyzer struct {
	composer *StoryboardComposer
}

// NewReferenceAnalyzer は ReferenceAnalyzer の新しいインスタンスを初期化します。
func NewReferenceAnalyzer(composer *StoryboardComposer) *ReferenceAnalyzer {
	return &ReferenceAnalyzer{composer: composer}
}

// AnalyzeAll は参照画像を並行に解析します。件数はユーザーのアップロード数で抑えられるため上限は設けません。
// 1件の失敗はその参照を unusable にするだけで、他の解析は継続します。
func (ra *ReferenceAnalyzer) AnalyzeAll(ctx context.Context, urls []string, direction string) domain.References {
	refs := make(domain.References, len(urls))

	var eg errgroup.Group
	for i, u := range urls {
		eg.Go(func() error {
			refs[i] = ra.Analyze(ctx, fmt.Sprintf("ref%d", i+1), u, direction)
			return nil
		})
	}
	_ = eg.Wait()
	return refs
}

// Analyze は1枚の参照画像を取得・分類します。失敗時は Usable=false の Reference を返します。
func (ra *ReferenceAnalyzer) Analyze(ctx context.Context, id, url, direction string) domain.Reference {
	logger := slog.With("reference_id", id, "url", url)
	ref := domain.Reference{ID: id, SourceURL: url, Role: domain.RoleUnknown}

	startTime := time.Now()
	analysis, err := ra.analyze(ctx, url, direction)
	if err != nil {
		logger.WarnContext(ctx, "Reference analysis failed; marking unusable", "error", err)
		ref.Error = err.Error()
		return ref
	}

	ref.Role = analysis.Role
	ref.Description = analysis.Description
	ref.KeyFeatures = analysis.KeyFeatures
	ref.Usable = true
	logger.InfoContext(ctx, "Reference analyzed",
		"role", ref.Role,
		"duration", time.Since(startTime).Round(time.Millisecond))
	return ref
}

func (ra *ReferenceAnalyzer) analyze(ctx context.Context, url, direction string) (parser.ReferenceAnalysis, error) {
	blob, err := ra.composer.Fetcher.Fetch(ctx, url)
	if err != nil {
		return parser.ReferenceAnalysis{}, fmt.Errorf("参照画像の取得に失敗しました: %w", err)
	}

	prompt, err := ra.composer.TextPrompt.Build(prompts.ModeReferenceAnalysis, prompts.TemplateData{Direction: direction})
	if err != nil {
		return parser.ReferenceAnalysis{}, err
	}

	req := provider.TextRequest{
		Prompt:     prompt,
		Images:     []provider.ImageInput{{URL: url, Data: blob.Data, MIMEType: blob.MIMEType}},
		JSONOutput: true,
	}
	raw, err := retry.Do(ctx, ra.composer.Retry, func(ctx context.Context) (string, error) {
		return ra.composer.Providers.Text.GenerateText(ctx, req)
	})
	if err != nil {
		return parser.ReferenceAnalysis{}, err
	}
	return parser.ParseReferenceAnalysis(raw)
}
