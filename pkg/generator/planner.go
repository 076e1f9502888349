package generator

import (
	"context"
	"log/slog"
	"time"

	"github.com/shouni/go-storyboard-kit/pkg/domain"
	"github.com/shouni/go-storyboard-kit/pkg/parser"
	"github.com/shouni/go-storyboard-kit/pkg/prompts"
	"github.com/shouni/go-storyboard-kit/pkg/provider"
	"github.com/shouni/go-storyboard-kit/pkg/retry"
)

const planSystemPrompt = "You are a meticulous storyboard planner. Output strictly valid JSON matching the requested contract."

// SequencePlanner はブリーフと解析済み参照から構成案を生成し、構造を検証します。
type SequencePlanner struct {
	composer *StoryboardComposer
}

// NewSequencePlanner は SequencePlanner の新しいインスタンスを初期化します。
func NewSequencePlanner(composer *StoryboardComposer) *SequencePlanner {
	return &SequencePlanner{composer: composer}
}

// Limits は設定から計画サイズの上限を取り出します。
func (sp *SequencePlanner) Limits() parser.Limits {
	return parser.Limits{
		MaxFrames:      sp.composer.Config.MaxFrames,
		MaxBackgrounds: sp.composer.Config.MaxBackgrounds,
	}
}

// Plan は構成案を1回のテキスト生成で取得します。
// ブリーフの不備は *domain.ValidationError、計画が得られない場合は *domain.PlanningError を返します。
func (sp *SequencePlanner) Plan(ctx context.Context, brief domain.Brief, refs domain.References) (*domain.StoryboardPlan, error) {
	cfg := sp.composer.Config
	if err := brief.Validate(cfg.MaxFrames); err != nil {
		return nil, err
	}

	var usable []domain.Reference
	for _, r := range refs {
		if r.Usable {
			usable = append(usable, r)
		}
	}

	prompt, err := sp.composer.TextPrompt.Build(prompts.ModeSequencePlan, prompts.TemplateData{
		Direction:      brief.Direction,
		Style:          brief.Style,
		FrameCount:     brief.FrameCount,
		MaxBackgrounds: cfg.MaxBackgrounds,
		ElementsBoard:  brief.ElementsBoard,
		References:     usable,
	})
	if err != nil {
		return nil, &domain.PlanningError{Err: err}
	}

	slog.InfoContext(ctx, "Planning sequence", "frame_count", brief.FrameCount, "references", len(usable))
	startTime := time.Now()

	req := provider.TextRequest{SystemPrompt: planSystemPrompt, Prompt: prompt, JSONOutput: true}
	raw, err := retry.Do(ctx, sp.composer.Retry, func(ctx context.Context) (string, error) {
		return sp.composer.Providers.Text.GenerateText(ctx, req)
	})
	if err != nil {
		return nil, &domain.PlanningError{Err: err}
	}

	plan, err := parser.ParsePlan(raw, sp.Limits())
	if err != nil {
		return nil, &domain.PlanningError{Err: err}
	}

	if len(plan.Frames) != brief.FrameCount {
		slog.WarnContext(ctx, "Planner returned a different frame count than requested",
			"requested", brief.FrameCount,
			"planned", len(plan.Frames))
	}
	slog.InfoContext(ctx, "Sequence planned",
		"backgrounds", len(plan.Backgrounds),
		"frames", len(plan.Frames),
		"duration", time.Since(startTime).Round(time.Millisecond))
	return plan, nil
}
