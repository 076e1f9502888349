// Package workflow は各ステージを束ね、絵コンテ生成の一連の流れと単発アクションを提供します。
package workflow

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/time/rate"

	"github.com/shouni/go-storyboard-kit/pkg/asset"
	"github.com/shouni/go-storyboard-kit/pkg/config"
	"github.com/shouni/go-storyboard-kit/pkg/domain"
	"github.com/shouni/go-storyboard-kit/pkg/generator"
	"github.com/shouni/go-storyboard-kit/pkg/metrics"
	"github.com/shouni/go-storyboard-kit/pkg/poller"
	"github.com/shouni/go-storyboard-kit/pkg/prompts"
	"github.com/shouni/go-storyboard-kit/pkg/provider"
	"github.com/shouni/go-storyboard-kit/pkg/publisher"
	"github.com/shouni/go-storyboard-kit/pkg/retry"
	"github.com/shouni/go-storyboard-kit/pkg/scheduler"
	"github.com/shouni/go-storyboard-kit/pkg/store"
)

const defaultRateBurst = 2

// ManagerArgs は Manager の初期化に必要な依存関係です。
type ManagerArgs struct {
	Config    config.Config
	Providers provider.Suite
	Fetcher   *asset.Fetcher
	Store     store.ProjectStateStore
	Metrics   *metrics.Metrics

	// Publisher が nil の場合、成果物はファイルに書き出しません。
	Publisher *publisher.StoryboardPublisher
	OutputDir string

	// 省略時は既定のビルダーを使います
	TextPrompt  prompts.TextPrompt
	ImagePrompt prompts.ImagePrompt
}

// Manager は各ステージを構築し、Orchestrator を実装します。
type Manager struct {
	cfg       config.Config
	composer  *generator.StoryboardComposer
	store     store.ProjectStateStore
	publisher *publisher.StoryboardPublisher
	outputDir string
	metrics   *metrics.Metrics

	analyzer    *generator.ReferenceAnalyzer
	planner     *generator.SequencePlanner
	anchor      *generator.AnchorImageStage
	backgrounds *generator.BackgroundStage
	frames      *generator.FrameStage
	animation   *generator.AnimationStage
}

var _ Orchestrator = (*Manager)(nil)

// New は、設定とプロバイダを基に新しい Manager を初期化します。
func New(ctx context.Context, args ManagerArgs) (*Manager, error) {
	if args.Providers.Text == nil || args.Providers.Image == nil {
		return nil, fmt.Errorf("TextProvider と ImageProvider は必須です")
	}
	if args.Fetcher == nil {
		return nil, fmt.Errorf("Fetcher は必須です")
	}
	if args.Store == nil {
		return nil, fmt.Errorf("ProjectStateStore は必須です")
	}
	if err := args.Config.Validate(); err != nil {
		return nil, err
	}

	tPrompt, err := initializeTextPrompt(args.TextPrompt)
	if err != nil {
		return nil, err
	}
	iPrompt := initializeImagePrompt(args.ImagePrompt, args.Config.StyleSuffix)

	composer := buildComposer(args, tPrompt, iPrompt)
	if err := composer.Validate(); err != nil {
		return nil, fmt.Errorf("生成エンジンの初期化に失敗しました: %w", err)
	}

	slog.DebugContext(ctx, "Manager initialized",
		"provider", args.Providers.Name,
		"frame_concurrency", args.Config.FrameConcurrency,
		"background_policy", args.Config.BackgroundPolicy,
		"use_anchor", args.Config.UseAnchor)

	return &Manager{
		cfg:         args.Config,
		composer:    composer,
		store:       args.Store,
		publisher:   args.Publisher,
		outputDir:   args.OutputDir,
		metrics:     args.Metrics,
		analyzer:    generator.NewReferenceAnalyzer(composer),
		planner:     generator.NewSequencePlanner(composer),
		anchor:      generator.NewAnchorImageStage(composer),
		backgrounds: generator.NewBackgroundStage(composer),
		frames:      generator.NewFrameStage(composer),
		animation:   generator.NewAnimationStage(composer),
	}, nil
}

// buildComposer はステージが共有するポーラーとスケジューラを組み立てます。
func buildComposer(args ManagerArgs, tPrompt prompts.TextPrompt, iPrompt prompts.ImagePrompt) *generator.StoryboardComposer {
	cfg := args.Config
	policy := retry.PolicyFromConfig(cfg)

	var limiter *rate.Limiter
	if cfg.RateInterval > 0 {
		limiter = rate.NewLimiter(rate.Every(cfg.RateInterval), defaultRateBurst)
	}

	return &generator.StoryboardComposer{
		Config:      cfg,
		Providers:   args.Providers,
		Poller:      poller.New(poller.ConfigFrom(cfg), policy, args.Metrics),
		Scheduler:   scheduler.New(cfg.FrameConcurrency, limiter),
		Fetcher:     args.Fetcher,
		TextPrompt:  tPrompt,
		ImagePrompt: iPrompt,
		Retry:       policy,
		Metrics:     args.Metrics,
	}
}

// initializeTextPrompt は TextPrompt ビルダーを初期化します。
// 引数として既存のビルダーが渡された場合はそれを返し、nil の場合は新規作成します。
func initializeTextPrompt(textPrompt prompts.TextPrompt) (prompts.TextPrompt, error) {
	if textPrompt != nil {
		return textPrompt, nil
	}

	pb, err := prompts.NewTextPromptBuilder()
	if err != nil {
		return nil, fmt.Errorf("TextPromptBuilder の新規作成に失敗しました: %w", err)
	}
	return pb, nil
}

// initializeImagePrompt は ImagePromptBuilder を初期化します。
func initializeImagePrompt(imagePrompt prompts.ImagePrompt, styleSuffix string) prompts.ImagePrompt {
	if imagePrompt != nil {
		return imagePrompt
	}
	return prompts.NewImagePromptBuilder(styleSuffix)
}

// setStatus は外部ストアへ進捗を書き込みます。ストアの障害で生成自体は止めません。
func (m *Manager) setStatus(ctx context.Context, projectID string, status domain.ProjectStatus, stage string) {
	if err := m.store.UpdateProjectStatus(ctx, projectID, status, stage); err != nil {
		slog.WarnContext(ctx, "Failed to update project status",
			"project_id", projectID,
			"status", status,
			"stage", stage,
			"error", err)
	}
}

// syncScenes は各フレームの現在値をシーンとして書き込みます。
func (m *Manager) syncScenes(ctx context.Context, sb *domain.Storyboard) {
	for _, f := range sb.Plan.Frames {
		if err := m.store.UpsertScene(ctx, domain.SceneFromFrame(sb.ProjectID, f)); err != nil {
			slog.WarnContext(ctx, "Failed to upsert scene", "project_id", sb.ProjectID, "frame_number", f.FrameNumber, "error", err)
		}
	}
}

// Publish は成果物を OutputDir/<projectID> に書き出します。Publisher が無い場合は何もしません。
func (m *Manager) Publish(ctx context.Context, sb *domain.Storyboard) (*publisher.PublishResult, error) {
	if m.publisher == nil {
		return nil, nil
	}
	dir, err := publisher.ResolveOutputPath(m.outputDir, sb.ProjectID)
	if err != nil {
		return nil, err
	}
	res, err := m.publisher.Publish(ctx, sb, publisher.Options{OutputDir: dir})
	if err != nil {
		return nil, err
	}
	return &res, nil
}
