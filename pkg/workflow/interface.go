package workflow

import (
	"context"

	"github.com/shouni/go-storyboard-kit/pkg/domain"
	"github.com/shouni/go-storyboard-kit/pkg/generator"
)

// Orchestrator は CLI と HTTP サーバーが使う絵コンテ生成の操作一式です。
type Orchestrator interface {
	// Plan は参照画像を解析し、構成案を生成するのだ。
	Plan(ctx context.Context, req PlanRequest) (*domain.Storyboard, error)
	// Generate は計画のうち結果 URL を持たないユニットだけを生成するのだ。
	Generate(ctx context.Context, sb *domain.Storyboard) (*RunResult, error)
	// Run は Plan と Generate を続けて実行するのだ。
	Run(ctx context.Context, req PlanRequest) (*RunResult, error)
	// Animate は画像生成済みのフレームを動画にするのだ。
	Animate(ctx context.Context, sb *domain.Storyboard, frames []int) (*RunResult, error)

	GenerateBackground(ctx context.Context, bg domain.Background, style string) (string, error)
	GenerateFrame(ctx context.Context, action FrameAction) (string, error)
	CreateAnchor(ctx context.Context, action AnchorAction) (string, error)
	SubmitVideo(ctx context.Context, action VideoAction) (VideoSubmission, error)
	CheckStatus(ctx context.Context, taskID string) (generator.TaskStatus, error)
}
