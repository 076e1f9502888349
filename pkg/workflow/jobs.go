package workflow

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/shouni/go-storyboard-kit/pkg/dispatch"
	"github.com/shouni/go-storyboard-kit/pkg/domain"
	"github.com/shouni/go-storyboard-kit/pkg/publisher"
)

// GeneratePayload は generate ジョブの入力です。Storyboard があれば再開し、なければ Brief から計画します。
type GeneratePayload struct {
	Brief      *domain.Brief      `json:"brief,omitempty"`
	Storyboard *domain.Storyboard `json:"storyboard,omitempty"`
}

// AnimatePayload は animate ジョブの入力です。Storyboard がなければ PlanPath から読み込みます。
type AnimatePayload struct {
	Storyboard *domain.Storyboard `json:"storyboard,omitempty"`
	PlanPath   string             `json:"plan_path,omitempty"`
	Frames     []int              `json:"frames,omitempty"`
}

// JobHandler は Dispatcher のワーカーで Orchestrator を実行する Handler を返します。
// 致命的エラーのみをジョブの失敗として返し、ユニット単位の失敗は成果物側に記録します。
func JobHandler(o Orchestrator) dispatch.Handler {
	return func(ctx context.Context, job dispatch.Job) error {
		switch job.Kind {
		case dispatch.JobGenerate:
			var p GeneratePayload
			if err := json.Unmarshal(job.Payload, &p); err != nil {
				return fmt.Errorf("generate ジョブの解析に失敗しました: %w", err)
			}
			switch {
			case p.Storyboard != nil:
				p.Storyboard.ProjectID = job.ProjectID
				_, err := o.Generate(ctx, p.Storyboard)
				return err
			case p.Brief != nil:
				_, err := o.Run(ctx, PlanRequest{ProjectID: job.ProjectID, Brief: *p.Brief})
				return err
			}
			return &domain.ValidationError{Field: "payload", Reason: "brief または storyboard が必要です"}

		case dispatch.JobAnimate:
			var p AnimatePayload
			if err := json.Unmarshal(job.Payload, &p); err != nil {
				return fmt.Errorf("animate ジョブの解析に失敗しました: %w", err)
			}
			sb := p.Storyboard
			if sb == nil {
				if p.PlanPath == "" {
					return &domain.ValidationError{Field: "payload", Reason: "storyboard または plan_path が必要です"}
				}
				loaded, err := publisher.Load(p.PlanPath)
				if err != nil {
					return err
				}
				sb = loaded
			}
			sb.ProjectID = job.ProjectID
			_, err := o.Animate(ctx, sb, p.Frames)
			return err
		}
		return fmt.Errorf("未対応のジョブ種別です: %q", job.Kind)
	}
}
