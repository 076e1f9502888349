package workflow

import (
	"github.com/shouni/go-storyboard-kit/pkg/domain"
	"github.com/shouni/go-storyboard-kit/pkg/generator"
	"github.com/shouni/go-storyboard-kit/pkg/publisher"
)

// ステージ名。ProjectStateStore の stage 列と StageReport で共通に使います
const (
	StagePlan        = "plan"
	StageAnchor      = "anchor"
	StageBackgrounds = "backgrounds"
	StageFrames      = "frames"
	StageAnimation   = "animation"
	StageDone        = "done"
)

// PlanRequest は plan アクションの入力です。
type PlanRequest struct {
	ProjectID string       `json:"project_id,omitempty"`
	Brief     domain.Brief `json:"brief"`
}

// FrameAction は generate_frame アクションの入力です。
type FrameAction struct {
	Frame            domain.FramePlan  `json:"frame_plan"`
	References       domain.References `json:"all_references"`
	BackgroundURL    string            `json:"background_url,omitempty"`
	AnchorURL        string            `json:"anchor_image_url,omitempty"`
	LinkedFrameURL   string            `json:"linked_frame_url,omitempty"`
	ConsistencyRules string            `json:"consistency_rules,omitempty"`
	Style            string            `json:"style"`
}

// AnchorAction は create_anchor_image アクションの入力です。
type AnchorAction struct {
	Prompt        string   `json:"prompt"`
	ReferenceURLs []string `json:"reference_urls"`
	Style         string   `json:"style"`
}

// VideoAction は generate_video アクションの入力です。
type VideoAction struct {
	ImageURL     string `json:"image_url"`
	LastFrameURL string `json:"last_frame_url,omitempty"`
	Prompt       string `json:"prompt"`
}

// VideoSubmission は generate_video の応答です。同期型プロバイダでは URL が入ります。
type VideoSubmission struct {
	TaskID string            `json:"task_id,omitempty"`
	Status domain.TaskStatus `json:"status"`
	URL    string            `json:"url,omitempty"`
}

// RunResult は Generate / Run / Animate の結果です。
type RunResult struct {
	Storyboard *domain.Storyboard       `json:"storyboard"`
	Status     domain.ProjectStatus     `json:"status"`
	Reports    []generator.StageReport  `json:"reports"`
	Published  *publisher.PublishResult `json:"published,omitempty"`
}

// Failures は全ステージの失敗記録を返します。
func (r *RunResult) Failures() []domain.UnitFailure {
	var out []domain.UnitFailure
	for _, rep := range r.Reports {
		out = append(out, rep.Failures...)
	}
	return out
}

// PartialFailure は失敗したユニットがあれば *domain.PartialFailure を返します。
func (r *RunResult) PartialFailure() error {
	failures := r.Failures()
	if len(failures) == 0 {
		return nil
	}
	return &domain.PartialFailure{Failures: failures}
}
