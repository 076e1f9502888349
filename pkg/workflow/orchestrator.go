package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/shouni/go-storyboard-kit/pkg/domain"
	"github.com/shouni/go-storyboard-kit/pkg/generator"
	"github.com/shouni/go-storyboard-kit/pkg/parser"
	"github.com/shouni/go-storyboard-kit/pkg/provider"
)

// Plan は参照画像の解析と構成案の生成を行います。失敗はすべて致命的エラーとして返します。
func (m *Manager) Plan(ctx context.Context, req PlanRequest) (*domain.Storyboard, error) {
	projectID := req.ProjectID
	if projectID == "" {
		projectID = uuid.NewString()
	}
	logger := slog.With("project_id", projectID)

	if err := req.Brief.Validate(m.cfg.MaxFrames); err != nil {
		return nil, err
	}

	startTime := time.Now()
	m.setStatus(ctx, projectID, domain.ProjectDraft, StagePlan)

	refs := m.analyzer.AnalyzeAll(ctx, req.Brief.AllReferenceURLs(), req.Brief.Direction)
	plan, err := m.planner.Plan(ctx, req.Brief, refs)
	if err != nil {
		logger.ErrorContext(ctx, "Planning failed", "error", err)
		m.setStatus(ctx, projectID, domain.ProjectFailed, StagePlan)
		return nil, err
	}
	m.metrics.ObserveStage(StagePlan, time.Since(startTime))

	sb := &domain.Storyboard{
		ProjectID:  projectID,
		Brief:      req.Brief,
		References: refs,
		Plan:       plan,
		UpdatedAt:  time.Now(),
	}
	m.syncScenes(ctx, sb)
	logger.InfoContext(ctx, "Storyboard planned",
		"frames", len(plan.Frames),
		"backgrounds", len(plan.Backgrounds),
		"duration", time.Since(startTime).Round(time.Millisecond))
	return sb, nil
}

// Generate はアンカー・背景・フレームの順に、結果 URL を持たないユニットだけを生成します。
// ユニットの失敗は RunResult に記録し、計画自体が不正な場合のみエラーを返します。
func (m *Manager) Generate(ctx context.Context, sb *domain.Storyboard) (*RunResult, error) {
	if sb == nil {
		return nil, &domain.ValidationError{Field: "storyboard", Reason: "計画がありません"}
	}
	if err := parser.ValidatePlan(sb.Plan, m.planner.Limits()); err != nil {
		return nil, err
	}
	if sb.ProjectID == "" {
		sb.ProjectID = uuid.NewString()
	}
	logger := slog.With("project_id", sb.ProjectID)
	style := sb.Brief.Style
	result := &RunResult{Storyboard: sb}

	m.setStatus(ctx, sb.ProjectID, domain.ProjectGenerating, StageAnchor)
	anchorReport, err := m.anchor.Run(ctx, sb.Plan, sb.References, style)
	if err != nil {
		logger.WarnContext(ctx, "Proceeding without anchor image", "error", err)
	}
	result.Reports = append(result.Reports, anchorReport)

	m.setStatus(ctx, sb.ProjectID, domain.ProjectGenerating, StageBackgrounds)
	result.Reports = append(result.Reports, m.backgrounds.Run(ctx, sb.Plan, style))

	m.setStatus(ctx, sb.ProjectID, domain.ProjectGenerating, StageFrames)
	frameReport, err := m.frames.Run(ctx, sb.Plan, sb.References, style)
	result.Reports = append(result.Reports, frameReport)
	m.syncScenes(ctx, sb)
	if err != nil {
		logger.WarnContext(ctx, "Frame generation interrupted", "error", err)
	}

	return m.finish(ctx, result)
}

// Run は計画から生成までを一括で実行します。
func (m *Manager) Run(ctx context.Context, req PlanRequest) (*RunResult, error) {
	sb, err := m.Plan(ctx, req)
	if err != nil {
		return nil, err
	}
	return m.Generate(ctx, sb)
}

// Animate は指定フレーム（空なら全フレーム）の動画を生成します。画像生成の完了後いつでも呼び出せます。
func (m *Manager) Animate(ctx context.Context, sb *domain.Storyboard, frames []int) (*RunResult, error) {
	if sb == nil || sb.Plan == nil {
		return nil, &domain.ValidationError{Field: "storyboard", Reason: "計画がありません"}
	}
	if sb.ProjectID == "" {
		sb.ProjectID = uuid.NewString()
	}
	result := &RunResult{Storyboard: sb}

	m.setStatus(ctx, sb.ProjectID, domain.ProjectGenerating, StageAnimation)
	report, err := m.animation.Run(ctx, sb.Plan, frames)
	if err != nil && report.Succeeded+report.Failed == 0 {
		m.setStatus(ctx, sb.ProjectID, domain.ProjectFailed, StageAnimation)
		return nil, err
	}
	result.Reports = append(result.Reports, report)
	m.syncScenes(ctx, sb)
	return m.finish(ctx, result)
}

// finish は最終状態を決定し、ストアと成果物を更新します。
func (m *Manager) finish(ctx context.Context, result *RunResult) (*RunResult, error) {
	sb := result.Storyboard
	sb.Failures = result.Failures()
	sb.UpdatedAt = time.Now()
	result.Status = finalStatus(sb)

	m.setStatus(ctx, sb.ProjectID, result.Status, StageDone)
	published, err := m.Publish(ctx, sb)
	if err != nil {
		return result, fmt.Errorf("成果物の書き出しに失敗しました: %w", err)
	}
	result.Published = published

	slog.InfoContext(ctx, "Storyboard run finished",
		"project_id", sb.ProjectID,
		"status", result.Status,
		"completed_frames", sb.Plan.CompletedFrames(),
		"total_frames", len(sb.Plan.Frames),
		"failures", len(sb.Failures))
	return result, nil
}

// finalStatus は全フレームに画像があり失敗がなければ completed、1枚もなければ failed です。
// アンカー画像は任意なので、その失敗は Failures に残しても状態を partial にしません。
func finalStatus(sb *domain.Storyboard) domain.ProjectStatus {
	done := sb.Plan.CompletedFrames()
	switch {
	case done == 0:
		return domain.ProjectFailed
	case done == len(sb.Plan.Frames) && !hasRequiredFailure(sb.Failures):
		return domain.ProjectCompleted
	default:
		return domain.ProjectPartial
	}
}

func hasRequiredFailure(failures []domain.UnitFailure) bool {
	for _, f := range failures {
		if f.Kind != "anchor" {
			return true
		}
	}
	return false
}

// GenerateBackground は generate_background アクションを実行します。
func (m *Manager) GenerateBackground(ctx context.Context, bg domain.Background, style string) (string, error) {
	if bg.Description == "" {
		return "", &domain.ValidationError{Field: "background_plan.description", Reason: "説明が空です"}
	}
	return m.backgrounds.Generate(ctx, bg, style)
}

// GenerateFrame は generate_frame アクションを実行します。
func (m *Manager) GenerateFrame(ctx context.Context, action FrameAction) (string, error) {
	if action.Frame.Description == "" {
		return "", &domain.ValidationError{Field: "frame_plan.description", Reason: "説明が空です"}
	}
	return m.frames.Generate(ctx, generator.FrameInput{
		Frame:         action.Frame,
		References:    action.References,
		BackgroundURL: action.BackgroundURL,
		AnchorURL:     action.AnchorURL,
		LinkedURL:     action.LinkedFrameURL,
		Rules:         action.ConsistencyRules,
		Style:         action.Style,
	})
}

// CreateAnchor は create_anchor_image アクションを実行します。
func (m *Manager) CreateAnchor(ctx context.Context, action AnchorAction) (string, error) {
	if action.Prompt == "" {
		return "", &domain.ValidationError{Field: "prompt", Reason: "プロンプトが空です"}
	}
	return m.anchor.Create(ctx, action.Prompt, action.ReferenceURLs, action.Style)
}

// SubmitVideo は generate_video アクションを実行します。投入のみ行い、完了は CheckStatus で確認します。
func (m *Manager) SubmitVideo(ctx context.Context, action VideoAction) (VideoSubmission, error) {
	if action.ImageURL == "" {
		return VideoSubmission{}, &domain.ValidationError{Field: "image_url", Reason: "画像 URL が空です"}
	}
	task, err := m.animation.Submit(ctx, provider.VideoRequest{
		ImageURL:     action.ImageURL,
		LastFrameURL: action.LastFrameURL,
		Prompt:       action.Prompt,
		AspectRatio:  m.cfg.AspectRatio,
	})
	if err != nil {
		return VideoSubmission{}, err
	}
	return VideoSubmission{TaskID: task.ID, Status: task.Status, URL: task.ResultURL}, nil
}

// CheckStatus は check_status アクションを実行します。
func (m *Manager) CheckStatus(ctx context.Context, taskID string) (generator.TaskStatus, error) {
	if taskID == "" {
		return generator.TaskStatus{}, &domain.ValidationError{Field: "task_id", Reason: "タスク ID が空です"}
	}
	return m.animation.CheckStatus(ctx, taskID)
}
