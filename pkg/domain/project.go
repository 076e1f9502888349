package domain

import "time"

// ProjectStatus は親プロジェクトの大まかな進捗状態です。
type ProjectStatus string

const (
	ProjectDraft      ProjectStatus = "draft"
	ProjectGenerating ProjectStatus = "generating"
	ProjectCompleted  ProjectStatus = "completed"
	ProjectPartial    ProjectStatus = "partial"
	ProjectFailed     ProjectStatus = "failed"
)

// Project は外部の状態ストアが保持するプロジェクトです。
type Project struct {
	ID        string        `json:"id" dynamodbav:"id"`
	Status    ProjectStatus `json:"status" dynamodbav:"status"`
	Stage     string        `json:"stage,omitempty" dynamodbav:"stage,omitempty"`
	CreatedAt time.Time     `json:"created_at" dynamodbav:"createdAt"`
	UpdatedAt time.Time     `json:"updated_at" dynamodbav:"updatedAt"`
}

// Scene はフレーム1つ分の外部状態です。
type Scene struct {
	ProjectID   string      `json:"project_id" dynamodbav:"projectId"`
	FrameNumber int         `json:"frame_number" dynamodbav:"frameNumber"`
	Status      AssetStatus `json:"status" dynamodbav:"status"`
	ImagePrompt string      `json:"image_prompt,omitempty" dynamodbav:"imagePrompt,omitempty"`
	VideoPrompt string      `json:"video_prompt,omitempty" dynamodbav:"videoPrompt,omitempty"`
	ImageURL    string      `json:"image_url,omitempty" dynamodbav:"imageUrl,omitempty"`
	VideoURL    string      `json:"video_url,omitempty" dynamodbav:"videoUrl,omitempty"`
	UpdatedAt   time.Time   `json:"updated_at" dynamodbav:"updatedAt"`
}

// SceneFromFrame はフレームの現在値から Scene を組み立てます。
func SceneFromFrame(projectID string, f FramePlan) Scene {
	status := f.Status
	if f.AnimationStatus != "" {
		status = f.AnimationStatus
	}
	if status == "" {
		status = StatusPlanned
	}
	return Scene{
		ProjectID:   projectID,
		FrameNumber: f.FrameNumber,
		Status:      status,
		ImagePrompt: f.Description,
		VideoPrompt: f.MotionPrompt,
		ImageURL:    f.ImageURL,
		VideoURL:    f.VideoURL,
	}
}
