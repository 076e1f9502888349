package domain

import "time"

// AssetStatus は背景・フレームなど生成対象ユニットのライフサイクル状態です。
type AssetStatus string

const (
	StatusPlanned    AssetStatus = "planned"
	StatusGenerating AssetStatus = "generating"
	StatusReady      AssetStatus = "ready"
	StatusFailed     AssetStatus = "failed"
	StatusAnimating  AssetStatus = "animating"
	StatusAnimated   AssetStatus = "animated"
)

// IsTerminal は画像生成の観点で状態が確定しているかを返します。
func (s AssetStatus) IsTerminal() bool {
	switch s {
	case StatusReady, StatusFailed, StatusAnimating, StatusAnimated:
		return true
	}
	return false
}

// StoryboardPlan は SequencePlanner が生成する構成案です。
// 背景とフレームのリスト自体は生成後に変更せず、各エントリの結果フィールドのみ更新します。
type StoryboardPlan struct {
	Backgrounds      []Background `json:"backgrounds"`
	Frames           []FramePlan  `json:"frames"`
	ConsistencyRules string       `json:"consistency_rules"`
	Anchor           *AnchorImage `json:"anchor,omitempty"`
}

// Background は複数フレームで共有される背景プレートです。
type Background struct {
	ID          string      `json:"id"`
	Description string      `json:"description"`
	ImageURL    string      `json:"image_url,omitempty"`
	Status      AssetStatus `json:"status,omitempty"`
	Error       string      `json:"error,omitempty"`
}

// FramePlan は1ショット分の仕様と生成結果を保持します。
type FramePlan struct {
	FrameNumber      int    `json:"frame_number"`
	ShotType         string `json:"shot_type"`
	CameraAngle      string `json:"camera_angle"`
	Description      string `json:"description"`
	BackgroundID     string `json:"background_id"`
	LinkedFrame      int    `json:"linked_frame,omitempty"`
	IsSecondKeyframe bool   `json:"is_second_keyframe,omitempty"`
	MotionPrompt     string `json:"motion_prompt,omitempty"`

	ImageURL        string      `json:"image_url,omitempty"`
	VideoURL        string      `json:"video_url,omitempty"`
	Status          AssetStatus `json:"status,omitempty"`
	AnimationStatus AssetStatus `json:"animation_status,omitempty"`
	Error           string      `json:"error,omitempty"`
}

// AnchorImage はフレーム間の一貫性のために再利用される被写体の正準画像です。
type AnchorImage struct {
	URL          string `json:"url"`
	SourcePrompt string `json:"source_prompt"`
}

// Storyboard は1シーケンス分の永続化単位です。再開時はこの内容から続きを生成します。
type Storyboard struct {
	ProjectID  string          `json:"project_id"`
	Brief      Brief           `json:"brief"`
	References References      `json:"references,omitempty"`
	Plan       *StoryboardPlan `json:"plan"`
	Failures   []UnitFailure   `json:"failures,omitempty"`
	UpdatedAt  time.Time       `json:"updated_at"`
}
