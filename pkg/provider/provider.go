// Package provider は外部の生成プロバイダとの境界となる契約を定義します。
package provider

import (
	"context"
)

// ImageInput はビジョン入力として渡す画像です。Data が空のときは URL を直接渡します。
type ImageInput struct {
	URL      string
	Data     []byte
	MIMEType string
}

// TextRequest はテキスト生成（画像付きを含む）の要求です。
type TextRequest struct {
	SystemPrompt string
	Prompt       string
	Images       []ImageInput
	JSONOutput   bool
}

// TextProvider はプロンプト（と画像）からテキストを生成するプロバイダです。
type TextProvider interface {
	GenerateText(ctx context.Context, req TextRequest) (string, error)
}

// ImageRequest は画像生成の要求です。
type ImageRequest struct {
	Prompt         string
	SystemPrompt   string
	NegativePrompt string
	AspectRatio    string
	BackgroundURL  string
	AnchorURL      string
	ReferenceURLs  []string
	Seed           *int64
}

// AllReferenceURLs はアンカー・背景・参照を優先順に重複なく返します。
func (r ImageRequest) AllReferenceURLs() []string {
	seen := make(map[string]struct{})
	var urls []string
	for _, u := range append([]string{r.AnchorURL, r.BackgroundURL}, r.ReferenceURLs...) {
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		urls = append(urls, u)
	}
	return urls
}

// VideoRequest は画像から動画を生成する要求です。
type VideoRequest struct {
	ImageURL     string
	LastFrameURL string
	Prompt       string
	AspectRatio  string
	Duration     int
}

// Submission は投入結果です。同期型プロバイダは URL を直接返し、
// タスク型プロバイダは TaskID を返します。
type Submission struct {
	TaskID string
	URL    string
}

// Completed は投入時点で結果が確定しているかを返します。
func (s Submission) Completed() bool {
	return s.URL != ""
}

// PollState はタスク状態の問い合わせ結果です。
type PollState string

const (
	PollWaiting   PollState = "waiting"
	PollSucceeded PollState = "succeeded"
	PollFailed    PollState = "failed"
)

// PollResult は1回のポーリング結果です。
type PollResult struct {
	State  PollState
	URL    string
	Reason string
}

// ImageProvider は画像生成プロバイダです。同期型でもタスク型でも構いません。
type ImageProvider interface {
	SubmitImage(ctx context.Context, req ImageRequest) (Submission, error)
	PollImage(ctx context.Context, taskID string) (PollResult, error)
}

// VideoProvider は動画生成プロバイダです。投入後、別途ポーリングします。
type VideoProvider interface {
	SubmitVideo(ctx context.Context, req VideoRequest) (Submission, error)
	PollVideo(ctx context.Context, taskID string) (PollResult, error)
}

// Suite はステージ群が使うプロバイダ一式です。
type Suite struct {
	Name  string
	Text  TextProvider
	Image ImageProvider
	Video VideoProvider
}
