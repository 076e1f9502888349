package gemini

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"

	"github.com/shouni/go-storyboard-kit/pkg/domain"
	"github.com/shouni/go-storyboard-kit/pkg/provider"
)

// SubmitVideo は画像を先頭フレームとした動画生成オペレーションを開始します。
// LastFrameURL があれば終端フレームとして渡します。
func (c *Client) SubmitVideo(ctx context.Context, req provider.VideoRequest) (provider.Submission, error) {
	if c.videos == nil {
		return provider.Submission{}, fmt.Errorf("動画生成クライアントが設定されていません")
	}
	blob, err := c.fetcher.Fetch(ctx, req.ImageURL)
	if err != nil {
		return provider.Submission{}, fmt.Errorf("先頭フレームの取得に失敗しました (%s): %w", req.ImageURL, err)
	}

	aspect := req.AspectRatio
	if aspect == "" {
		aspect = c.cfg.AspectRatio
	}
	duration := defaultVideoDurationInSec
	if req.Duration > 0 {
		duration = int32(req.Duration)
	}
	config := &genai.GenerateVideosConfig{
		NumberOfVideos:  defaultNumberOfVideos,
		AspectRatio:     aspect,
		DurationSeconds: genai.Ptr(duration),
	}
	if req.LastFrameURL != "" {
		last, err := c.fetcher.Fetch(ctx, req.LastFrameURL)
		if err != nil {
			return provider.Submission{}, fmt.Errorf("終端フレームの取得に失敗しました (%s): %w", req.LastFrameURL, err)
		}
		config.LastFrame = &genai.Image{ImageBytes: last.Data, MIMEType: last.MIMEType}
	}

	if err := c.wait(ctx); err != nil {
		return provider.Submission{}, err
	}
	op, err := c.videos.GenerateVideos(ctx, c.cfg.VideoModel, req.Prompt, &genai.Image{ImageBytes: blob.Data, MIMEType: blob.MIMEType}, config)
	c.metrics.ProviderCall(providerName, "video_submit", err)
	if err != nil {
		return provider.Submission{}, classifyError("video_submit", err)
	}
	if op == nil || op.Name == "" {
		return provider.Submission{}, &domain.ProviderError{Provider: providerName, Op: "video_submit", Err: errors.New("operation name is empty")}
	}

	if op.Done {
		res := pollResultFromOperation(op)
		if res.State == provider.PollSucceeded {
			return provider.Submission{TaskID: op.Name, URL: res.URL}, nil
		}
	}
	return provider.Submission{TaskID: op.Name}, nil
}

// PollVideo はオペレーションの状態を1回問い合わせます。
func (c *Client) PollVideo(ctx context.Context, taskID string) (provider.PollResult, error) {
	if c.videos == nil {
		return provider.PollResult{}, fmt.Errorf("動画生成クライアントが設定されていません")
	}
	op, err := c.videos.GetVideosOperation(ctx, &genai.GenerateVideosOperation{Name: taskID}, nil)
	c.metrics.ProviderCall(providerName, "video_poll", err)
	if err != nil {
		return provider.PollResult{}, classifyError("video_poll", err)
	}
	return pollResultFromOperation(op), nil
}

func pollResultFromOperation(op *genai.GenerateVideosOperation) provider.PollResult {
	if op == nil || !op.Done {
		return provider.PollResult{State: provider.PollWaiting}
	}
	if len(op.Error) > 0 {
		reason := fmt.Sprint(op.Error["message"])
		if reason == "" || reason == "<nil>" {
			reason = fmt.Sprint(op.Error)
		}
		return provider.PollResult{State: provider.PollFailed, Reason: reason}
	}
	if op.Response == nil || len(op.Response.GeneratedVideos) == 0 {
		reason := "no video generated"
		if op.Response != nil && len(op.Response.RAIMediaFilteredReasons) > 0 {
			reason = fmt.Sprintf("filtered: %v", op.Response.RAIMediaFilteredReasons)
		}
		return provider.PollResult{State: provider.PollFailed, Reason: reason}
	}
	v := op.Response.GeneratedVideos[0].Video
	if v == nil || v.URI == "" {
		return provider.PollResult{State: provider.PollFailed, Reason: "video has no uri"}
	}
	return provider.PollResult{State: provider.PollSucceeded, URL: v.URI}
}
