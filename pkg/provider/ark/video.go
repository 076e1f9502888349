package ark

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/shouni/go-storyboard-kit/pkg/domain"
	"github.com/shouni/go-storyboard-kit/pkg/provider"
)

type taskResponse struct {
	ID      string `json:"id"`
	TaskID  string `json:"task_id"`
	Status  string `json:"status"`
	Content struct {
		VideoURL string `json:"video_url"`
	} `json:"content"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// SubmitVideo は動画生成タスクを作成します。LastFrameURL があれば先頭・末尾フレーム指定になります。
func (c *Client) SubmitVideo(ctx context.Context, req provider.VideoRequest) (provider.Submission, error) {
	text := req.Prompt
	if req.Duration > 0 {
		text += fmt.Sprintf(" --dur %d", req.Duration)
	}
	if req.AspectRatio != "" {
		text += " --ratio " + req.AspectRatio
	}

	content := []map[string]any{{"type": "text", "text": text}}
	content = append(content, map[string]any{
		"type":      "image_url",
		"image_url": map[string]any{"url": req.ImageURL},
		"role":      "first_frame",
	})
	if req.LastFrameURL != "" {
		content = append(content, map[string]any{
			"type":      "image_url",
			"image_url": map[string]any{"url": req.LastFrameURL},
			"role":      "last_frame",
		})
	}

	body := map[string]any{
		"model":   c.cfg.VideoModel,
		"content": content,
	}
	var resp taskResponse
	if err := c.do(ctx, "video_submit", "POST", "/api/v3/contents/generations/tasks", body, &resp); err != nil {
		return provider.Submission{}, err
	}
	id := resp.ID
	if id == "" {
		id = resp.TaskID
	}
	if id == "" {
		return provider.Submission{}, &domain.ProviderError{Provider: providerName, Op: "video_submit", Err: errors.New("no task id in response")}
	}
	return provider.Submission{TaskID: id}, nil
}

// PollVideo はタスクの状態を1回問い合わせます。
func (c *Client) PollVideo(ctx context.Context, taskID string) (provider.PollResult, error) {
	var resp taskResponse
	if err := c.do(ctx, "video_poll", "GET", "/api/v3/contents/generations/tasks/"+url.PathEscape(taskID), nil, &resp); err != nil {
		return provider.PollResult{}, err
	}
	return resp.pollResult(), nil
}

func (r taskResponse) pollResult() provider.PollResult {
	switch strings.ToLower(r.Status) {
	case "succeeded", "success", "completed":
		if r.Content.VideoURL == "" {
			return provider.PollResult{State: provider.PollFailed, Reason: "succeeded without video_url"}
		}
		return provider.PollResult{State: provider.PollSucceeded, URL: r.Content.VideoURL}
	case "failed", "error", "cancelled", "expired":
		reason := r.Status
		if r.Error != nil && r.Error.Message != "" {
			reason = r.Error.Message
		}
		return provider.PollResult{State: provider.PollFailed, Reason: reason}
	}
	return provider.PollResult{State: provider.PollWaiting}
}
