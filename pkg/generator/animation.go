package generator

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strconv"
	"time"

	"github.com/shouni/go-storyboard-kit/pkg/domain"
	"github.com/shouni/go-storyboard-kit/pkg/poller"
	"github.com/shouni/go-storyboard-kit/pkg/provider"
	"github.com/shouni/go-storyboard-kit/pkg/retry"
	"github.com/shouni/go-storyboard-kit/pkg/scheduler"
)

// ErrNoVideoProvider は動画プロバイダが構成されていないことを表します。
var ErrNoVideoProvider = errors.New("動画プロバイダが設定されていません")

// TaskStatus は check_status の応答です。
type TaskStatus struct {
	TaskID   string            `json:"task_id"`
	Status   domain.TaskStatus `json:"status"`
	VideoURL string            `json:"video_url,omitempty"`
	Error    string            `json:"error,omitempty"`
}

// AnimationStage は画像生成済みのフレームを短い動画クリップにします。画像生成とは独立に、後からでも呼び出せます。
type AnimationStage struct {
	composer *StoryboardComposer
}

// NewAnimationStage は AnimationStage の新しいインスタンスを初期化します。
func NewAnimationStage(composer *StoryboardComposer) *AnimationStage {
	return &AnimationStage{composer: composer}
}

// Targets はアニメーション対象のフレームのインデックスを返します。
// numbers が空の場合は、画像があり動画がない通常フレームすべてが対象です。
// 第2キーフレームはリンク元の最終フレームとして使われるため単独では対象にしません。
func Targets(plan *domain.StoryboardPlan, numbers []int) []int {
	var idx []int
	for i, f := range plan.Frames {
		if f.ImageURL == "" || f.VideoURL != "" {
			continue
		}
		if len(numbers) > 0 {
			if slices.Contains(numbers, f.FrameNumber) {
				idx = append(idx, i)
			}
			continue
		}
		if !f.IsSecondKeyframe {
			idx = append(idx, i)
		}
	}
	return idx
}

// Run は対象フレームの動画を BatchScheduler 経由で生成し、結果 URL をフレームに保存します。
func (as *AnimationStage) Run(ctx context.Context, plan *domain.StoryboardPlan, numbers []int) (StageReport, error) {
	report := newReport("animation")
	if as.composer.Providers.Video == nil {
		return report.build(), ErrNoVideoProvider
	}

	targets := Targets(plan, numbers)
	if len(targets) == 0 {
		return report.build(), nil
	}

	slog.InfoContext(ctx, "Starting frame animation", "count", len(targets))
	startTime := time.Now()

	err := scheduler.Drain(ctx, as.composer.Scheduler, targets, func(ctx context.Context, idx int) {
		frame := &plan.Frames[idx]
		id := strconv.Itoa(frame.FrameNumber)

		frame.AnimationStatus = domain.StatusAnimating
		res := as.composer.Poller.Await(ctx, domain.TaskVideo, as.composer.videoSource(as.Request(plan, *frame)))
		if res.Err != nil {
			slog.ErrorContext(ctx, "Frame animation failed", "frame_number", frame.FrameNumber, "outcome", res.Outcome, "error", res.Err)
			frame.AnimationStatus = domain.StatusFailed
			report.fail("video", id, res.Err)
			as.composer.Metrics.UnitFailed("video")
			return
		}
		frame.VideoURL = res.URL()
		frame.AnimationStatus = domain.StatusAnimated
		report.success()
	})

	elapsed := time.Since(startTime)
	as.composer.Metrics.ObserveStage("animation", elapsed)
	slog.InfoContext(ctx, "Frame animation finished", "duration", elapsed.Round(time.Millisecond))
	return report.build(), err
}

// Request はフレームから動画生成要求を組み立てます。リンクされた第2キーフレームがあれば最終フレームに使います。
func (as *AnimationStage) Request(plan *domain.StoryboardPlan, frame domain.FramePlan) provider.VideoRequest {
	var last string
	if sk := plan.SecondKeyframeFor(frame.FrameNumber); sk != nil {
		last = sk.ImageURL
	}
	return provider.VideoRequest{
		ImageURL:     frame.ImageURL,
		LastFrameURL: last,
		Prompt:       as.composer.ImagePrompt.BuildMotion(frame, last != ""),
		AspectRatio:  as.composer.Config.AspectRatio,
	}
}

// Submit は動画生成を投入だけして、タスクを返します。同期型プロバイダの場合は完了済みのタスクが返ります。
func (as *AnimationStage) Submit(ctx context.Context, req provider.VideoRequest) (*domain.GenerationTask, error) {
	if as.composer.Providers.Video == nil {
		return nil, ErrNoVideoProvider
	}
	tr := as.composer.Poller.Track(domain.TaskVideo, as.composer.videoSource(req))
	tr.Submit(ctx)
	if tr.Done() && tr.Result().Outcome != poller.OutcomeSuccess {
		return tr.Task(), tr.Result().Err
	}
	return tr.Task(), nil
}

// CheckStatus はタスク ID の現在状態を1回だけ問い合わせます。
func (as *AnimationStage) CheckStatus(ctx context.Context, taskID string) (TaskStatus, error) {
	if as.composer.Providers.Video == nil {
		return TaskStatus{}, ErrNoVideoProvider
	}
	res, err := retry.Do(ctx, as.composer.Retry, func(ctx context.Context) (provider.PollResult, error) {
		return as.composer.Providers.Video.PollVideo(ctx, taskID)
	})
	if err != nil {
		return TaskStatus{}, err
	}

	st := TaskStatus{TaskID: taskID, Status: poller.StatusOf(res)}
	switch st.Status {
	case domain.TaskDone:
		st.VideoURL = res.URL
	case domain.TaskError:
		st.Error = res.Reason
	}
	return st, nil
}
