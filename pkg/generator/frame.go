package generator

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/shouni/go-storyboard-kit/pkg/config"
	"github.com/shouni/go-storyboard-kit/pkg/domain"
	"github.com/shouni/go-storyboard-kit/pkg/provider"
	"github.com/shouni/go-storyboard-kit/pkg/scheduler"
)

// FrameInput は1フレーム生成に必要な解決済みの文脈です。
type FrameInput struct {
	Frame         domain.FramePlan
	References    domain.References
	BackgroundURL string
	AnchorURL     string
	LinkedURL     string
	Rules         string
	Style         string
}

// FrameStage はフレーム画像をバッチ単位で生成します。
type FrameStage struct {
	composer *StoryboardComposer
}

// NewFrameStage は FrameStage の新しいインスタンスを初期化します。
func NewFrameStage(composer *StoryboardComposer) *FrameStage {
	return &FrameStage{composer: composer}
}

// Run は URL を持たないフレームを BatchScheduler で K 件ずつ生成します。
// 第2キーフレームはリンク先の画像を参照するため、通常フレームの後に別パスで生成します。
func (fs *FrameStage) Run(ctx context.Context, plan *domain.StoryboardPlan, refs domain.References, style string) (StageReport, error) {
	report := newReport("frames")
	primary, second := plan.PendingFrames()
	report.skip(len(plan.Frames) - len(primary) - len(second))
	if len(primary)+len(second) == 0 {
		return report.build(), nil
	}

	slog.InfoContext(ctx, "Starting frame generation",
		"primary", len(primary),
		"second_keyframes", len(second),
		"batch_size", fs.composer.Scheduler.Size())
	startTime := time.Now()

	run := func(ctx context.Context, idx int) {
		fs.runOne(ctx, plan, idx, refs, style, report)
	}
	if err := scheduler.Drain(ctx, fs.composer.Scheduler, primary, run); err != nil {
		return report.build(), err
	}
	if err := scheduler.Drain(ctx, fs.composer.Scheduler, second, run); err != nil {
		return report.build(), err
	}

	elapsed := time.Since(startTime)
	fs.composer.Metrics.ObserveStage("frames", elapsed)
	slog.InfoContext(ctx, "Frame generation finished",
		"completed", plan.CompletedFrames(),
		"total", len(plan.Frames),
		"duration", elapsed.Round(time.Millisecond))
	return report.build(), nil
}

func (fs *FrameStage) runOne(ctx context.Context, plan *domain.StoryboardPlan, idx int, refs domain.References, style string, report *reportBuilder) {
	frame := &plan.Frames[idx]
	id := strconv.Itoa(frame.FrameNumber)

	in := FrameInput{
		Frame:      *frame,
		References: refs,
		AnchorURL:  plan.AnchorURL(),
		Rules:      plan.ConsistencyRules,
		Style:      style,
	}
	if bg := plan.BackgroundByID(frame.BackgroundID); bg != nil {
		in.BackgroundURL = bg.ImageURL
	}
	if frame.BackgroundID != "" && in.BackgroundURL == "" && fs.composer.Config.BackgroundPolicy == config.BackgroundBlock {
		err := fmt.Errorf("background %s is unavailable", frame.BackgroundID)
		slog.WarnContext(ctx, "Frame blocked by missing background", "frame_number", frame.FrameNumber, "background_id", frame.BackgroundID)
		frame.Status = domain.StatusFailed
		frame.Error = err.Error()
		report.fail("frame", id, err)
		return
	}
	if plan.LinksToSecondKeyframe(frame) {
		err := &domain.ValidationError{Field: "linked_frame", Reason: fmt.Sprintf("第2キーフレームへのリンクはできません (%d -> %d)", frame.FrameNumber, frame.LinkedFrame)}
		frame.Status = domain.StatusFailed
		frame.Error = err.Error()
		report.fail("frame", id, err)
		return
	}
	if frame.IsSecondKeyframe {
		if linked := plan.FrameByNumber(frame.LinkedFrame); linked != nil {
			in.LinkedURL = linked.ImageURL
		}
	}

	fs.composer.Metrics.FrameStarted()
	defer fs.composer.Metrics.FrameFinished()

	frame.Status = domain.StatusGenerating
	url, err := fs.Generate(ctx, in)
	if err != nil {
		frame.Status = domain.StatusFailed
		frame.Error = err.Error()
		report.fail("frame", id, err)
		fs.composer.Metrics.UnitFailed("frame")
		return
	}
	frame.ImageURL = url
	frame.Status = domain.StatusReady
	frame.Error = ""
	report.success()
}

// Request は FrameInput から画像生成要求を組み立てます。
// 被写体参照は Reference の役割で絞り込み、第2キーフレームではリンク先の画像を先頭の参照に加えます。
func (fs *FrameStage) Request(in FrameInput) provider.ImageRequest {
	subjects := in.References.Subjects()
	user, system := fs.composer.ImagePrompt.BuildFrame(in.Frame, subjects, in.Rules, in.Style)

	var refURLs []string
	if in.LinkedURL != "" {
		refURLs = append(refURLs, in.LinkedURL)
	}
	refURLs = append(refURLs, subjects.SubjectURLs()...)

	return provider.ImageRequest{
		Prompt:         user,
		SystemPrompt:   system,
		NegativePrompt: fs.composer.Config.NegativePrompt,
		AspectRatio:    fs.composer.Config.AspectRatio,
		BackgroundURL:  in.BackgroundURL,
		AnchorURL:      in.AnchorURL,
		ReferenceURLs:  refURLs,
	}
}

// Generate はフレーム1枚を生成し URL を返します。
func (fs *FrameStage) Generate(ctx context.Context, in FrameInput) (string, error) {
	logger := slog.With("frame_number", in.Frame.FrameNumber)
	logger.InfoContext(ctx, "Starting frame generation",
		"background", in.BackgroundURL != "",
		"anchor", in.AnchorURL != "")

	startTime := time.Now()
	res := fs.composer.Poller.Await(ctx, domain.TaskImage, fs.composer.imageSource(fs.Request(in)))
	if res.Err != nil {
		logger.ErrorContext(ctx, "Frame generation failed", "outcome", res.Outcome, "error", res.Err)
		return "", res.Err
	}
	logger.InfoContext(ctx, "Frame generated", "duration", time.Since(startTime).Round(time.Millisecond))
	return res.URL(), nil
}
