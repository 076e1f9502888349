// Package publisher は絵コンテの成果物（再開用 JSON と閲覧用 Markdown）を書き出します。
package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/shouni/go-storyboard-kit/pkg/domain"
)

const (
	DefaultPlanName     = "storyboard.json"
	DefaultMarkdownName = "storyboard.md"
	missingImage        = "(not generated)"
)

// Options はパブリッシュ動作を制御する設定項目です。
type Options struct {
	OutputDir string
	// SkipMarkdown が true の場合は JSON のみを書き出します。
	SkipMarkdown bool
}

// PublishResult はパブリッシュ処理の結果として生成されたファイルの情報を保持します。
type PublishResult struct {
	PlanPath     string `json:"plan_path"`
	MarkdownPath string `json:"markdown_path,omitempty"`
}

// StoryboardPublisher は成果物の永続化とフォーマット変換を担います。
type StoryboardPublisher struct {
	writer OutputWriter
}

// NewStoryboardPublisher は StoryboardPublisher を生成します。
func NewStoryboardPublisher(writer OutputWriter) *StoryboardPublisher {
	return &StoryboardPublisher{writer: writer}
}

// Publish は storyboard.json と storyboard.md を書き出し、生成されたファイル情報を返却するのだ！
func (p *StoryboardPublisher) Publish(ctx context.Context, sb *domain.Storyboard, opts Options) (PublishResult, error) {
	result := PublishResult{}
	if sb == nil || sb.Plan == nil {
		return result, fmt.Errorf("書き出す計画がありません")
	}

	planPath, err := ResolveOutputPath(opts.OutputDir, DefaultPlanName)
	if err != nil {
		return result, err
	}
	data, err := json.MarshalIndent(sb, "", "  ")
	if err != nil {
		return result, fmt.Errorf("計画のエンコードに失敗しました: %w", err)
	}
	if err := p.writer.Write(ctx, planPath, bytes.NewReader(data), "application/json"); err != nil {
		return result, fmt.Errorf("計画ファイルの書き込みに失敗しました: %w", err)
	}
	result.PlanPath = planPath

	if opts.SkipMarkdown {
		return result, nil
	}

	mdPath, err := ResolveOutputPath(opts.OutputDir, DefaultMarkdownName)
	if err != nil {
		return result, err
	}
	content := BuildMarkdown(sb)
	if err := p.writer.Write(ctx, mdPath, strings.NewReader(content), "text/markdown; charset=utf-8"); err != nil {
		return result, fmt.Errorf("markdownファイルの書き込みに失敗しました: %w", err)
	}
	result.MarkdownPath = mdPath

	slog.InfoContext(ctx, "Storyboard published",
		"plan", planPath,
		"markdown", mdPath,
		"frames", len(sb.Plan.Frames),
		"completed", sb.Plan.CompletedFrames())
	return result, nil
}

// Load はローカルの storyboard.json を読み込みます。
func Load(path string) (*domain.Storyboard, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("計画ファイルの読み込みに失敗しました: %w", err)
	}
	var sb domain.Storyboard
	if err := json.Unmarshal(data, &sb); err != nil {
		return nil, &domain.ValidationError{Field: "plan", Reason: fmt.Sprintf("計画ファイルの解析に失敗しました: %v", err)}
	}
	if sb.Plan == nil {
		return nil, &domain.ValidationError{Field: "plan", Reason: "計画ファイルに plan がありません"}
	}
	return &sb, nil
}

// BuildMarkdown は絵コンテを閲覧用の Markdown に変換します。
func BuildMarkdown(sb *domain.Storyboard) string {
	plan := sb.Plan
	var md strings.Builder

	md.WriteString(fmt.Sprintf("# Storyboard %s\n\n", sb.ProjectID))
	if sb.Brief.Direction != "" {
		md.WriteString(fmt.Sprintf("> %s\n\n", strings.ReplaceAll(strings.TrimSpace(sb.Brief.Direction), "\n", "\n> ")))
	}
	if sb.Brief.Style != "" {
		md.WriteString(fmt.Sprintf("- style: %s\n", sb.Brief.Style))
	}
	if plan.ConsistencyRules != "" {
		md.WriteString(fmt.Sprintf("- consistency: %s\n", plan.ConsistencyRules))
	}
	if url := plan.AnchorURL(); url != "" {
		md.WriteString(fmt.Sprintf("- anchor: ![anchor](%s)\n", url))
	}
	md.WriteString("\n## Backgrounds\n\n")
	for _, bg := range plan.Backgrounds {
		md.WriteString(fmt.Sprintf("### %s\n%s\n\n%s\n\n", bg.ID, bg.Description, imageOrMissing(bg.ID, bg.ImageURL)))
	}

	md.WriteString("## Frames\n\n")
	for _, f := range plan.Frames {
		md.WriteString(fmt.Sprintf("### Frame %d\n", f.FrameNumber))
		md.WriteString(fmt.Sprintf("- shot: %s / %s\n", f.ShotType, f.CameraAngle))
		md.WriteString(fmt.Sprintf("- background: %s\n", f.BackgroundID))
		if f.IsSecondKeyframe {
			md.WriteString(fmt.Sprintf("- second keyframe of: %d\n", f.LinkedFrame))
		}
		md.WriteString(fmt.Sprintf("- description: %s\n", f.Description))
		if f.VideoURL != "" {
			md.WriteString(fmt.Sprintf("- video: [clip](%s)\n", f.VideoURL))
		}
		md.WriteString("\n" + imageOrMissing(fmt.Sprintf("frame %d", f.FrameNumber), f.ImageURL) + "\n\n")
	}

	if len(sb.Failures) > 0 {
		md.WriteString("## Failures\n\n")
		for _, fl := range sb.Failures {
			md.WriteString(fmt.Sprintf("- %s %s: %s\n", fl.Kind, fl.ID, fl.Err))
		}
	}
	return md.String()
}

func imageOrMissing(alt, url string) string {
	if url == "" {
		return missingImage
	}
	return fmt.Sprintf("![%s](%s)", alt, url)
}
