package prompts

import (
	"fmt"
	"strings"

	"github.com/shouni/go-storyboard-kit/pkg/domain"
)

const (
	backgroundSystemInstruction = "You are a set designer for commercial film. Create an empty background plate."
	frameSystemInstruction      = "You are a storyboard artist for commercial film. Create a single cinematic frame."
	anchorSystemInstruction     = "You are a character and product designer. Create one canonical reference image of the subject on a neutral backdrop."
	noSubjectConstraint         = "No people, no characters, no products, no text. The scene must be empty of any subject."
)

// ImagePromptBuilder は、計画と参照情報から画像・動画プロンプトを構築します。
type ImagePromptBuilder struct {
	defaultSuffix string
}

// NewImagePromptBuilder は新しい ImagePromptBuilder を生成します。
func NewImagePromptBuilder(suffix string) *ImagePromptBuilder {
	return &ImagePromptBuilder{defaultSuffix: suffix}
}

func (pb *ImagePromptBuilder) systemPrompt(instruction, style string) string {
	var ss strings.Builder
	ss.WriteString(instruction)
	if style != "" {
		ss.WriteString(fmt.Sprintf("\n\n### STYLE ###\n%s", style))
	}
	if pb.defaultSuffix != "" {
		ss.WriteString(fmt.Sprintf("\n\n### GLOBAL VISUAL STYLE ###\n%s", pb.defaultSuffix))
	}
	return ss.String()
}

// BuildBackground は背景プレート用のプロンプトを生成します。
func (pb *ImagePromptBuilder) BuildBackground(bg domain.Background, style string) (string, string) {
	prompt := joinParts(bg.Description, style, noSubjectConstraint)
	return prompt, pb.systemPrompt(backgroundSystemInstruction, style)
}

// BuildFrame はフレーム用のプロンプトを生成します。
// 参照画像（アンカー・背景・被写体）は入力画像として別途添付される前提です。
func (pb *ImagePromptBuilder) BuildFrame(frame domain.FramePlan, subjects domain.References, rules, style string) (string, string) {
	var us strings.Builder
	us.WriteString(fmt.Sprintf("### FRAME %d ###\n", frame.FrameNumber))
	us.WriteString(fmt.Sprintf("- SHOT: %s\n", frame.ShotType))
	us.WriteString(fmt.Sprintf("- CAMERA: %s\n", frame.CameraAngle))
	us.WriteString(fmt.Sprintf("- ACTION/SCENE: %s\n", frame.Description))
	for _, ref := range subjects {
		us.WriteString(fmt.Sprintf("- %s: %s", strings.ToUpper(string(ref.Role)), ref.Description))
		if len(ref.KeyFeatures) > 0 {
			us.WriteString(fmt.Sprintf(" (%s)", strings.Join(ref.KeyFeatures, ", ")))
		}
		us.WriteString("\n")
	}
	if rules != "" {
		us.WriteString(fmt.Sprintf("- CONSISTENCY: %s\n", rules))
	}
	if style != "" {
		us.WriteString(fmt.Sprintf("- STYLE: %s\n", style))
	}
	return us.String(), pb.systemPrompt(frameSystemInstruction, style)
}

// BuildAnchor はアンカー画像用のプロンプトを生成します。
func (pb *ImagePromptBuilder) BuildAnchor(rules string, subjects domain.References, style string) (string, string) {
	parts := []string{rules}
	for _, ref := range subjects {
		parts = append(parts, ref.Description)
		parts = append(parts, ref.KeyFeatures...)
	}
	parts = append(parts, "full body, front view, even studio lighting")
	return joinParts(parts...), pb.systemPrompt(anchorSystemInstruction, style)
}

// BuildMotion は動画生成用のモーションプロンプトを生成します。
func (pb *ImagePromptBuilder) BuildMotion(frame domain.FramePlan, hasLastFrame bool) string {
	motion := frame.MotionPrompt
	if motion == "" {
		motion = fmt.Sprintf("subtle cinematic camera movement, %s", frame.Description)
	}
	if hasLastFrame {
		motion += ", transition smoothly into the final keyframe"
	}
	return joinParts(motion, frame.ShotType, frame.CameraAngle)
}

func joinParts(parts ...string) string {
	var clean []string
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			clean = append(clean, s)
		}
	}
	return strings.Join(clean, ", ")
}
