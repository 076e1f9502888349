package prompts

import "github.com/shouni/go-storyboard-kit/pkg/domain"

// TextPrompt は、テキスト生成プロンプトを構築する契約です。
type TextPrompt interface {
	Build(mode string, data TemplateData) (string, error)
}

// ImagePrompt は、画像・動画生成プロンプトを構築する契約です。
type ImagePrompt interface {
	BuildBackground(bg domain.Background, style string) (userPrompt, systemPrompt string)
	BuildFrame(frame domain.FramePlan, subjects domain.References, rules, style string) (userPrompt, systemPrompt string)
	BuildAnchor(rules string, subjects domain.References, style string) (userPrompt, systemPrompt string)
	BuildMotion(frame domain.FramePlan, hasLastFrame bool) string
}
