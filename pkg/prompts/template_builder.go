package prompts

import (
	_ "embed"
	"fmt"
	"strings"
	"text/template"

	"github.com/shouni/go-storyboard-kit/pkg/domain"
)

const (
	ModeReferenceAnalysis = "reference_analysis"
	ModeSequencePlan      = "sequence_plan"
)

var (
	//go:embed reference_analysis.md
	ReferenceAnalysisPrompt string
	//go:embed sequence_plan.md
	SequencePlanPrompt string
)

// allTemplates はモードとテンプレート文字列を紐づけるマップです。
var allTemplates = map[string]string{
	ModeReferenceAnalysis: ReferenceAnalysisPrompt,
	ModeSequencePlan:      SequencePlanPrompt,
}

// TemplateData はテキストプロンプトのテンプレートに渡すデータ構造です。
type TemplateData struct {
	Direction      string
	Style          string
	FrameCount     int
	MaxBackgrounds int
	ElementsBoard  string
	References     []domain.Reference
}

// TextPromptBuilder はテキスト生成用テンプレートを保持し、モードごとに描画します。
type TextPromptBuilder struct {
	templates map[string]*template.Template
}

// NewTextPromptBuilder は埋め込みテンプレートを解析して TextPromptBuilder を初期化します。
func NewTextPromptBuilder() (*TextPromptBuilder, error) {
	funcs := template.FuncMap{"join": strings.Join}
	parsed := make(map[string]*template.Template, len(allTemplates))
	for mode, content := range allTemplates {
		if content == "" {
			return nil, fmt.Errorf("プロンプトテンプレート '%s' (go:embed) の読み込みに失敗しました: 内容が空です", mode)
		}
		tmpl, err := template.New(mode).Funcs(funcs).Parse(content)
		if err != nil {
			return nil, fmt.Errorf("プロンプト '%s' の解析に失敗: %w", mode, err)
		}
		parsed[mode] = tmpl
	}
	return &TextPromptBuilder{templates: parsed}, nil
}

// Build は、要求されたモードに応じて適切なテンプレートを実行します。
func (b *TextPromptBuilder) Build(mode string, data TemplateData) (string, error) {
	tmpl, ok := b.templates[mode]
	if !ok {
		return "", fmt.Errorf("不明なモードです: '%s'", mode)
	}

	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("プロンプトテンプレートの実行に失敗しました: %w", err)
	}
	return sb.String(), nil
}
