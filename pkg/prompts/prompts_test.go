package prompts

import (
	"strings"
	"testing"

	"github.com/shouni/go-storyboard-kit/pkg/domain"
)

func TestTextPromptBuilder_Build(t *testing.T) {
	pb, err := NewTextPromptBuilder()
	if err != nil {
		t.Fatalf("初期化に失敗しました: %v", err)
	}

	t.Run("計画プロンプトにブリーフと参照が含まれます", func(t *testing.T) {
		out, err := pb.Build(ModeSequencePlan, TemplateData{
			Direction:      "a barista pours latte art",
			Style:          "warm film grain",
			FrameCount:     6,
			MaxBackgrounds: 3,
			ElementsBoard:  "ceramic cup, oak counter",
			References: []domain.Reference{
				{Role: domain.RoleProduct, Description: "white cup", KeyFeatures: []string{"matte", "logo"}},
			},
		})
		if err != nil {
			t.Fatalf("予期しないエラー: %v", err)
		}
		for _, want := range []string{"a barista pours latte art", "exactly 6", "[product] white cup", "matte, logo", "ceramic cup", "background_id"} {
			if !strings.Contains(out, want) {
				t.Errorf("プロンプトに %q が含まれていません", want)
			}
		}
	})

	t.Run("不明なモードはエラーです", func(t *testing.T) {
		if _, err := pb.Build("unknown", TemplateData{}); err == nil {
			t.Error("エラーが返されませんでした")
		}
	})
}

func TestImagePromptBuilder(t *testing.T) {
	pb := NewImagePromptBuilder("high detail")
	subjects := domain.References{{Role: domain.RoleCharacter, Description: "woman in red coat", KeyFeatures: []string{"short hair"}}}

	t.Run("背景プロンプトには被写体なしの制約が入ります", func(t *testing.T) {
		user, system := pb.BuildBackground(domain.Background{ID: "bg1", Description: "neon alley"}, "noir")
		if !strings.Contains(user, "neon alley") || !strings.Contains(user, noSubjectConstraint) {
			t.Errorf("背景プロンプトが不正です: %s", user)
		}
		if !strings.Contains(system, "high detail") || !strings.Contains(system, "noir") {
			t.Errorf("システムプロンプトが不正です: %s", system)
		}
	})

	t.Run("フレームプロンプトはショット情報と被写体を含みます", func(t *testing.T) {
		frame := domain.FramePlan{FrameNumber: 3, ShotType: "close-up", CameraAngle: "low", Description: "she smiles"}
		user, _ := pb.BuildFrame(frame, subjects, "same coat", "noir")
		for _, want := range []string{"FRAME 3", "close-up", "low", "she smiles", "CHARACTER: woman in red coat (short hair)", "same coat"} {
			if !strings.Contains(user, want) {
				t.Errorf("フレームプロンプトに %q が含まれていません: %s", want, user)
			}
		}
	})

	t.Run("モーションプロンプトの既定値", func(t *testing.T) {
		got := pb.BuildMotion(domain.FramePlan{Description: "cup on table", ShotType: "wide"}, true)
		if !strings.Contains(got, "cup on table") || !strings.Contains(got, "final keyframe") {
			t.Errorf("モーションプロンプトが不正です: %s", got)
		}
	})

	t.Run("アンカープロンプト", func(t *testing.T) {
		user, _ := pb.BuildAnchor("keep the coat red", subjects, "")
		if !strings.Contains(user, "keep the coat red") || !strings.Contains(user, "short hair") {
			t.Errorf("アンカープロンプトが不正です: %s", user)
		}
	})
}
