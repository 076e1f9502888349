package parser

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/shouni/go-storyboard-kit/pkg/domain"
)

const (
	defaultShotType    = "medium"
	defaultCameraAngle = "eye level"
)

// Limits は計画サイズの上限です。0 以下は無制限として扱います。
type Limits struct {
	MaxFrames      int
	MaxBackgrounds int
}

type rawPlan struct {
	Backgrounds      []rawBackground `json:"backgrounds"`
	Frames           []rawFrame      `json:"frames"`
	ConsistencyRules string          `json:"consistency_rules"`
}

type rawBackground struct {
	ID          string `json:"id"`
	Description string `json:"description"`
}

type rawFrame struct {
	FrameNumber      flexInt `json:"frame_number"`
	ShotType         string  `json:"shot_type"`
	CameraAngle      string  `json:"camera_angle"`
	Description      string  `json:"description"`
	BackgroundID     string  `json:"background_id"`
	LinkedFrame      flexInt `json:"linked_frame_id"`
	IsSecondKeyframe bool    `json:"is_second_keyframe"`
	MotionPrompt     string  `json:"motion_prompt"`
}

// ParsePlan は応答テキストから StoryboardPlan を取り出して検証します。
// 軽微な不備（空白、欠けたショット種別、未採番）は補正し、
// 参照の不整合や必須項目の欠落は *domain.ValidationError として返します。
func ParsePlan(raw string, limits Limits) (*domain.StoryboardPlan, error) {
	var rp rawPlan
	if err := json.Unmarshal([]byte(ExtractJSON(raw)), &rp); err != nil {
		return nil, &domain.ValidationError{
			Field:  "plan",
			Reason: fmt.Sprintf("AIからの応答に含まれるJSONの解析に失敗しました (応答抜粋: %q): %v", truncateString(raw, 200), err),
		}
	}

	backgrounds, err := validateBackgrounds(rp.Backgrounds, limits.MaxBackgrounds)
	if err != nil {
		return nil, err
	}
	frames, err := validateFrames(rp.Frames, backgrounds, limits.MaxFrames)
	if err != nil {
		return nil, err
	}

	plan := &domain.StoryboardPlan{
		Backgrounds:      backgrounds,
		Frames:           frames,
		ConsistencyRules: strings.TrimSpace(rp.ConsistencyRules),
	}
	if err := ValidatePlan(plan, limits); err != nil {
		return nil, err
	}
	return plan, nil
}

func validateBackgrounds(raw []rawBackground, maxBackgrounds int) ([]domain.Background, error) {
	if len(raw) == 0 {
		return nil, &domain.ValidationError{Field: "backgrounds", Reason: "背景が1件もありません"}
	}
	if maxBackgrounds > 0 && len(raw) > maxBackgrounds {
		return nil, &domain.ValidationError{Field: "backgrounds", Reason: fmt.Sprintf("背景数 %d が上限 %d を超えています", len(raw), maxBackgrounds)}
	}

	out := make([]domain.Background, 0, len(raw))
	for i, b := range raw {
		id := strings.TrimSpace(b.ID)
		if id == "" {
			id = fmt.Sprintf("bg%d", i+1)
		}
		desc := strings.TrimSpace(b.Description)
		if desc == "" {
			return nil, &domain.ValidationError{Field: fmt.Sprintf("backgrounds[%d].description", i), Reason: "説明が空です"}
		}
		out = append(out, domain.Background{ID: id, Description: desc, Status: domain.StatusPlanned})
	}
	return out, nil
}

func validateFrames(raw []rawFrame, backgrounds []domain.Background, maxFrames int) ([]domain.FramePlan, error) {
	if len(raw) == 0 {
		return nil, &domain.ValidationError{Field: "frames", Reason: "フレームが1件もありません"}
	}
	if maxFrames > 0 && len(raw) > maxFrames {
		return nil, &domain.ValidationError{Field: "frames", Reason: fmt.Sprintf("フレーム数 %d が上限 %d を超えています", len(raw), maxFrames)}
	}

	numbered := 0
	for _, f := range raw {
		if f.FrameNumber > 0 {
			numbered++
		}
	}
	if numbered != 0 && numbered != len(raw) {
		return nil, &domain.ValidationError{Field: "frames.frame_number", Reason: "一部のフレームに番号がありません"}
	}

	out := make([]domain.FramePlan, 0, len(raw))
	for i, f := range raw {
		field := fmt.Sprintf("frames[%d]", i)
		n := int(f.FrameNumber)
		if numbered == 0 {
			n = i + 1
		}

		desc := strings.TrimSpace(f.Description)
		if desc == "" {
			return nil, &domain.ValidationError{Field: field + ".description", Reason: "説明が空です"}
		}
		bgID, ok := resolveBackgroundID(f.BackgroundID, backgrounds)
		if !ok {
			return nil, &domain.ValidationError{Field: field + ".background_id", Reason: fmt.Sprintf("背景 %q が存在しません", f.BackgroundID)}
		}

		fp := domain.FramePlan{
			FrameNumber:      n,
			ShotType:         orDefault(f.ShotType, defaultShotType),
			CameraAngle:      orDefault(f.CameraAngle, defaultCameraAngle),
			Description:      desc,
			BackgroundID:     bgID,
			LinkedFrame:      int(f.LinkedFrame),
			IsSecondKeyframe: f.IsSecondKeyframe,
			MotionPrompt:     strings.TrimSpace(f.MotionPrompt),
			Status:           domain.StatusPlanned,
		}
		if fp.IsSecondKeyframe && fp.LinkedFrame <= 0 {
			fp.IsSecondKeyframe = false
		}
		out = append(out, fp)
	}

	sort.SliceStable(out, func(a, b int) bool { return out[a].FrameNumber < out[b].FrameNumber })
	return out, nil
}

// reasonLinkToSecondKeyframe は第2キーフレーム同士を連結したときの理由です。
const reasonLinkToSecondKeyframe = "第2キーフレームへのリンクはできません"

// ValidatePlan は計画全体の整合性を検証します。
// 再開時に読み込んだ計画にも同じ検証を適用します。
func ValidatePlan(plan *domain.StoryboardPlan, limits Limits) error {
	if plan == nil {
		return &domain.ValidationError{Field: "plan", Reason: "計画がありません"}
	}
	if len(plan.Backgrounds) == 0 || len(plan.Frames) == 0 {
		return &domain.ValidationError{Field: "plan", Reason: "背景とフレームはそれぞれ1件以上必要です"}
	}
	if limits.MaxFrames > 0 && len(plan.Frames) > limits.MaxFrames {
		return &domain.ValidationError{Field: "frames", Reason: fmt.Sprintf("フレーム数 %d が上限 %d を超えています", len(plan.Frames), limits.MaxFrames)}
	}
	if limits.MaxBackgrounds > 0 && len(plan.Backgrounds) > limits.MaxBackgrounds {
		return &domain.ValidationError{Field: "backgrounds", Reason: fmt.Sprintf("背景数 %d が上限 %d を超えています", len(plan.Backgrounds), limits.MaxBackgrounds)}
	}

	bgIDs := make(map[string]struct{}, len(plan.Backgrounds))
	for _, bg := range plan.Backgrounds {
		if _, dup := bgIDs[bg.ID]; dup {
			return &domain.ValidationError{Field: "backgrounds.id", Reason: fmt.Sprintf("背景 ID %q が重複しています", bg.ID)}
		}
		bgIDs[bg.ID] = struct{}{}
	}

	numbers := make(map[int]struct{}, len(plan.Frames))
	for _, f := range plan.Frames {
		if f.FrameNumber <= 0 {
			return &domain.ValidationError{Field: "frames.frame_number", Reason: fmt.Sprintf("不正なフレーム番号 %d", f.FrameNumber)}
		}
		if _, dup := numbers[f.FrameNumber]; dup {
			return &domain.ValidationError{Field: "frames.frame_number", Reason: fmt.Sprintf("フレーム番号 %d が重複しています", f.FrameNumber)}
		}
		numbers[f.FrameNumber] = struct{}{}
		if _, ok := bgIDs[f.BackgroundID]; !ok {
			return &domain.ValidationError{Field: fmt.Sprintf("frames[%d].background_id", f.FrameNumber), Reason: fmt.Sprintf("背景 %q が存在しません", f.BackgroundID)}
		}
	}

	for _, f := range plan.Frames {
		if f.LinkedFrame == 0 {
			continue
		}
		if f.LinkedFrame == f.FrameNumber {
			return &domain.ValidationError{Field: fmt.Sprintf("frames[%d].linked_frame_id", f.FrameNumber), Reason: "自分自身にリンクしています"}
		}
		if _, ok := numbers[f.LinkedFrame]; !ok {
			return &domain.ValidationError{Field: fmt.Sprintf("frames[%d].linked_frame_id", f.FrameNumber), Reason: fmt.Sprintf("リンク先フレーム %d が存在しません", f.LinkedFrame)}
		}
		if plan.LinksToSecondKeyframe(&f) {
			return &domain.ValidationError{Field: fmt.Sprintf("frames[%d].linked_frame_id", f.FrameNumber), Reason: reasonLinkToSecondKeyframe}
		}
	}
	return nil
}

// resolveBackgroundID は空白や大文字小文字の揺れを補正して背景 ID を解決します。
func resolveBackgroundID(id string, backgrounds []domain.Background) (string, bool) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", false
	}
	for _, bg := range backgrounds {
		if bg.ID == id {
			return bg.ID, true
		}
	}
	for _, bg := range backgrounds {
		if strings.EqualFold(bg.ID, id) {
			return bg.ID, true
		}
	}
	return "", false
}

func orDefault(s, def string) string {
	if s = strings.TrimSpace(s); s != "" {
		return s
	}
	return def
}
