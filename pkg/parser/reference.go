package parser

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shouni/go-storyboard-kit/pkg/domain"
)

// ReferenceAnalysis はビジョンプロバイダが返す参照画像の分類結果です。
type ReferenceAnalysis struct {
	Role        domain.ReferenceRole
	Description string
	KeyFeatures []string
}

type rawReference struct {
	Role        string      `json:"role"`
	Description string      `json:"description"`
	KeyFeatures flexStrings `json:"key_features"`
}

// ParseReferenceAnalysis は {role, description, key_features[]} 形式の応答を検証します。
func ParseReferenceAnalysis(raw string) (ReferenceAnalysis, error) {
	var rr rawReference
	if err := json.Unmarshal([]byte(ExtractJSON(raw)), &rr); err != nil {
		return ReferenceAnalysis{}, &domain.ValidationError{
			Field:  "reference",
			Reason: fmt.Sprintf("分類結果のJSON解析に失敗しました (応答抜粋: %q): %v", truncateString(raw, 200), err),
		}
	}

	desc := strings.TrimSpace(rr.Description)
	if desc == "" {
		return ReferenceAnalysis{}, &domain.ValidationError{Field: "reference.description", Reason: "説明が空です"}
	}

	features := make([]string, 0, len(rr.KeyFeatures))
	for _, f := range rr.KeyFeatures {
		if f = strings.TrimSpace(f); f != "" {
			features = append(features, f)
		}
	}

	return ReferenceAnalysis{
		Role:        domain.ParseRole(rr.Role),
		Description: desc,
		KeyFeatures: features,
	}, nil
}
