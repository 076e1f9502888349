package domain

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Brief はユーザーの創作指示で、計画生成の入力となる不変値です。
type Brief struct {
	Direction     string   `json:"direction" yaml:"direction"`
	Style         string   `json:"style" yaml:"style"`
	FrameCount    int      `json:"frame_count" yaml:"frame_count"`
	SeedImageURL  string   `json:"seed_image_url,omitempty" yaml:"seed_image_url,omitempty"`
	ReferenceURLs []string `json:"reference_urls,omitempty" yaml:"reference_urls,omitempty"`
	ElementsBoard string   `json:"elements_board,omitempty" yaml:"elements_board,omitempty"`
}

// Validate はブリーフの必須項目と上限を検証します。
func (b Brief) Validate(maxFrames int) error {
	if strings.TrimSpace(b.Direction) == "" {
		return &ValidationError{Field: "direction", Reason: "創作指示が空です"}
	}
	if b.FrameCount <= 0 {
		return &ValidationError{Field: "frame_count", Reason: "1 以上を指定してください"}
	}
	if maxFrames > 0 && b.FrameCount > maxFrames {
		return &ValidationError{Field: "frame_count", Reason: fmt.Sprintf("上限 %d を超えています (%d)", maxFrames, b.FrameCount)}
	}
	for i, u := range b.ReferenceURLs {
		if strings.TrimSpace(u) == "" {
			return &ValidationError{Field: fmt.Sprintf("reference_urls[%d]", i), Reason: "URL が空です"}
		}
	}
	return nil
}

// AllReferenceURLs はシード画像を含む参照画像 URL を重複なく返します。
func (b Brief) AllReferenceURLs() []string {
	seen := make(map[string]struct{})
	var urls []string
	add := func(u string) {
		u = strings.TrimSpace(u)
		if u == "" {
			return
		}
		if _, ok := seen[u]; ok {
			return
		}
		seen[u] = struct{}{}
		urls = append(urls, u)
	}
	add(b.SeedImageURL)
	for _, u := range b.ReferenceURLs {
		add(u)
	}
	return urls
}

// LoadBrief は YAML または JSON のブリーフファイルを読み込みます。
// JSON は YAML のサブセットのため、どちらも同じデコーダで扱えます。
func LoadBrief(path string) (*Brief, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("ブリーフファイル '%s' の読み込みに失敗しました: %w", path, err)
	}
	b, err := ParseBrief(data)
	if err != nil {
		return nil, fmt.Errorf("ブリーフファイル '%s' のデコードに失敗しました: %w", path, err)
	}
	return b, nil
}

// ParseBrief は YAML または JSON のバイト列をブリーフに変換します。
func ParseBrief(data []byte) (*Brief, error) {
	var b Brief
	if err := yaml.Unmarshal(data, &b); err != nil {
		return nil, err
	}
	return &b, nil
}
