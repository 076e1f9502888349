package domain

import "strings"

// ReferenceRole は参照画像の意味的な役割です。
type ReferenceRole string

const (
	RoleCharacter   ReferenceRole = "character"
	RoleEnvironment ReferenceRole = "environment"
	RoleStyle       ReferenceRole = "style"
	RoleProduct     ReferenceRole = "product"
	RoleUnknown     ReferenceRole = "unknown"
)

// ParseRole は文字列を役割に変換します。未知の値は RoleUnknown になります。
func ParseRole(s string) ReferenceRole {
	switch r := ReferenceRole(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleCharacter, RoleEnvironment, RoleStyle, RoleProduct:
		return r
	case "subject":
		return RoleCharacter
	}
	return RoleUnknown
}

// Reference は ReferenceAnalyzer が分類した参照画像です。生成後は不変です。
type Reference struct {
	ID          string        `json:"id"`
	SourceURL   string        `json:"source_url"`
	Role        ReferenceRole `json:"role"`
	Description string        `json:"description"`
	KeyFeatures []string      `json:"key_features"`
	Usable      bool          `json:"usable"`
	Error       string        `json:"error,omitempty"`
}

// References は Reference のスライスに対するヘルパーを提供します。
type References []Reference

// SubjectURLs はフレームのプロンプトに載せる人物・商品の参照 URL を返します。
func (rs References) SubjectURLs() []string {
	var urls []string
	for _, r := range rs.Subjects() {
		urls = append(urls, r.SourceURL)
	}
	return urls
}

// Subjects は利用可能な character / product の参照のみを返します。
func (rs References) Subjects() References {
	var out References
	for _, r := range rs {
		if !r.Usable {
			continue
		}
		if r.Role == RoleCharacter || r.Role == RoleProduct {
			out = append(out, r)
		}
	}
	return out
}

// ByRole は指定した役割の利用可能な参照を返します。
func (rs References) ByRole(role ReferenceRole) References {
	var out References
	for _, r := range rs {
		if r.Usable && r.Role == role {
			out = append(out, r)
		}
	}
	return out
}
