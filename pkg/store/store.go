// Package store はプロジェクトとシーンの進捗を外部から観測できるように保存する状態ストアです。
package store

import (
	"context"

	"github.com/shouni/go-storyboard-kit/pkg/domain"
)

// ProjectStateStore はオーケストレーターが使う狭い読み書き契約です。スキーマは所有しません。
// Get 系のメソッドは、レコードが存在しない場合 (nil, nil) を返します。
type ProjectStateStore interface {
	// GetProject はプロジェクトを取得します。
	GetProject(ctx context.Context, projectID string) (*domain.Project, error)
	// UpdateProjectStatus はプロジェクトの状態と現在のステージを更新します。存在しない場合は作成します。
	UpdateProjectStatus(ctx context.Context, projectID string, status domain.ProjectStatus, stage string) error
	// UpsertScene はフレーム1つ分のシーンを書き込みます。
	UpsertScene(ctx context.Context, scene domain.Scene) error
	// ListScenes はプロジェクトのシーンをフレーム番号順に返します。
	ListScenes(ctx context.Context, projectID string) ([]domain.Scene, error)
}
