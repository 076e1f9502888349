package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/shouni/go-storyboard-kit/pkg/domain"
)

const (
	projectPrefix = "project#"
	scenePrefix   = "scene#"
)

// MemoryStore は go-cache を使うプロセス内の ProjectStateStore です。
// 再起動で内容は失われますが、再開は計画ファイル側の結果 URL で行うため問題ありません。
type MemoryStore struct {
	mu    sync.Mutex
	cache *cache.Cache
	now   func() time.Time
}

var _ ProjectStateStore = (*MemoryStore)(nil)

// NewMemoryStore は ttl で期限切れになる MemoryStore を生成します。ttl が 0 以下なら期限なしです。
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	expiration := cache.NoExpiration
	cleanup := time.Duration(0)
	if ttl > 0 {
		expiration = ttl
		cleanup = ttl / 2
	}
	return &MemoryStore{cache: cache.New(expiration, cleanup), now: time.Now}
}

func sceneKey(projectID string, frame int) string {
	return fmt.Sprintf("%s%s#%04d", scenePrefix, projectID, frame)
}

func (s *MemoryStore) GetProject(ctx context.Context, projectID string) (*domain.Project, error) {
	v, ok := s.cache.Get(projectPrefix + projectID)
	if !ok {
		return nil, nil
	}
	p := v.(domain.Project)
	return &p, nil
}

func (s *MemoryStore) UpdateProjectStatus(ctx context.Context, projectID string, status domain.ProjectStatus, stage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	p := domain.Project{ID: projectID, CreatedAt: now}
	if v, ok := s.cache.Get(projectPrefix + projectID); ok {
		p = v.(domain.Project)
	}
	p.Status = status
	p.Stage = stage
	p.UpdatedAt = now
	s.cache.SetDefault(projectPrefix+projectID, p)
	return nil
}

func (s *MemoryStore) UpsertScene(ctx context.Context, scene domain.Scene) error {
	if scene.ProjectID == "" {
		return fmt.Errorf("シーンの ProjectID が空です")
	}
	scene.UpdatedAt = s.now()
	s.cache.SetDefault(sceneKey(scene.ProjectID, scene.FrameNumber), scene)
	return nil
}

func (s *MemoryStore) ListScenes(ctx context.Context, projectID string) ([]domain.Scene, error) {
	prefix := scenePrefix + projectID + "#"
	var scenes []domain.Scene
	for k, item := range s.cache.Items() {
		if strings.HasPrefix(k, prefix) {
			scenes = append(scenes, item.Object.(domain.Scene))
		}
	}
	sort.Slice(scenes, func(i, j int) bool { return scenes[i].FrameNumber < scenes[j].FrameNumber })
	return scenes, nil
}
