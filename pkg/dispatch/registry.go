package dispatch

import (
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

// JobRecord は状態問い合わせで返すジョブの記録です。
type JobRecord struct {
	Job       Job       `json:"job"`
	State     JobState  `json:"state"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// JobRegistry はジョブの状態を保持します。一定時間で期限切れになります。
type JobRegistry struct {
	mu    sync.Mutex
	cache *cache.Cache
}

// NewJobRegistry は ttl で期限切れになる JobRegistry を生成します。
func NewJobRegistry(ttl time.Duration) *JobRegistry {
	return &JobRegistry{cache: cache.New(ttl, ttl/2)}
}

// Set はジョブの状態を記録します。
func (r *JobRegistry) Set(job Job, state JobState, err error) {
	rec := JobRecord{Job: job, State: state, UpdatedAt: time.Now()}
	if err != nil {
		rec.Error = err.Error()
	}
	r.mu.Lock()
	r.cache.SetDefault(job.ID, rec)
	r.mu.Unlock()
}

// Get はジョブの記録を返します。
func (r *JobRegistry) Get(id string) (JobRecord, bool) {
	v, ok := r.cache.Get(id)
	if !ok {
		return JobRecord{}, false
	}
	return v.(JobRecord), true
}
