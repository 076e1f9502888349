// Package dispatch は生成ステージをリクエストから切り離して実行するためのジョブキューです。
// 失敗したジョブは記録され、状態を問い合わせて再投入できます。
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// JobKind はジョブの種類です。
type JobKind string

const (
	JobGenerate JobKind = "generate"
	JobAnimate  JobKind = "animate"
)

// JobState はジョブの状態です。
type JobState string

const (
	JobQueued    JobState = "queued"
	JobRunning   JobState = "running"
	JobSucceeded JobState = "succeeded"
	JobFailed    JobState = "failed"
)

// ErrClosed はクローズ済みの Dispatcher に投入したことを表します。
var ErrClosed = errors.New("dispatcher は停止しています")

// Job は1回分の非同期実行の単位です。Payload の解釈は Handler に任せます。
type Job struct {
	ID        string          `json:"id"`
	Kind      JobKind         `json:"kind"`
	ProjectID string          `json:"project_id"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Attempt   int             `json:"attempt"`
	CreatedAt time.Time       `json:"created_at"`
}

// NewJob は ID を採番した Job を生成します。
func NewJob(kind JobKind, projectID string, payload any) (Job, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return Job{}, err
		}
		raw = b
	}
	return Job{
		ID:        uuid.NewString(),
		Kind:      kind,
		ProjectID: projectID,
		Payload:   raw,
		CreatedAt: time.Now(),
	}, nil
}

// Handler はジョブを実行します。エラーを返すと再試行回数の範囲で再投入されます。
// domain.IsFatal に該当するエラーは再投入しません。
type Handler func(ctx context.Context, job Job) error

// Dispatcher はジョブを投入し、ワーカーで Handler を実行します。
type Dispatcher interface {
	// Start はワーカーを起動します。ctx が終了するとワーカーも停止します。
	Start(ctx context.Context, handler Handler) error
	// Dispatch はジョブを投入します。完了は待ちません。
	Dispatch(ctx context.Context, job Job) error
	// Close は新規投入を止め、実行中のジョブを待ちます。
	Close() error
}
