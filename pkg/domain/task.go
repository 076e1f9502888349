package domain

import (
	"fmt"
	"time"
)

// TaskKind は外部ジョブの種類です。
type TaskKind string

const (
	TaskImage TaskKind = "image"
	TaskVideo TaskKind = "video"
)

// TaskStatus は外部ジョブの状態です。状態は前にのみ進みます。
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskProcessing TaskStatus = "processing"
	TaskDone       TaskStatus = "done"
	TaskError      TaskStatus = "error"
)

func (s TaskStatus) rank() int {
	switch s {
	case TaskPending:
		return 0
	case TaskProcessing:
		return 1
	case TaskDone, TaskError:
		return 2
	}
	return -1
}

// IsTerminal は done / error のいずれかであるかを返します。
func (s TaskStatus) IsTerminal() bool {
	return s == TaskDone || s == TaskError
}

// GenerationTask は外部プロバイダ上の1つの非同期ジョブを表します。
type GenerationTask struct {
	ID        string     `json:"id"`
	Kind      TaskKind   `json:"kind"`
	Status    TaskStatus `json:"status"`
	ResultURL string     `json:"result_url,omitempty"`
	Error     string     `json:"error,omitempty"`
	Attempts  int        `json:"attempts"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// NewGenerationTask は pending 状態のタスクを生成します。
func NewGenerationTask(kind TaskKind) *GenerationTask {
	now := time.Now()
	return &GenerationTask{
		Kind:      kind,
		Status:    TaskPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Advance は状態を遷移させます。後退や終端からの遷移はエラーになります。
func (t *GenerationTask) Advance(next TaskStatus) error {
	if next.rank() < 0 {
		return fmt.Errorf("unknown task status %q", next)
	}
	if t.Status.IsTerminal() {
		if t.Status == next {
			return nil
		}
		return fmt.Errorf("task %s is already %s, cannot move to %s", t.ID, t.Status, next)
	}
	if next.rank() < t.Status.rank() {
		return fmt.Errorf("task %s cannot move back from %s to %s", t.ID, t.Status, next)
	}
	t.Status = next
	t.UpdatedAt = time.Now()
	return nil
}

// Succeed はタスクを done にして結果 URL を記録します。
func (t *GenerationTask) Succeed(url string) error {
	if err := t.Advance(TaskDone); err != nil {
		return err
	}
	t.ResultURL = url
	return nil
}

// Fail はタスクを error にして理由を記録します。
func (t *GenerationTask) Fail(reason string) error {
	if err := t.Advance(TaskError); err != nil {
		return err
	}
	t.Error = reason
	return nil
}
