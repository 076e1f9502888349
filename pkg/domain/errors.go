package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ValidationError は入力の不備や構造的に不正な計画を表します。実行全体を中断します。
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation error: " + e.Reason
	}
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Reason)
}

// PlanningError は有効な計画が得られなかったことを表します。
type PlanningError struct {
	Err error
}

func (e *PlanningError) Error() string {
	return fmt.Sprintf("planning failed: %v", e.Err)
}

func (e *PlanningError) Unwrap() error { return e.Err }

// ProviderError は外部プロバイダ呼び出しの失敗です。
// Transient が true の場合のみリトライ対象になります。
type ProviderError struct {
	Provider   string
	Op         string
	StatusCode int
	Transient  bool
	Err        error
}

func (e *ProviderError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s failed", e.Provider, e.Op)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *ProviderError) Unwrap() error { return e.Err }

// IsTransientStatus は HTTP ステータスが一時的な失敗かを判定します。
func IsTransientStatus(code int) bool {
	return code == 408 || code == 429 || code >= 500
}

// TimeoutError はポーリング上限を使い切ったことを表します。
type TimeoutError struct {
	TaskID   string
	Attempts int
	Elapsed  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("task %s timed out after %d polls (%s)", e.TaskID, e.Attempts, e.Elapsed.Round(time.Millisecond))
}

// UnitFailure は背景・フレーム・動画など1ユニット分の失敗記録です。
type UnitFailure struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
	Err  string `json:"error"`
}

// PartialFailure は兄弟ユニットが成功する中で失敗したユニットの一覧です。
// 実行全体のエラーとしては返さず、結果に記録します。
type PartialFailure struct {
	Failures []UnitFailure
}

func (e *PartialFailure) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s %s: %s", f.Kind, f.ID, f.Err))
	}
	return fmt.Sprintf("%d unit(s) failed: %s", len(e.Failures), strings.Join(parts, "; "))
}

// IsTransient はリトライで回復しうるエラーかを判定します。
func IsTransient(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Transient
	}
	return false
}

// IsFatal はシーケンス全体を中断すべきエラーかを判定します。
func IsFatal(err error) bool {
	var ve *ValidationError
	var ple *PlanningError
	return errors.As(err, &ve) || errors.As(err, &ple)
}
