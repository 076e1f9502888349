// Package poller は遅い外部ジョブ API 向けの「投入 → ポーリング → 終端結果」クライアントです。
package poller

import (
	"context"
	"log/slog"
	"time"

	"github.com/shouni/go-storyboard-kit/pkg/config"
	"github.com/shouni/go-storyboard-kit/pkg/domain"
	"github.com/shouni/go-storyboard-kit/pkg/metrics"
	"github.com/shouni/go-storyboard-kit/pkg/provider"
	"github.com/shouni/go-storyboard-kit/pkg/retry"
)

// Config はポーリング上限です。
type Config struct {
	Interval    time.Duration
	MaxAttempts int
	Timeout     time.Duration
}

// ConfigFrom は共通設定からポーリング上限を取り出します。
func ConfigFrom(cfg config.Config) Config {
	return Config{
		Interval:    cfg.PollInterval,
		MaxAttempts: cfg.PollMaxAttempts,
		Timeout:     cfg.PollTimeout,
	}
}

// Poller は Tracker をタイマーで駆動します。
type Poller struct {
	cfg     Config
	policy  retry.Policy
	metrics *metrics.Metrics
}

// New は Poller を生成します。
func New(cfg Config, policy retry.Policy, m *metrics.Metrics) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = config.DefaultPollInterval
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = config.DefaultPollMaxAttempts
	}
	return &Poller{cfg: cfg, policy: policy, metrics: m}
}

// Track は未投入の Tracker を生成します。独自のスケジューラで駆動する場合に使います。
func (p *Poller) Track(kind domain.TaskKind, src Source) *Tracker {
	return NewTracker(kind, src, p.cfg, p.policy)
}

// Await はタスクを投入し、一定間隔でポーリングして終端結果を返します。
// 戻り値は必ず Success / ProviderFailure / Timeout のいずれか1つです。
func (p *Poller) Await(ctx context.Context, kind domain.TaskKind, src Source) Result {
	tr := p.Track(kind, src)
	tr.Submit(ctx)
	if !tr.Done() {
		ticker := time.NewTicker(p.cfg.Interval)
		defer ticker.Stop()
	loop:
		for {
			select {
			case <-ctx.Done():
				tr.Abandon()
				break loop
			case <-ticker.C:
				if tr.Step(ctx) {
					break loop
				}
			}
		}
	}

	res := tr.Result()
	p.metrics.PollOutcome(string(kind), string(res.Outcome), res.Task.Attempts)
	if res.Outcome == OutcomeTimeout {
		slog.WarnContext(ctx, "タスクがポーリング上限までに完了しませんでした",
			"task_kind", kind,
			"task_id", res.Task.ID,
			"attempts", res.Task.Attempts)
	}
	return res
}

// StatusOf は1回分のポーリング結果をタスク状態に変換します。
// 別経路の状態問い合わせ (check_status) で使います。
func StatusOf(res provider.PollResult) domain.TaskStatus {
	switch res.State {
	case provider.PollSucceeded:
		return domain.TaskDone
	case provider.PollFailed:
		return domain.TaskError
	}
	return domain.TaskProcessing
}
