// Package retry は外部呼び出しに共通で使うバックオフ付きリトライを提供します。
package retry

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/shouni/go-storyboard-kit/pkg/config"
	"github.com/shouni/go-storyboard-kit/pkg/domain"
)

// Policy はリトライの試行回数と待機時間の方針です。
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	Jitter      float64
	// Retryable が nil の場合は domain.IsTransient で判定します。
	Retryable func(error) bool
}

// DefaultPolicy は 3 回まで、1 秒から倍々で待機する方針を返します。
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: config.DefaultRetryMaxAttempts,
		BaseDelay:   config.DefaultRetryBaseDelay,
		MaxDelay:    config.DefaultRetryMaxDelay,
		Multiplier:  2.0,
		Jitter:      config.DefaultRetryJitter,
	}
}

// PolicyFromConfig は Config のリトライ設定から Policy を組み立てます。
func PolicyFromConfig(cfg config.Config) Policy {
	p := DefaultPolicy()
	p.MaxAttempts = cfg.RetryMaxAttempts
	p.BaseDelay = cfg.RetryBaseDelay
	p.MaxDelay = cfg.RetryMaxDelay
	p.Jitter = cfg.RetryJitter
	return p
}

func (p Policy) newBackOff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.BaseDelay
	eb.RandomizationFactor = p.Jitter
	if p.Multiplier > 0 {
		eb.Multiplier = p.Multiplier
	}
	if p.MaxDelay > 0 {
		eb.MaxInterval = p.MaxDelay
	}
	eb.MaxElapsedTime = 0
	eb.Reset()

	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(attempts-1)), ctx)
}

// Do は op を Policy に従って実行します。
// 一時的でないエラーは即座に返し、試行回数を使い切った場合は最後のエラーを返します。
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	retryable := p.Retryable
	if retryable == nil {
		retryable = domain.IsTransient
	}

	attempt := 0
	return backoff.RetryNotifyWithData(func() (T, error) {
		attempt++
		v, err := op(ctx)
		if err != nil && !retryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, p.newBackOff(ctx), func(err error, wait time.Duration) {
		slog.DebugContext(ctx, "一時的なエラーのため再試行します",
			"attempt", attempt,
			"max_attempts", p.MaxAttempts,
			"wait", wait.Round(time.Millisecond),
			"error", err)
	})
}
