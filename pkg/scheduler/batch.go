// Package scheduler は同時実行数を制限したバッチ単位のドレイナーを提供します。
package scheduler

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// BatchScheduler はワークキューを最大 K 件ずつ取り出して並行実行し、
// バッチ全体が完了してから次のバッチを開始します。
type BatchScheduler struct {
	size    int
	limiter *rate.Limiter
}

// New は BatchScheduler を生成します。size が 1 未満の場合は 1 として扱います。
// limiter が nil の場合はディスパッチ間隔を制限しません。
func New(size int, limiter *rate.Limiter) *BatchScheduler {
	if size < 1 {
		size = 1
	}
	return &BatchScheduler{size: size, limiter: limiter}
}

// Size はバッチサイズ K を返します。
func (s *BatchScheduler) Size() int { return s.size }

// Drain は items を順にバッチへ分割して fn を実行します。
// fn の成否はユニット側で記録する前提のため、ここではエラーを集約しません。
// バッチの区切りでコンテキストが終了していれば、残りを投入せずに ctx.Err() を返します。
func Drain[T any](ctx context.Context, s *BatchScheduler, items []T, fn func(ctx context.Context, item T)) error {
	for start := 0; start < len(items); start += s.size {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(start+s.size, len(items))
		batch := items[start:end]

		slog.DebugContext(ctx, "バッチを開始します", "batch_start", start, "batch_size", len(batch), "total", len(items))

		var eg errgroup.Group
		for _, item := range batch {
			if s.limiter != nil {
				if err := s.limiter.Wait(ctx); err != nil {
					// 投入済みのユニットは完了を待ってから返します
					_ = eg.Wait()
					return err
				}
			}
			eg.Go(func() error {
				fn(ctx, item)
				return nil
			})
		}
		_ = eg.Wait()
	}
	return nil
}
