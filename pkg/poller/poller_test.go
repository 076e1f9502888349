package poller

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shouni/go-storyboard-kit/pkg/domain"
	"github.com/shouni/go-storyboard-kit/pkg/provider"
	"github.com/shouni/go-storyboard-kit/pkg/retry"
)

// scriptedSource は waits 回 waiting を返した後に final を返す Source です。
type scriptedSource struct {
	submits   atomic.Int32
	polls     atomic.Int32
	waits     int
	final     provider.PollResult
	pollErr   error
	submitErr error
	sync      string
}

func (s *scriptedSource) Submit(ctx context.Context) (provider.Submission, error) {
	s.submits.Add(1)
	if s.submitErr != nil {
		return provider.Submission{}, s.submitErr
	}
	if s.sync != "" {
		return provider.Submission{URL: s.sync}, nil
	}
	return provider.Submission{TaskID: "task-1"}, nil
}

func (s *scriptedSource) Poll(ctx context.Context, taskID string) (provider.PollResult, error) {
	n := int(s.polls.Add(1))
	if s.pollErr != nil {
		return provider.PollResult{}, s.pollErr
	}
	if n <= s.waits {
		return provider.PollResult{State: provider.PollWaiting}, nil
	}
	return s.final, nil
}

func testPoller(attempts int) *Poller {
	return New(Config{Interval: time.Millisecond, MaxAttempts: attempts}, retry.Policy{MaxAttempts: 1}, nil)
}

func TestPoller_Await(t *testing.T) {
	ctx := context.Background()
	success := provider.PollResult{State: provider.PollSucceeded, URL: "https://cdn.example.com/v.mp4"}

	t.Run("29回待機後30回目で成功すると Success になります", func(t *testing.T) {
		src := &scriptedSource{waits: 29, final: success}
		res := testPoller(30).Await(ctx, domain.TaskVideo, src)
		if res.Outcome != OutcomeSuccess {
			t.Fatalf("期待値: success, 実際の値: %s (%v)", res.Outcome, res.Err)
		}
		if res.URL() != success.URL {
			t.Errorf("期待値: %s, 実際の値: %s", success.URL, res.URL())
		}
		if got := src.polls.Load(); got != 30 {
			t.Errorf("ポーリング回数 期待値: 30, 実際の値: %d", got)
		}
	})

	t.Run("31回連続で待機すると Timeout になり URL は返りません", func(t *testing.T) {
		src := &scriptedSource{waits: 31, final: success}
		res := testPoller(30).Await(ctx, domain.TaskVideo, src)
		if res.Outcome != OutcomeTimeout {
			t.Fatalf("期待値: timeout, 実際の値: %s", res.Outcome)
		}
		if res.URL() != "" {
			t.Errorf("タイムアウトで URL が返されました: %s", res.URL())
		}
		var terr *domain.TimeoutError
		if !errors.As(res.Err, &terr) || terr.Attempts != 30 {
			t.Errorf("TimeoutError(30) が期待されましたが: %v", res.Err)
		}
		if got := src.polls.Load(); got != 30 {
			t.Errorf("ポーリング回数 期待値: 30, 実際の値: %d", got)
		}
	})

	t.Run("プロバイダ失敗は ProviderFailure になります", func(t *testing.T) {
		src := &scriptedSource{waits: 2, final: provider.PollResult{State: provider.PollFailed, Reason: "nsfw"}}
		res := testPoller(30).Await(ctx, domain.TaskImage, src)
		if res.Outcome != OutcomeProviderFailure {
			t.Fatalf("期待値: provider_failure, 実際の値: %s", res.Outcome)
		}
		var pe *domain.ProviderError
		if !errors.As(res.Err, &pe) {
			t.Errorf("ProviderError が期待されましたが: %T", res.Err)
		}
		if res.Task.Status != domain.TaskError || res.Task.Error == "" {
			t.Errorf("タスク状態が不正です: %+v", res.Task)
		}
	})

	t.Run("状態問い合わせのエラーは握りつぶされ最終的に Timeout になります", func(t *testing.T) {
		src := &scriptedSource{pollErr: &domain.ProviderError{StatusCode: 502, Transient: true}}
		res := testPoller(5).Await(ctx, domain.TaskVideo, src)
		if res.Outcome != OutcomeTimeout {
			t.Fatalf("期待値: timeout, 実際の値: %s", res.Outcome)
		}
		if got := src.polls.Load(); got != 5 {
			t.Errorf("ポーリング回数 期待値: 5, 実際の値: %d", got)
		}
	})

	t.Run("同期型の投入結果はポーリングしません", func(t *testing.T) {
		src := &scriptedSource{sync: "https://cdn.example.com/a.png"}
		res := testPoller(30).Await(ctx, domain.TaskImage, src)
		if res.Outcome != OutcomeSuccess || res.URL() != src.sync {
			t.Fatalf("期待値: success, 実際の値: %s %q", res.Outcome, res.URL())
		}
		if got := src.polls.Load(); got != 0 {
			t.Errorf("ポーリング回数 期待値: 0, 実際の値: %d", got)
		}
	})

	t.Run("投入の一時エラーは再試行されます", func(t *testing.T) {
		calls := 0
		src := SourceFuncs{
			SubmitFunc: func(ctx context.Context) (provider.Submission, error) {
				calls++
				if calls == 1 {
					return provider.Submission{}, &domain.ProviderError{StatusCode: 503, Transient: true}
				}
				return provider.Submission{URL: "u"}, nil
			},
			PollFunc: func(ctx context.Context, id string) (provider.PollResult, error) {
				return provider.PollResult{}, nil
			},
		}
		p := New(Config{Interval: time.Millisecond, MaxAttempts: 3}, retry.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond}, nil)
		res := p.Await(ctx, domain.TaskImage, src)
		if res.Outcome != OutcomeSuccess || calls != 2 {
			t.Errorf("期待値: success/2回, 実際の値: %s/%d", res.Outcome, calls)
		}
	})

	t.Run("投入の恒久エラーは ProviderFailure になります", func(t *testing.T) {
		src := &scriptedSource{submitErr: errors.New("bad request")}
		res := testPoller(30).Await(ctx, domain.TaskImage, src)
		if res.Outcome != OutcomeProviderFailure {
			t.Fatalf("期待値: provider_failure, 実際の値: %s", res.Outcome)
		}
	})

	t.Run("コンテキストのキャンセルは Timeout として確定します", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		src := &scriptedSource{waits: 100}
		res := New(Config{Interval: time.Hour, MaxAttempts: 30}, retry.Policy{MaxAttempts: 1}, nil).Await(cctx, domain.TaskVideo, src)
		if res.Outcome != OutcomeTimeout {
			t.Fatalf("期待値: timeout, 実際の値: %s", res.Outcome)
		}
	})
}

func TestTracker_WallClockTimeout(t *testing.T) {
	src := &scriptedSource{waits: 100}
	tr := NewTracker(domain.TaskVideo, src, Config{Interval: 2 * time.Second, MaxAttempts: 30, Timeout: 60 * time.Second}, retry.Policy{MaxAttempts: 1})

	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return clock }
	tr.Submit(context.Background())

	for i := 0; i < 10; i++ {
		clock = clock.Add(2 * time.Second)
		if tr.Step(context.Background()) {
			t.Fatalf("%d回目で予期せず終端に到達しました", i+1)
		}
	}
	clock = clock.Add(45 * time.Second)
	if !tr.Step(context.Background()) {
		t.Fatal("経過時間の上限で終端に到達しませんでした")
	}
	if tr.Result().Outcome != OutcomeTimeout {
		t.Errorf("期待値: timeout, 実際の値: %s", tr.Result().Outcome)
	}
}

func TestTracker_NeverReentersPending(t *testing.T) {
	src := &scriptedSource{waits: 1, final: provider.PollResult{State: provider.PollSucceeded, URL: "u"}}
	tr := NewTracker(domain.TaskImage, src, Config{Interval: time.Millisecond, MaxAttempts: 5}, retry.Policy{MaxAttempts: 1})

	seen := []domain.TaskStatus{tr.Task().Status}
	tr.Submit(context.Background())
	seen = append(seen, tr.Task().Status)
	for !tr.Step(context.Background()) {
		seen = append(seen, tr.Task().Status)
	}
	seen = append(seen, tr.Task().Status)

	for i := 1; i < len(seen); i++ {
		if seen[i] == domain.TaskPending {
			t.Fatalf("%d番目の遷移で pending に戻りました: %v", i, seen)
		}
	}
	// 終端後の Step は状態を変えません
	if !tr.Step(context.Background()) || tr.Task().Status != domain.TaskDone {
		t.Errorf("終端後の状態が変化しました: %s", tr.Task().Status)
	}
}

func TestStatusOf(t *testing.T) {
	if StatusOf(provider.PollResult{State: provider.PollWaiting}) != domain.TaskProcessing {
		t.Error("waiting は processing になるべきです")
	}
	if StatusOf(provider.PollResult{State: provider.PollSucceeded}) != domain.TaskDone {
		t.Error("succeeded は done になるべきです")
	}
	if StatusOf(provider.PollResult{State: provider.PollFailed}) != domain.TaskError {
		t.Error("failed は error になるべきです")
	}
}
