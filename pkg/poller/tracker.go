package poller

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shouni/go-storyboard-kit/pkg/domain"
	"github.com/shouni/go-storyboard-kit/pkg/provider"
	"github.com/shouni/go-storyboard-kit/pkg/retry"
)

// Outcome はタスクの終端結果の種類です。1つのタスクは必ずいずれか1つに到達します。
type Outcome string

const (
	OutcomeSuccess         Outcome = "success"
	OutcomeProviderFailure Outcome = "provider_failure"
	OutcomeTimeout         Outcome = "timeout"
)

// Source は「投入 → 状態問い合わせ」型のプロバイダ呼び出しを抽象化します。
// 何を生成するタスクかは関知しません。
type Source interface {
	Submit(ctx context.Context) (provider.Submission, error)
	Poll(ctx context.Context, taskID string) (provider.PollResult, error)
}

// SourceFuncs は関数の組を Source として扱うためのアダプタです。
type SourceFuncs struct {
	SubmitFunc func(ctx context.Context) (provider.Submission, error)
	PollFunc   func(ctx context.Context, taskID string) (provider.PollResult, error)
}

func (s SourceFuncs) Submit(ctx context.Context) (provider.Submission, error) {
	return s.SubmitFunc(ctx)
}

func (s SourceFuncs) Poll(ctx context.Context, taskID string) (provider.PollResult, error) {
	return s.PollFunc(ctx, taskID)
}

// Result は1タスク分の終端結果です。Err は成功時 nil、
// 失敗時 *domain.ProviderError、タイムアウト時 *domain.TimeoutError です。
type Result struct {
	Outcome Outcome
	Task    *domain.GenerationTask
	Err     error
}

// URL は成功時の結果 URL を返します。
func (r Result) URL() string {
	if r.Outcome != OutcomeSuccess || r.Task == nil {
		return ""
	}
	return r.Task.ResultURL
}

type phase int

const (
	phaseSubmit phase = iota
	phasePoll
	phaseDone
)

// Tracker は1タスクの状態機械です。Submit で投入し、Step で1回ずつポーリングを進めます。
// スレッドセーフではないため、1つのゴルーチンから駆動してください。
type Tracker struct {
	src     Source
	cfg     Config
	policy  retry.Policy
	task    *domain.GenerationTask
	phase   phase
	started time.Time
	result  Result
	now     func() time.Time
	logger  *slog.Logger
}

// NewTracker は pending 状態のタスクを持つ Tracker を生成します。
func NewTracker(kind domain.TaskKind, src Source, cfg Config, policy retry.Policy) *Tracker {
	return &Tracker{
		src:    src,
		cfg:    cfg,
		policy: policy,
		task:   domain.NewGenerationTask(kind),
		phase:  phaseSubmit,
		now:    time.Now,
		logger: slog.With("task_kind", kind),
	}
}

// Task は追跡中のタスクを返します。
func (t *Tracker) Task() *domain.GenerationTask { return t.task }

// Done は終端結果に到達したかを返します。
func (t *Tracker) Done() bool { return t.phase == phaseDone }

// Result は終端結果を返します。Done が false の間は空の値です。
func (t *Tracker) Result() Result { return t.result }

// Submit はタスクを投入します。一時エラーは Policy に従って再試行します。
// 同期型プロバイダが URL を返した場合はポーリングせずに成功となります。
func (t *Tracker) Submit(ctx context.Context) {
	if t.phase != phaseSubmit {
		return
	}

	sub, err := retry.Do(ctx, t.policy, t.src.Submit)
	if err != nil {
		t.finishFailure(asProviderError("submit", err))
		return
	}

	t.task.ID = sub.TaskID
	t.started = t.now()
	if sub.Completed() {
		t.finishSuccess(sub.URL)
		return
	}
	if sub.TaskID == "" {
		t.finishFailure(&domain.ProviderError{Op: "submit", Err: errors.New("task id is empty")})
		return
	}
	_ = t.task.Advance(domain.TaskProcessing)
	t.phase = phasePoll
	t.logger = t.logger.With("task_id", sub.TaskID)
}

// Step はポーリングを1回進め、終端に到達したら true を返します。
// 状態問い合わせ自体のエラーは終端扱いせず、上限に達するまで継続します。
func (t *Tracker) Step(ctx context.Context) bool {
	if t.phase != phasePoll {
		return t.phase == phaseDone
	}

	t.task.Attempts++
	res, err := t.src.Poll(ctx, t.task.ID)
	switch {
	case err != nil:
		t.logger.DebugContext(ctx, "状態問い合わせに失敗しました。継続します", "attempt", t.task.Attempts, "error", err)
	case res.State == provider.PollSucceeded:
		if res.URL == "" {
			t.finishFailure(&domain.ProviderError{Op: "poll", Err: errors.New("succeeded without result url")})
			return true
		}
		t.finishSuccess(res.URL)
		return true
	case res.State == provider.PollFailed:
		reason := res.Reason
		if reason == "" {
			reason = "provider reported failure"
		}
		t.finishFailure(&domain.ProviderError{Op: "poll", Err: errors.New(reason)})
		return true
	}

	elapsed := t.now().Sub(t.started)
	if t.task.Attempts >= t.cfg.MaxAttempts || (t.cfg.Timeout > 0 && elapsed >= t.cfg.Timeout) {
		t.finishTimeout(elapsed)
		return true
	}
	return false
}

// Abandon は外部からの中断でタスクの追跡を打ち切り、タイムアウトとして確定させます。
func (t *Tracker) Abandon() {
	if t.phase == phaseDone {
		return
	}
	var elapsed time.Duration
	if !t.started.IsZero() {
		elapsed = t.now().Sub(t.started)
	}
	t.finishTimeout(elapsed)
}

func (t *Tracker) finishSuccess(url string) {
	_ = t.task.Succeed(url)
	t.phase = phaseDone
	t.result = Result{Outcome: OutcomeSuccess, Task: t.task}
}

func (t *Tracker) finishFailure(err *domain.ProviderError) {
	_ = t.task.Fail(err.Error())
	t.phase = phaseDone
	t.result = Result{Outcome: OutcomeProviderFailure, Task: t.task, Err: err}
}

func (t *Tracker) finishTimeout(elapsed time.Duration) {
	terr := &domain.TimeoutError{TaskID: t.task.ID, Attempts: t.task.Attempts, Elapsed: elapsed}
	_ = t.task.Fail(terr.Error())
	t.phase = phaseDone
	t.result = Result{Outcome: OutcomeTimeout, Task: t.task, Err: terr}
}

func asProviderError(op string, err error) *domain.ProviderError {
	var pe *domain.ProviderError
	if errors.As(err, &pe) {
		return pe
	}
	return &domain.ProviderError{Op: op, Err: err}
}
