package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/shouni/go-storyboard-kit/pkg/domain"
)

func waitState(t *testing.T, r *JobRegistry, id string, want JobState) JobRecord {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if rec, ok := r.Get(id); ok && rec.State == want {
			return rec
		}
		time.Sleep(5 * time.Millisecond)
	}
	rec, _ := r.Get(id)
	t.Fatalf("期待値: %s, 実際の値: %+v", want, rec)
	return rec
}

func TestNewJob(t *testing.T) {
	job, err := NewJob(JobGenerate, "p1", map[string]int{"frames": 3})
	if err != nil {
		t.Fatal(err)
	}
	if job.ID == "" || job.Kind != JobGenerate || string(job.Payload) != `{"frames":3}` {
		t.Errorf("ジョブが一致しません: %+v", job)
	}
}

func TestLocalDispatcher(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	t.Run("成功したジョブは succeeded になります", func(t *testing.T) {
		reg := NewJobRegistry(time.Minute)
		d := NewLocalDispatcher(2, 4, 1, reg)
		var ran atomic.Int32
		if err := d.Start(ctx, func(ctx context.Context, job Job) error {
			ran.Add(1)
			return nil
		}); err != nil {
			t.Fatal(err)
		}

		job, _ := NewJob(JobGenerate, "p1", nil)
		if err := d.Dispatch(ctx, job); err != nil {
			t.Fatal(err)
		}
		waitState(t, reg, job.ID, JobSucceeded)
		_ = d.Close()
		if ran.Load() != 1 {
			t.Errorf("期待値: 1回, 実際の値: %d回", ran.Load())
		}
	})

	t.Run("失敗は最大試行回数まで再実行され、最後のエラーが記録されます", func(t *testing.T) {
		reg := NewJobRegistry(time.Minute)
		d := NewLocalDispatcher(1, 1, 3, reg)
		var ran atomic.Int32
		_ = d.Start(ctx, func(ctx context.Context, job Job) error {
			ran.Add(1)
			return errors.New("provider down")
		})

		job, _ := NewJob(JobAnimate, "p1", nil)
		_ = d.Dispatch(ctx, job)
		rec := waitState(t, reg, job.ID, JobFailed)
		_ = d.Close()

		if ran.Load() != 3 || rec.Job.Attempt != 3 || rec.Error != "provider down" {
			t.Errorf("期待値: 3回・エラー記録, 実際の値: %d回 %+v", ran.Load(), rec)
		}
	})

	t.Run("クローズ後の投入は ErrClosed になります", func(t *testing.T) {
		d := NewLocalDispatcher(1, 1, 1, NewJobRegistry(time.Minute))
		_ = d.Start(ctx, func(context.Context, Job) error { return nil })
		_ = d.Close()
		job, _ := NewJob(JobGenerate, "p1", nil)
		if err := d.Dispatch(ctx, job); !errors.Is(err, ErrClosed) {
			t.Errorf("期待値: ErrClosed, 実際の値: %v", err)
		}
	})
}

// fakeConn は Publish されたメッセージを購読中のハンドラへ非同期に配送します。
type fakeConn struct {
	mu      sync.Mutex
	cb      nats.MsgHandler
	publish atomic.Int32
	drained bool
}

func (c *fakeConn) Publish(subject string, data []byte) error {
	c.publish.Add(1)
	c.mu.Lock()
	cb := c.cb
	c.mu.Unlock()
	if cb != nil {
		go cb(&nats.Msg{Subject: subject, Data: data})
	}
	return nil
}

func (c *fakeConn) QueueSubscribe(subject, queue string, cb nats.MsgHandler) (*nats.Subscription, error) {
	c.mu.Lock()
	c.cb = cb
	c.mu.Unlock()
	return nil, nil
}

func (c *fakeConn) Drain() error {
	c.mu.Lock()
	c.drained = true
	c.mu.Unlock()
	return nil
}

func TestNATSDispatcher(t *testing.T) {
	ctx := context.Background()

	t.Run("ジョブは JSON で配送されて実行されます", func(t *testing.T) {
		conn := &fakeConn{}
		reg := NewJobRegistry(time.Minute)
		d := NewNATSDispatcher(conn, "storyboard.jobs", 1, reg)

		got := make(chan Job, 1)
		_ = d.Start(ctx, func(ctx context.Context, job Job) error {
			got <- job
			return nil
		})

		job, _ := NewJob(JobGenerate, "p1", map[string]string{"plan": "plan.json"})
		if err := d.Dispatch(ctx, job); err != nil {
			t.Fatal(err)
		}
		select {
		case j := <-got:
			if j.ID != job.ID || j.ProjectID != "p1" || j.Attempt != 1 {
				t.Errorf("ジョブが一致しません: %+v", j)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("ジョブが配送されませんでした")
		}
		waitState(t, reg, job.ID, JobSucceeded)
	})

	t.Run("失敗したジョブは再発行されます", func(t *testing.T) {
		conn := &fakeConn{}
		reg := NewJobRegistry(time.Minute)
		d := NewNATSDispatcher(conn, "storyboard.jobs", 2, reg)
		_ = d.Start(ctx, func(ctx context.Context, job Job) error {
			return errors.New("boom")
		})

		job, _ := NewJob(JobAnimate, "p1", nil)
		_ = d.Dispatch(ctx, job)
		rec := waitState(t, reg, job.ID, JobFailed)
		if rec.Job.Attempt != 2 || conn.publish.Load() != 2 {
			t.Errorf("期待値: 2回試行・2回発行, 実際の値: %d回 / %d回", rec.Job.Attempt, conn.publish.Load())
		}

		if err := d.Close(); err != nil || !conn.drained {
			t.Errorf("Close で Drain されるべきです: %v", err)
		}
		if err := d.Dispatch(ctx, job); !errors.Is(err, ErrClosed) {
			t.Errorf("期待値: ErrClosed, 実際の値: %v", err)
		}
	})
}

func TestLocalDispatcher_FatalErrorIsNotRetried(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := NewJobRegistry(time.Minute)
	d := NewLocalDispatcher(1, 1, 3, reg)
	var ran atomic.Int32
	_ = d.Start(ctx, func(ctx context.Context, job Job) error {
		ran.Add(1)
		return &domain.ValidationError{Field: "brief", Reason: "empty"}
	})

	job, _ := NewJob(JobGenerate, "p1", nil)
	_ = d.Dispatch(ctx, job)
	waitState(t, reg, job.ID, JobFailed)
	_ = d.Close()
	if ran.Load() != 1 {
		t.Errorf("期待値: 1回, 実際の値: %d回", ran.Load())
	}
}
