package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/shouni/go-storyboard-kit/pkg/domain"
)

// DefaultQueueGroup は同じサブジェクトを購読するワーカー間で負荷分散するキューグループ名です。
const DefaultQueueGroup = "storyboard-workers"

// NATSConn は NATSDispatcher が使う *nats.Conn のメソッドです。
type NATSConn interface {
	Publish(subject string, data []byte) error
	QueueSubscribe(subject, queue string, cb nats.MsgHandler) (*nats.Subscription, error)
	Drain() error
}

// NATSDispatcher は NATS のキューサブスクリプションでジョブを配送します。
// 投入したプロセスと実行するプロセスが別でも構いません。
type NATSDispatcher struct {
	conn        NATSConn
	subject     string
	queue       string
	maxAttempts int
	registry    *JobRegistry

	mu     sync.Mutex
	closed bool
	sub    *nats.Subscription
}

var _ Dispatcher = (*NATSDispatcher)(nil)

// ConnectNATS は url の NATS サーバーに接続します。
func ConnectNATS(url string) (*nats.Conn, error) {
	nc, err := nats.Connect(url, nats.Name("go-storyboard-kit"), nats.MaxReconnects(5))
	if err != nil {
		return nil, fmt.Errorf("NATS への接続に失敗しました: %w", err)
	}
	return nc, nil
}

// NewNATSDispatcher は NATSDispatcher を生成します。
func NewNATSDispatcher(conn NATSConn, subject string, maxAttempts int, registry *JobRegistry) *NATSDispatcher {
	return &NATSDispatcher{
		conn:        conn,
		subject:     subject,
		queue:       DefaultQueueGroup,
		maxAttempts: max(maxAttempts, 1),
		registry:    registry,
	}
}

func (d *NATSDispatcher) Start(ctx context.Context, handler Handler) error {
	if handler == nil {
		return errors.New("handler は必須です")
	}
	sub, err := d.conn.QueueSubscribe(d.subject, d.queue, func(msg *nats.Msg) {
		var job Job
		if err := json.Unmarshal(msg.Data, &job); err != nil {
			slog.ErrorContext(ctx, "Malformed job message", "subject", msg.Subject, "error", err)
			return
		}
		d.run(ctx, handler, job)
	})
	if err != nil {
		return fmt.Errorf("QueueSubscribe %s: %w", d.subject, err)
	}
	d.mu.Lock()
	d.sub = sub
	d.mu.Unlock()
	return nil
}

func (d *NATSDispatcher) Dispatch(ctx context.Context, job Job) error {
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	d.registry.Set(job, JobQueued, nil)
	return d.publish(job)
}

func (d *NATSDispatcher) publish(job Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := d.conn.Publish(d.subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", d.subject, err)
	}
	return nil
}

// run はジョブを1回実行し、失敗時は試行回数を増やして再発行します。
func (d *NATSDispatcher) run(ctx context.Context, handler Handler, job Job) {
	logger := slog.With("job_id", job.ID, "job_kind", job.Kind, "project_id", job.ProjectID)
	job.Attempt++
	d.registry.Set(job, JobRunning, nil)

	err := handler(ctx, job)
	if err == nil {
		d.registry.Set(job, JobSucceeded, nil)
		logger.InfoContext(ctx, "Job finished", "attempt", job.Attempt)
		return
	}
	if job.Attempt >= d.maxAttempts || domain.IsFatal(err) {
		d.registry.Set(job, JobFailed, err)
		logger.ErrorContext(ctx, "Job failed", "attempt", job.Attempt, "error", err)
		return
	}

	logger.WarnContext(ctx, "Job failed; republishing", "attempt", job.Attempt, "error", err)
	d.registry.Set(job, JobQueued, err)
	if perr := d.publish(job); perr != nil {
		d.registry.Set(job, JobFailed, errors.Join(err, perr))
	}
}

func (d *NATSDispatcher) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	return d.conn.Drain()
}
