package datasync

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/rendis/autoflow/internal/logging"
	"github.com/rendis/autoflow/internal/store"
)

// SubjectSyncCompleted carries completions of syncs run outside a tick.
const SubjectSyncCompleted = "autoflow.sync.completed"

const listenerQueueGroup = "autoflow-cascade"

// Completed is the payload published on SubjectSyncCompleted.
type Completed struct {
	SyncScheduleID string `json:"sync_schedule_id"`
	DataModelID    string `json:"data_model_id"`
	Success        bool   `json:"success"`
}

// Cascader runs the workflows that depend on a successful sync and returns
// how many executions it started.
type Cascader interface {
	CascadeSync(ctx context.Context, job *store.SyncSchedule) int
}

// Subscriber is the subset of *nats.Conn the listener needs.
type Subscriber interface {
	QueueSubscribe(subject, queue string, cb nats.MsgHandler) (*nats.Subscription, error)
}

// SyncLookup loads a sync schedule by id.
type SyncLookup interface {
	GetSyncSchedule(ctx context.Context, id string) (*store.SyncSchedule, error)
}

// Listener cascades sync completions received over NATS.
type Listener struct {
	conn     Subscriber
	lookup   SyncLookup
	cascader Cascader
	logger   *slog.Logger
	timeout  time.Duration
	sub      *nats.Subscription
}

// NewListener creates a Listener. timeout bounds each cascade.
func NewListener(conn Subscriber, lookup SyncLookup, cascader Cascader, timeout time.Duration, logger *slog.Logger) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &Listener{conn: conn, lookup: lookup, cascader: cascader, logger: logger, timeout: timeout}
}

// Start subscribes with a queue group so each completion cascades once
// across replicas.
func (l *Listener) Start() error {
	sub, err := l.conn.QueueSubscribe(SubjectSyncCompleted, listenerQueueGroup, func(msg *nats.Msg) {
		ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
		defer cancel()
		if _, err := l.Handle(ctx, msg.Data); err != nil {
			l.logger.Warn("sync completion ignored", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", SubjectSyncCompleted, err)
	}
	l.sub = sub
	return nil
}

// Stop drains the subscription.
func (l *Listener) Stop() error {
	if l.sub == nil {
		return nil
	}
	return l.sub.Drain()
}

// Handle decodes one completion and cascades it when it reports success.
// It returns the number of executions started.
func (l *Listener) Handle(ctx context.Context, data []byte) (int, error) {
	var c Completed
	if err := json.Unmarshal(data, &c); err != nil {
		return 0, fmt.Errorf("decode sync completion: %w", err)
	}
	if c.SyncScheduleID == "" && c.DataModelID == "" {
		return 0, fmt.Errorf("sync completion carries neither sync_schedule_id nor data_model_id")
	}
	if !c.Success {
		return 0, nil
	}

	job := &store.SyncSchedule{ID: c.SyncScheduleID, DataModelID: c.DataModelID}
	if c.SyncScheduleID != "" {
		loaded, err := l.lookup.GetSyncSchedule(ctx, c.SyncScheduleID)
		if err != nil {
			return 0, fmt.Errorf("load sync schedule %s: %w", c.SyncScheduleID, err)
		}
		job = loaded
	}

	ctx = logging.WithSyncID(ctx, job.ID)
	n := l.cascader.CascadeSync(ctx, job)
	l.logger.InfoContext(ctx, "sync completion cascaded", "data_model_id", job.DataModelID, "executions", n)
	return n, nil
}
