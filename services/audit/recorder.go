package audit

import (
	"context"
	"encoding/json"
	"time"

	"ticketing-settlement/pkg/task"
	"ticketing-settlement/pkg/taskname"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Recorder is fire-and-forget: a failed write is logged and never reaches
// the financial operation it documents.
type Recorder interface {
	Record(ctx context.Context, entry Entry)
}

type NopRecorder struct{}

func (NopRecorder) Record(context.Context, Entry) {}

type DBRecorder struct {
	db   *gorm.DB
	node *snowflake.Node
	now  func() time.Time
}

func NewDBRecorder(db *gorm.DB, node *snowflake.Node) *DBRecorder {
	return &DBRecorder{db: db, node: node, now: time.Now}
}

func (r *DBRecorder) Record(ctx context.Context, entry Entry) {
	if err := r.Persist(context.WithoutCancel(ctx), entry); err != nil {
		logFailure(ctx, entry, err)
	}
}

// Persist writes one entry and returns the error, for the queue worker.
func (r *DBRecorder) Persist(ctx context.Context, entry Entry) error {
	row, err := r.toRow(entry)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Create(row).Error
}

func (r *DBRecorder) toRow(entry Entry) (*AuditLog, error) {
	meta := datatypes.JSON("{}")
	if len(entry.Metadata) > 0 {
		b, err := json.Marshal(entry.Metadata)
		if err != nil {
			return nil, err
		}
		meta = datatypes.JSON(b)
	}

	occurred := entry.OccurredAt
	if occurred.IsZero() {
		occurred = r.now()
	}

	return &AuditLog{
		ID:          r.node.Generate().String(),
		ActorID:     entry.ActorID,
		ActionType:  entry.ActionType,
		SubjectType: entry.SubjectType,
		SubjectID:   entry.SubjectID,
		Metadata:    meta,
		OccurredAt:  occurred.UTC(),
	}, nil
}

// QueueRecorder hands entries to the audit worker and writes directly
// when the queue refuses them.
type QueueRecorder struct {
	enqueuer task.Enqueuer
	queue    string
	fallback Recorder
}

func NewQueueRecorder(enqueuer task.Enqueuer, queue string, fallback Recorder) *QueueRecorder {
	if fallback == nil {
		fallback = NopRecorder{}
	}
	return &QueueRecorder{enqueuer: enqueuer, queue: queue, fallback: fallback}
}

func (r *QueueRecorder) Record(ctx context.Context, entry Entry) {
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = time.Now().UTC()
	}

	t, err := NewRecordTask(entry)
	if err == nil {
		_, err = r.enqueuer.Enqueue(t, asynq.Queue(r.queue), asynq.MaxRetry(10))
	}
	if err != nil {
		zap.L().Warn("audit enqueue failed, writing directly",
			zap.String("action_type", entry.ActionType),
			zap.String("subject_id", entry.SubjectID),
			zap.Error(err),
		)
		r.fallback.Record(ctx, entry)
	}
}

func NewRecordTask(entry Entry) (*asynq.Task, error) {
	payload, err := json.Marshal(entry)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskname.AuditRecord, payload), nil
}

func logFailure(ctx context.Context, entry Entry, err error) {
	span := trace.SpanFromContext(ctx)
	zap.L().Error("audit log write failed",
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("actor_id", entry.ActorID),
		zap.String("action_type", entry.ActionType),
		zap.String("subject_type", entry.SubjectType),
		zap.String("subject_id", entry.SubjectID),
		zap.Any("metadata", entry.Metadata),
		zap.Error(err),
	)
}
