package audit

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"ticketing-settlement/pkg/task/mock"
	"ticketing-settlement/pkg/taskname"
	"ticketing-settlement/services/testutil"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newDBRecorder(t *testing.T) *DBRecorder {
	db := testutil.NewTestDB(t, &AuditLog{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return NewDBRecorder(db, node)
}

func countLogs(t *testing.T, r *DBRecorder) []AuditLog {
	var rows []AuditLog
	require.NoError(t, r.db.Order("id").Find(&rows).Error)
	return rows
}

func TestDBRecorderRecord(t *testing.T) {
	r := newDBRecorder(t)

	r.Record(context.Background(), Entry{
		ActorID:     "op_1",
		ActionType:  ActionPayoutSettled,
		SubjectType: SubjectEvent,
		SubjectID:   "evt_1",
		Metadata:    map[string]any{"amount": 13250, "currency": "NGN"},
	})

	rows := countLogs(t, r)
	require.Len(t, rows, 1)
	require.Equal(t, "op_1", rows[0].ActorID)
	require.Equal(t, ActionPayoutSettled, rows[0].ActionType)
	require.False(t, rows[0].OccurredAt.IsZero())

	var meta map[string]any
	require.NoError(t, json.Unmarshal(rows[0].Metadata, &meta))
	require.Equal(t, "NGN", meta["currency"])
}

func TestDBRecorderSwallowsFailures(t *testing.T) {
	r := newDBRecorder(t)
	sqlDB, err := r.db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	require.NotPanics(t, func() {
		r.Record(context.Background(), Entry{ActionType: ActionAdvanceSettled, SubjectID: "org_1"})
	})
}

func TestQueueRecorderEnqueues(t *testing.T) {
	ctrl := gomock.NewController(t)
	enq := mock.NewMockEnqueuer(ctrl)
	fallback := newDBRecorder(t)

	var captured *asynq.Task
	enq.EXPECT().
		Enqueue(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
			captured = task
			return &asynq.TaskInfo{ID: "t1"}, nil
		})

	NewQueueRecorder(enq, "audit", fallback).Record(context.Background(), Entry{
		ActorID:    "op_1",
		ActionType: ActionOrganizerTrustChanged,
		SubjectID:  "org_1",
	})

	require.NotNil(t, captured)
	require.Equal(t, taskname.AuditRecord, captured.Type())

	var entry Entry
	require.NoError(t, json.Unmarshal(captured.Payload(), &entry))
	require.Equal(t, "org_1", entry.SubjectID)
	require.False(t, entry.OccurredAt.IsZero())
	require.Empty(t, countLogs(t, fallback))
}

func TestQueueRecorderFallsBackToDB(t *testing.T) {
	ctrl := gomock.NewController(t)
	enq := mock.NewMockEnqueuer(ctrl)
	fallback := newDBRecorder(t)

	enq.EXPECT().
		Enqueue(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil, errors.New("redis down"))

	NewQueueRecorder(enq, "audit", fallback).Record(context.Background(), Entry{
		ActorID:    "op_1",
		ActionType: ActionPayoutRolledBack,
		SubjectID:  "evt_1",
	})

	rows := countLogs(t, fallback)
	require.Len(t, rows, 1)
	require.Equal(t, ActionPayoutRolledBack, rows[0].ActionType)
}

func TestHandlerProcessTask(t *testing.T) {
	store := newDBRecorder(t)
	h := NewHandler(store)

	task, err := NewRecordTask(Entry{ActorID: "op_2", ActionType: ActionAdvanceSettled, SubjectID: "org_9"})
	require.NoError(t, err)
	require.NoError(t, h.ProcessTask(context.Background(), task))
	require.Len(t, countLogs(t, store), 1)

	err = h.ProcessTask(context.Background(), asynq.NewTask(taskname.AuditRecord, []byte("{not json")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}
