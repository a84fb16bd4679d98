package audit

import (
	"ticketing-settlement/pkg/config"
	"ticketing-settlement/pkg/task"
	"ticketing-settlement/pkg/taskname"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("audit.recorder",
	fx.Provide(NewDBRecorder, ProvideRecorder),
)

var Worker = fx.Module("audit.worker",
	fx.Provide(NewDBRecorder, NewHandler),
	fx.Invoke(registerHandler),
)

type RecorderParams struct {
	fx.In
	Config   *config.Config
	DB       *DBRecorder
	Enqueuer task.Enqueuer `optional:"true"`
}

func ProvideRecorder(p RecorderParams) Recorder {
	if p.Config.Audit.Async && p.Enqueuer != nil {
		return NewQueueRecorder(p.Enqueuer, p.Config.Audit.Queue, p.DB)
	}
	zap.L().Info("[Audit] recording synchronously")
	return p.DB
}

func registerHandler(mux *asynq.ServeMux, h *Handler) {
	mux.HandleFunc(taskname.AuditRecord, h.ProcessTask)
}

// AutoMigrate creates the audit_logs table.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&AuditLog{})
}
