package taskname

const (
	// Audit tasks
	AuditRecord = "audit:record"
)
