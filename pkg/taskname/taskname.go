package taskname

const (
	// Storage tasks
	StorageSweep = "storage:sweep"
)
