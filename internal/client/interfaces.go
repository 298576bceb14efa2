package client

import "context"

// MasterDataClientInterface resolves departments and workers from the
// planning/master-data service. Read-only, keyed by integer id.
type MasterDataClientInterface interface {
	GetDepartment(ctx context.Context, departmentID int64) (*Department, error)
	GetWorker(ctx context.Context, workerID int64) (*Worker, error)
}
