package client

import (
	"context"
	"fmt"

	"github.com/stitchworks/be-mfg-subbatches/internal/platform/errors"
	"github.com/stitchworks/be-mfg-subbatches/internal/platform/httpclient"
)

// MasterDataClient is an HTTP client for the planning/master-data service.
type MasterDataClient struct {
	client *httpclient.Client
}

// NewMasterDataClient creates a new master-data service client.
func NewMasterDataClient(baseURL string) *MasterDataClient {
	return &MasterDataClient{
		client: httpclient.NewClient(baseURL),
	}
}

// GetDepartment fetches one department by id. Inactive departments are
// treated as missing so routing never targets a retired department.
func (c *MasterDataClient) GetDepartment(ctx context.Context, departmentID int64) (*Department, error) {
	path := fmt.Sprintf("/api/v1/departments/get?id=%d", departmentID)

	var resp getDepartmentResponse
	if err := c.client.Get(ctx, path, &resp); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeUnavailable, "failed to fetch department")
	}
	if resp.Department == nil || !resp.Department.IsActive {
		return nil, errors.NotFound("department", fmt.Sprintf("%d", departmentID))
	}
	return resp.Department, nil
}

// GetWorker fetches one worker by id.
func (c *MasterDataClient) GetWorker(ctx context.Context, workerID int64) (*Worker, error) {
	path := fmt.Sprintf("/api/v1/workers/get?id=%d", workerID)

	var resp getWorkerResponse
	if err := c.client.Get(ctx, path, &resp); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeUnavailable, "failed to fetch worker")
	}
	if resp.Worker == nil || !resp.Worker.IsActive {
		return nil, errors.NotFound("worker", fmt.Sprintf("%d", workerID))
	}
	return resp.Worker, nil
}
