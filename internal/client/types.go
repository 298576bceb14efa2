package client

// Department is a master-data department record, owned by the planning
// service. Read-only from this service's perspective.
type Department struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	IsActive bool   `json:"is_active"`
}

// Worker is a master-data worker record.
type Worker struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	DepartmentID int64  `json:"department_id"`
	IsActive     bool   `json:"is_active"`
}

// getDepartmentResponse is the masterdata service GET response envelope.
type getDepartmentResponse struct {
	Department *Department `json:"department"`
}

type getWorkerResponse struct {
	Worker *Worker `json:"worker"`
}
