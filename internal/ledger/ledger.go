// Package ledger derives worked/rejected/altered/remaining piece counts
// for a work assignment from its work-log and exception entries. It holds
// no state of its own; every routing and exception decision consults it
// before mutating anything.
package ledger

import (
	"github.com/stitchworks/be-mfg-subbatches/internal/platform/errors"
	"github.com/stitchworks/be-mfg-subbatches/internal/repository"
)

// Progress is the conservation breakdown of one assignment:
// received == Worked + Rejected + Altered + Remaining.
type Progress struct {
	Worked    int64 `json:"worked"`
	Rejected  int64 `json:"rejected"`
	Altered   int64 `json:"altered"`
	Remaining int64 `json:"remaining"`
}

// ComputeProgress sums the entries scoped to one assignment against its
// received quantity. A negative remaining means the stored rows already
// violate conservation; that is upstream data corruption, so it surfaces
// as ConservationViolation rather than being clamped.
func ComputeProgress(
	received int64,
	logs []*repository.WorkLogEntry,
	exceptions []*repository.ExceptionEntry,
) (Progress, error) {
	p := Progress{}

	for _, entry := range logs {
		if entry.QuantityWorked < 0 {
			return Progress{}, errors.Newf(errors.ErrCodeConservationViolation,
				"work-log entry %s has negative quantity_worked %d", entry.ID, entry.QuantityWorked)
		}
		p.Worked += entry.QuantityWorked
	}

	for _, entry := range exceptions {
		if entry.Quantity < 0 {
			return Progress{}, errors.Newf(errors.ErrCodeConservationViolation,
				"exception entry %s has negative quantity %d", entry.ID, entry.Quantity)
		}
		switch entry.Kind {
		case repository.ExceptionRejected:
			p.Rejected += entry.Quantity
		case repository.ExceptionAltered:
			p.Altered += entry.Quantity
		}
	}

	p.Remaining = received - p.Worked - p.Rejected - p.Altered
	if p.Remaining < 0 {
		return Progress{}, errors.Newf(errors.ErrCodeConservationViolation,
			"accounted quantity %d exceeds received %d (worked=%d rejected=%d altered=%d)",
			p.Worked+p.Rejected+p.Altered, received, p.Worked, p.Rejected, p.Altered)
	}

	return p, nil
}
