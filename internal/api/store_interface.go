package api

import "github.com/vocatio-app/vocatio/internal/services"

// Store is the full persistence surface the HTTP layer wires into the
// services. It is the union of the per-service store interfaces; overlapping
// methods are identical, so embedding them all is legal.
type Store interface {
	services.ContentStore
	services.VersionStore
	services.AttemptStore
	services.ScoringStore
	services.AuthStore
	services.ExportStore

	ListAudit(limit int) ([]services.AuditEntry, error)
}

var _ Store = (*memoryStore)(nil)
