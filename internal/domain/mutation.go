package domain

type SyncStatus string

const (
	SyncApplied          SyncStatus = "applied"
	SyncAppliedLocalOnly SyncStatus = "applied_local_only"
)

// MutationResult tells the caller whether a cart change reached the backing
// store. Reason is set only for SyncAppliedLocalOnly.
type MutationResult struct {
	Status SyncStatus
	Reason error
}

func Applied() MutationResult {
	return MutationResult{Status: SyncApplied}
}

func AppliedLocalOnly(reason error) MutationResult {
	return MutationResult{Status: SyncAppliedLocalOnly, Reason: reason}
}

func (r MutationResult) LocalOnly() bool {
	return r.Status == SyncAppliedLocalOnly
}
