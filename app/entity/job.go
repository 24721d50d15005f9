package entity

import "time"

const (
	JobStatusSubmitted      int32 = 1
	JobStatusAwaitingResult int32 = 2
	JobStatusResultReady    int32 = 3
	JobStatusPersisting     int32 = 4
	JobStatusCompleted      int32 = 10
	JobStatusFailed         int32 = 20
)

// Job tracks a single generation job from submission to durable persistence
// of its result asset. PersistedAssetRef is set if and only if the job is
// Completed; ProviderJobID never changes once assigned.
type Job struct {
	ID uint64

	RequestID     string
	CallerService string

	ProviderJobID *string

	Status int32

	SourceAssetRef    string
	ResultAssetURL    *string
	PersistedAssetRef *string
	ResultDigest      *string

	ProviderError *string
	Attempts      int32

	Version uint64

	CreatedAt time.Time
	UpdatedAt time.Time
}

func JobStatusTerminal(status int32) bool {
	return status == JobStatusCompleted || status == JobStatusFailed
}
