package domain

import "context"

// VideoRepository is the persistence contract for video entities. Each write
// method updates a single stage output (plus the updated_at column) in one
// statement so partial updates are atomic.
type VideoRepository interface {
	GetByID(ctx context.Context, id string) (*Video, error)

	// ClaimRun transitions the video into the given in-progress status only
	// when no other run holds it (status idle, failed or complete). It returns
	// false without error when the compare-and-swap loses.
	ClaimRun(ctx context.Context, id string, to Status) (bool, error)

	SetMediaKey(ctx context.Context, id, mediaKey string) error
	SetTranscript(ctx context.Context, id, transcript string) error
	SetAnalysis(ctx context.Context, id string, analysis *Analysis) error
	SetVariants(ctx context.Context, id string, variants []Variant) error

	SetStatus(ctx context.Context, id string, status Status) error
	SetFailed(ctx context.Context, id string, stage Stage, reason string) error
}
