package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"server/internal/domain"
	"server/internal/infra"
	"server/internal/sqlinline"
)

// VideoRepositoryPG implements domain.VideoRepository on PostgreSQL.
type VideoRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewVideoRepository creates a video repository backed by the given executor.
func NewVideoRepository(sql infra.SQLExecutor) *VideoRepositoryPG {
	return &VideoRepositoryPG{sql: sql}
}

// GetByID fetches a video by its identifier.
func (r *VideoRepositoryPG) GetByID(ctx context.Context, id string) (*domain.Video, error) {
	row := r.sql.QueryRow(ctx, sqlinline.QSelectVideo, id)

	var (
		v            domain.Video
		mediaKey     *string
		transcript   *string
		analysisJSON []byte
		variantsJSON []byte
		failedStage  *string
		failReason   *string
	)
	if err := row.Scan(
		&v.ID,
		&v.SourceURL,
		&mediaKey,
		&transcript,
		&analysisJSON,
		&variantsJSON,
		&v.Status,
		&failedStage,
		&failReason,
		&v.CreatedAt,
		&v.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}

	v.MediaKey = mediaKey
	v.Transcript = transcript
	if failedStage != nil {
		v.FailedStage = domain.Stage(*failedStage)
	}
	if failReason != nil {
		v.FailureReason = *failReason
	}
	if len(analysisJSON) > 0 {
		var analysis domain.Analysis
		if err := json.Unmarshal(analysisJSON, &analysis); err != nil {
			return nil, fmt.Errorf("decode analysis: %w", err)
		}
		v.Analysis = &analysis
	}
	if len(variantsJSON) > 0 {
		if err := json.Unmarshal(variantsJSON, &v.Variants); err != nil {
			return nil, fmt.Errorf("decode variants: %w", err)
		}
	}
	return &v, nil
}

// ClaimRun atomically transitions the video into an in-progress status. It
// returns false when another run already holds the video.
func (r *VideoRepositoryPG) ClaimRun(ctx context.Context, id string, to domain.Status) (bool, error) {
	row := r.sql.QueryRow(ctx, sqlinline.QClaimVideoRun, id, to)
	var claimed string
	if err := row.Scan(&claimed); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// SetMediaKey persists the durable media locator. The write is idempotent: an
// already-set key is never overwritten.
func (r *VideoRepositoryPG) SetMediaKey(ctx context.Context, id, mediaKey string) error {
	_, err := r.sql.Exec(ctx, sqlinline.QSetVideoMediaKey, id, mediaKey)
	return err
}

// SetTranscript persists the verbatim transcript.
func (r *VideoRepositoryPG) SetTranscript(ctx context.Context, id, transcript string) error {
	_, err := r.sql.Exec(ctx, sqlinline.QSetVideoTranscript, id, transcript)
	return err
}

// SetAnalysis persists the structured creative breakdown.
func (r *VideoRepositoryPG) SetAnalysis(ctx context.Context, id string, analysis *domain.Analysis) error {
	payload, err := json.Marshal(analysis)
	if err != nil {
		return fmt.Errorf("encode analysis: %w", err)
	}
	_, err = r.sql.Exec(ctx, sqlinline.QSetVideoAnalysis, id, payload)
	return err
}

// SetVariants replaces the cached variant batch.
func (r *VideoRepositoryPG) SetVariants(ctx context.Context, id string, variants []domain.Variant) error {
	payload, err := json.Marshal(variants)
	if err != nil {
		return fmt.Errorf("encode variants: %w", err)
	}
	_, err = r.sql.Exec(ctx, sqlinline.QSetVideoVariants, id, payload)
	return err
}

// SetStatus updates the pipeline status and clears failure detail.
func (r *VideoRepositoryPG) SetStatus(ctx context.Context, id string, status domain.Status) error {
	_, err := r.sql.Exec(ctx, sqlinline.QSetVideoStatus, id, status)
	return err
}

// SetFailed records the failed stage and reason without touching acquired
// stage outputs.
func (r *VideoRepositoryPG) SetFailed(ctx context.Context, id string, stage domain.Stage, reason string) error {
	_, err := r.sql.Exec(ctx, sqlinline.QSetVideoFailed, id, stage, reason)
	return err
}

var _ domain.VideoRepository = (*VideoRepositoryPG)(nil)
