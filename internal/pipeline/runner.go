package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"server/internal/domain"
	"server/internal/infra"
	"server/internal/storage"
)

// MediaFetcher obtains a durable media copy and returns its storage key.
type MediaFetcher interface {
	Fetch(ctx context.Context, sourceURL string) (string, error)
}

// Transcriber produces a verbatim transcript from a downloadable media URL.
type Transcriber interface {
	Transcribe(ctx context.Context, mediaURL string) (string, error)
}

// Analyzer derives the structured creative breakdown from a transcript.
type Analyzer interface {
	Analyze(ctx context.Context, transcript string) (*domain.Analysis, error)
}

// VariantRequest describes one variant generation batch.
type VariantRequest struct {
	Transcript string
	Analysis   *domain.Analysis
	Count      int
	Intensity  domain.Intensity
	Locale     string
}

// VariantGenerator produces alternative script rewrites.
type VariantGenerator interface {
	Generate(ctx context.Context, req VariantRequest) ([]domain.Variant, error)
}

// StatusUpdate is one observable progress event of a pipeline run.
type StatusUpdate struct {
	VideoID string        `json:"video_id"`
	Status  domain.Status `json:"status"`
	Stage   domain.Stage  `json:"stage,omitempty"`
	Reason  string        `json:"reason,omitempty"`
}

// Config carries the per-stage execution parameters.
type Config struct {
	FetchTimeout      time.Duration
	TranscribeTimeout time.Duration
	AnalyzeTimeout    time.Duration
	VariantsTimeout   time.Duration
	MediaURLTTL       time.Duration
}

// Runner orchestrates the enrichment pipeline for video entities. Stages run
// in the fixed order fetch, transcribe, analyze; completed stage outputs are
// cached on the entity and never redone. At most one run is active per video:
// concurrent callers attach to the in-flight run and observe its result.
type Runner struct {
	repo        domain.VideoRepository
	store       storage.Store
	fetcher     MediaFetcher
	transcriber Transcriber
	analyzer    Analyzer
	variants    VariantGenerator
	cfg         Config
	logger      infra.Logger

	group singleflight.Group
	hub   *hub

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// NewRunner constructs a Runner.
func NewRunner(
	repo domain.VideoRepository,
	store storage.Store,
	fetcher MediaFetcher,
	transcriber Transcriber,
	analyzer Analyzer,
	variants VariantGenerator,
	cfg Config,
	logger infra.Logger,
) *Runner {
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 2 * time.Minute
	}
	if cfg.TranscribeTimeout <= 0 {
		cfg.TranscribeTimeout = 3 * time.Minute
	}
	if cfg.AnalyzeTimeout <= 0 {
		cfg.AnalyzeTimeout = time.Minute
	}
	if cfg.VariantsTimeout <= 0 {
		cfg.VariantsTimeout = 90 * time.Second
	}
	if cfg.MediaURLTTL <= 0 {
		cfg.MediaURLTTL = 24 * time.Hour
	}
	return &Runner{
		repo:        repo,
		store:       store,
		fetcher:     fetcher,
		transcriber: transcriber,
		analyzer:    analyzer,
		variants:    variants,
		cfg:         cfg,
		logger:      logger,
		hub:         newHub(),
		cancels:     make(map[string]context.CancelFunc),
	}
}

// Run executes the pipeline for the video, or attaches to the run already in
// flight for it, and blocks until that run settles. All attached callers
// receive the identical final status. A stage failure is reported through the
// returned status, not the error.
func (r *Runner) Run(ctx context.Context, id string) (domain.Status, error) {
	out := r.group.DoChan(id, func() (any, error) {
		return r.execute(id)
	})
	select {
	case res := <-out:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(domain.Status), nil
	case <-ctx.Done():
		// The caller detaches; the run itself continues in the background.
		return "", ctx.Err()
	}
}

// Trigger starts (or attaches to) a run without waiting for it and returns
// the status the entity is entering.
func (r *Runner) Trigger(ctx context.Context, id string) (domain.Status, error) {
	v, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	if v.Enriched() && v.Status == domain.StatusComplete {
		return domain.StatusComplete, nil
	}
	if v.Status.InProgress() {
		return v.Status, nil
	}
	go func() {
		if _, err := r.Run(context.Background(), id); err != nil {
			r.logger.Error().Err(err).Str("video_id", id).Msg("pipeline: background run failed")
		}
	}()
	if v.Enriched() {
		return domain.StatusComplete, nil
	}
	stage, _ := v.NextStage()
	return stage.InProgressStatus(), nil
}

// Status returns the video's current pipeline state.
func (r *Runner) Status(ctx context.Context, id string) (*domain.Video, error) {
	return r.repo.GetByID(ctx, id)
}

// Watch subscribes to status updates for the video. The returned function
// must be called to release the subscription.
func (r *Runner) Watch(id string) (<-chan StatusUpdate, func()) {
	return r.hub.subscribe(id)
}

// Cancel aborts the in-flight run for the video, if any. The stage currently
// executing is abandoned without persisting its output.
func (r *Runner) Cancel(id string) bool {
	r.mu.Lock()
	cancel, ok := r.cancels[id]
	r.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

func (r *Runner) execute(id string) (domain.Status, error) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.registerCancel(id, cancel)
	defer r.unregisterCancel(id)

	v, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return "", err
	}

	// Caching short-circuit: a fully enriched entity completes without a
	// single remote call.
	if v.Enriched() {
		if v.Status != domain.StatusComplete {
			if err := r.repo.SetStatus(ctx, id, domain.StatusComplete); err != nil {
				return "", err
			}
		}
		r.publish(StatusUpdate{VideoID: id, Status: domain.StatusComplete})
		return domain.StatusComplete, nil
	}

	first, _ := v.NextStage()
	claimed, err := r.repo.ClaimRun(ctx, id, first.InProgressStatus())
	if err != nil {
		return "", err
	}
	if !claimed {
		// Another process holds the run; report its current state.
		return v.Status, nil
	}
	r.publish(StatusUpdate{VideoID: id, Status: first.InProgressStatus(), Stage: first})
	r.logger.Info().Str("video_id", id).Str("stage", string(first)).Msg("pipeline: run started")

	if !v.HasMedia() {
		key, err := r.runFetch(ctx, v)
		if err != nil {
			return r.settle(ctx, id, domain.StageFetch, err)
		}
		if err := r.repo.SetMediaKey(ctx, id, key); err != nil {
			return r.abort(ctx, id, domain.StageFetch, err)
		}
		v.MediaKey = &key
	}

	if !v.HasTranscript() {
		if err := r.enterStage(ctx, id, domain.StageTranscribe, first); err != nil {
			return r.abort(ctx, id, domain.StageTranscribe, err)
		}
		transcript, err := r.runTranscribe(ctx, v)
		if err != nil {
			return r.settle(ctx, id, domain.StageTranscribe, err)
		}
		if err := r.repo.SetTranscript(ctx, id, transcript); err != nil {
			return r.abort(ctx, id, domain.StageTranscribe, err)
		}
		v.Transcript = &transcript
	}

	if !v.HasAnalysis() {
		if err := r.enterStage(ctx, id, domain.StageAnalyze, first); err != nil {
			return r.abort(ctx, id, domain.StageAnalyze, err)
		}
		analysis, err := r.runAnalyze(ctx, v)
		if err != nil {
			return r.settle(ctx, id, domain.StageAnalyze, err)
		}
		if err := r.repo.SetAnalysis(ctx, id, analysis); err != nil {
			return r.abort(ctx, id, domain.StageAnalyze, err)
		}
		v.Analysis = analysis
	}

	if err := r.repo.SetStatus(ctx, id, domain.StatusComplete); err != nil {
		return r.abort(ctx, id, domain.StageAnalyze, err)
	}
	r.publish(StatusUpdate{VideoID: id, Status: domain.StatusComplete})
	r.logger.Info().Str("video_id", id).Msg("pipeline: run complete")
	return domain.StatusComplete, nil
}

// enterStage persists and publishes the stage transition, except for the
// stage the claim already moved the entity into.
func (r *Runner) enterStage(ctx context.Context, id string, stage, claimedStage domain.Stage) error {
	if stage == claimedStage {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := r.repo.SetStatus(ctx, id, stage.InProgressStatus()); err != nil {
		return err
	}
	r.publish(StatusUpdate{VideoID: id, Status: stage.InProgressStatus(), Stage: stage})
	return nil
}

func (r *Runner) runFetch(ctx context.Context, v *domain.Video) (string, error) {
	stageCtx, cancel := context.WithTimeout(ctx, r.cfg.FetchTimeout)
	defer cancel()
	return r.fetcher.Fetch(stageCtx, v.SourceURL)
}

func (r *Runner) runTranscribe(ctx context.Context, v *domain.Video) (string, error) {
	stageCtx, cancel := context.WithTimeout(ctx, r.cfg.TranscribeTimeout)
	defer cancel()
	mediaURL, err := r.store.PresignGet(stageCtx, *v.MediaKey, r.cfg.MediaURLTTL)
	if err != nil {
		return "", err
	}
	return r.transcriber.Transcribe(stageCtx, mediaURL)
}

func (r *Runner) runAnalyze(ctx context.Context, v *domain.Video) (*domain.Analysis, error) {
	stageCtx, cancel := context.WithTimeout(ctx, r.cfg.AnalyzeTimeout)
	defer cancel()
	return r.analyzer.Analyze(stageCtx, *v.Transcript)
}

// abort handles transition or persist errors between stage calls. A
// cancellation settles the run back to idle like any other abandoned stage.
// Anything else is an infrastructure error: it is surfaced to the caller, but
// the row must still be marked failed first, because leaving it in an
// in-progress status would block every future claim.
func (r *Runner) abort(ctx context.Context, id string, stage domain.Stage, err error) (domain.Status, error) {
	if ctx.Err() != nil {
		return r.settle(ctx, id, stage, ctx.Err())
	}
	reason := failureReason(err)
	if persistErr := r.repo.SetFailed(context.Background(), id, stage, reason); persistErr != nil {
		r.logger.Error().Err(persistErr).Str("video_id", id).Str("stage", string(stage)).Msg("pipeline: failed to record aborted run")
		return "", err
	}
	r.publish(StatusUpdate{VideoID: id, Status: domain.StatusFailed, Stage: stage, Reason: reason})
	r.logger.Warn().Str("video_id", id).Str("stage", string(stage)).Str("reason", reason).Msg("pipeline: run aborted")
	return "", err
}

// settle records the outcome of a stage error. A cancelled run resets to idle
// without persisting the abandoned stage's output; everything else becomes a
// failed status carrying the stage identity and reason.
func (r *Runner) settle(ctx context.Context, id string, stage domain.Stage, stageErr error) (domain.Status, error) {
	if errors.Is(stageErr, context.Canceled) || ctx.Err() != nil {
		if err := r.repo.SetStatus(context.Background(), id, domain.StatusIdle); err != nil {
			return "", err
		}
		r.publish(StatusUpdate{VideoID: id, Status: domain.StatusIdle})
		r.logger.Info().Str("video_id", id).Str("stage", string(stage)).Msg("pipeline: run cancelled")
		return domain.StatusIdle, nil
	}

	reason := failureReason(stageErr)
	if err := r.repo.SetFailed(ctx, id, stage, reason); err != nil {
		return "", err
	}
	r.publish(StatusUpdate{VideoID: id, Status: domain.StatusFailed, Stage: stage, Reason: reason})
	r.logger.Warn().Str("video_id", id).Str("stage", string(stage)).Str("reason", reason).Msg("pipeline: stage failed")
	return domain.StatusFailed, nil
}

func failureReason(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return err.Error()
}

// GenerateVariants produces a fresh variant batch for the video and replaces
// the cached one. It never mutates the pipeline status and requires the
// transcript stage to have completed.
func (r *Runner) GenerateVariants(ctx context.Context, id string, count int, intensity domain.Intensity, locale string) ([]domain.Variant, error) {
	v, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !v.HasTranscript() {
		return nil, fmt.Errorf("%w: transcript required before variant generation", domain.ErrPreconditionFailed)
	}

	genCtx, cancel := context.WithTimeout(ctx, r.cfg.VariantsTimeout)
	defer cancel()
	variants, err := r.variants.Generate(genCtx, VariantRequest{
		Transcript: *v.Transcript,
		Analysis:   v.Analysis,
		Count:      count,
		Intensity:  intensity,
		Locale:     locale,
	})
	if err != nil {
		return nil, err
	}

	if err := r.repo.SetVariants(ctx, id, variants); err != nil {
		return nil, err
	}
	return variants, nil
}

func (r *Runner) registerCancel(id string, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancels[id] = cancel
}

func (r *Runner) unregisterCancel(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cancels, id)
}

func (r *Runner) publish(u StatusUpdate) {
	r.hub.publish(u)
}
