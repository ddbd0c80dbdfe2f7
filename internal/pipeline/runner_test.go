package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"server/internal/domain"
)

type fakeRepo struct {
	mu     sync.Mutex
	videos map[string]*domain.Video

	claimCalls int
}

func newFakeRepo(videos ...*domain.Video) *fakeRepo {
	r := &fakeRepo{videos: make(map[string]*domain.Video)}
	for _, v := range videos {
		r.videos[v.ID] = v
	}
	return r
}

func (r *fakeRepo) get(id string) (*domain.Video, error) {
	v, ok := r.videos[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return v, nil
}

func (r *fakeRepo) GetByID(_ context.Context, id string) (*domain.Video, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, err := r.get(id)
	if err != nil {
		return nil, err
	}
	copied := *v
	if v.MediaKey != nil {
		mk := *v.MediaKey
		copied.MediaKey = &mk
	}
	if v.Transcript != nil {
		tr := *v.Transcript
		copied.Transcript = &tr
	}
	if v.Analysis != nil {
		an := *v.Analysis
		copied.Analysis = &an
	}
	copied.Variants = append([]domain.Variant(nil), v.Variants...)
	return &copied, nil
}

func (r *fakeRepo) ClaimRun(_ context.Context, id string, to domain.Status) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.claimCalls++
	v, err := r.get(id)
	if err != nil {
		return false, err
	}
	switch v.Status {
	case domain.StatusIdle, domain.StatusFailed, domain.StatusComplete:
		v.Status = to
		v.FailedStage = ""
		v.FailureReason = ""
		return true, nil
	}
	return false, nil
}

func (r *fakeRepo) SetMediaKey(_ context.Context, id, mediaKey string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, err := r.get(id)
	if err != nil {
		return err
	}
	if v.MediaKey == nil {
		v.MediaKey = &mediaKey
	}
	return nil
}

func (r *fakeRepo) SetTranscript(_ context.Context, id, transcript string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, err := r.get(id)
	if err != nil {
		return err
	}
	v.Transcript = &transcript
	return nil
}

func (r *fakeRepo) SetAnalysis(_ context.Context, id string, analysis *domain.Analysis) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, err := r.get(id)
	if err != nil {
		return err
	}
	v.Analysis = analysis
	return nil
}

func (r *fakeRepo) SetVariants(_ context.Context, id string, variants []domain.Variant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, err := r.get(id)
	if err != nil {
		return err
	}
	v.Variants = variants
	return nil
}

func (r *fakeRepo) SetStatus(_ context.Context, id string, status domain.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, err := r.get(id)
	if err != nil {
		return err
	}
	v.Status = status
	v.FailedStage = ""
	v.FailureReason = ""
	return nil
}

func (r *fakeRepo) SetFailed(_ context.Context, id string, stage domain.Stage, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, err := r.get(id)
	if err != nil {
		return err
	}
	v.Status = domain.StatusFailed
	v.FailedStage = stage
	v.FailureReason = reason
	return nil
}

type fakeStore struct{}

func (fakeStore) Exists(context.Context, string) (bool, error) { return false, nil }

func (fakeStore) Put(_ context.Context, key string, _ io.Reader, _ int64, _ string) (string, error) {
	return key, nil
}

func (fakeStore) PresignGet(_ context.Context, key string, _ time.Duration) (string, error) {
	return "http://signed.test/" + key, nil
}

type fakeFetcher struct {
	mu    sync.Mutex
	calls int
	key   string
	err   error
}

func (f *fakeFetcher) Fetch(_ context.Context, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.key, nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeTranscriber struct {
	mu    sync.Mutex
	calls int
	text  string
	err   error
	delay time.Duration
	block bool
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, _ string) (string, error) {
	f.mu.Lock()
	f.calls++
	text, err, delay, block := f.text, f.err, f.delay, f.block
	f.mu.Unlock()
	if block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if delay > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
		}
	}
	if err != nil {
		return "", err
	}
	return text, nil
}

func (f *fakeTranscriber) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeTranscriber) heal(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = nil
	f.text = text
}

type fakeAnalyzer struct {
	mu       sync.Mutex
	calls    int
	analysis *domain.Analysis
	err      error
}

func (f *fakeAnalyzer) Analyze(_ context.Context, _ string) (*domain.Analysis, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.analysis, nil
}

func (f *fakeAnalyzer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeVariants struct {
	mu    sync.Mutex
	calls int
	out   []domain.Variant
	err   error
	last  VariantRequest
}

func (f *fakeVariants) Generate(_ context.Context, req VariantRequest) ([]domain.Variant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	return f.out, nil
}

type runnerFixture struct {
	repo        *fakeRepo
	fetcher     *fakeFetcher
	transcriber *fakeTranscriber
	analyzer    *fakeAnalyzer
	variants    *fakeVariants
	runner      *Runner
}

func newFixture(t *testing.T, cfg Config, videos ...*domain.Video) *runnerFixture {
	t.Helper()
	f := &runnerFixture{
		repo:        newFakeRepo(videos...),
		fetcher:     &fakeFetcher{key: "media/abc.mp4"},
		transcriber: &fakeTranscriber{text: "the transcript"},
		analyzer:    &fakeAnalyzer{analysis: &domain.Analysis{Hook: "h", Body: "b", CTA: "c"}},
		variants:    &fakeVariants{out: []domain.Variant{{Hook: "vh", Body: "vb", CTA: "vc"}}},
	}
	f.runner = NewRunner(f.repo, fakeStore{}, f.fetcher, f.transcriber, f.analyzer, f.variants, cfg, zerolog.Nop())
	return f
}

func idleVideo(id string) *domain.Video {
	return &domain.Video{ID: id, SourceURL: "https://example.com/video/" + id, Status: domain.StatusIdle}
}

func strptr(s string) *string { return &s }

func TestRunHappyPath(t *testing.T) {
	f := newFixture(t, Config{}, idleVideo("v1"))

	status, err := f.runner.Run(context.Background(), "v1")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if status != domain.StatusComplete {
		t.Fatalf("status = %s, want complete", status)
	}

	v, _ := f.repo.GetByID(context.Background(), "v1")
	if !v.HasMedia() || !v.HasTranscript() || !v.HasAnalysis() {
		t.Fatalf("missing outputs: %+v", v)
	}
	if v.Status != domain.StatusComplete {
		t.Fatalf("persisted status = %s", v.Status)
	}
}

func TestRunShortCircuitsEnrichedVideo(t *testing.T) {
	v := idleVideo("v1")
	v.MediaKey = strptr("media/abc.mp4")
	v.Transcript = strptr("cached transcript")
	v.Analysis = &domain.Analysis{Hook: "h", Body: "b", CTA: "c"}
	f := newFixture(t, Config{}, v)

	status, err := f.runner.Run(context.Background(), "v1")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if status != domain.StatusComplete {
		t.Fatalf("status = %s, want complete", status)
	}
	if f.fetcher.callCount() != 0 || f.transcriber.callCount() != 0 || f.analyzer.callCount() != 0 {
		t.Fatalf("expected zero remote calls, got fetch=%d transcribe=%d analyze=%d",
			f.fetcher.callCount(), f.transcriber.callCount(), f.analyzer.callCount())
	}
}

func TestRunResumesFromFailedTranscription(t *testing.T) {
	v := idleVideo("v1")
	v.MediaKey = strptr("media/cached.mp4")
	f := newFixture(t, Config{}, v)
	f.transcriber.err = errors.New("speech service down")

	status, err := f.runner.Run(context.Background(), "v1")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if status != domain.StatusFailed {
		t.Fatalf("status = %s, want failed", status)
	}

	got, _ := f.repo.GetByID(context.Background(), "v1")
	if got.FailedStage != domain.StageTranscribe {
		t.Fatalf("failed stage = %s", got.FailedStage)
	}
	if got.FailureReason != "speech service down" {
		t.Fatalf("failure reason = %q", got.FailureReason)
	}
	if got.MediaKey == nil || *got.MediaKey != "media/cached.mp4" {
		t.Fatalf("media key changed: %v", got.MediaKey)
	}
	if got.Transcript != nil {
		t.Fatalf("transcript should be unset, got %q", *got.Transcript)
	}
	if f.fetcher.callCount() != 0 {
		t.Fatalf("fetcher invoked %d times despite cached media", f.fetcher.callCount())
	}

	// A later run with a healthy transcriber resumes without re-downloading.
	f.transcriber.heal("recovered transcript")
	status, err = f.runner.Run(context.Background(), "v1")
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if status != domain.StatusComplete {
		t.Fatalf("second status = %s, want complete", status)
	}
	if f.fetcher.callCount() != 0 {
		t.Fatalf("fetcher invoked on resume")
	}
	got, _ = f.repo.GetByID(context.Background(), "v1")
	if got.Transcript == nil || *got.Transcript != "recovered transcript" {
		t.Fatalf("transcript = %v", got.Transcript)
	}
}

func TestRunMutualExclusion(t *testing.T) {
	f := newFixture(t, Config{}, idleVideo("v1"))
	f.transcriber.delay = 50 * time.Millisecond

	var wg sync.WaitGroup
	results := make([]domain.Status, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			status, err := f.runner.Run(context.Background(), "v1")
			if err != nil {
				t.Errorf("Run[%d]: %v", i, err)
				return
			}
			results[i] = status
		}(i)
	}
	wg.Wait()

	if results[0] != results[1] {
		t.Fatalf("callers observed different statuses: %s vs %s", results[0], results[1])
	}
	if f.fetcher.callCount() != 1 {
		t.Fatalf("fetcher invoked %d times, want 1", f.fetcher.callCount())
	}
	if f.transcriber.callCount() != 1 {
		t.Fatalf("transcriber invoked %d times, want 1", f.transcriber.callCount())
	}
	if f.analyzer.callCount() != 1 {
		t.Fatalf("analyzer invoked %d times, want 1", f.analyzer.callCount())
	}
}

func TestRunTranscribeTimeout(t *testing.T) {
	v := idleVideo("v1")
	v.MediaKey = strptr("media/cached.mp4")
	f := newFixture(t, Config{TranscribeTimeout: 30 * time.Millisecond}, v)
	f.transcriber.delay = time.Second

	status, err := f.runner.Run(context.Background(), "v1")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if status != domain.StatusFailed {
		t.Fatalf("status = %s, want failed", status)
	}
	got, _ := f.repo.GetByID(context.Background(), "v1")
	if got.FailedStage != domain.StageTranscribe || got.FailureReason != "timeout" {
		t.Fatalf("failure = %s/%q", got.FailedStage, got.FailureReason)
	}
	if got.MediaKey == nil {
		t.Fatal("media key lost on timeout")
	}
}

func TestRunPermanentFetchFailure(t *testing.T) {
	f := newFixture(t, Config{}, idleVideo("v1"))
	f.fetcher.err = fmt.Errorf("media: %w: %q", domain.ErrBadSource, "nope")

	status, err := f.runner.Run(context.Background(), "v1")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if status != domain.StatusFailed {
		t.Fatalf("status = %s, want failed", status)
	}
	got, _ := f.repo.GetByID(context.Background(), "v1")
	if got.FailedStage != domain.StageFetch {
		t.Fatalf("failed stage = %s", got.FailedStage)
	}
	if f.transcriber.callCount() != 0 || f.analyzer.callCount() != 0 {
		t.Fatal("later stages attempted after fetch failure")
	}
}

func TestCancelAbandonsRunWithoutPersistingStage(t *testing.T) {
	v := idleVideo("v1")
	v.MediaKey = strptr("media/cached.mp4")
	f := newFixture(t, Config{}, v)
	f.transcriber.block = true

	done := make(chan domain.Status, 1)
	go func() {
		status, err := f.runner.Run(context.Background(), "v1")
		if err != nil {
			t.Errorf("Run: %v", err)
		}
		done <- status
	}()

	// Wait until the transcriber is in flight before cancelling.
	deadline := time.After(time.Second)
	for f.transcriber.callCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("transcriber never invoked")
		case <-time.After(time.Millisecond):
		}
	}
	if !f.runner.Cancel("v1") {
		t.Fatal("Cancel found no in-flight run")
	}

	status := <-done
	if status != domain.StatusIdle {
		t.Fatalf("status after cancel = %s, want idle", status)
	}
	got, _ := f.repo.GetByID(context.Background(), "v1")
	if got.Transcript != nil {
		t.Fatal("cancelled stage output was persisted")
	}
	if got.MediaKey == nil {
		t.Fatal("earlier stage output lost on cancel")
	}
}

func TestWatchReceivesLifecycleUpdates(t *testing.T) {
	f := newFixture(t, Config{}, idleVideo("v1"))

	updates, unsubscribe := f.runner.Watch("v1")
	defer unsubscribe()

	if _, err := f.runner.Run(context.Background(), "v1"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	var seen []domain.Status
	timeout := time.After(time.Second)
	for len(seen) < 4 {
		select {
		case u := <-updates:
			seen = append(seen, u.Status)
		case <-timeout:
			t.Fatalf("timed out, saw %v", seen)
		}
	}
	want := []domain.Status{
		domain.StatusFetching,
		domain.StatusTranscribing,
		domain.StatusAnalyzing,
		domain.StatusComplete,
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("update[%d] = %s, want %s (all: %v)", i, seen[i], want[i], seen)
		}
	}
}

func TestGenerateVariantsRequiresTranscript(t *testing.T) {
	f := newFixture(t, Config{}, idleVideo("v1"))

	_, err := f.runner.GenerateVariants(context.Background(), "v1", 2, domain.IntensityMedium, "en")
	if !errors.Is(err, domain.ErrPreconditionFailed) {
		t.Fatalf("GenerateVariants = %v, want ErrPreconditionFailed", err)
	}
	f.variants.mu.Lock()
	calls := f.variants.calls
	f.variants.mu.Unlock()
	if calls != 0 {
		t.Fatalf("generator invoked %d times before precondition check", calls)
	}
}

func TestGenerateVariantsDoesNotMutateStatusOrStages(t *testing.T) {
	v := idleVideo("v1")
	v.MediaKey = strptr("media/abc.mp4")
	v.Transcript = strptr("the transcript")
	v.Analysis = &domain.Analysis{Hook: "h", Body: "b", CTA: "c"}
	v.Status = domain.StatusComplete
	v.Variants = []domain.Variant{{Hook: "old", Body: "old", CTA: "old"}}
	f := newFixture(t, Config{}, v)

	got, err := f.runner.GenerateVariants(context.Background(), "v1", 1, domain.IntensityAggressive, "id")
	if err != nil {
		t.Fatalf("GenerateVariants: %v", err)
	}
	if len(got) != 1 || got[0].Hook != "vh" {
		t.Fatalf("variants = %+v", got)
	}

	after, _ := f.repo.GetByID(context.Background(), "v1")
	if after.Status != domain.StatusComplete {
		t.Fatalf("status mutated to %s", after.Status)
	}
	if *after.Transcript != "the transcript" || after.Analysis.Hook != "h" {
		t.Fatal("stage outputs mutated by variant generation")
	}
	if after.Variants[0].Hook != "vh" {
		t.Fatalf("variants not replaced: %+v", after.Variants)
	}
	f.variants.mu.Lock()
	lastIntensity := f.variants.last.Intensity
	lastLocale := f.variants.last.Locale
	f.variants.mu.Unlock()
	if lastIntensity != domain.IntensityAggressive || lastLocale != "id" {
		t.Fatalf("request not forwarded: %+v", f.variants.last)
	}
}

// flakyRepo fails a bounded number of transcript persists before recovering.
type flakyRepo struct {
	*fakeRepo
	failSetTranscript int
}

func (r *flakyRepo) SetTranscript(ctx context.Context, id, transcript string) error {
	if r.failSetTranscript > 0 {
		r.failSetTranscript--
		return errors.New("connection reset")
	}
	return r.fakeRepo.SetTranscript(ctx, id, transcript)
}

func TestRunPersistFailureDoesNotWedgeVideo(t *testing.T) {
	v := idleVideo("v1")
	v.MediaKey = strptr("media/cached.mp4")
	f := newFixture(t, Config{}, v)
	flaky := &flakyRepo{fakeRepo: f.repo, failSetTranscript: 1}
	f.runner = NewRunner(flaky, fakeStore{}, f.fetcher, f.transcriber, f.analyzer, f.variants, Config{}, zerolog.Nop())

	if _, err := f.runner.Run(context.Background(), "v1"); err == nil {
		t.Fatal("expected error from failed transcript persist")
	}

	got, _ := f.repo.GetByID(context.Background(), "v1")
	if got.Status != domain.StatusFailed || got.FailedStage != domain.StageTranscribe {
		t.Fatalf("after persist failure status = %s/%s, want failed/transcribe", got.Status, got.FailedStage)
	}
	if got.FailureReason == "" {
		t.Fatal("failure reason not recorded")
	}

	// The failed status must still be claimable: a later run completes.
	status, err := f.runner.Run(context.Background(), "v1")
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if status != domain.StatusComplete {
		t.Fatalf("second Run status = %s, want complete", status)
	}
	if f.transcriber.callCount() != 2 {
		t.Fatalf("transcriber invoked %d times, want 2", f.transcriber.callCount())
	}
	if f.fetcher.callCount() != 0 {
		t.Fatalf("fetcher invoked despite cached media")
	}
}

func TestRunUnknownVideo(t *testing.T) {
	f := newFixture(t, Config{})
	if _, err := f.runner.Run(context.Background(), "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Run = %v, want ErrNotFound", err)
	}
}
