package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"server/internal/domain"
	"server/internal/middleware"
	"server/internal/pipeline"
)

type fakeEnricher struct {
	triggerStatus domain.Status
	triggerErr    error

	video     *domain.Video
	statusErr error

	variants    []domain.Variant
	variantsErr error

	lastCount     int
	lastIntensity domain.Intensity
	lastLocale    string

	cancelled bool
}

func (f *fakeEnricher) Trigger(context.Context, string) (domain.Status, error) {
	return f.triggerStatus, f.triggerErr
}

func (f *fakeEnricher) Status(context.Context, string) (*domain.Video, error) {
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	return f.video, nil
}

func (f *fakeEnricher) GenerateVariants(_ context.Context, _ string, count int, intensity domain.Intensity, locale string) ([]domain.Variant, error) {
	f.lastCount = count
	f.lastIntensity = intensity
	f.lastLocale = locale
	if f.variantsErr != nil {
		return nil, f.variantsErr
	}
	return f.variants, nil
}

func (f *fakeEnricher) Cancel(string) bool { return f.cancelled }

func (f *fakeEnricher) Watch(string) (<-chan pipeline.StatusUpdate, func()) {
	ch := make(chan pipeline.StatusUpdate)
	return ch, func() { close(ch) }
}

func newTestApp(enricher *fakeEnricher) *App {
	return NewApp(enricher, zerolog.Nop())
}

func requestWithID(method, target, id string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, target, body)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", id)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func TestVideoEnrichAccepted(t *testing.T) {
	app := newTestApp(&fakeEnricher{triggerStatus: domain.StatusFetching})

	rr := httptest.NewRecorder()
	app.VideoEnrich(rr, requestWithID("POST", "/v1/videos/v1/enrich", "v1", nil))

	if rr.Code != http.StatusAccepted {
		t.Fatalf("status code = %d, want 202", rr.Code)
	}
	var resp enrichResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != domain.StatusFetching {
		t.Fatalf("status = %s, want fetching", resp.Status)
	}
}

func TestVideoEnrichUnknownVideo(t *testing.T) {
	app := newTestApp(&fakeEnricher{triggerErr: domain.ErrNotFound})

	rr := httptest.NewRecorder()
	app.VideoEnrich(rr, requestWithID("POST", "/v1/videos/nope/enrich", "nope", nil))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status code = %d, want 404", rr.Code)
	}
}

func TestVideoStatusReportsPresenceFlags(t *testing.T) {
	transcript := "hello"
	app := newTestApp(&fakeEnricher{video: &domain.Video{
		ID:            "v1",
		Status:        domain.StatusFailed,
		FailedStage:   domain.StageAnalyze,
		FailureReason: "malformed response",
		MediaKey:      &transcript,
		Transcript:    &transcript,
	}})

	rr := httptest.NewRecorder()
	app.VideoStatus(rr, requestWithID("GET", "/v1/videos/v1/status", "v1", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status code = %d, want 200", rr.Code)
	}
	var resp statusResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != domain.StatusFailed || resp.FailedStage != domain.StageAnalyze {
		t.Fatalf("unexpected failure detail: %+v", resp)
	}
	if !resp.HasMedia || !resp.HasTranscript || resp.HasAnalysis {
		t.Fatalf("presence flags wrong: %+v", resp)
	}
}

func TestVideoVariantsUsesDetectedLocale(t *testing.T) {
	enricher := &fakeEnricher{variants: []domain.Variant{{Hook: "h", Body: "b", CTA: "c"}}}
	app := newTestApp(enricher)

	req := requestWithID("POST", "/v1/videos/v1/variants", "v1", strings.NewReader(`{"count":2,"intensity":"aggressive"}`))
	req = req.WithContext(context.WithValue(req.Context(), middleware.LocaleKey, "pt"))

	rr := httptest.NewRecorder()
	app.VideoVariants(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status code = %d, want 200: %s", rr.Code, rr.Body.String())
	}
	if enricher.lastCount != 2 || enricher.lastIntensity != domain.IntensityAggressive {
		t.Fatalf("request not forwarded: count=%d intensity=%s", enricher.lastCount, enricher.lastIntensity)
	}
	if enricher.lastLocale != "pt" {
		t.Fatalf("locale = %q, want pt from request context", enricher.lastLocale)
	}
}

func TestVideoVariantsExplicitLocaleWins(t *testing.T) {
	enricher := &fakeEnricher{variants: []domain.Variant{{Hook: "h", Body: "b", CTA: "c"}}}
	app := newTestApp(enricher)

	req := requestWithID("POST", "/v1/videos/v1/variants", "v1", strings.NewReader(`{"count":1,"locale":"id"}`))
	req = req.WithContext(context.WithValue(req.Context(), middleware.LocaleKey, "en"))

	rr := httptest.NewRecorder()
	app.VideoVariants(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status code = %d, want 200", rr.Code)
	}
	if enricher.lastLocale != "id" {
		t.Fatalf("locale = %q, want id from payload", enricher.lastLocale)
	}
	if enricher.lastIntensity != domain.IntensityMedium {
		t.Fatalf("intensity = %s, want medium default", enricher.lastIntensity)
	}
}

func TestVideoVariantsRejectsUnknownIntensity(t *testing.T) {
	app := newTestApp(&fakeEnricher{})

	rr := httptest.NewRecorder()
	app.VideoVariants(rr, requestWithID("POST", "/v1/videos/v1/variants", "v1", strings.NewReader(`{"intensity":"extreme"}`)))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status code = %d, want 400", rr.Code)
	}
}

func TestVideoVariantsErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"missing transcript", domain.ErrPreconditionFailed, http.StatusConflict},
		{"zero usable variants", domain.ErrNoVariants, http.StatusBadGateway},
		{"unknown video", domain.ErrNotFound, http.StatusNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			app := newTestApp(&fakeEnricher{variantsErr: tc.err})
			rr := httptest.NewRecorder()
			app.VideoVariants(rr, requestWithID("POST", "/v1/videos/v1/variants", "v1", strings.NewReader(`{"count":1}`)))
			if rr.Code != tc.want {
				t.Fatalf("status code = %d, want %d", rr.Code, tc.want)
			}
		})
	}
}

func TestVideoEnrichCancel(t *testing.T) {
	app := newTestApp(&fakeEnricher{cancelled: true})
	rr := httptest.NewRecorder()
	app.VideoEnrichCancel(rr, requestWithID("POST", "/v1/videos/v1/enrich/cancel", "v1", nil))
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status code = %d, want 202", rr.Code)
	}

	app = newTestApp(&fakeEnricher{cancelled: false})
	rr = httptest.NewRecorder()
	app.VideoEnrichCancel(rr, requestWithID("POST", "/v1/videos/v1/enrich/cancel", "v1", nil))
	if rr.Code != http.StatusConflict {
		t.Fatalf("status code = %d, want 409 when nothing in flight", rr.Code)
	}
}
