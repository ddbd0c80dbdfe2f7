package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"server/internal/domain"
	"server/internal/infra"
	"server/internal/pipeline"
)

// Enricher is the pipeline surface the HTTP layer depends on.
type Enricher interface {
	Trigger(ctx context.Context, id string) (domain.Status, error)
	Status(ctx context.Context, id string) (*domain.Video, error)
	GenerateVariants(ctx context.Context, id string, count int, intensity domain.Intensity, locale string) ([]domain.Variant, error)
	Cancel(id string) bool
	Watch(id string) (<-chan pipeline.StatusUpdate, func())
}

type App struct {
	Enricher Enricher
	Logger   infra.Logger
}

func NewApp(enricher Enricher, logger infra.Logger) *App {
	return &App{Enricher: enricher, Logger: logger}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, status int, code, message string) {
	a.json(w, status, map[string]string{"error": code, "message": message})
}
