package domain

import (
	"strings"
	"time"
)

// Status enumerates the lifecycle states of a video's enrichment pipeline.
type Status string

const (
	StatusIdle               Status = "idle"
	StatusFetching           Status = "fetching"
	StatusTranscribing       Status = "transcribing"
	StatusAnalyzing          Status = "analyzing"
	StatusGeneratingVariants Status = "generating_variants"
	StatusComplete           Status = "complete"
	StatusFailed             Status = "failed"
)

// InProgress reports whether the status marks a pipeline run that is still
// executing stages.
func (s Status) InProgress() bool {
	switch s {
	case StatusFetching, StatusTranscribing, StatusAnalyzing, StatusGeneratingVariants:
		return true
	}
	return false
}

// Stage enumerates the sequential pipeline stages.
type Stage string

const (
	StageFetch      Stage = "fetch"
	StageTranscribe Stage = "transcribe"
	StageAnalyze    Stage = "analyze"
	StageVariants   Stage = "variants"
)

// InProgressStatus returns the status value a run reports while the stage is
// executing.
func (s Stage) InProgressStatus() Status {
	switch s {
	case StageFetch:
		return StatusFetching
	case StageTranscribe:
		return StatusTranscribing
	case StageAnalyze:
		return StatusAnalyzing
	case StageVariants:
		return StatusGeneratingVariants
	}
	return StatusIdle
}

// Intensity controls how far variant generation may drift from the original
// script.
type Intensity string

const (
	IntensityLight      Intensity = "light"
	IntensityMedium     Intensity = "medium"
	IntensityAggressive Intensity = "aggressive"
)

// ParseIntensity normalizes a caller-supplied intensity, defaulting to medium
// for empty input.
func ParseIntensity(raw string) (Intensity, bool) {
	switch Intensity(strings.ToLower(strings.TrimSpace(raw))) {
	case "":
		return IntensityMedium, true
	case IntensityLight:
		return IntensityLight, true
	case IntensityMedium:
		return IntensityMedium, true
	case IntensityAggressive:
		return IntensityAggressive, true
	}
	return "", false
}

// Analysis is the structured creative breakdown of a transcript.
type Analysis struct {
	Hook string   `json:"hook"`
	Body string   `json:"body"`
	CTA  string   `json:"cta"`
	Tags []string `json:"tags,omitempty"`
}

// Variant is one alternative creative rewrite of a script.
type Variant struct {
	Hook         string `json:"hook"`
	Body         string `json:"body"`
	CTA          string `json:"cta"`
	StrategyNote string `json:"strategy_note,omitempty"`
}

// Video is the unit of work for the enrichment pipeline. Stage outputs are
// acquired monotonically: Transcript is never set before MediaKey, Analysis
// never before Transcript.
type Video struct {
	ID            string
	SourceURL     string
	MediaKey      *string
	Transcript    *string
	Analysis      *Analysis
	Variants      []Variant
	Status        Status
	FailedStage   Stage
	FailureReason string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// HasMedia reports whether a durable media copy exists.
func (v *Video) HasMedia() bool {
	return v.MediaKey != nil && *v.MediaKey != ""
}

// HasTranscript reports whether the transcript stage has completed.
func (v *Video) HasTranscript() bool {
	return v.Transcript != nil && *v.Transcript != ""
}

// HasAnalysis reports whether the creative breakdown has been produced.
func (v *Video) HasAnalysis() bool {
	return v.Analysis != nil
}

// Enriched reports whether every automatic stage output is present. It is the
// single predicate deciding the pipeline short-circuit; call sites must not
// re-derive it from individual fields.
func (v *Video) Enriched() bool {
	return v.HasMedia() && v.HasTranscript() && v.HasAnalysis()
}

// NextStage returns the first stage whose output is missing, or false when
// the video is fully enriched.
func (v *Video) NextStage() (Stage, bool) {
	switch {
	case !v.HasMedia():
		return StageFetch, true
	case !v.HasTranscript():
		return StageTranscribe, true
	case !v.HasAnalysis():
		return StageAnalyze, true
	}
	return "", false
}
