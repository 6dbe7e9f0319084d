package extraction

import (
	"context"
	"time"

	"github.com/developer-mesh/memory-engine/pkg/models"
)

// ToolSequenceExtractor is the baseline extractor: a successfully completed
// episode with at least two steps yields one tool-sequence pattern covering
// the tools used, in order. Richer extractors plug in through the Extractor
// interface.
type ToolSequenceExtractor struct {
	// MinSteps is the minimum step count worth generalizing
	MinSteps int
}

// NewToolSequenceExtractor creates the baseline extractor.
func NewToolSequenceExtractor() *ToolSequenceExtractor {
	return &ToolSequenceExtractor{MinSteps: 2}
}

// ExtractPatterns implements Extractor.
func (x *ToolSequenceExtractor) ExtractPatterns(_ context.Context, e *models.Episode) ([]*models.Pattern, error) {
	if !e.IsComplete() || !e.Outcome.IsSuccess() || len(e.Steps) < x.MinSteps {
		return nil, nil
	}

	tools := make([]string, 0, len(e.Steps))
	var totalLatency int64
	succeeded := 0
	for _, step := range e.Steps {
		tools = append(tools, step.Tool)
		totalLatency += step.LatencyMs
		if step.Succeeded() {
			succeeded++
		}
	}

	successRate := 1.0
	if len(e.Steps) > 0 && succeeded > 0 {
		successRate = float64(succeeded) / float64(len(e.Steps))
	}

	pattern := models.NewToolSequencePattern(models.ToolSequencePayload{
		Tools:           tools,
		Context:         e.Context,
		SuccessRate:     successRate,
		AvgLatency:      time.Duration(totalLatency/int64(len(e.Steps))) * time.Millisecond,
		OccurrenceCount: 1,
	})
	return []*models.Pattern{pattern}, nil
}
