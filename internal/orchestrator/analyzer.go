// Package orchestrator is the top-level execution pipeline: it analyzes a
// task, plans a service-bound subtask chain, prepares per-service context,
// drives execution through the delegator, and records history, feedback,
// and bottleneck findings.
package orchestrator

import (
	"encoding/json"
	"strings"

	"github.com/sonatahq/sonata/pkg/models"
)

// TaskAnalysis classifies a task and estimates its complexity on a 1-10
// scale from type keywords and input size.
type TaskAnalysis struct {
	// AudioRelated marks audio-domain work (analysis, transcription,
	// feature extraction).
	AudioRelated bool `json:"audio_related"`
	// PatternRelated marks classification/recognition work.
	PatternRelated bool `json:"pattern_related"`
	// QualitySensitive marks work where output quality outweighs latency.
	QualitySensitive bool `json:"quality_sensitive"`
	// Complexity is the 1-10 complexity estimate.
	Complexity int `json:"complexity"`
	// PreferredServiceTypes orders the task types to consider when
	// decomposing, most relevant first.
	PreferredServiceTypes []string `json:"preferred_service_types"`
}

var (
	audioKeywords   = []string{"audio", "transcri", "speech", "acoustic", "feature-extraction", "sound"}
	patternKeywords = []string{"pattern", "classif", "recogni", "detect", "cluster"}
	qualityKeywords = []string{"quality", "verify", "valid", "review", "critical"}
	heavyKeywords   = []string{"analysis", "generation", "synthesis", "composite"}
)

// AnalyzeTask classifies the task and estimates complexity. The estimate is
// deterministic: keyword hits on the task type plus the serialized size of
// payload and context, clamped to [1, 10].
func AnalyzeTask(task models.Task) TaskAnalysis {
	typeTag := strings.ToLower(task.Type)

	analysis := TaskAnalysis{
		AudioRelated:     matchesAny(typeTag, audioKeywords),
		PatternRelated:   matchesAny(typeTag, patternKeywords),
		QualitySensitive: matchesAny(typeTag, qualityKeywords) || task.Critical,
	}

	complexity := 1
	if analysis.AudioRelated {
		complexity += 2
	}
	if analysis.PatternRelated {
		complexity += 2
	}
	if analysis.QualitySensitive {
		complexity++
	}
	if matchesAny(typeTag, heavyKeywords) {
		complexity++
	}
	complexity += sizeScore(task.Payload)
	complexity += sizeScore(task.Context)
	if complexity > 10 {
		complexity = 10
	}
	analysis.Complexity = complexity

	switch {
	case analysis.AudioRelated:
		analysis.PreferredServiceTypes = []string{"feature-extraction", "transcription", "audio-analysis"}
	case analysis.PatternRelated:
		analysis.PreferredServiceTypes = []string{"pattern-recognition", "summarization"}
	default:
		analysis.PreferredServiceTypes = []string{"text-generation", "summarization"}
	}
	return analysis
}

// sizeScore maps serialized input size to a 0-2 complexity contribution.
func sizeScore(data map[string]any) int {
	if len(data) == 0 {
		return 0
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return 0
	}
	switch {
	case len(raw) > 4096:
		return 2
	case len(raw) > 512:
		return 1
	default:
		return 0
	}
}

func matchesAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
