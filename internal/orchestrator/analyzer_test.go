package orchestrator

import (
	"strings"
	"testing"

	"github.com/sonatahq/sonata/pkg/models"
)

func TestAnalyzeTaskClassification(t *testing.T) {
	tests := []struct {
		name    string
		task    models.Task
		audio   bool
		pattern bool
		quality bool
	}{
		{"audio analysis", models.Task{Type: "audio-analysis"}, true, false, false},
		{"transcription", models.Task{Type: "transcription"}, true, false, false},
		{"pattern recognition", models.Task{Type: "pattern-recognition"}, false, true, false},
		{"quality review", models.Task{Type: "quality-review"}, false, false, true},
		{"critical task is quality sensitive", models.Task{Type: "text-generation", Critical: true}, false, false, true},
		{"plain generation", models.Task{Type: "text-generation"}, false, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := AnalyzeTask(tt.task)
			if a.AudioRelated != tt.audio || a.PatternRelated != tt.pattern || a.QualitySensitive != tt.quality {
				t.Errorf("got audio=%v pattern=%v quality=%v, want %v/%v/%v",
					a.AudioRelated, a.PatternRelated, a.QualitySensitive,
					tt.audio, tt.pattern, tt.quality)
			}
		})
	}
}

func TestAnalyzeTaskComplexityBounds(t *testing.T) {
	simple := AnalyzeTask(models.Task{Type: "echo"})
	if simple.Complexity < 1 || simple.Complexity > 10 {
		t.Errorf("complexity %d out of [1, 10]", simple.Complexity)
	}
	if simple.Complexity != 1 {
		t.Errorf("trivial task complexity = %d, want 1", simple.Complexity)
	}

	heavy := AnalyzeTask(models.Task{
		Type:     "audio-analysis",
		Critical: true,
		Payload:  map[string]any{"samples": strings.Repeat("x", 8000)},
		Context:  map[string]any{"history": strings.Repeat("y", 8000)},
	})
	if heavy.Complexity <= decomposeThreshold {
		t.Errorf("large audio task complexity = %d, want above %d", heavy.Complexity, decomposeThreshold)
	}
	if heavy.Complexity > 10 {
		t.Errorf("complexity %d exceeds the scale ceiling", heavy.Complexity)
	}
}

func TestAnalyzeTaskPreferredServiceTypes(t *testing.T) {
	audio := AnalyzeTask(models.Task{Type: "speech-transcription"})
	if audio.PreferredServiceTypes[len(audio.PreferredServiceTypes)-1] != "audio-analysis" {
		t.Errorf("audio preferences = %v", audio.PreferredServiceTypes)
	}

	generic := AnalyzeTask(models.Task{Type: "text-generation"})
	if generic.PreferredServiceTypes[0] != "text-generation" {
		t.Errorf("generic preferences = %v", generic.PreferredServiceTypes)
	}
}
