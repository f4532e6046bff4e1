package registry

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sonatahq/sonata/pkg/models"
)

// StaticTable maps service IDs to their fallback capability declarations.
// It backs services that do not implement backend.CapabilityProvider.
type StaticTable map[string][]models.ModelCapability

// staticEntry is the YAML shape of one capability declaration.
type staticEntry struct {
	TaskType        string   `yaml:"task_type"`
	Confidence      float64  `yaml:"confidence"`
	Specializations []string `yaml:"specializations"`
	MemoryBytes     int64    `yaml:"memory_bytes"`
	ComputeUnits    float64  `yaml:"compute_units"`
	AverageLatency  string   `yaml:"average_latency"`
}

// LoadStaticTable reads a YAML capability table from disk. The file maps
// service IDs to lists of capability entries:
//
//	gama-audio:
//	  - task_type: audio-analysis
//	    confidence: 0.95
//	    specializations: [speech, music]
//	    average_latency: 500ms
func LoadStaticTable(path string) (StaticTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read capability table: %w", err)
	}
	return ParseStaticTable(raw)
}

// ParseStaticTable parses YAML capability table bytes.
func ParseStaticTable(raw []byte) (StaticTable, error) {
	var entries map[string][]staticEntry
	if err := yaml.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("parse capability table: %w", err)
	}

	table := make(StaticTable, len(entries))
	for serviceID, caps := range entries {
		for _, e := range caps {
			if e.TaskType == "" {
				return nil, fmt.Errorf("capability table: service %s has an entry with no task_type", serviceID)
			}
			if e.Confidence < 0 || e.Confidence > 1 {
				return nil, fmt.Errorf("capability table: service %s task %s confidence %v out of range", serviceID, e.TaskType, e.Confidence)
			}
			var latency time.Duration
			if e.AverageLatency != "" {
				parsed, err := time.ParseDuration(e.AverageLatency)
				if err != nil {
					return nil, fmt.Errorf("capability table: service %s task %s latency: %w", serviceID, e.TaskType, err)
				}
				latency = parsed
			}
			table[serviceID] = append(table[serviceID], models.ModelCapability{
				TaskType:        e.TaskType,
				Confidence:      e.Confidence,
				Specializations: e.Specializations,
				Resources: models.ResourceRequirements{
					MemoryBytes:  e.MemoryBytes,
					ComputeUnits: e.ComputeUnits,
				},
				AverageLatency: latency,
			})
		}
	}
	return table, nil
}

// DefaultStaticTable returns the built-in fallback table used when no
// capability file is configured. The entries mirror the known built-in
// adapters.
func DefaultStaticTable() StaticTable {
	return StaticTable{
		"gama-audio": {
			{TaskType: "audio-analysis", Confidence: 0.95, Specializations: []string{"speech", "music"}, AverageLatency: 500 * time.Millisecond},
			{TaskType: "transcription", Confidence: 0.9, Specializations: []string{"speech"}, AverageLatency: 500 * time.Millisecond},
			{TaskType: "feature-extraction", Confidence: 0.9, AverageLatency: 300 * time.Millisecond},
		},
		"anthropic-language": {
			{TaskType: "text-generation", Confidence: 0.9, AverageLatency: 2 * time.Second},
			{TaskType: "summarization", Confidence: 0.85, AverageLatency: 2 * time.Second},
			{TaskType: "pattern-recognition", Confidence: 0.7, AverageLatency: 2 * time.Second},
		},
	}
}
