package advice

import (
	"strings"
	"time"
)

// Class buckets models by expected latency.
type Class string

const (
	ClassFast      Class = "fast"
	ClassReasoning Class = "reasoning"
	ClassStandard  Class = "standard"
)

// Timeouts are the per-call deadlines for one model class.
type Timeouts struct {
	Probe      time.Duration
	Structured time.Duration
	Overall    time.Duration
}

var classTimeouts = map[Class]Timeouts{
	ClassFast:      {Probe: 3 * time.Second, Structured: 30 * time.Second, Overall: 45 * time.Second},
	ClassReasoning: {Probe: 10 * time.Second, Structured: 120 * time.Second, Overall: 180 * time.Second},
	ClassStandard:  {Probe: 5 * time.Second, Structured: 60 * time.Second, Overall: 90 * time.Second},
}

// Substring markers, checked fast first so "o4-mini" lands in fast
// rather than reasoning.
var (
	fastMarkers      = []string{"mini", "flash", "nano", "haiku", "lite"}
	reasoningMarkers = []string{"gpt-5", "o1", "o3", "o4", "grok-4", "opus"}
)

// ClassifyModel buckets a model name by substring.
func ClassifyModel(name string) Class {
	lower := strings.ToLower(name)
	for _, m := range fastMarkers {
		if strings.Contains(lower, m) {
			return ClassFast
		}
	}
	for _, m := range reasoningMarkers {
		if strings.Contains(lower, m) {
			return ClassReasoning
		}
	}
	return ClassStandard
}

// TimeoutsFor returns the deadlines for a model name.
func TimeoutsFor(name string) Timeouts {
	return classTimeouts[ClassifyModel(name)]
}
