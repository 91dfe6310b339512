package anomaly

import (
	"fmt"
	"time"

	"github.com/septivank/webill/tools/period"
)

// Accepted is a previously validated reading of the same meter
type Accepted struct {
	Value       float64
	SubmittedAt time.Time
}

// IntervalWindow is the allowed number of days between submissions
type IntervalWindow struct {
	MinDays int
	MaxDays int
}

// Detector flags suspicious readings with configurable thresholds.
// Flags are advisory; they are stored with the reading for the reviewer.
type Detector struct {
	spikeThreshold            float64
	minDataPointsForDetection int
}

// NewDetector creates a new anomaly detector with the specified thresholds
func NewDetector(spikeThreshold float64, minDataPointsForDetection int) *Detector {
	return &Detector{
		spikeThreshold:            spikeThreshold,
		minDataPointsForDetection: minDataPointsForDetection,
	}
}

// Inspect returns the flags for value submitted at submittedAt, given the meter's
// accepted history ordered newest first.
func (d *Detector) Inspect(value float64, submittedAt time.Time, history []Accepted, window IntervalWindow) []string {
	var flags []string

	if value < 0 {
		return append(flags, "negative value")
	}
	if len(history) == 0 {
		return flags
	}

	latest := history[0]
	if value < latest.Value {
		flags = append(flags, fmt.Sprintf("value %.2f is lower than previous accepted value %.2f", value, latest.Value))
	}

	if window.MaxDays > 0 && !period.IsWithinInterval(latest.SubmittedAt, submittedAt, window.MinDays, window.MaxDays) {
		flags = append(flags, fmt.Sprintf("submitted %d days after previous accepted reading (expected %d-%d)",
			period.DaysBetween(latest.SubmittedAt, submittedAt), window.MinDays, window.MaxDays))
	}

	if isSpike, reason := d.DetectSpike(value-latest.Value, consumptions(history)); isSpike {
		flags = append(flags, reason)
	}

	return flags
}

// DetectSpike checks if consumption is anomalous based on historical consumptions
func (d *Detector) DetectSpike(consumption float64, historicalConsumptions []float64) (bool, string) {
	// Need enough historical data for spike detection
	if len(historicalConsumptions) < d.minDataPointsForDetection {
		return false, ""
	}

	// Calculate rolling average
	sum := 0.0
	for _, v := range historicalConsumptions {
		sum += v
	}
	average := sum / float64(len(historicalConsumptions))

	// Detect sudden spike (>threshold x rolling average)
	if average > 0 && consumption > d.spikeThreshold*average {
		return true, fmt.Sprintf("sudden spike detected: consumption %.2f exceeds %.1fx rolling average %.2f",
			consumption, d.spikeThreshold, average)
	}

	return false, ""
}

// consumptions turns newest-first cumulative values into per-period consumptions
func consumptions(history []Accepted) []float64 {
	if len(history) < 2 {
		return nil
	}
	out := make([]float64, 0, len(history)-1)
	for i := 0; i < len(history)-1; i++ {
		delta := history[i].Value - history[i+1].Value
		if delta >= 0 {
			out = append(out, delta)
		}
	}
	return out
}
