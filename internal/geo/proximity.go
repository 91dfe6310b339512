package geo

import "fmt"

// ProximityResult is the outcome of a proximity check
type ProximityResult struct {
	Passed     bool
	DistanceKm *float64
	Reason     string
}

// ProximityValidator compares a capture location with the meter's registered location
type ProximityValidator struct {
	maxDistanceKm float64
}

// NewProximityValidator creates a validator accepting captures within maxDistanceKm
func NewProximityValidator(maxDistanceKm float64) *ProximityValidator {
	if maxDistanceKm <= 0 {
		maxDistanceKm = DefaultMaxDistanceKm
	}
	return &ProximityValidator{maxDistanceKm: maxDistanceKm}
}

// MaxDistanceKm returns the configured radius
func (v *ProximityValidator) MaxDistanceKm() float64 {
	return v.maxDistanceKm
}

// Check fails closed when the capture location is missing or invalid
func (v *ProximityValidator) Check(meter Coordinate, capture *Coordinate) ProximityResult {
	if capture == nil {
		return ProximityResult{Reason: "capture location missing"}
	}
	if !capture.Valid() {
		return ProximityResult{Reason: fmt.Sprintf("capture location %s is invalid", capture)}
	}

	distance := DistanceKm(meter, *capture)
	result := ProximityResult{DistanceKm: &distance, Passed: distance <= v.maxDistanceKm}
	if !result.Passed {
		result.Reason = fmt.Sprintf("captured %.3f km from registered meter location (max %.3f km)", distance, v.maxDistanceKm)
	}
	return result
}
