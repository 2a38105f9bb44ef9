package biometric

import (
	"fmt"
	"log"
	"math"

	"github.com/kozaktomas/face-attendance/internal/config"
)

// MatchSettings are the tunable constants of the comparison.
type MatchSettings struct {
	Threshold            float64 // base distance threshold
	CosineWeight         float64
	EuclideanWeight      float64
	HighConfidenceCutoff float64 // percent; above it the threshold is tightened
	TightenFactor        float64 // multiplier applied to Threshold above the cutoff
}

// DefaultMatchSettings mirrors the embedded configuration defaults.
func DefaultMatchSettings() MatchSettings {
	return MatchSettingsFrom(config.DefaultVerificationSettings())
}

// MatchSettingsFrom extracts the matcher part of the verification settings.
func MatchSettingsFrom(s config.VerificationSettings) MatchSettings {
	return MatchSettings{
		Threshold:            s.Threshold,
		CosineWeight:         s.CosineWeight,
		EuclideanWeight:      s.EuclideanWeight,
		HighConfidenceCutoff: s.HighConfidenceCutoff,
		TightenFactor:        s.TightenFactor,
	}
}

func (s MatchSettings) valid() bool {
	for _, v := range []float64{s.Threshold, s.CosineWeight, s.EuclideanWeight, s.HighConfidenceCutoff, s.TightenFactor} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return false
		}
	}
	return s.Threshold > 0 && s.TightenFactor > 0 && s.CosineWeight+s.EuclideanWeight > 0
}

// Result is the outcome of one comparison.
type Result struct {
	Matched    bool    `json:"matched"`
	Confidence float64 `json:"confidence_percent"`
	Distance   float64 `json:"distance"`
	Threshold  float64 `json:"threshold_used"`
	Reason     Reason  `json:"reason_code"`
}

// Compare matches candidate against reference. It never returns a match on
// invalid input or internal failure, and it has no randomness.
func Compare(reference, candidate Encoding, s MatchSettings) (res Result) {
	res = Result{Threshold: s.Threshold, Reason: ReasonMatchError}
	defer func() {
		if r := recover(); r != nil {
			log.Printf("ERROR: face comparison panicked: %v", r)
			res = Result{Threshold: s.Threshold, Reason: ReasonMatchError}
		}
	}()

	if !s.valid() {
		res.Reason = ReasonInvalidSettings
		return res
	}
	if len(reference) == 0 || len(candidate) == 0 {
		res.Reason = ReasonMissingEncoding
		return res
	}
	if len(reference) != len(candidate) || len(reference) != Dim {
		log.Printf("WARNING: encoding dimension mismatch: %d vs %d", len(reference), len(candidate))
		res.Reason = ReasonDimensionMismatch
		return res
	}
	if !usable(reference) || !usable(candidate) {
		log.Printf("WARNING: invalid encoding in comparison (zero or non-finite)")
		res.Reason = ReasonCorruptEncoding
		return res
	}

	refUnit, refNorm := unit(reference)
	candUnit, candNorm := unit(candidate)
	if refNorm == 0 || candNorm == 0 {
		res.Reason = ReasonCorruptEncoding
		return res
	}

	// Cosine uses the unit vectors; the Euclidean term and the match decision
	// use the raw encodings.
	distance := euclidean(reference, candidate)
	cosine := max(-1, min(1, dot(refUnit, candUnit)))
	inverseEuclidean := 1 / (1 + distance)
	weights := s.CosineWeight + s.EuclideanWeight
	confidence := (cosine*s.CosineWeight + inverseEuclidean*s.EuclideanWeight) / weights * 100
	confidence = max(0, min(100, confidence))

	threshold := s.Threshold
	if confidence > s.HighConfidenceCutoff {
		threshold *= s.TightenFactor
	}
	if math.IsNaN(confidence) || math.IsNaN(distance) {
		panic(fmt.Sprintf("non-finite comparison result (confidence %v, distance %v)", confidence, distance))
	}

	res = Result{
		Matched:    distance <= threshold,
		Confidence: confidence,
		Distance:   distance,
		Threshold:  threshold,
		Reason:     ReasonBelowThreshold,
	}
	if res.Matched {
		res.Reason = ReasonMatched
	}
	return res
}

func unit(v Encoding) ([]float64, float64) {
	norm := math.Sqrt(dot(v, v))
	out := make([]float64, len(v))
	if norm == 0 {
		return out, 0
	}
	for i, x := range v {
		out[i] = x / norm
	}
	return out, norm
}

func dot(a, b []float64) float64 {
	var sum float64
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

func euclidean(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}
