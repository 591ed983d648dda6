package evaluation

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/num/quat"
)

// TranslationError returns the Euclidean distance between two camera centres.
func TranslationError(a, b [3]float64) float64 {
	return floats.Distance(a[:], b[:], 2)
}

// RotationError returns the angle in degrees between two orientations,
// 2·acos(|⟨q1,q2⟩|). Inputs are normalized first.
func RotationError(q1, q2 quat.Number) float64 {
	n1, n2 := quat.Abs(q1), quat.Abs(q2)
	if n1 == 0 || n2 == 0 {
		return math.NaN()
	}
	d := (q1.Real*q2.Real + q1.Imag*q2.Imag + q1.Jmag*q2.Jmag + q1.Kmag*q2.Kmag) / (n1 * n2)
	d = math.Min(1, math.Abs(d))
	return 2 * math.Acos(d) * 180 / math.Pi
}

// Thresholds bound the translation (meters) and rotation (degrees) error of
// one accuracy tier. Both bounds are inclusive.
type Thresholds struct {
	Translation float64 `json:"translation_m"`
	Rotation    float64 `json:"rotation_deg"`
}

// Contains reports whether the errors fall within the thresholds.
func (th Thresholds) Contains(t, r float64) bool {
	return t <= th.Translation && r <= th.Rotation
}

// TierThresholds holds the thresholds of the three tiers.
type TierThresholds struct {
	High, Medium, Coarse Thresholds
}

var (
	// DayThresholds are the benchmark thresholds for day queries.
	DayThresholds = TierThresholds{
		High:   Thresholds{Translation: 0.25, Rotation: 2},
		Medium: Thresholds{Translation: 0.5, Rotation: 5},
		Coarse: Thresholds{Translation: 5, Rotation: 10},
	}
	// NightThresholds are the benchmark thresholds for night queries.
	NightThresholds = TierThresholds{
		High:   Thresholds{Translation: 0.5, Rotation: 2},
		Medium: Thresholds{Translation: 1, Rotation: 5},
		Coarse: Thresholds{Translation: 5, Rotation: 10},
	}
)

// Fine and wrong localization bounds.
const (
	FineTranslation  = 0.5
	FineRotation     = 2.0
	WrongTranslation = 5.0
	WrongRotation    = 10.0
)

// Tier is the best accuracy tier a result achieves.
type Tier int

const (
	TierNone Tier = iota
	TierCoarse
	TierMedium
	TierHigh
)

func (t Tier) String() string {
	switch t {
	case TierNone:
		return "none"
	case TierCoarse:
		return "coarse"
	case TierMedium:
		return "medium"
	case TierHigh:
		return "high"
	default:
		return fmt.Sprintf("Tier(%d)", int(t))
	}
}

// Classify returns the best tier that translation error t and rotation
// error r achieve. NaN errors achieve no tier.
func Classify(t, r float64, night bool) Tier {
	th := DayThresholds
	if night {
		th = NightThresholds
	}
	switch {
	case th.High.Contains(t, r):
		return TierHigh
	case th.Medium.Contains(t, r):
		return TierMedium
	case th.Coarse.Contains(t, r):
		return TierCoarse
	default:
		return TierNone
	}
}

// Percentages are the cumulative shares of queries per tier, in percent.
type Percentages struct {
	High   float64 `json:"high"`
	Medium float64 `json:"medium"`
	Coarse float64 `json:"coarse"`
}

func (p Percentages) String() string {
	return fmt.Sprintf("%.1f / %.1f / %.1f", p.High, p.Medium, p.Coarse)
}

// ComputePercentages classifies every record. A high result also counts as
// medium and coarse. Unlocalized records count towards the total only.
func ComputePercentages(records []Record) Percentages {
	if len(records) == 0 {
		return Percentages{}
	}
	var high, medium, coarse int
	for _, rec := range records {
		if !rec.Localized {
			continue
		}
		switch Classify(rec.TranslationError, rec.RotationError, rec.Night) {
		case TierHigh:
			high++
			fallthrough
		case TierMedium:
			medium++
			fallthrough
		case TierCoarse:
			coarse++
		}
	}
	n := float64(len(records))
	return Percentages{
		High:   100 * float64(high) / n,
		Medium: 100 * float64(medium) / n,
		Coarse: 100 * float64(coarse) / n,
	}
}
