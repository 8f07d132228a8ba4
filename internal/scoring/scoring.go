// Package scoring produces moderation verdicts for classified-ad listings.
// The engine consumes a small numeric feature vector derived from listing and
// seller fields and returns a validity verdict with a probability score.
package scoring

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// ErrPrediction indicates the engine failed to produce a verdict. Callers
// treat it as transient: the same input may score successfully later.
var ErrPrediction = errors.New("scoring: prediction failed")

// ErrUnavailable indicates the engine cannot serve predictions at all, as
// opposed to failing on one input. The in-process engine never returns it;
// engines backed by a remote model server do when the server is unreachable.
var ErrUnavailable = errors.New("scoring: engine unavailable")

// FeatureVector is the model input derived from a listing and its seller.
// Only the description's length participates, never its content: two
// descriptions of equal length are indistinguishable to the engine.
type FeatureVector struct {
	VerifiedSeller    bool
	ImagesQty         int
	DescriptionLength int
	Category          int
}

// FeaturesFor derives the feature vector from raw listing and seller fields.
func FeaturesFor(verifiedSeller bool, imagesQty int, description string, category int) FeatureVector {
	return FeatureVector{
		VerifiedSeller:    verifiedSeller,
		ImagesQty:         imagesQty,
		DescriptionLength: len(description),
		Category:          category,
	}
}

// Verdict is the engine's output: whether the listing looks like a valid,
// sellable ad and the probability backing that call.
type Verdict struct {
	IsValid     bool    `json:"is_valid"`
	Probability float64 `json:"probability"`
}

// Engine scores feature vectors. Implementations may call out to a remote
// model server, so Score accepts a context and may fail transiently.
type Engine interface {
	Score(ctx context.Context, features FeatureVector) (Verdict, error)
}

// Input scaling applied before the linear terms. Mirrors the training
// pipeline: booleans to {0,1}, counts and lengths to roughly unit range.
const (
	imagesScale      = 10.0
	descriptionScale = 1000.0
	categoryScale    = 100.0
)

// validityThreshold is the probability at or above which a listing is
// considered valid.
const validityThreshold = 0.5

// LogisticEngine is an in-process logistic model with fixed coefficients.
type LogisticEngine struct {
	wVerified    float64
	wImages      float64
	wDescription float64
	wCategory    float64
	bias         float64
}

// NewLogisticEngine returns the engine with the shipped coefficient set.
func NewLogisticEngine() *LogisticEngine {
	return &LogisticEngine{
		wVerified:    1.8,
		wImages:      1.2,
		wDescription: 0.8,
		wCategory:    -0.2,
		bias:         -0.35,
	}
}

// Score computes the validity probability for the given features.
// Malformed input (negative counts, lengths, or categories) fails with
// ErrPrediction.
func (e *LogisticEngine) Score(_ context.Context, f FeatureVector) (Verdict, error) {
	if f.ImagesQty < 0 || f.DescriptionLength < 0 || f.Category < 0 {
		return Verdict{}, fmt.Errorf("%w: negative feature in %+v", ErrPrediction, f)
	}

	z := e.bias
	if f.VerifiedSeller {
		z += e.wVerified
	}
	z += e.wImages * float64(f.ImagesQty) / imagesScale
	z += e.wDescription * float64(f.DescriptionLength) / descriptionScale
	z += e.wCategory * float64(f.Category) / categoryScale

	p := sigmoid(z)
	return Verdict{IsValid: p >= validityThreshold, Probability: p}, nil
}

func sigmoid(z float64) float64 {
	return 1.0 / (1.0 + math.Exp(-z))
}
