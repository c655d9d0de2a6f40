package search

import (
	"math/rand/v2"

	"github.com/HatiCode/agroyield/pkg/models"
)

func intIn(rng *rand.Rand, lo, hi int) int {
	return lo + rng.IntN(hi-lo+1)
}

func floatIn(rng *rand.Rand, lo, hi float64) float64 {
	return lo + rng.Float64()*(hi-lo)
}

// DepthwiseSpace samples depth-wise booster parameters.
func DepthwiseSpace(seed uint64) func(*rand.Rand) models.GBDTParams {
	return func(rng *rand.Rand) models.GBDTParams {
		return models.GBDTParams{
			NEstimators:  intIn(rng, 100, 1000),
			MaxDepth:     intIn(rng, 3, 12),
			LearningRate: floatIn(rng, 0.01, 0.3),
			Subsample:    floatIn(rng, 0.6, 1.0),
			ColSample:    floatIn(rng, 0.6, 1.0),
			RegAlpha:     floatIn(rng, 0, 10),
			RegLambda:    floatIn(rng, 0, 10),
			Seed:         seed,
		}
	}
}

// LeafwiseSpace samples leaf-wise booster parameters.
func LeafwiseSpace(seed uint64) func(*rand.Rand) models.GBDTParams {
	return func(rng *rand.Rand) models.GBDTParams {
		return models.GBDTParams{
			NEstimators:     intIn(rng, 100, 1000),
			MaxDepth:        intIn(rng, 3, 12),
			LearningRate:    floatIn(rng, 0.01, 0.3),
			NumLeaves:       intIn(rng, 10, 300),
			Subsample:       floatIn(rng, 0.6, 1.0),
			ColSample:       floatIn(rng, 0.6, 1.0),
			RegAlpha:        floatIn(rng, 0, 10),
			RegLambda:       floatIn(rng, 0, 10),
			MinChildSamples: 20,
			Seed:            seed,
		}
	}
}

var maxFeatureChoices = []models.MaxFeatures{models.MaxFeaturesSqrt, models.MaxFeaturesLog2, models.MaxFeaturesAll}

// ForestSpace samples random forest parameters.
func ForestSpace(seed uint64) func(*rand.Rand) models.ForestParams {
	return func(rng *rand.Rand) models.ForestParams {
		return models.ForestParams{
			NEstimators:     intIn(rng, 100, 500),
			MaxDepth:        intIn(rng, 5, 20),
			MinSamplesSplit: intIn(rng, 2, 20),
			MinSamplesLeaf:  intIn(rng, 1, 10),
			MaxFeatures:     maxFeatureChoices[rng.IntN(len(maxFeatureChoices))],
			Seed:            seed,
		}
	}
}
