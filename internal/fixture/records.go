// Package fixture generates synthetic farm-season records for tests.
package fixture

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/HatiCode/agroyield/pkg/features"
)

var (
	varieties = []string{"hybrid", "local"}
	soils     = []string{"clay", "loam", "sandy"}
	methods   = []string{"drip", "flood", "rainfed"}
)

// Records returns n records spread over farms farms with one planting every
// 10 days per farm. Yield depends on NDVI, rainfall and nitrogen plus a
// little noise, so models have real signal to fit. Every category value
// appears once n >= 3 and farms >= 3, which keeps the one-hot columns of
// small prediction batches aligned with a trained column list.
func Records(n, farms int, seed uint64) []features.Record {
	rng := rand.New(rand.NewPCG(seed, seed+1))
	start := time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]features.Record, n)
	for i := range out {
		farm := i % farms
		planted := start.AddDate(0, 0, 10*(i/farms))
		ndvi := 0.2 + 0.6*rng.Float64()
		rain := 40 * rng.Float64()
		nitrogen := 100 * rng.Float64()
		avg := 15 + 15*rng.Float64()

		out[i] = features.Record{
			FarmID:               fmt.Sprintf("farm-%02d", farm),
			PlantingDate:         planted,
			HarvestDate:          planted.AddDate(0, 4, 0),
			AvgTemperature:       avg,
			BaseTemperature:      10,
			MaxTemperature:       avg + 8,
			MinTemperature:       avg - 8,
			Humidity:             40 + 40*rng.Float64(),
			Rainfall:             rain,
			NDVI:                 ndvi,
			EVI:                  ndvi * 0.8,
			SAVI:                 ndvi * 0.9,
			SoilOrganicCarbon:    1 + rng.Float64(),
			SoilPH:               5.5 + 2*rng.Float64(),
			SoilNitrogen:         20 + 10*rng.Float64(),
			SoilPhosphorus:       10 + 10*rng.Float64(),
			SoilPotassium:        100 + 50*rng.Float64(),
			FertilizerNitrogen:   nitrogen,
			FertilizerPhosphorus: 30,
			FertilizerPotassium:  20,
			IrrigationAmount:     10 * rng.Float64(),
			CropVariety:          varieties[farm%len(varieties)],
			SoilType:             soils[farm%len(soils)],
			IrrigationMethod:     methods[i%len(methods)],
			MarketPrice:          200 + 50*rng.Float64(),
			TotalCost:            300,
			Yield:                1 + 4*ndvi + 0.02*rain + 0.01*nitrogen + 0.1*rng.NormFloat64(),
		}
	}
	return out
}
