package zones

import (
	"math"
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/HatiCode/agroyield/pkg/errs"
	"github.com/HatiCode/agroyield/pkg/indices"
)

// fieldSet builds an index set of n pixels split into two NDVI populations.
func fieldSet(n int) indices.Set {
	rng := rand.New(rand.NewPCG(1, 2))
	set := indices.Set{}
	for _, f := range Features {
		set[f] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		base := 0.2
		if i%2 == 0 {
			base = 0.75
		}
		for _, f := range Features {
			set[f][i] = base + rng.Float64()*0.05
		}
	}
	return set
}

func TestZoneCount(t *testing.T) {
	tests := []struct {
		n, want int
	}{
		{10, 2},
		{199, 2},
		{300, 3},
		{499, 4},
		{500, 5},
		{100000, 5},
	}
	for _, tt := range tests {
		if got := ZoneCount(tt.n); got != tt.want {
			t.Errorf("ZoneCount(%d) = %d, want %d", tt.n, got, tt.want)
		}
	}
}

func TestGenerate_InsufficientData(t *testing.T) {
	set := fieldSet(20)
	for i := 0; i < 11; i++ {
		set[indices.EVI][i] = math.NaN()
	}

	r := Generate(set, Options{})
	if r.Status != errs.StatusInsufficientData {
		t.Fatalf("Status = %q, want insufficient_data", r.Status)
	}
}

func TestGenerate_LabelsAndCount(t *testing.T) {
	set := fieldSet(350)
	set[indices.NDVI][3] = math.NaN()
	set[indices.GNDVI][7] = math.Inf(1)

	r := Generate(set, DefaultOptions())
	if !r.Completed() {
		t.Fatalf("Generate() status = %q, err = %v", r.Status, r.Err)
	}
	m := r.Value

	if m.ValidPixels != 348 {
		t.Errorf("ValidPixels = %d, want 348", m.ValidPixels)
	}
	if m.K != 3 || len(m.Zones) != 3 {
		t.Fatalf("K = %d, zones = %d, want 3", m.K, len(m.Zones))
	}
	if m.Labels[3] != Excluded || m.Labels[7] != Excluded {
		t.Errorf("invalid pixels labelled %d/%d, want -1", m.Labels[3], m.Labels[7])
	}
	counted := 0
	for _, l := range m.Labels {
		if l != Excluded && (l < 0 || l >= m.K) {
			t.Fatalf("label %d outside [0, %d)", l, m.K)
		}
	}
	for _, z := range m.Zones {
		counted += z.PixelCount
	}
	if counted != m.ValidPixels {
		t.Errorf("zone pixel counts sum to %d, want %d", counted, m.ValidPixels)
	}
}

func TestGenerate_Deterministic(t *testing.T) {
	set := fieldSet(250)
	a := Generate(set, DefaultOptions())
	b := Generate(set, DefaultOptions())
	if !slices.Equal(a.Value.Labels, b.Value.Labels) {
		t.Error("same seed produced different labels")
	}
}

func TestGenerate_SeparatesPopulations(t *testing.T) {
	set := fieldSet(100)
	r := Generate(set, DefaultOptions())
	if !r.Completed() {
		t.Fatalf("Generate() err = %v", r.Err)
	}
	m := r.Value
	if m.K != 2 {
		t.Fatalf("K = %d, want 2", m.K)
	}
	if m.Labels[0] == m.Labels[1] {
		t.Error("pixels from different populations share a zone")
	}
	for i := 2; i < 100; i++ {
		if m.Labels[i] != m.Labels[i%2] {
			t.Fatalf("pixel %d not grouped with its population", i)
		}
	}

	high := m.Zones[m.Labels[0]]
	if high.Characteristics[indices.NDVI].Mean < 0.7 {
		t.Errorf("high zone mean ndvi = %v", high.Characteristics[indices.NDVI].Mean)
	}
	if !slices.Equal(high.Recommendations, Recommend(0.8)) {
		t.Errorf("high zone recommendations = %v", high.Recommendations)
	}
	low := m.Zones[m.Labels[1]]
	if len(low.Recommendations) != 3 {
		t.Errorf("low zone recommendations = %v", low.Recommendations)
	}
	if math.Abs(high.AreaPercentage-50) > 1e-9 {
		t.Errorf("high zone area = %v, want 50", high.AreaPercentage)
	}
}

func TestRecommend(t *testing.T) {
	if got := Recommend(0.5); !slices.Equal(got, []string{"Consider moderate fertilizer application"}) {
		t.Errorf("Recommend(0.5) = %v", got)
	}
	if got := Recommend(0.4); len(got) != 3 {
		t.Errorf("Recommend(0.4) = %v, want urgent list", got)
	}
}

func TestDescribe_EmptyZoneHasNoRecommendations(t *testing.T) {
	set := fieldSet(20)
	labels := make([]int, 20)
	labels[0] = Excluded

	zs := describe(set, labels, 2, 20)
	if zs[0].PixelCount != 19 || len(zs[0].Recommendations) == 0 {
		t.Errorf("zone 0 = %d pixels, recommendations %v", zs[0].PixelCount, zs[0].Recommendations)
	}
	if zs[1].PixelCount != 0 {
		t.Fatalf("zone 1 pixel count = %d, want 0", zs[1].PixelCount)
	}
	if zs[1].Recommendations != nil {
		t.Errorf("empty zone recommendations = %v, want none", zs[1].Recommendations)
	}
}

func TestWithDefaults_KeepsSeed(t *testing.T) {
	tests := []struct {
		name string
		in   Options
		want Options
	}{
		{"zero value", Options{}, Options{Seed: 0, MaxIter: 300, NInit: 10}},
		{"explicit", Options{Seed: 7, MaxIter: 5, NInit: 2}, Options{Seed: 7, MaxIter: 5, NInit: 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := withDefaults(tt.in); got != tt.want {
				t.Errorf("withDefaults(%+v) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}
