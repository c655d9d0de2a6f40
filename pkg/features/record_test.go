package features

import (
	"io"
	"log/slog"
	"math"
	"strings"
	"testing"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

const csvHeader = "farm_id,crop_id,planting_date,harvest_date,avg_temperature,base_temperature,rainfall,ndvi,evi,savi," +
	"soil_organic_carbon,soil_ph,soil_nitrogen,soil_phosphorus,soil_potassium,max_temperature,min_temperature," +
	"humidity,fertilizer_nitrogen,fertilizer_phosphorus,fertilizer_potassium,irrigation_amount,crop_variety," +
	"soil_type,irrigation_method,market_price,total_cost,yield,notes\n"

func TestLoadCSV(t *testing.T) {
	input := csvHeader +
		"f1,c1,2023-04-01,2023-09-01,21,10,3.5,0.6,0.4,0.3,2,6.5,1,0.5,,30,12,55,10,5,4,20,maize,loam,drip,200,500,4.2,ok\n" +
		"f1,c1,2023-04-08T00:00:00Z,,22,10,4,0.61,0.41,0.31,2,6.5,1,0.5,0.2,31,13,56,10,5,4,20,maize,loam,drip,200,500,4.4,\n" +
		"f2,c2,not-a-date,2023-09-01,21,10,3.5,0.6,0.4,0.3,2,6.5,1,0.5,0.2,30,12,55,10,5,4,20,maize,loam,drip,200,500,4.2,\n" +
		"f3,c3,2023-04-01,2023-09-01,abc,10,3.5,0.6,0.4,0.3,2,6.5,1,0.5,0.2,30,12,55,10,5,4,20,maize,loam,drip,200,500,4.2,\n"

	recs, err := LoadCSV(strings.NewReader(input), discard)
	if err != nil {
		t.Fatalf("LoadCSV() error = %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("LoadCSV() returned %d records, want 2 (bad rows skipped)", len(recs))
	}

	r := recs[0]
	if r.FarmID != "f1" || r.CropID != "c1" || r.CropVariety != "maize" {
		t.Errorf("identifiers = %+v", r)
	}
	if r.PlantingDate.Month() != 4 || r.HarvestDate.Month() != 9 {
		t.Errorf("dates = %v / %v", r.PlantingDate, r.HarvestDate)
	}
	if !math.IsNaN(r.SoilPotassium) {
		t.Errorf("empty soil_potassium = %v, want NaN", r.SoilPotassium)
	}
	if r.Yield != 4.2 || r.Rainfall != 3.5 {
		t.Errorf("numbers = yield %v rainfall %v", r.Yield, r.Rainfall)
	}
	if !recs[1].HarvestDate.IsZero() {
		t.Errorf("empty harvest_date parsed as %v", recs[1].HarvestDate)
	}
}

func TestLoadCSV_MissingColumns(t *testing.T) {
	_, err := LoadCSV(strings.NewReader("farm_id,planting_date\nf1,2023-01-01\n"), discard)
	if err == nil || !strings.Contains(err.Error(), "yield") {
		t.Errorf("LoadCSV() error = %v, want missing columns", err)
	}
}
