package features

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"
)

// Record is one farm-season observation as supplied by the caller.
type Record struct {
	FarmID       string    `json:"farm_id"`
	CropID       string    `json:"crop_id,omitempty"`
	SeasonID     string    `json:"season_id,omitempty"`
	PlantingDate time.Time `json:"planting_date"`
	HarvestDate  time.Time `json:"harvest_date"`

	AvgTemperature  float64 `json:"avg_temperature"`
	BaseTemperature float64 `json:"base_temperature"`
	MaxTemperature  float64 `json:"max_temperature"`
	MinTemperature  float64 `json:"min_temperature"`
	Humidity        float64 `json:"humidity"`
	Rainfall        float64 `json:"rainfall"`

	NDVI float64 `json:"ndvi"`
	EVI  float64 `json:"evi"`
	SAVI float64 `json:"savi"`

	SoilOrganicCarbon float64 `json:"soil_organic_carbon"`
	SoilPH            float64 `json:"soil_ph"`
	SoilNitrogen      float64 `json:"soil_nitrogen"`
	SoilPhosphorus    float64 `json:"soil_phosphorus"`
	SoilPotassium     float64 `json:"soil_potassium"`

	FertilizerNitrogen   float64 `json:"fertilizer_nitrogen"`
	FertilizerPhosphorus float64 `json:"fertilizer_phosphorus"`
	FertilizerPotassium  float64 `json:"fertilizer_potassium"`
	IrrigationAmount     float64 `json:"irrigation_amount"`

	CropVariety      string `json:"crop_variety"`
	SoilType         string `json:"soil_type"`
	IrrigationMethod string `json:"irrigation_method"`

	MarketPrice float64 `json:"market_price"`
	TotalCost   float64 `json:"total_cost"`
	Yield       float64 `json:"yield"`
}

// numericFields lists the raw numeric columns in their canonical order along
// with accessors. These columns enter the feature matrix unchanged.
var numericFields = []struct {
	name string
	get  func(*Record) float64
	set  func(*Record, float64)
}{
	{"avg_temperature", func(r *Record) float64 { return r.AvgTemperature }, func(r *Record, v float64) { r.AvgTemperature = v }},
	{"base_temperature", func(r *Record) float64 { return r.BaseTemperature }, func(r *Record, v float64) { r.BaseTemperature = v }},
	{"rainfall", func(r *Record) float64 { return r.Rainfall }, func(r *Record, v float64) { r.Rainfall = v }},
	{"ndvi", func(r *Record) float64 { return r.NDVI }, func(r *Record, v float64) { r.NDVI = v }},
	{"evi", func(r *Record) float64 { return r.EVI }, func(r *Record, v float64) { r.EVI = v }},
	{"savi", func(r *Record) float64 { return r.SAVI }, func(r *Record, v float64) { r.SAVI = v }},
	{"soil_organic_carbon", func(r *Record) float64 { return r.SoilOrganicCarbon }, func(r *Record, v float64) { r.SoilOrganicCarbon = v }},
	{"soil_ph", func(r *Record) float64 { return r.SoilPH }, func(r *Record, v float64) { r.SoilPH = v }},
	{"soil_nitrogen", func(r *Record) float64 { return r.SoilNitrogen }, func(r *Record, v float64) { r.SoilNitrogen = v }},
	{"soil_phosphorus", func(r *Record) float64 { return r.SoilPhosphorus }, func(r *Record, v float64) { r.SoilPhosphorus = v }},
	{"soil_potassium", func(r *Record) float64 { return r.SoilPotassium }, func(r *Record, v float64) { r.SoilPotassium = v }},
	{"max_temperature", func(r *Record) float64 { return r.MaxTemperature }, func(r *Record, v float64) { r.MaxTemperature = v }},
	{"min_temperature", func(r *Record) float64 { return r.MinTemperature }, func(r *Record, v float64) { r.MinTemperature = v }},
	{"humidity", func(r *Record) float64 { return r.Humidity }, func(r *Record, v float64) { r.Humidity = v }},
	{"fertilizer_nitrogen", func(r *Record) float64 { return r.FertilizerNitrogen }, func(r *Record, v float64) { r.FertilizerNitrogen = v }},
	{"fertilizer_phosphorus", func(r *Record) float64 { return r.FertilizerPhosphorus }, func(r *Record, v float64) { r.FertilizerPhosphorus = v }},
	{"fertilizer_potassium", func(r *Record) float64 { return r.FertilizerPotassium }, func(r *Record, v float64) { r.FertilizerPotassium = v }},
	{"irrigation_amount", func(r *Record) float64 { return r.IrrigationAmount }, func(r *Record, v float64) { r.IrrigationAmount = v }},
	{"market_price", func(r *Record) float64 { return r.MarketPrice }, func(r *Record, v float64) { r.MarketPrice = v }},
	{"total_cost", func(r *Record) float64 { return r.TotalCost }, func(r *Record, v float64) { r.TotalCost = v }},
}

// RequiredColumns are the CSV header names LoadCSV insists on.
var RequiredColumns = func() []string {
	cols := []string{"farm_id", "planting_date", "harvest_date"}
	for _, f := range numericFields {
		cols = append(cols, f.name)
	}
	return append(cols, "crop_variety", "soil_type", "irrigation_method", "yield")
}()

var dateLayouts = []string{time.RFC3339, "2006-01-02", "2006-01-02 15:04:05"}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

// parseNumber reads a numeric cell. Empty cells and "NaN" are missing values.
func parseNumber(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "nan") || strings.EqualFold(s, "na") {
		return math.NaN(), nil
	}
	return strconv.ParseFloat(s, 64)
}

// LoadCSV reads records from a CSV stream with a header row. Columns beyond
// RequiredColumns (and the optional crop_id/season_id) are ignored. Rows that
// fail to parse are logged and skipped; a malformed header is an error.
func LoadCSV(r io.Reader, logger *slog.Logger) ([]Record, error) {
	if logger == nil {
		logger = slog.Default()
	}

	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	colMap := make(map[string]int, len(header))
	for i, col := range header {
		colMap[strings.TrimSpace(col)] = i
	}
	var missing []string
	for _, col := range RequiredColumns {
		if _, ok := colMap[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("csv missing required columns: %s", strings.Join(missing, ", "))
	}

	var records []Record
	line := 1
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			logger.Warn("skipping unreadable csv row", "line", line, "error", err)
			continue
		}
		rec, err := parseRow(row, colMap)
		if err != nil {
			logger.Warn("skipping invalid csv row", "line", line, "error", err)
			continue
		}
		records = append(records, rec)
	}

	logger.Debug("loaded csv records", "rows", len(records))
	return records, nil
}

func parseRow(row []string, colMap map[string]int) (Record, error) {
	cell := func(name string) string {
		if i, ok := colMap[name]; ok && i < len(row) {
			return row[i]
		}
		return ""
	}

	rec := Record{
		FarmID:           strings.TrimSpace(cell("farm_id")),
		CropID:           strings.TrimSpace(cell("crop_id")),
		SeasonID:         strings.TrimSpace(cell("season_id")),
		CropVariety:      strings.TrimSpace(cell("crop_variety")),
		SoilType:         strings.TrimSpace(cell("soil_type")),
		IrrigationMethod: strings.TrimSpace(cell("irrigation_method")),
	}
	if rec.FarmID == "" {
		return Record{}, errors.New("empty farm_id")
	}

	var err error
	if rec.PlantingDate, err = parseDate(cell("planting_date")); err != nil {
		return Record{}, fmt.Errorf("planting_date: %w", err)
	}
	if h := cell("harvest_date"); strings.TrimSpace(h) != "" {
		if rec.HarvestDate, err = parseDate(h); err != nil {
			return Record{}, fmt.Errorf("harvest_date: %w", err)
		}
	}

	for _, f := range numericFields {
		v, err := parseNumber(cell(f.name))
		if err != nil {
			return Record{}, fmt.Errorf("%s: %w", f.name, err)
		}
		f.set(&rec, v)
	}
	if rec.Yield, err = parseNumber(cell("yield")); err != nil {
		return Record{}, fmt.Errorf("yield: %w", err)
	}
	return rec, nil
}
