// Package geo provides the distance oracle used by the location rule.
package geo

import (
	"math"
	"strings"
)

// EarthRadiusKm is the mean Earth radius used by the haversine formula.
const EarthRadiusKm = 6371.0

// Coordinates is a latitude/longitude pair in decimal degrees.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Cities is the built-in coordinate table: Sri Lankan districts plus the
// global cities that appear in sample datasets.
var Cities = map[string]Coordinates{
	"Colombo":      {6.9271, 79.8612},
	"Gampaha":      {7.0873, 79.9945},
	"Kalutara":     {6.5854, 79.9607},
	"Kandy":        {7.2906, 80.6337},
	"Matale":       {7.4675, 80.6234},
	"Nuwara Eliya": {6.9497, 80.7891},
	"Galle":        {6.0535, 80.2210},
	"Matara":       {5.9549, 80.5550},
	"Hambantota":   {6.1429, 81.1212},
	"Jaffna":       {9.6615, 80.0255},
	"Batticaloa":   {7.7310, 81.6747},
	"Trincomalee":  {8.5874, 81.2152},
	"Kurunegala":   {7.4818, 80.3609},
	"Anuradhapura": {8.3114, 80.4037},
	"Polonnaruwa":  {7.9403, 81.0188},
	"Badulla":      {6.9934, 81.0550},
	"Ratnapura":    {6.7056, 80.3847},

	"New York":    {40.7128, -74.0060},
	"Los Angeles": {34.0522, -118.2437},
	"Chicago":     {41.8781, -87.6298},
	"Miami":       {25.7617, -80.1918},
	"Seattle":     {47.6062, -122.3321},
	"Boston":      {42.3601, -71.0589},
	"Dallas":      {32.7767, -96.7970},
	"Phoenix":     {33.4484, -112.0740},
	"Denver":      {39.7392, -104.9903},
	"Atlanta":     {33.7490, -84.3880},
	"Portland":    {45.5152, -122.6784},
	"London":      {51.5074, -0.1278},
}

// Oracle answers city-to-city distance queries. It is immutable after
// construction and safe for concurrent use.
type Oracle struct {
	table    map[string]Coordinates
	fallback float64
}

// NewOracle creates an oracle over the built-in city table. The fallback is
// returned whenever either city is unknown.
func NewOracle(fallbackKm float64) *Oracle {
	return NewOracleWithTable(Cities, fallbackKm)
}

// NewOracleWithTable creates an oracle over a custom coordinate table.
func NewOracleWithTable(cities map[string]Coordinates, fallbackKm float64) *Oracle {
	table := make(map[string]Coordinates, len(cities))
	for name, c := range cities {
		table[Normalize(name)] = c
	}
	return &Oracle{table: table, fallback: fallbackKm}
}

// Fallback returns the distance reported for unknown cities.
func (o *Oracle) Fallback() float64 {
	return o.fallback
}

// Known reports whether the city is in the table.
func (o *Oracle) Known(city string) bool {
	_, ok := o.table[Normalize(city)]
	return ok
}

// Distance returns the great-circle distance in km between two cities,
// rounded to two decimals. Identical names are 0 km apart; any unknown name
// yields the fallback distance. The result never depends on argument order.
func (o *Oracle) Distance(a, b string) float64 {
	na, nb := Normalize(a), Normalize(b)
	if na == nb {
		return 0
	}

	ca, okA := o.table[na]
	cb, okB := o.table[nb]
	if !okA || !okB {
		return o.fallback
	}

	return math.Round(Haversine(ca, cb)*100) / 100
}

// Haversine returns the great-circle distance in km between two points.
func Haversine(a, b Coordinates) float64 {
	lat1 := radians(a.Lat)
	lat2 := radians(b.Lat)
	dLat := radians(b.Lat - a.Lat)
	dLon := radians(b.Lon - a.Lon)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return EarthRadiusKm * c
}

// Normalize trims surrounding whitespace, collapses inner runs of spaces and
// case-folds a city name.
func Normalize(city string) string {
	return strings.ToLower(strings.Join(strings.Fields(city), " "))
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}
