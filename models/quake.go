package models

import "time"

// Quake is a single earthquake reported by GeoNet
type Quake struct {
	PublicID  string
	Time      time.Time
	Depth     float64
	Magnitude float64
	MMI       int
	Locality  string
	Quality   string
}
