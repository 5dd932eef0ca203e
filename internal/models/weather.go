package models

import "time"

// WeatherReading is the current conditions for one postal code as returned by
// the fetch client. Values are copied out of the cache; callers never share an
// entry with it.
type WeatherReading struct {
	LocationName string    `json:"locationName"`
	Temperature  float64   `json:"temperature"`
	FeelsLike    float64   `json:"feelsLike"`
	TempMin      float64   `json:"tempMin"`
	TempMax      float64   `json:"tempMax"`
	Description  string    `json:"description"`
	IconID       string    `json:"iconId"`
	FetchedAt    time.Time `json:"fetchedAt"`
}
