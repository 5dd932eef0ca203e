package client

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/kjstillabower/zipcode-weather/internal/models"
)

// openWeatherResponse is the subset of the current-weather payload we read.
// Main is a pointer so a missing block is distinguishable from zero readings.
type openWeatherResponse struct {
	Name string `json:"name"`
	Main *struct {
		Temp      float64 `json:"temp"`
		FeelsLike float64 `json:"feels_like"`
		TempMin   float64 `json:"temp_min"`
		TempMax   float64 `json:"temp_max"`
	} `json:"main"`
	Weather []struct {
		Main        string `json:"main"`
		Description string `json:"description"`
		Icon        string `json:"icon"`
	} `json:"weather"`
}

// decodeReading parses and validates an upstream body. The payload must carry
// a main block and at least one weather condition.
func decodeReading(body []byte, location string, fetchedAt time.Time) (models.WeatherReading, error) {
	var resp openWeatherResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return models.WeatherReading{}, fmt.Errorf("%w: parse response: %w", ErrMalformedResponse, err)
	}
	if resp.Main == nil {
		return models.WeatherReading{}, fmt.Errorf("%w: missing main block", ErrMalformedResponse)
	}
	if len(resp.Weather) == 0 {
		return models.WeatherReading{}, fmt.Errorf("%w: missing weather conditions", ErrMalformedResponse)
	}

	cond := resp.Weather[0]
	description := cond.Description
	if description == "" {
		description = cond.Main
	}
	name := resp.Name
	if name == "" {
		name = location
	}

	return models.WeatherReading{
		LocationName: name,
		Temperature:  resp.Main.Temp,
		FeelsLike:    resp.Main.FeelsLike,
		TempMin:      resp.Main.TempMin,
		TempMax:      resp.Main.TempMax,
		Description:  description,
		IconID:       cond.Icon,
		FetchedAt:    fetchedAt,
	}, nil
}
