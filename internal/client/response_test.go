package client

import (
	"errors"
	"testing"
	"time"

	"github.com/kjstillabower/zipcode-weather/internal/models"
)

func readingFixture() models.WeatherReading {
	return models.WeatherReading{
		LocationName: "Seattle",
		Temperature:  55.4,
		FeelsLike:    53.1,
		TempMin:      50.2,
		TempMax:      60.8,
		Description:  "broken clouds",
		IconID:       "04d",
	}
}

func TestDecodeReading(t *testing.T) {
	fetchedAt := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		body    string
		want    models.WeatherReading
		wantErr bool
	}{
		{
			name: "full payload",
			body: seattleBody,
			want: func() models.WeatherReading {
				r := readingFixture()
				r.FetchedAt = fetchedAt
				return r
			}(),
		},
		{
			name: "description falls back to main",
			body: `{"name":"Portland","main":{"temp":48},"weather":[{"main":"Rain","icon":"10d"}]}`,
			want: models.WeatherReading{LocationName: "Portland", Temperature: 48, Description: "Rain", IconID: "10d", FetchedAt: fetchedAt},
		},
		{
			name: "name falls back to location",
			body: `{"main":{"temp":70},"weather":[{"main":"Clear","description":"clear sky"}]}`,
			want: models.WeatherReading{LocationName: "98101", Temperature: 70, Description: "clear sky", FetchedAt: fetchedAt},
		},
		{
			name: "zero readings are valid",
			body: `{"name":"Nome","main":{"temp":0,"feels_like":0},"weather":[{"description":"snow"}]}`,
			want: models.WeatherReading{LocationName: "Nome", Description: "snow", FetchedAt: fetchedAt},
		},
		{name: "missing main", body: `{"weather":[{"main":"Clear"}]}`, wantErr: true},
		{name: "null main", body: `{"main":null,"weather":[{"main":"Clear"}]}`, wantErr: true},
		{name: "empty weather", body: `{"main":{"temp":1},"weather":[]}`, wantErr: true},
		{name: "wrong type", body: `{"main":{"temp":"hot"},"weather":[{"main":"Clear"}]}`, wantErr: true},
		{name: "truncated", body: `{"main":{"temp":1`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeReading([]byte(tt.body), "98101", fetchedAt)
			if tt.wantErr {
				if !errors.Is(err, ErrMalformedResponse) {
					t.Errorf("decodeReading() error = %v, want ErrMalformedResponse", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("decodeReading() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("decodeReading() = %+v, want %+v", got, tt.want)
			}
		})
	}
}
