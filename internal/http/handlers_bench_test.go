package http

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func BenchmarkRouter_GetWeather(b *testing.B) {
	router := newTestRouter(&mockLooker{reading: seattle}, Config{}, RouterConfig{})
	req := httptest.NewRequest(http.MethodGet, "/weather/98101", nil)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		router.ServeHTTP(httptest.NewRecorder(), req)
	}
}

func BenchmarkRouter_Results(b *testing.B) {
	router := newTestRouter(&mockLooker{reading: seattle}, Config{}, RouterConfig{})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		router.ServeHTTP(httptest.NewRecorder(), postForm("98101"))
	}
}

func BenchmarkRouter_GetWeather_ValidationError(b *testing.B) {
	router := newTestRouter(&mockLooker{reading: seattle}, Config{}, RouterConfig{})
	req := httptest.NewRequest(http.MethodGet, "/weather/x", nil)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		router.ServeHTTP(httptest.NewRecorder(), req)
	}
}
