package http

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/http"

	"go.uber.org/zap"

	"github.com/kjstillabower/zipcode-weather/internal/reqctx"
	"github.com/kjstillabower/zipcode-weather/internal/validation"
)

//go:embed templates/*.html
var templateFS embed.FS

var pages = template.Must(template.ParseFS(templateFS, "templates/*.html"))

type homePage struct {
	PostalCode string
}

type resultsPage struct {
	Location    string
	Temp        string
	FeelsLike   string
	Description string
	IconID      string
	UnitSymbol  string
}

type errorPage struct {
	Message    string
	PostalCode string
	RequestID  string
}

// Home handles GET /. A zipCode query parameter pre-fills the form.
func (h *Handler) Home(w http.ResponseWriter, r *http.Request) {
	h.renderPage(w, r, http.StatusOK, "home.html", homePage{PostalCode: r.URL.Query().Get("zipCode")})
}

// Results handles POST /results from the home form.
func (h *Handler) Results(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.renderPage(w, r, http.StatusBadRequest, "error.html", errorPage{
			Message:   "Could not read the submitted form",
			RequestID: reqctx.CorrelationID(r.Context()),
		})
		return
	}
	raw := r.PostFormValue("zipCode")

	location, err := validation.ValidateLocation(raw, h.cfg.Rules)
	if err != nil {
		h.renderPage(w, r, http.StatusBadRequest, "error.html", errorPage{
			Message:    errorMessage(err),
			PostalCode: raw,
			RequestID:  reqctx.CorrelationID(r.Context()),
		})
		return
	}

	reading, err := h.lookup(r.Context(), location)
	if err != nil {
		le := classifyLookupError(err)
		reqctx.Logger(r.Context(), h.logger).Debug("lookup failed",
			zap.String("location", location),
			zap.String("code", le.code),
			zap.Error(err))
		h.renderPage(w, r, le.status, "error.html", errorPage{
			Message:    le.message,
			PostalCode: location,
			RequestID:  reqctx.CorrelationID(r.Context()),
		})
		return
	}

	h.renderPage(w, r, http.StatusOK, "results.html", resultsPage{
		Location:    reading.LocationName,
		Temp:        fmt.Sprintf("%.1f", reading.Temperature),
		FeelsLike:   fmt.Sprintf("%.1f", reading.FeelsLike),
		Description: reading.Description,
		IconID:      reading.IconID,
		UnitSymbol:  unitSymbol(h.cfg.Units),
	})
}

// renderPage executes into a buffer so a template failure becomes a clean 500.
func (h *Handler) renderPage(w http.ResponseWriter, r *http.Request, status int, name string, data any) {
	var buf bytes.Buffer
	if err := pages.ExecuteTemplate(&buf, name, data); err != nil {
		reqctx.Logger(r.Context(), h.logger).Error("render page failed",
			zap.String("template", name), zap.Error(err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

func unitSymbol(units string) string {
	switch units {
	case "metric":
		return "°C"
	case "standard":
		return " K"
	default:
		return "°F"
	}
}
