package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/oncoplus/pkg/enrollment"
	"github.com/platinummonkey/oncoplus/pkg/httputil"
	"github.com/platinummonkey/oncoplus/pkg/premium"
	"github.com/platinummonkey/oncoplus/pkg/rates"
)

// RateLookup resolves an age to a rate pair
type RateLookup interface {
	Lookup(ctx context.Context, age int) rates.Rates
}

// QuoteResponse is the rate pair for one age
type QuoteResponse struct {
	Age       int         `json:"age"`
	Primary   json.Number `json:"primary"`
	Secondary json.Number `json:"secondary"`
	Available bool        `json:"available"`
}

// RateHandlers serves premium quotes
type RateHandlers struct {
	rates RateLookup
	now   func() time.Time
}

// NewRateHandlers creates a new RateHandlers. now defaults to time.Now.
func NewRateHandlers(lookup RateLookup, now func() time.Time) *RateHandlers {
	if now == nil {
		now = time.Now
	}
	return &RateHandlers{rates: lookup, now: now}
}

// RegisterRoutes registers rate routes
func (h *RateHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/rates/quote", h.Quote).Methods(http.MethodGet, http.MethodOptions)
}

// Quote returns the rates for ?age= or ?birthDate=
func (h *RateHandlers) Quote(w http.ResponseWriter, r *http.Request) {
	var age int
	if raw := httputil.ParseQueryString(r, "birthDate", ""); raw != "" {
		if _, err := enrollment.ParseDate(raw); err != nil {
			httputil.WriteBadRequest(w, "birthDate must be a date")
			return
		}
		age = premium.AgeFromBirthDate(raw, h.now())
	} else {
		parsed, err := httputil.ParseQueryInt(r, "age", -1)
		if err != nil {
			httputil.WriteBadRequest(w, err.Error())
			return
		}
		if parsed < 0 {
			httputil.WriteBadRequest(w, "age or birthDate is required")
			return
		}
		age = parsed
	}

	result := h.rates.Lookup(r.Context(), age)
	httputil.WriteJSON(w, http.StatusOK, QuoteResponse{
		Age:       age,
		Primary:   json.Number(result.Primary.StringFixed(2)),
		Secondary: json.Number(result.Secondary.StringFixed(2)),
		Available: result.Available,
	})
}
