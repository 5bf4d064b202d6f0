package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/oncoplus/pkg/enrollment"
	"github.com/platinummonkey/oncoplus/pkg/httputil"
	"github.com/platinummonkey/oncoplus/pkg/intake"
	"github.com/platinummonkey/oncoplus/pkg/observability"
	"github.com/platinummonkey/oncoplus/pkg/storage"
)

// IntakeService processes enrollment submissions
type IntakeService interface {
	Submit(ctx context.Context, values map[string]any) intake.Response
	Lookup(ctx context.Context, docType enrollment.DocumentType, number string) (storage.DocumentMatch, error)
}

// LookupResponse is the public answer to a document lookup. The form only
// needs to know whether the document is taken; enrollee details stay
// server-side.
type LookupResponse struct {
	Exists bool `json:"exists"`
}

// EnrollmentHandlers handles enrollment form requests
type EnrollmentHandlers struct {
	intake IntakeService
}

// NewEnrollmentHandlers creates a new EnrollmentHandlers
func NewEnrollmentHandlers(svc IntakeService) *EnrollmentHandlers {
	return &EnrollmentHandlers{intake: svc}
}

// RegisterRoutes registers enrollment routes on a router rooted at /enrollments
func (h *EnrollmentHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("", h.Submit).Methods(http.MethodPost, http.MethodOptions)
	router.HandleFunc("/lookup", h.Lookup).Methods(http.MethodGet, http.MethodOptions)
}

// Submit accepts a JSON or form-encoded enrollment submission
func (h *EnrollmentHandlers) Submit(w http.ResponseWriter, r *http.Request) {
	values, err := httputil.DecodeFormValues(r)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Warn("Undecodable enrollment body")
		httputil.WriteJSON(w, http.StatusBadRequest, intake.Response{
			Success: false,
			Error:   "Cuerpo de la solicitud inválido.",
		})
		return
	}

	resp := h.intake.Submit(r.Context(), values)
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// Lookup reports whether an enrollee already holds a document
func (h *EnrollmentHandlers) Lookup(w http.ResponseWriter, r *http.Request) {
	docType := enrollment.DocumentType(strings.ToUpper(httputil.ParseQueryString(r, "documentType", string(enrollment.DocumentTypeDNI))))
	number := httputil.ParseQueryString(r, "documentNumber", "")
	if !httputil.RequireNonEmpty(w, number, "documentNumber") {
		return
	}
	if docType != enrollment.DocumentTypeDNI && docType != enrollment.DocumentTypeCE {
		httputil.WriteBadRequest(w, "documentType must be DNI or CE")
		return
	}

	match, err := h.intake.Lookup(r.Context(), docType, number)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("Document lookup failed")
		httputil.WriteErrorMessage(w, http.StatusInternalServerError, "document lookup failed")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, LookupResponse{Exists: match.Exists})
}
