package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/oncoplus/pkg/audit"
	"github.com/platinummonkey/oncoplus/pkg/billing"
	"github.com/platinummonkey/oncoplus/pkg/enrollment"
	"github.com/platinummonkey/oncoplus/pkg/observability"
	"github.com/platinummonkey/oncoplus/pkg/premium"
	"github.com/platinummonkey/oncoplus/pkg/roster"
	"github.com/platinummonkey/oncoplus/pkg/storage"
	"github.com/platinummonkey/oncoplus/pkg/validation"
)

var tracer = otel.Tracer("oncoplus/intake")

// User-facing messages
const (
	msgSubscribed          = "Suscripción iniciada. Redirigiendo a Mercado Pago."
	msgRegistered          = "Solicitud de afiliación registrada. El tipo de pago seleccionado no inicia un proceso automático en Mercado Pago."
	msgInvalidPrefix       = "Datos de formulario inválidos: "
	msgPricingUnavailable  = "Error interno al calcular el monto total final. Verifique los datos, especialmente las fechas de nacimiento."
	msgSubscriptionFailed  = "No se pudo iniciar el proceso de pago con Mercado Pago."
	msgDuplicate           = "Ya existe una afiliación registrada con este documento de identidad."
	msgInternalError       = "Ocurrió un error interno en el servidor durante el procesamiento del formulario. Intente nuevamente más tarde."
)

// Enrollment outcomes reported to metrics
const (
	outcomeInvalid            = "invalid"
	outcomeDuplicate          = "duplicate"
	outcomePricingUnavailable = "pricing_unavailable"
	outcomeSubscribed         = "subscribed"
	outcomeSubscriptionFailed = "subscription_failed"
	outcomeRegistered         = "registered"
	outcomeError              = "error"
)

// Response is the answer to a submission. Field names are part of the public
// contract with the enrollment form.
type Response struct {
	Success        bool        `json:"success"`
	RegistroID     string      `json:"registroId,omitempty"`
	MontoTotal     json.Number `json:"montoTotal,omitempty"`
	InitPoint      string      `json:"init_point,omitempty"`
	SubscriptionID string      `json:"subscription_id_mp,omitempty"`
	TransactionID  string      `json:"internal_transaction_id,omitempty"`
	Message        string      `json:"message,omitempty"`
	Error          string      `json:"error,omitempty"`
	// DuplicateOf is set when the warn policy found an existing enrollee
	DuplicateOf string `json:"duplicateOf,omitempty"`
}

// Store is the persistence the intake flow writes to
type Store interface {
	storage.EnrollmentWriter
	FindByDocument(ctx context.Context, docType enrollment.DocumentType, number string) (storage.DocumentMatch, error)
	CreateRosterRows(ctx context.Context, rows []*enrollment.RosterRow) error
}

// Pricer prices a household
type Pricer interface {
	ComputeHouseholdTotals(ctx context.Context, primary enrollment.Person, dependents []enrollment.Person) premium.Household
}

// Subscriber opens a recurring subscription
type Subscriber interface {
	CreateSubscription(ctx context.Context, sub *enrollment.Submission, enrolleeID string, amount decimal.Decimal) billing.SubscriptionResult
}

// Registrar confirms a registration without recurring billing
type Registrar interface {
	NotifyRegistration(ctx context.Context, e *enrollment.Enrollee) error
}

// Config holds intake settings
type Config struct {
	DuplicatePolicy DuplicatePolicy
}

// Service runs submissions end to end
type Service struct {
	store      Store
	validator  *validation.Validator
	pricer     Pricer
	subscriber Subscriber
	registrar  Registrar
	cfg        Config
	logger     *observability.Logger
	recorder   *audit.Recorder
	metrics    *observability.Metrics
	now        func() time.Time
}

// NewService creates an intake service. registrar, recorder and metrics may be nil.
func NewService(store Store, validator *validation.Validator, pricer Pricer, subscriber Subscriber, registrar Registrar, cfg Config, logger *observability.Logger, recorder *audit.Recorder, metrics *observability.Metrics) *Service {
	if cfg.DuplicatePolicy == "" {
		cfg.DuplicatePolicy = DuplicateWarn
	}
	if validator == nil {
		validator = validation.NewValidator(nil)
	}
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Service{
		store:      store,
		validator:  validator,
		pricer:     pricer,
		subscriber: subscriber,
		registrar:  registrar,
		cfg:        cfg,
		logger:     logger,
		recorder:   recorder,
		metrics:    metrics,
		now:        time.Now,
	}
}

// Submit processes one form payload
func (s *Service) Submit(ctx context.Context, values map[string]any) (resp Response) {
	ctx, span := tracer.Start(ctx, "Intake.Submit")
	defer span.End()

	defer func() {
		if err := observability.RecoverToError(s.logger, "intake submit", recover()); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "panic")
			s.recorder.Error(ctx, audit.CategoryEnrollment, "Submission processing panicked", err, nil)
			s.metrics.RecordEnrollment(outcomeError, 0)
			resp = Response{Error: msgInternalError}
		}
	}()

	if values == nil {
		s.recorder.Error(ctx, audit.CategoryEnrollment, "Submission without form data", errors.New("empty payload"), nil)
		s.metrics.RecordEnrollment(outcomeError, 0)
		return Response{Error: "Error interno del servidor: No se recibieron datos del formulario."}
	}

	sub := enrollment.DecodeForm(values)
	span.SetAttributes(
		attribute.Int("dependents", sub.DependentCount),
		attribute.Bool("recurring", sub.Recurring),
	)

	resp, outcome, err := s.submit(ctx, sub)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	}
	s.metrics.RecordEnrollment(outcome, sub.DependentCount)
	return resp
}

func (s *Service) submit(ctx context.Context, sub *enrollment.Submission) (Response, string, error) {
	result := s.validator.Validate(sub)
	if !result.Valid {
		s.recorder.Warn(ctx, audit.CategoryValidation, "Invalid submission", map[string]any{
			"email":  sub.Primary.Email,
			"errors": result.Errors,
		})
		return Response{Error: msgInvalidPrefix + result.Error()}, outcomeInvalid, errors.New(result.Error())
	}

	s.recorder.Info(ctx, audit.CategoryEnrollment, "Processing submission", map[string]any{
		"email":      sub.Primary.Email,
		"dependents": sub.DependentCount,
	})

	duplicateOf, err := s.checkDuplicate(ctx, sub)
	if errors.Is(err, storage.ErrDuplicateDocument) {
		return Response{Error: msgDuplicate}, outcomeDuplicate, err
	}
	if err != nil {
		return s.internalError(ctx, err, nil)
	}

	now := s.now().UTC()
	persons := make([]enrollment.Person, len(sub.Dependents))
	for i, d := range sub.Dependents {
		persons[i] = d.Person
	}
	household := s.pricer.ComputeHouseholdTotals(ctx, sub.Primary, persons)

	e := &enrollment.Enrollee{
		Person:         sub.Primary,
		Age:            household.Primary.Age,
		Quote:          household.Primary.Quote,
		TotalPrimary:   household.TotalPrimary,
		TotalSecondary: household.TotalSecondary,
		Periodicity:    sub.Periodicity,
		Recurring:      sub.Recurring,
		DependentCount: sub.DependentCount,
		Declarations:   sub.Declarations,
		CoverageStart:  enrollment.CoverageStart(now),
		RegisteredAt:   now,
		UniqueDocument: s.cfg.DuplicatePolicy == DuplicateReject,
	}

	id, err := s.store.CreateEnrollee(ctx, e)
	if errors.Is(err, storage.ErrDuplicateDocument) {
		s.metrics.RecordDuplicate(string(s.cfg.DuplicatePolicy))
		s.recorder.Warn(ctx, audit.CategoryEnrollment, "Duplicate document rejected by store", map[string]any{
			"document_type": string(sub.Primary.DocumentType),
		})
		return Response{Error: msgDuplicate}, outcomeDuplicate, err
	}
	if err != nil {
		return s.internalError(ctx, err, nil)
	}

	deps := make([]*enrollment.Dependent, len(sub.Dependents))
	for i, d := range sub.Dependents {
		deps[i] = &enrollment.Dependent{
			Position:     d.Index,
			Person:       d.Person,
			Relationship: d.Relationship,
			Age:          household.Dependents[i].Age,
			Quote:        household.Dependents[i].Quote,
			RegisteredAt: now,
		}
	}
	if len(deps) > 0 {
		if _, err := s.store.CreateDependents(ctx, id, deps); err != nil {
			return s.internalError(ctx, err, map[string]any{"enrollee_id": id})
		}
	}

	if err := s.store.CreateRosterRows(ctx, roster.BuildRows(e, deps, now)); err != nil {
		return s.internalError(ctx, err, map[string]any{"enrollee_id": id})
	}

	amount, err := premium.BillableFromHousehold(household, sub.Periodicity)
	if err != nil {
		s.recorder.Error(ctx, audit.CategoryPricing, "Billable amount unavailable", err, map[string]any{
			"enrollee_id": id,
			"email":       sub.Primary.Email,
		})
		return Response{Error: msgPricingUnavailable}, outcomePricingUnavailable, err
	}

	resp := Response{
		RegistroID:  id,
		MontoTotal:  json.Number(amount.Round(2).String()),
		DuplicateOf: duplicateOf,
	}

	if !sub.Recurring {
		s.recorder.Info(ctx, audit.CategoryEnrollment, "Recurring billing not selected; no subscription created", map[string]any{
			"enrollee_id": id,
		})
		if s.registrar != nil {
			if err := s.registrar.NotifyRegistration(ctx, e); err != nil {
				s.recorder.Warn(ctx, audit.CategoryNotification, "Registration notice not delivered", map[string]any{
					"enrollee_id": id,
					"error":       err.Error(),
				})
			}
		}
		resp.Success = true
		resp.Message = msgRegistered
		return resp, outcomeRegistered, nil
	}

	subResult := s.subscriber.CreateSubscription(ctx, sub, id, amount)
	if !subResult.Success {
		resp.Error = subResult.Error
		if resp.Error == "" {
			resp.Error = msgSubscriptionFailed
		}
		return resp, outcomeSubscriptionFailed, errors.New(resp.Error)
	}

	resp.Success = true
	resp.InitPoint = subResult.InitPoint
	resp.SubscriptionID = subResult.SubscriptionID
	resp.TransactionID = subResult.TransactionID
	resp.Message = msgSubscribed
	return resp, outcomeSubscribed, nil
}

// checkDuplicate applies the duplicate policy. It returns the id of the
// existing enrollee under warn, and ErrDuplicateDocument under reject.
func (s *Service) checkDuplicate(ctx context.Context, sub *enrollment.Submission) (string, error) {
	if s.cfg.DuplicatePolicy == DuplicateAllow {
		return "", nil
	}

	match, err := s.store.FindByDocument(ctx, sub.Primary.DocumentType, sub.Primary.DocumentNumber)
	if err != nil {
		return "", fmt.Errorf("failed to check duplicate document: %w", err)
	}
	if !match.Exists {
		return "", nil
	}

	s.metrics.RecordDuplicate(string(s.cfg.DuplicatePolicy))
	fields := map[string]any{
		"existing_enrollee_id": match.EnrolleeID,
		"document_type":        string(sub.Primary.DocumentType),
		"policy":               string(s.cfg.DuplicatePolicy),
	}
	if s.cfg.DuplicatePolicy == DuplicateReject {
		s.recorder.Warn(ctx, audit.CategoryEnrollment, "Duplicate submission rejected", fields)
		return "", storage.ErrDuplicateDocument
	}
	s.recorder.Warn(ctx, audit.CategoryEnrollment, "Duplicate document enrolled again", fields)
	return match.EnrolleeID, nil
}

func (s *Service) internalError(ctx context.Context, err error, fields map[string]any) (Response, string, error) {
	s.recorder.Error(ctx, audit.CategoryEnrollment, "Submission processing failed", err, fields)
	return Response{Error: msgInternalError}, outcomeError, err
}

// Lookup reports whether a document is already enrolled
func (s *Service) Lookup(ctx context.Context, docType enrollment.DocumentType, number string) (storage.DocumentMatch, error) {
	ctx, span := tracer.Start(ctx, "Intake.Lookup", trace.WithAttributes(attribute.String("document_type", string(docType))))
	defer span.End()

	match, err := s.store.FindByDocument(ctx, docType, number)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "lookup failed")
		return storage.DocumentMatch{}, err
	}
	return match, nil
}
