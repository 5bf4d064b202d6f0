package enrollment

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Periodicity is how often the household is billed
type Periodicity string

const (
	PeriodicityMonthly Periodicity = "Monthly"
	PeriodicityAnnual  Periodicity = "Annual"
)

// Valid reports whether p is a supported periodicity
func (p Periodicity) Valid() bool {
	return p == PeriodicityMonthly || p == PeriodicityAnnual
}

// ParsePeriodicity accepts the English values and the Spanish form values
func ParsePeriodicity(raw string) (Periodicity, bool) {
	switch strings.TrimSpace(raw) {
	case "Monthly", "Mensual":
		return PeriodicityMonthly, true
	case "Annual", "Anual":
		return PeriodicityAnnual, true
	default:
		return Periodicity(raw), false
	}
}

// DocumentType identifies the kind of national identity document
type DocumentType string

const (
	// DocumentTypeDNI is the Peruvian national identity document
	DocumentTypeDNI DocumentType = "DNI"
	// DocumentTypeCE is the foreigner's identity card
	DocumentTypeCE DocumentType = "CE"
)

// Relationship describes how a dependent relates to the primary enrollee
type Relationship string

const (
	RelationshipPrimary  Relationship = "TITULAR"
	RelationshipSpouse   Relationship = "CONYUGE"
	RelationshipFather   Relationship = "PADRE"
	RelationshipMother   Relationship = "MADRE"
	RelationshipSon      Relationship = "HIJO"
	RelationshipDaughter Relationship = "HIJA"
)

// Person holds the identity and contact fields shared by enrollees and dependents.
// BirthDate is kept as submitted; parsing happens where age is derived.
type Person struct {
	FirstName      string       `json:"firstName"`
	MiddleName     string       `json:"middleName,omitempty"`
	PaternalName   string       `json:"paternalSurname"`
	MaternalName   string       `json:"maternalSurname"`
	DocumentType   DocumentType `json:"documentType"`
	DocumentNumber string       `json:"documentNumber"`
	BirthDate      string       `json:"birthDate"`
	Sex            string       `json:"sex"`
	Country        string       `json:"country"`
	Email          string       `json:"email,omitempty"`
	Phone          string       `json:"phone,omitempty"`
}

// FullName joins the name parts, skipping empty ones
func (p Person) FullName() string {
	parts := make([]string, 0, 4)
	for _, s := range []string{p.FirstName, p.MiddleName, p.PaternalName, p.MaternalName} {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}

// Declarations are the three affirmations every applicant must accept
type Declarations struct {
	Health  bool `json:"health"`
	Sworn   bool `json:"sworn"`
	Privacy bool `json:"privacy"`
}

// DependentInput is a dependent as submitted on the form
type DependentInput struct {
	Index        int          `json:"index"`
	Person       Person       `json:"person"`
	Relationship Relationship `json:"relationship"`
}

// Submission is a decoded intake request. Raw keeps the original form values so
// validation can report on fields that failed to decode.
type Submission struct {
	Primary        Person            `json:"primary"`
	Periodicity    Periodicity       `json:"periodicity"`
	Recurring      bool              `json:"recurring"`
	DependentCount int               `json:"dependentCount"`
	Dependents     []DependentInput  `json:"dependents"`
	Declarations   Declarations      `json:"declarations"`
	Locale         string            `json:"locale,omitempty"`
	Raw            map[string]string `json:"-"`
}

// Quote is the rate pair assigned to one insured person
type Quote struct {
	Age       int             `json:"age"`
	Primary   decimal.Decimal `json:"primary"`
	Secondary decimal.Decimal `json:"secondary"`
}

// Enrollee is the persisted primary applicant. Rows are never updated.
type Enrollee struct {
	ID             string          `json:"id"`
	Person         Person          `json:"person"`
	Age            int             `json:"age"`
	Quote          Quote           `json:"quote"`
	TotalPrimary   decimal.Decimal `json:"totalPrimary"`
	TotalSecondary decimal.Decimal `json:"totalSecondary"`
	Periodicity    Periodicity     `json:"periodicity"`
	Recurring      bool            `json:"recurring"`
	DependentCount int             `json:"dependentCount"`
	Declarations   Declarations    `json:"declarations"`
	CoverageStart  time.Time       `json:"coverageStart"`
	RegisteredAt   time.Time       `json:"registeredAt"`

	// UniqueDocument makes the store enforce one enrollee per document
	UniqueDocument bool `json:"-"`
}

// Dependent is a persisted covered person linked to an enrollee
type Dependent struct {
	ID           string       `json:"id"`
	EnrolleeID   string       `json:"enrolleeId"`
	Position     int          `json:"position"`
	Person       Person       `json:"person"`
	Relationship Relationship `json:"relationship"`
	Age          int          `json:"age"`
	Quote        Quote        `json:"quote"`
	RegisteredAt time.Time    `json:"registeredAt"`
}

// DependentSummary is returned after a dependent batch is written
type DependentSummary struct {
	ID       string `json:"id"`
	Position int    `json:"position"`
	Name     string `json:"name"`
	Age      int    `json:"age"`
}

// TransactionStatus mirrors the processor's payment and subscription states
type TransactionStatus string

const (
	StatusPending     TransactionStatus = "pending"
	StatusApproved    TransactionStatus = "approved"
	StatusAuthorized  TransactionStatus = "authorized"
	StatusInProcess   TransactionStatus = "in_process"
	StatusInMediation TransactionStatus = "in_mediation"
	StatusRejected    TransactionStatus = "rejected"
	StatusCancelled   TransactionStatus = "cancelled"
	StatusRefunded    TransactionStatus = "refunded"
	StatusChargedBack TransactionStatus = "charged_back"
)

var validStatuses = map[TransactionStatus]bool{
	StatusPending:     true,
	StatusApproved:    true,
	StatusAuthorized:  true,
	StatusInProcess:   true,
	StatusInMediation: true,
	StatusRejected:    true,
	StatusCancelled:   true,
	StatusRefunded:    true,
	StatusChargedBack: true,
}

// ParseStatus converts a processor status string into a TransactionStatus
func ParseStatus(raw string) (TransactionStatus, error) {
	s := TransactionStatus(strings.ToLower(strings.TrimSpace(raw)))
	if !validStatuses[s] {
		return "", fmt.Errorf("unknown transaction status %q", raw)
	}
	return s, nil
}

// Transaction is the local record of a processor subscription
type Transaction struct {
	ID                     string            `json:"id"`
	EnrolleeID             string            `json:"enrolleeId"`
	ExternalSubscriptionID string            `json:"externalSubscriptionId"`
	ExternalPaymentID      *string           `json:"externalPaymentId,omitempty"`
	Amount                 decimal.Decimal   `json:"amount"`
	Currency               string            `json:"currency"`
	Status                 TransactionStatus `json:"status"`
	CreatedAt              time.Time         `json:"createdAt"`
	UpdatedAt              time.Time         `json:"updatedAt"`
	NextChargeAt           time.Time         `json:"nextChargeAt"`
}

// RosterRow is one line of the insurer's group-policy frame
type RosterRow struct {
	ID                string    `json:"id"`
	EnrolleeID        string    `json:"enrolleeId"`
	CertificateNumber string    `json:"certificateNumber"`
	RelationshipCode  string    `json:"relationshipCode"`
	DocumentTypeCode  string    `json:"documentTypeCode"`
	DocumentNumber    string    `json:"documentNumber"`
	PaternalName      string    `json:"paternalSurname"`
	MaternalName      string    `json:"maternalSurname"`
	FirstName         string    `json:"firstName"`
	MiddleName        string    `json:"middleName"`
	BirthDate         string    `json:"birthDate"`
	Sex               string    `json:"sex"`
	Country           string    `json:"country"`
	Movement          string    `json:"movement"`
	Program           string    `json:"program"`
	CoverageStart     time.Time `json:"coverageStart"`
	CreatedAt         time.Time `json:"createdAt"`
}
