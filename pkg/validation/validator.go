package validation

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/oncoplus/pkg/enrollment"
)

var (
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	nonDigits    = regexp.MustCompile(`\D`)
)

// Config defines validation limits
type Config struct {
	// MaxDependents is the largest dependent count accepted
	MaxDependents int
	// Now supplies the reference date for future birth-date checks
	Now func() time.Time
}

// DefaultConfig returns default validation settings
func DefaultConfig() *Config {
	return &Config{
		MaxDependents: enrollment.MaxDependents,
		Now:           time.Now,
	}
}

// Validator checks submissions before anything is persisted
type Validator struct {
	config *Config
}

// NewValidator creates a new validator
func NewValidator(config *Config) *Validator {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.MaxDependents <= 0 {
		config.MaxDependents = enrollment.MaxDependents
	}
	return &Validator{config: config}
}

// Result holds every rule violation found, in evaluation order
type Result struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}

// Error joins the violations for display
func (r Result) Error() string {
	return strings.Join(r.Errors, "; ")
}

type collector struct {
	locale string
	errs   []string
}

func (c *collector) add(id messageID, args ...any) {
	c.errs = append(c.errs, message(c.locale, id, args...))
}

// Validate evaluates every rule without short-circuiting. It never mutates sub.
func (v *Validator) Validate(sub *enrollment.Submission) Result {
	c := &collector{locale: sub.Locale}
	today := v.today()

	p := sub.Primary
	required(c, "", []field{
		{enrollment.FieldFirstName, p.FirstName},
		{enrollment.FieldPaternalSurname, p.PaternalName},
		{enrollment.FieldMaternalSurname, p.MaternalName},
		{enrollment.FieldDocumentType, string(p.DocumentType)},
		{enrollment.FieldDocumentNumber, p.DocumentNumber},
		{enrollment.FieldBirthDate, p.BirthDate},
		{enrollment.FieldSex, p.Sex},
		{enrollment.FieldCountry, p.Country},
		{enrollment.FieldEmail, p.Email},
		{enrollment.FieldPhone, p.Phone},
		{enrollment.FieldPeriodicity, string(sub.Periodicity)},
		{enrollment.FieldDependentCount, v.rawDependentCount(sub)},
	})

	checkEmail(c, "", p.Email)
	checkPhone(c, "", p.Phone)
	checkDocument(c, "", p.DocumentType, p.DocumentNumber)

	if sub.Periodicity != "" && !sub.Periodicity.Valid() {
		c.add(msgPeriodicity)
	}
	checkBirthDate(c, "", p.BirthDate, today)

	count, ok := v.dependentCount(sub)
	if !ok {
		c.add(msgDependentCount, v.config.MaxDependents)
	}

	for i := 1; i <= count; i++ {
		d := dependentAt(sub, i)
		suffix := "-" + strconv.Itoa(i)
		dp := d.Person

		required(c, suffix, []field{
			{enrollment.FieldFirstName, dp.FirstName},
			{enrollment.FieldPaternalSurname, dp.PaternalName},
			{enrollment.FieldMaternalSurname, dp.MaternalName},
			{enrollment.FieldDocumentType, string(dp.DocumentType)},
			{enrollment.FieldDocumentNumber, dp.DocumentNumber},
			{enrollment.FieldBirthDate, dp.BirthDate},
			{enrollment.FieldSex, dp.Sex},
			{enrollment.FieldCountry, dp.Country},
			{enrollment.FieldRelationship, string(d.Relationship)},
		})
		checkDocument(c, suffix, dp.DocumentType, dp.DocumentNumber)
		checkEmail(c, suffix, dp.Email)
		checkPhone(c, suffix, dp.Phone)
		checkBirthDate(c, suffix, dp.BirthDate, today)
	}

	if !sub.Declarations.Health {
		c.add(msgHealthDeclaration)
	}
	if !sub.Declarations.Sworn {
		c.add(msgSwornDeclaration)
	}
	if !sub.Declarations.Privacy {
		c.add(msgPrivacyDeclaration)
	}

	return Result{Valid: len(c.errs) == 0, Errors: c.errs}
}

func (v *Validator) today() time.Time {
	now := v.config.Now()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

// rawDependentCount returns the submitted dependent count for the presence
// check. Submissions built without a raw form always carry a count.
func (v *Validator) rawDependentCount(sub *enrollment.Submission) string {
	if sub.Raw == nil {
		return strconv.Itoa(sub.DependentCount)
	}
	return sub.Raw[enrollment.FieldDependentCount]
}

// dependentCount returns how many dependents to validate and whether the
// submitted count is acceptable
func (v *Validator) dependentCount(sub *enrollment.Submission) (int, bool) {
	n := sub.DependentCount
	if sub.Raw != nil {
		raw := strings.TrimSpace(sub.Raw[enrollment.FieldDependentCount])
		if raw == "" {
			// reported by the required-field rule
			return 0, true
		}
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return 0, false
		}
		n = parsed
	}
	if n < 0 {
		return 0, false
	}
	if n > v.config.MaxDependents {
		return v.config.MaxDependents, false
	}
	return n, true
}

func dependentAt(sub *enrollment.Submission, index int) enrollment.DependentInput {
	for _, d := range sub.Dependents {
		if d.Index == index {
			return d
		}
	}
	return enrollment.DependentInput{Index: index}
}

type field struct {
	name  string
	value string
}

func required(c *collector, suffix string, fields []field) {
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			c.add(msgRequired, f.name+suffix)
		}
	}
}

func checkEmail(c *collector, suffix, email string) {
	if email != "" && !emailPattern.MatchString(email) {
		c.add(msgEmail, enrollment.FieldEmail+suffix)
	}
}

func checkPhone(c *collector, suffix, phone string) {
	if phone != "" && len(digits(phone)) != 9 {
		c.add(msgPhone, enrollment.FieldPhone+suffix)
	}
}

func checkDocument(c *collector, suffix string, docType enrollment.DocumentType, number string) {
	if docType == "" || number == "" {
		return
	}
	switch docType {
	case enrollment.DocumentTypeDNI:
		if len(digits(number)) != 8 {
			c.add(msgDNI, enrollment.FieldDocumentNumber+suffix)
		}
	case enrollment.DocumentTypeCE:
		if n := len([]rune(number)); n < 1 || n > 12 {
			c.add(msgCE, enrollment.FieldDocumentNumber+suffix)
		}
	}
}

// checkBirthDate rejects future dates. Unparseable dates are accepted here
// and priced as age 0 downstream.
func checkBirthDate(c *collector, suffix, raw string, today time.Time) {
	if raw == "" {
		return
	}
	birth, err := enrollment.ParseDate(raw)
	if err != nil {
		return
	}
	if birth.After(today) {
		c.add(msgFutureBirthDate, enrollment.FieldBirthDate+suffix)
	}
}

func digits(s string) string {
	return nonDigits.ReplaceAllString(s, "")
}

// NormalizeDigits strips everything but digits from a phone or DNI value
func NormalizeDigits(s string) string {
	return digits(s)
}
