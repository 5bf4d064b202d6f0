package enrollment

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Form field names. Dependent fields use the same names with a "-<index>"
// suffix, where index is 1-based.
const (
	FieldFirstName       = "firstName"
	FieldMiddleName      = "middleName"
	FieldPaternalSurname = "paternalSurname"
	FieldMaternalSurname = "maternalSurname"
	FieldDocumentType    = "documentType"
	FieldDocumentNumber  = "documentNumber"
	FieldBirthDate       = "birthDate"
	FieldSex             = "sex"
	FieldCountry         = "country"
	FieldEmail           = "email"
	FieldPhone           = "phone"
	FieldRelationship    = "relationship"
	FieldPeriodicity     = "paymentPeriodicity"
	FieldRecurring       = "recurringPayment"
	FieldDependentCount  = "dependentCount"
	FieldHealth          = "healthDeclaration"
	FieldSworn           = "swornDeclaration"
	FieldPrivacy         = "privacyDeclaration"
	FieldLocale          = "locale"
)

// MaxDependents bounds the dependent count accepted on one submission
const MaxDependents = 10

// fieldAliases maps the legacy Spanish form names onto the canonical ones
var fieldAliases = map[string]string{
	"primerNombre":          FieldFirstName,
	"segundoNombre":         FieldMiddleName,
	"apellidoPaterno":       FieldPaternalSurname,
	"apellidoMaterno":       FieldMaternalSurname,
	"tipoDocumento":         FieldDocumentType,
	"numeroDocumento":       FieldDocumentNumber,
	"fechaNacimiento":       FieldBirthDate,
	"sexo":                  FieldSex,
	"paisNacimiento":        FieldCountry,
	"telefono":              FieldPhone,
	"parentesco":            FieldRelationship,
	"periodicidadPago":      FieldPeriodicity,
	"pagoRecurrente":        FieldRecurring,
	"numeroDependientes":    FieldDependentCount,
	"declaracionSalud":      FieldHealth,
	"declaracionJurada":     FieldSworn,
	"declaracionPrivacidad": FieldPrivacy,
}

// IndexedField returns the form key of a dependent field
func IndexedField(field string, index int) string {
	return fmt.Sprintf("%s-%d", field, index)
}

// IsAffirmative reports whether a form value accepts a declaration:
// a boolean true or the literal "YES" (or its Spanish form "SI").
func IsAffirmative(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case string:
		s := strings.TrimSpace(val)
		return strings.EqualFold(s, "YES") || strings.EqualFold(s, "SI")
	default:
		return false
	}
}

// DecodeForm builds a Submission from a flat form payload. Decoding never
// fails; malformed values are left for the validator to report.
func DecodeForm(values map[string]any) *Submission {
	raw := make(map[string]string, len(values))
	affirmed := make(map[string]bool)

	for key, v := range values {
		canonical := canonicalKey(key)
		raw[canonical] = stringify(v)
		affirmed[canonical] = IsAffirmative(v)
	}

	sub := &Submission{
		Primary:   personFrom(raw, ""),
		Recurring: affirmed[FieldRecurring],
		Declarations: Declarations{
			Health:  affirmed[FieldHealth],
			Sworn:   affirmed[FieldSworn],
			Privacy: affirmed[FieldPrivacy],
		},
		Locale: raw[FieldLocale],
		Raw:    raw,
	}
	sub.Periodicity, _ = ParsePeriodicity(raw[FieldPeriodicity])

	if n, err := strconv.Atoi(raw[FieldDependentCount]); err == nil && n > 0 {
		sub.DependentCount = n
	}

	count := sub.DependentCount
	if count > MaxDependents {
		count = MaxDependents
	}
	for i := 1; i <= count; i++ {
		suffix := fmt.Sprintf("-%d", i)
		sub.Dependents = append(sub.Dependents, DependentInput{
			Index:        i,
			Person:       personFrom(raw, suffix),
			Relationship: Relationship(strings.ToUpper(raw[FieldRelationship+suffix])),
		})
	}

	return sub
}

func personFrom(raw map[string]string, suffix string) Person {
	return Person{
		FirstName:      raw[FieldFirstName+suffix],
		MiddleName:     raw[FieldMiddleName+suffix],
		PaternalName:   raw[FieldPaternalSurname+suffix],
		MaternalName:   raw[FieldMaternalSurname+suffix],
		DocumentType:   DocumentType(strings.ToUpper(raw[FieldDocumentType+suffix])),
		DocumentNumber: raw[FieldDocumentNumber+suffix],
		BirthDate:      raw[FieldBirthDate+suffix],
		Sex:            raw[FieldSex+suffix],
		Country:        raw[FieldCountry+suffix],
		Email:          raw[FieldEmail+suffix],
		Phone:          raw[FieldPhone+suffix],
	}
}

// canonicalKey resolves aliases while keeping any "-<index>" suffix
func canonicalKey(key string) string {
	base, suffix := key, ""
	if i := strings.LastIndex(key, "-"); i > 0 {
		if _, err := strconv.Atoi(key[i+1:]); err == nil {
			base, suffix = key[:i], key[i:]
		}
	}
	if alias, ok := fieldAliases[base]; ok {
		base = alias
	}
	return base + suffix
}

func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(val)
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case json.Number:
		return val.String()
	default:
		return strings.TrimSpace(fmt.Sprint(val))
	}
}
