package validation

import (
	"fmt"
	"strings"
)

type messageID int

const (
	msgRequired messageID = iota
	msgEmail
	msgPhone
	msgDNI
	msgCE
	msgPeriodicity
	msgFutureBirthDate
	msgDependentCount
	msgHealthDeclaration
	msgSwornDeclaration
	msgPrivacyDeclaration
)

var catalog = map[string]map[messageID]string{
	"es": {
		msgRequired:           "Campo obligatorio faltante: %s",
		msgEmail:              "Formato de correo electrónico inválido: %s",
		msgPhone:              "El teléfono debe tener 9 dígitos numéricos: %s",
		msgDNI:                "El DNI debe tener exactamente 8 dígitos numéricos: %s",
		msgCE:                 "El CE debe tener entre 1 y 12 caracteres: %s",
		msgPeriodicity:        "La periodicidad de pago debe ser 'Monthly' o 'Annual'",
		msgFutureBirthDate:    "La fecha de nacimiento no puede ser futura: %s",
		msgDependentCount:     "El número de dependientes debe ser un entero entre 0 y %d",
		msgHealthDeclaration:  "Debe aceptar la declaración de salud",
		msgSwornDeclaration:   "Debe aceptar la declaración jurada",
		msgPrivacyDeclaration: "Debe aceptar la declaración de privacidad",
	},
	"en": {
		msgRequired:           "Missing required field: %s",
		msgEmail:              "Invalid email format: %s",
		msgPhone:              "Phone must have 9 digits: %s",
		msgDNI:                "DNI must have exactly 8 digits: %s",
		msgCE:                 "CE must have between 1 and 12 characters: %s",
		msgPeriodicity:        "Payment periodicity must be 'Monthly' or 'Annual'",
		msgFutureBirthDate:    "Birth date cannot be in the future: %s",
		msgDependentCount:     "Dependent count must be an integer between 0 and %d",
		msgHealthDeclaration:  "The health declaration must be accepted",
		msgSwornDeclaration:   "The sworn statement must be accepted",
		msgPrivacyDeclaration: "The privacy policy must be accepted",
	},
}

// DefaultLocale is used when a submission carries no supported locale
const DefaultLocale = "es"

// NormalizeLocale maps a requested locale onto a supported catalog
func NormalizeLocale(locale string) string {
	l := strings.ToLower(strings.TrimSpace(locale))
	if i := strings.IndexAny(l, "-_"); i > 0 {
		l = l[:i]
	}
	if _, ok := catalog[l]; ok {
		return l
	}
	return DefaultLocale
}

func message(locale string, id messageID, args ...any) string {
	tmpl := catalog[NormalizeLocale(locale)][id]
	if len(args) == 0 {
		return tmpl
	}
	return fmt.Sprintf(tmpl, args...)
}
