package notifications

import (
	"bytes"
	"fmt"
	"html/template"
	"time"

	"github.com/platinummonkey/oncoplus/pkg/enrollment"
)

const (
	welcomeSubject      = "¡Bienvenido/a al Programa ONCOPLUS! - Tu cobertura está activada"
	registrationSubject = "Confirmación de solicitud - Programa ONCOPLUS"
)

var funcs = template.FuncMap{
	"date": func(t time.Time) string { return t.Format("02/01/2006") },
	"periodicity": func(p enrollment.Periodicity) string {
		if p == enrollment.PeriodicityAnnual {
			return "Anual"
		}
		return "Mensual"
	},
}

var welcomeTemplate = template.Must(template.New("welcome").Funcs(funcs).Parse(`<!DOCTYPE html>
<html lang="es">
<body style="font-family: Arial, sans-serif; color: #333;">
  <h2>¡Hola {{.FirstName}} {{.PaternalName}}!</h2>
  <p>Tu pago fue aprobado y tu afiliación al Programa ONCOPLUS está activa.</p>
  <table cellpadding="6">
    <tr><td><strong>Número de registro</strong></td><td>{{.EnrolleeID}}</td></tr>
    <tr><td><strong>Inicio de vigencia</strong></td><td>{{date .CoverageStart}}</td></tr>
    <tr><td><strong>Fin del periodo de carencia</strong></td><td>{{date .WaitingPeriodEnd}}</td></tr>
    <tr><td><strong>Periodicidad de pago</strong></td><td>{{periodicity .Periodicity}}</td></tr>
  </table>
  <p>Las coberturas oncológicas aplican a partir del fin del periodo de carencia.</p>
  <p>Saludos cordiales,<br>Equipo ONCOPLUS</p>
</body>
</html>
`))

var registrationTemplate = template.Must(template.New("registration").Funcs(funcs).Parse(`<!DOCTYPE html>
<html lang="es">
<body style="font-family: Arial, sans-serif; color: #333;">
  <p>Estimado/a {{.FirstName}} {{.PaternalName}},</p>
  <p>Gracias por su solicitud de afiliación al programa ONCOPLUS.</p>
  <ul>
    <li>Número de registro: {{.EnrolleeID}}</li>
    <li>Fecha de solicitud: {{date .RegisteredAt}}</li>
    <li>Plan: ONCOPLUS</li>
    <li>Periodicidad de pago: {{periodicity .Periodicity}}</li>
    {{- if gt .DependentCount 0}}
    <li>Dependientes registrados: {{.DependentCount}}</li>
    {{- end}}
  </ul>
  <p>En las próximas 24 horas recibirá un correo con los detalles para completar su proceso de afiliación.</p>
  <p>Saludos cordiales,<br>Equipo ONCOPLUS</p>
</body>
</html>
`))

func render(t *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render %s template: %w", t.Name(), err)
	}
	return buf.String(), nil
}

// RenderWelcome returns the subject and HTML body of a welcome email
func RenderWelcome(n WelcomeNotice) (string, string, error) {
	body, err := render(welcomeTemplate, n)
	return welcomeSubject, body, err
}

// RenderRegistration returns the subject and HTML body of a confirmation email
func RenderRegistration(n RegistrationNotice) (string, string, error) {
	body, err := render(registrationTemplate, n)
	return registrationSubject, body, err
}
