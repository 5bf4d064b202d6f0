// Package notifications tells enrollees and downstream systems about
// registrations and activations.
//
// Two notices exist. A RegistrationNotice confirms an intake that did not start
// recurring billing. A WelcomeNotice is sent once, when the first payment of a
// subscription is approved, and carries the coverage start and waiting period
// end dates.
//
// Notices fan out to every configured Sender:
//
//   - EmailSender renders the Spanish templates and delivers over SMTP
//   - WebhookSender posts a signed JSON event, retrying with exponential backoff
//
// A failing sender never blocks the others. Receivers of the webhook verify
// the X-Oncoplus-Signature header with VerifySignature.
package notifications
