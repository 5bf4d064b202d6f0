// Package intake orchestrates one enrollment submission.
//
// A submission is decoded from flat form fields, validated in full, checked
// against the duplicate-document policy, priced, and persisted as an enrollee
// with its dependents and roster rows. When recurring billing was selected the
// subscription gateway opens a processor preapproval and the payer is sent to
// its checkout page; otherwise a registration confirmation is dispatched.
//
// Submit never returns an error. Every failure becomes a Response with
// success=false and a user-facing message, and records written before the
// failure are kept.
package intake
