// Package billing opens recurring subscriptions with the payment processor and
// reconciles the processor's webhook notifications against local transactions.
//
// # Subscriptions
//
// Gateway.CreateSubscription sends one preapproval request per enrollee and
// records the returned subscription as a pending transaction:
//
//	result := gateway.CreateSubscription(ctx, submission, enrolleeID, amount)
//	if result.Success {
//		http.Redirect(w, r, result.InitPoint, http.StatusFound)
//	}
//
// Failures are returned in the result, never as errors, so the intake flow can
// still acknowledge the registration.
//
// # Webhooks
//
// Reconciler.HandleEvent re-fetches the notified payment or preapproval from the
// processor and never trusts the notification body beyond its type and id.
// Payment updates for one external reference run under a lock. The activation
// notifier fires only on the transition into approved, so redelivered
// notifications do not send a second welcome message.
//
// # Related Packages
//
//   - pkg/processor: the HTTP client for the processor API
//   - pkg/lock: per-reference locks
//   - pkg/notifications: activation notifiers
package billing
