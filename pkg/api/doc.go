// Package api provides the HTTP surface of the enrollment service.
//
// # Overview
//
// The API is built on gorilla/mux and organized into handler groups that each
// register their own routes:
//
//   - Enrollments: form submission and duplicate-document lookup
//   - Rates: premium quotes by age or birth date
//   - Webhooks: payment processor notifications
//
// Health probes and the Prometheus endpoint are mounted next to them.
//
// # Usage
//
//	server := api.NewServer(api.Options{
//		Intake:     intakeService,
//		Rates:      rateTable,
//		Reconciler: reconciler,
//		Logger:     logger,
//	})
//	http.ListenAndServe(":8080", server)
//
// # Contract
//
// The submission endpoint answers 200 for every submission it processed,
// successful or not; the JSON body carries success and the message to show.
// Only a body that cannot be decoded at all yields 400.
//
// The webhook endpoint always answers 200 with a plain text body: OK when the
// notification was handled, NO_DATA when it carried nothing usable and ERROR
// when handling failed. The processor retries on anything but 2xx, and
// failures are recorded in the audit trail instead.
package api
