// Package roster produces the insurer's group-policy frame ("trama grupal").
//
// Every intake adds one row for the primary enrollee and one per dependent,
// all sharing the primary's document number as certificate. The worker
// periodically exports the rows written since the last run as CSV and uploads
// the file to S3.
package roster
