// Package validation checks enrollment submissions before persistence.
//
// All rules are evaluated so the applicant sees every problem at once.
// Dependent fields are reported with their form suffix, for example
// "birthDate-2". Messages follow the submission locale (es by default, en).
//
//	result := validation.NewValidator(nil).Validate(sub)
//	if !result.Valid {
//		return result.Error()
//	}
package validation
