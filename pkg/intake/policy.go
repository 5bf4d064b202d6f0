package intake

import (
	"fmt"
	"strings"
)

// DuplicatePolicy decides what happens when the primary's document is
// already enrolled
type DuplicatePolicy string

const (
	// DuplicateAllow skips the lookup entirely
	DuplicateAllow DuplicatePolicy = "allow"
	// DuplicateWarn records the duplicate and continues
	DuplicateWarn DuplicatePolicy = "warn"
	// DuplicateReject refuses the submission and enforces uniqueness in the store
	DuplicateReject DuplicatePolicy = "reject"
)

// ParseDuplicatePolicy converts a configuration value. Empty means warn.
func ParseDuplicatePolicy(raw string) (DuplicatePolicy, error) {
	switch p := DuplicatePolicy(strings.ToLower(strings.TrimSpace(raw))); p {
	case "":
		return DuplicateWarn, nil
	case DuplicateAllow, DuplicateWarn, DuplicateReject:
		return p, nil
	default:
		return "", fmt.Errorf("invalid duplicate policy %q (want allow, warn or reject)", raw)
	}
}
