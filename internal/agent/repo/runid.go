package repo

import (
	"fmt"
	"regexp"
)

var runIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.\-]{0,127}$`)

// ValidateRunID rejects ids that could escape a directory or key namespace.
func ValidateRunID(runID string) error {
	if !runIDPattern.MatchString(runID) || runID == "." || runID == ".." {
		return fmt.Errorf("invalid run id %q", runID)
	}
	return nil
}
