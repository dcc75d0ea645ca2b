package leave

import "strings"

// temporaryMarkers are position-text fragments that denote a non-permanent
// appointment.
var temporaryMarkers = []string{
	"temporary", "temp ", "contract", "casual", "visiting", "part-time", "part time", "intern", "adjunct",
}

// InferEmploymentClass guesses the class from free-text position. It is
// only consulted once, when a profile is registered without an explicit
// class; the result is stored and never recomputed.
func InferEmploymentClass(position string) EmploymentClass {
	p := strings.ToLower(position) + " "
	for _, m := range temporaryMarkers {
		if strings.Contains(p, m) {
			return Temporary
		}
	}
	return Permanent
}
