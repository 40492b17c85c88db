package lot

import "fmt"

// errf is a terse fmt.Errorf alias used when wrapping a cause inside an *Error.
func errf(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}

// modSub computes (a - b) mod space for non-negative space, always
// returning a value in [0, space).
func modSub(a, b, space int) int {
	d := (a - b) % space
	if d < 0 {
		d += space
	}
	return d
}
