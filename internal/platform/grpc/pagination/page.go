// Package pagination normalizes the page limits admin list calls accept.
package pagination

// Limits bounds a list request.
type Limits struct {
	Default int
	Max     int
}

// Clamp applies the default to a non-positive request and caps it at Max.
func Clamp(requested int, limits Limits) int {
	n := requested
	if n <= 0 {
		n = limits.Default
	}
	if limits.Max > 0 && n > limits.Max {
		n = limits.Max
	}
	return max(n, 1)
}
