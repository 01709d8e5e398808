package utils

// DereferencePtr returns the pointed-to value, or the first default (else the
// zero value) when the pointer is nil.
func DereferencePtr[T any](ptr *T, defaults ...T) T {
	if ptr != nil {
		return *ptr
	}
	if len(defaults) > 0 {
		return defaults[0]
	}
	var zero T
	return zero
}
