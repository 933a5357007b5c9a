//go:build !devecho

package service

// echoEnabled reports whether this binary can echo generated codes in
// issue responses. Strict builds compile this variant, so the echo
// path does not exist in the production binary at all.
func echoEnabled() bool {
	return false
}
