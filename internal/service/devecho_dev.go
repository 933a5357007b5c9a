//go:build devecho

package service

// echoEnabled reports whether this binary can echo generated codes in
// issue responses. Only builds tagged devecho compile this variant,
// and even then the echo requires the development environment plus the
// DEV_ECHO_MODE flag.
func echoEnabled() bool {
	return true
}
