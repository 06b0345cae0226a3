// Package shared holds helpers used by more than one package. Its testutil
// subpackage provides a capturing slog handler and a controllable clock for
// tests; nothing in it is linked into release binaries.
package shared
