// Package shared holds helpers used across packages that belong to no
// single domain. The testutil subpackage carries test-only helpers such as
// a capturing slog handler.
package shared
