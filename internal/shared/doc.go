// Package shared holds helpers used by more than one package's tests.
//
// testutil captures slog records so tests can assert on what a component
// logged without parsing JSON output.
package shared
