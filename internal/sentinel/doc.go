// Package sentinel defines Error, a string type for declaring sentinel errors
// as constants. A const cannot be reassigned by importers, and values compare
// with == so errors.Is matches them through %w chains.
package sentinel
