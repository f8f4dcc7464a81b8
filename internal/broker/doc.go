// Package broker opens byte channels to the language server's TCP endpoint
// and classifies connection failures as refused or other.
package broker
