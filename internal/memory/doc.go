// Package memory samples process memory and enforces a soft, polled memory
// budget for a single fetch.
package memory
