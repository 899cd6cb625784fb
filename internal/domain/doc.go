// Package domain defines the export request lifecycle and the user fields
// the export pipeline depends on.
package domain
