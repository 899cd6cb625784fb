// Package store defines the persistence interfaces of the export pipeline
// and the errors every implementation returns. Backends live under
// internal/platform.
package store
