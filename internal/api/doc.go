// Package api implements the HTTP handlers of the export service: submitting
// an export, checking eligibility and status, and downloading a finished
// export through its mailed link.
package api
