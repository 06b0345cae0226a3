// Package telemetry keeps a local, append-only log of activation and
// validation events for support diagnostics.
//
// The log never influences a license decision: Record swallows write
// failures after logging them, and nothing in the package updates or
// deletes an entry. Events can be exported as CSV or as an Excel workbook.
package telemetry
