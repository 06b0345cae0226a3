package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/render"
)

// Category is the user-visible class of a license failure. Only the category
// and its fixed message ever leave the process.
type Category string

const (
	CategorySignatureInvalid Category = "SignatureInvalid"
	CategoryPayloadCorrupted Category = "PayloadCorrupted"
	CategoryHardwareMismatch Category = "HardwareMismatch"
	CategoryLicenseExpired   Category = "LicenseExpired"
	CategoryStoreUnavailable Category = "StoreUnavailable"
	CategoryImportRejected   Category = "ImportRejected"
	CategoryRateLimited      Category = "RateLimited"
	CategoryNotActivated     Category = "NotActivated"
	CategoryInvalidArguments Category = "InvalidArguments"
	CategoryInternal         Category = "Internal"
)

// Sentinel errors, one per category. Wrap them with fmt.Errorf("...: %w")
// or NewLicenseError and test with errors.Is.
var (
	ErrSignatureInvalid = errors.New("license signature invalid")
	ErrPayloadCorrupted = errors.New("license payload corrupted")
	ErrHardwareMismatch = errors.New("license bound to a different machine")
	ErrLicenseExpired   = errors.New("license expired")
	ErrStoreUnavailable = errors.New("license store unavailable")
	ErrImportRejected   = errors.New("license import rejected")
	ErrRateLimited      = errors.New("rate limited")
	ErrNotActivated     = errors.New("license not activated")
	ErrInvalidArguments = errors.New("invalid arguments")
)

// sentinels is ordered; the first match wins in CategoryOf
var sentinels = []struct {
	category Category
	err      error
}{
	{CategorySignatureInvalid, ErrSignatureInvalid},
	{CategoryPayloadCorrupted, ErrPayloadCorrupted},
	{CategoryHardwareMismatch, ErrHardwareMismatch},
	{CategoryLicenseExpired, ErrLicenseExpired},
	{CategoryStoreUnavailable, ErrStoreUnavailable},
	{CategoryImportRejected, ErrImportRejected},
	{CategoryRateLimited, ErrRateLimited},
	{CategoryNotActivated, ErrNotActivated},
	{CategoryInvalidArguments, ErrInvalidArguments},
}

// UserMessage returns the fixed, actionable text shown to end users
func (c Category) UserMessage() string {
	switch c {
	case CategorySignatureInvalid:
		return "The license file is not a genuine license from the vendor. Request a new license file."
	case CategoryPayloadCorrupted:
		return "The license file is damaged or incomplete. Copy the original file again or request a new one."
	case CategoryHardwareMismatch:
		return "This license was issued for a different computer. Send your machine ID to the vendor to be re-licensed."
	case CategoryLicenseExpired:
		return "This license has expired. Contact the vendor to renew it."
	case CategoryStoreUnavailable:
		return "The license could not be saved or read on this computer. Check disk permissions and try again."
	case CategoryImportRejected:
		return "The license file was rejected. Check that it was issued for this computer and has not expired."
	case CategoryRateLimited:
		return "Too many activation attempts. Wait a minute and try again."
	case CategoryNotActivated:
		return "This copy has not been activated yet. Import the license file you received from the vendor."
	case CategoryInvalidArguments:
		return "The command could not run with the given options or files. Check them or run it with --help."
	default:
		return "An unexpected licensing error occurred."
	}
}

// HTTPStatus maps a category to the status used by the host API
func (c Category) HTTPStatus() int {
	switch c {
	case CategorySignatureInvalid, CategoryPayloadCorrupted, CategoryImportRejected:
		return http.StatusUnprocessableEntity
	case CategoryHardwareMismatch, CategoryLicenseExpired:
		return http.StatusForbidden
	case CategoryStoreUnavailable:
		return http.StatusServiceUnavailable
	case CategoryRateLimited:
		return http.StatusTooManyRequests
	case CategoryNotActivated:
		return http.StatusNotFound
	case CategoryInvalidArguments:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// ExitCode maps a category to a process exit code for the CLIs
func (c Category) ExitCode() int {
	switch c {
	case CategorySignatureInvalid:
		return 10
	case CategoryPayloadCorrupted:
		return 11
	case CategoryHardwareMismatch:
		return 12
	case CategoryLicenseExpired:
		return 13
	case CategoryStoreUnavailable:
		return 14
	case CategoryImportRejected:
		return 15
	case CategoryRateLimited:
		return 16
	case CategoryNotActivated:
		return 17
	case CategoryInvalidArguments:
		return 2
	default:
		return 1
	}
}

// LicenseError carries a category together with the internal cause.
// Error() includes the cause for logs; UserMessage() is safe to display.
type LicenseError struct {
	Category Category
	Op       string
	Err      error
}

// NewLicenseError wraps err under the given category and operation
func NewLicenseError(category Category, op string, err error) *LicenseError {
	return &LicenseError{Category: category, Op: op, Err: err}
}

func (e *LicenseError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Category)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Category, e.Err)
}

func (e *LicenseError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for the error's category
func (e *LicenseError) Is(target error) bool {
	for _, s := range sentinels {
		if s.category == e.Category {
			return s.err == target
		}
	}
	return false
}

// UserMessage returns the category's display text
func (e *LicenseError) UserMessage() string {
	return e.Category.UserMessage()
}

// CommandCategory classifies an error returned by a CLI command. Errors
// outside the license taxonomy come from the command line or the files it
// names and are InvalidArguments.
func CommandCategory(err error) Category {
	var le *LicenseError
	if errors.As(err, &le) {
		return le.Category
	}
	if c := CategoryOf(err); c != CategoryInternal {
		return c
	}
	return CategoryInvalidArguments
}

// CategoryOf classifies any error. Unknown errors are Internal.
func CategoryOf(err error) Category {
	if err == nil {
		return ""
	}

	var le *LicenseError
	if errors.As(err, &le) {
		return le.Category
	}

	for _, s := range sentinels {
		if errors.Is(err, s.err) {
			return s.category
		}
	}

	return CategoryInternal
}

// ProblemDetails implements RFC 7807 Problem Details for HTTP APIs
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`

	Extensions map[string]interface{} `json:"-"`
}

// Render implements the render.Renderer interface
func (pd *ProblemDetails) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, pd.Status)
	return nil
}

// MarshalJSON flattens extensions into the top-level object
func (pd *ProblemDetails) MarshalJSON() ([]byte, error) {
	data := make(map[string]interface{}, len(pd.Extensions)+5)

	data["type"] = pd.Type
	data["title"] = pd.Title
	data["status"] = pd.Status

	if pd.Detail != "" {
		data["detail"] = pd.Detail
	}
	if pd.Instance != "" {
		data["instance"] = pd.Instance
	}

	for k, v := range pd.Extensions {
		data[k] = v
	}

	return json.Marshal(data)
}

// NewProblemDetails creates a new RFC 7807 compliant error
func NewProblemDetails(status int, problemType, title, detail, instance string) *ProblemDetails {
	return &ProblemDetails{
		Type:       problemType,
		Title:      title,
		Status:     status,
		Detail:     detail,
		Instance:   instance,
		Extensions: make(map[string]interface{}),
	}
}

// WithExtension adds an extension field to the problem details
func (pd *ProblemDetails) WithExtension(key string, value interface{}) *ProblemDetails {
	pd.Extensions[key] = value
	return pd
}

// NewCategoryProblem builds the problem document for a license category.
// The detail is always the category's fixed user message.
func NewCategoryProblem(category Category, traceID string) *ProblemDetails {
	problem := NewProblemDetails(
		category.HTTPStatus(),
		TypeForCategory(category),
		titleForCategory(category),
		category.UserMessage(),
		fmt.Sprintf("/license#trace-%s", traceID),
	)

	problem.WithExtension("category", string(category))
	if traceID != "" {
		problem.WithExtension("trace_id", traceID)
	}
	if category == CategoryRateLimited {
		problem.WithExtension("retry_after", 60)
	}

	return problem
}

// MapLicenseError maps domain errors to HTTP problem details
func MapLicenseError(err error, traceID string) render.Renderer {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return NewProblemDetails(
			apiErr.StatusCode,
			TypeInternal,
			http.StatusText(apiErr.StatusCode),
			apiErr.Message,
			fmt.Sprintf("/license#trace-%s", traceID),
		).WithExtension("error_code", apiErr.ErrorCode).
			WithExtension("trace_id", traceID)
	}

	return NewCategoryProblem(CategoryOf(err), traceID)
}

// TypeForCategory returns the problem type URI for a category
func TypeForCategory(c Category) string {
	switch c {
	case CategorySignatureInvalid:
		return TypeLicenseSignature
	case CategoryPayloadCorrupted:
		return TypeLicenseCorrupted
	case CategoryHardwareMismatch:
		return TypeLicenseMismatch
	case CategoryLicenseExpired:
		return TypeLicenseExpired
	case CategoryStoreUnavailable:
		return TypeLicenseStore
	case CategoryImportRejected:
		return TypeLicenseRejected
	case CategoryRateLimited:
		return TypeRateLimit
	case CategoryNotActivated:
		return TypeLicenseNotFound
	case CategoryInvalidArguments:
		return TypeValidation
	default:
		return TypeInternal
	}
}

func titleForCategory(c Category) string {
	switch c {
	case CategorySignatureInvalid:
		return "License Signature Invalid"
	case CategoryPayloadCorrupted:
		return "License Corrupted"
	case CategoryHardwareMismatch:
		return "License Machine Mismatch"
	case CategoryLicenseExpired:
		return "License Expired"
	case CategoryStoreUnavailable:
		return "License Store Unavailable"
	case CategoryImportRejected:
		return "License Import Rejected"
	case CategoryRateLimited:
		return "Rate Limit Exceeded"
	case CategoryNotActivated:
		return "License Not Activated"
	case CategoryInvalidArguments:
		return "Invalid Arguments"
	default:
		return "Internal Server Error"
	}
}
