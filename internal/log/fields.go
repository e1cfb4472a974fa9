package log

// Common field names for structured logging
const (
	FieldComponent    = "component"
	FieldError        = "error"
	FieldErrorType    = "error_type"
	FieldOperation    = "operation"
	FieldRevision     = "revision"
	FieldBackend      = "backend"
	FieldStorageKey   = "storage_key"
	FieldPath         = "path"
	FieldBytes        = "bytes"
	FieldStudentID    = "student_id"
	FieldCollectionID = "collection_id"
	FieldRefundID     = "refund_id"
	FieldTitle        = "title"
	FieldAmount       = "amount"
	FieldCount        = "count"
	FieldThemeKey     = "theme_key"
	FieldFormat       = "format"

	FieldRequestID  = "request_id"
	FieldMethod     = "method"
	FieldClientIP   = "client_ip"
	FieldStatusCode = "status_code"
	FieldDurationMS = "duration_ms"
	FieldAddr       = "addr"
)

// Components defines standard component names
const (
	ComponentApp     = "app"
	ComponentLedger  = "ledger"
	ComponentStorage = "storage"
	ComponentBackend = "backend"
	ComponentCache   = "cache"
	ComponentCLI     = "cli"
	ComponentHTTP    = "http"
)

// Operations defines standard operation names
const (
	OpLoad             = "load"
	OpSave             = "save"
	OpAddStudent       = "add_student"
	OpEditStudent      = "edit_student"
	OpDeleteStudent    = "delete_student"
	OpCreateCollection = "create_collection"
	OpEditCollection   = "edit_collection"
	OpDeleteCollection = "delete_collection"
	OpSetPayment       = "set_payment"
	OpSettleRefund     = "settle_refund"
	OpRemoveRefund     = "remove_refund"
	OpSetTheme         = "set_theme"
	OpImport           = "import"
	OpExport           = "export"
)

// ErrorTypes defines standard error type categories
const (
	ErrorTypeValidation    = "validation_error"
	ErrorTypeConfiguration = "configuration_error"
	ErrorTypeDatabase      = "database_error"
	ErrorTypeFormat        = "format_error"
	ErrorTypeNotFound      = "not_found_error"
	ErrorTypeInternal      = "internal_error"
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

// NewFields creates a new LogFields instance
func NewFields() LogFields {
	return make(LogFields)
}

func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

// WithError adds the error message and its category.
func (f LogFields) WithError(err error, errorType string) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
		f[FieldErrorType] = errorType
	}
	return f
}

func (f LogFields) WithRevision(rev uint64) LogFields {
	f[FieldRevision] = rev
	return f
}

// With adds an arbitrary field; empty string values are skipped.
func (f LogFields) With(key string, value any) LogFields {
	if s, ok := value.(string); ok && s == "" {
		return f
	}
	f[key] = value
	return f
}

// ToSlice converts LogFields to a slice for slog
func (f LogFields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}
