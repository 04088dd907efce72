package log

// Common field names for structured logging
const (
	FieldComponent   = "component"
	FieldDuration    = "duration_ms"
	FieldSuccess     = "success"
	FieldError       = "error"
	FieldErrorType   = "error_type"
	FieldOperation   = "operation"
	FieldVillage     = "village"
	FieldVillageKey  = "village_key"
	FieldDate        = "date"
	FieldRecordID    = "record_id"
	FieldRecords     = "records"
	FieldCustomers   = "customers"
	FieldAmountCents = "amount_cents"
	FieldBackend     = "backend"
)

// Components defines standard component names
const (
	ComponentApp       = "app"
	ComponentCLI       = "cli"
	ComponentService   = "collections"
	ComponentStorage   = "storage"
	ComponentAMQP      = "amqp"
	ComponentWorker    = "worker"
	ComponentSheets    = "sheets"
	ComponentCache     = "cache"
	ComponentBackend   = "backend"
	ComponentScheduler = "scheduler"
	ComponentReport    = "report"
)

// Operations defines standard operation names
const (
	OpCreate   = "create"
	OpRead     = "read"
	OpUpdate   = "update"
	OpDelete   = "delete"
	OpList     = "list"
	OpRefresh  = "refresh"
	OpSummary  = "summary"
	OpExport   = "export"
	OpValidate = "validate"
	OpShutdown = "shutdown"
	OpStartup  = "startup"
)

// ErrorTypes defines standard error type categories
const (
	ErrorTypeValidation    = "validation_error"
	ErrorTypeConfiguration = "configuration_error"
	ErrorTypeNetwork       = "network_error"
	ErrorTypeNotFound      = "not_found_error"
	ErrorTypeConflict      = "conflict_error"
	ErrorTypeInternal      = "internal_error"
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

// NewFields creates a new LogFields instance
func NewFields() LogFields {
	return make(LogFields)
}

// WithComponent adds component field
func (f LogFields) WithComponent(component string) LogFields {
	f[FieldComponent] = component
	return f
}

// WithError adds error and error type fields
func (f LogFields) WithError(err error, errorType string) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
		f[FieldErrorType] = errorType
	}
	return f
}

// WithOperation adds operation field
func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

// WithVillage adds the village display name and its identity key
func (f LogFields) WithVillage(name, key string) LogFields {
	f[FieldVillage] = name
	f[FieldVillageKey] = key
	return f
}

// WithRecord adds record fields. Negative counts are left out.
func (f LogFields) WithRecord(id, date string, customers, amountCents int64) LogFields {
	if id != "" {
		f[FieldRecordID] = id
	}
	f[FieldDate] = date
	if customers >= 0 {
		f[FieldCustomers] = customers
	}
	if amountCents >= 0 {
		f[FieldAmountCents] = amountCents
	}
	return f
}

// WithDuration adds a duration in milliseconds and the outcome
func (f LogFields) WithDuration(ms int64, success bool) LogFields {
	f[FieldDuration] = ms
	f[FieldSuccess] = success
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
