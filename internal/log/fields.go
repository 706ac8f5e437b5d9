package log

// Common field names for structured logging
const (
	FieldComponent  = "component"
	FieldRequestID  = "request_id"
	FieldMethod     = "method"
	FieldPath       = "path"
	FieldStatusCode = "status_code"
	FieldDuration   = "duration_ms"
	FieldSuccess    = "success"
	FieldError      = "error"
	FieldOperation  = "operation"
	FieldStore      = "store"
	FieldEdge       = "edge"
	FieldEffect     = "effect"
	FieldGeneration = "generation"
	FieldResource   = "resource"
	FieldStatus     = "auth_status"
	FieldUser       = "user"
	FieldAmount     = "amount"
)

// Components defines standard component names
const (
	ComponentApp          = "app"
	ComponentGateway      = "gateway"
	ComponentStore        = "store"
	ComponentAuth         = "auth"
	ComponentCoordinator  = "coordinator"
	ComponentOrchestrator = "orchestrator"
	ComponentStorage      = "storage"
	ComponentAMQP         = "amqp"
	ComponentExport       = "export"
	ComponentBackend      = "backend"
	ComponentMetrics      = "metrics"
	ComponentCLI          = "cli"
)

// Operations defines standard operation names
const (
	OpFetch      = "fetch"
	OpCreate     = "create"
	OpUpdate     = "update"
	OpDelete     = "delete"
	OpReset      = "reset"
	OpInit       = "init"
	OpLogin      = "login"
	OpSignup     = "signup"
	OpLogout     = "logout"
	OpInvalidate = "invalidate"
	OpExport     = "export"
	OpStartup    = "startup"
	OpShutdown   = "shutdown"
)

// ErrorTypes defines standard error type categories
const (
	ErrorTypeValidation    = "validation_error"
	ErrorTypeConfiguration = "configuration_error"
	ErrorTypeNetwork       = "network_error"
	ErrorTypeAuth          = "auth_error"
	ErrorTypeServer        = "server_error"
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

// NewFields creates a new LogFields instance
func NewFields() LogFields {
	return make(LogFields)
}

// WithStore adds the store name
func (f LogFields) WithStore(name string) LogFields {
	f[FieldStore] = name
	return f
}

// WithError adds error field
func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

// WithOperation adds operation field
func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

// WithHTTPResponse adds HTTP response fields
func (f LogFields) WithHTTPResponse(statusCode int, durationMs int64, success bool) LogFields {
	f[FieldStatusCode] = statusCode
	f[FieldDuration] = durationMs
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
