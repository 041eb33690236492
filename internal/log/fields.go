package log

// Common field names for structured logging
const (
	FieldComponent   = "component"
	FieldRequestID   = "request_id"
	FieldClientIP    = "client_ip"
	FieldMethod      = "method"
	FieldPath        = "path"
	FieldStatusCode  = "status_code"
	FieldDuration    = "duration_ms"
	FieldUserAgent   = "user_agent"
	FieldOperation   = "operation"
	FieldFingerprint = "fingerprint"
	FieldEventCount  = "event_count"
	FieldEntryCount  = "entry_count"
	FieldJobID       = "job_id"
	FieldQueue       = "queue"
	FieldExchange    = "exchange"
)

// Components defines standard component names
const (
	ComponentApp     = "app"
	ComponentHTTP    = "http"
	ComponentStorage = "storage"
	ComponentAMQP    = "amqp"
	ComponentWorker  = "worker"
	ComponentEvents  = "events"
)

// Operations defines standard operation names
const (
	OpSimulate = "simulate"
	OpSave     = "save"
	OpConsume  = "consume"
	OpPublish  = "publish"
	OpStartup  = "startup"
	OpShutdown = "shutdown"
)
