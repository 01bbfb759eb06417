package log

// Version of the log module. 1.1.0 added the pipeline fields and FieldError.
const (
	Version              = "1.1.0"
	MinCompatibleVersion = "1.0.0"
)
