package log

import (
	"fmt"
	"time"
)

// Logger is the structured logger every claimship component writes to.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
}

// Field is one key-value pair attached to a log entry.
type Field struct {
	Key   string
	Value any
}

// FieldError is an error that carries its own structured context. Adapters
// log each pair next to the error message.
type FieldError interface {
	error
	LogFields() map[string]string
}

func String(key, value string) Field         { return Field{Key: key, Value: value} }
func Int(key string, value int) Field         { return Field{Key: key, Value: value} }
func Int64(key string, value int64) Field     { return Field{Key: key, Value: value} }
func Float64(key string, value float64) Field { return Field{Key: key, Value: value} }
func Bool(key string, value bool) Field       { return Field{Key: key, Value: value} }
func Any(key string, value any) Field         { return Field{Key: key, Value: value} }

// Duration creates a duration field.
func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value}
}

// Time creates a timestamp field, normalized to UTC.
func Time(key string, value time.Time) Field {
	return Field{Key: key, Value: value.UTC()}
}

// Stringer creates a string field from v.String(). A nil v logs "<nil>".
func Stringer(key string, v fmt.Stringer) Field {
	if v == nil {
		return Field{Key: key, Value: "<nil>"}
	}
	return Field{Key: key, Value: v.String()}
}

// Err creates an error field with key "error".
func Err(err error) Field {
	return Field{Key: "error", Value: err}
}

// Pipeline fields. Keys are shared so log queries can join across workers,
// the store and recovery.

// Claim identifies one claim by its "provider/id" key.
func Claim(key fmt.Stringer) Field { return Stringer("claim", key) }

// Claims is a count of claims affected by one operation.
func Claims(n int) Field { return Field{Key: "claims", Value: n} }

// BatchID identifies a local batch row.
func BatchID(id int64) Field { return Field{Key: "batch_id", Value: id} }

// Holder names the lease holder acting on claims.
func Holder(h fmt.Stringer) Field { return Stringer("holder", h) }

// Worker names the pipeline loop emitting the entry.
func Worker(name string) Field { return Field{Key: "worker", Value: name} }

// Provider is the provider DHS code the entry applies to.
func Provider(code string) Field { return Field{Key: "provider", Value: code} }
