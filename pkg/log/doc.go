// Package log is the logging contract shared by claimship and its plugins.
//
// Components log through the [Logger] interface with typed [Field] values.
// Besides the generic constructors, the package defines the fields the
// delivery pipeline uses everywhere ([Claim], [Claims], [BatchID],
// [Holder], [Worker], [Provider]) so the same key always carries the same
// shape.
//
// Errors implementing [FieldError] carry their own context. The zerolog
// adapter writes it next to the error, so an illegal state change logs as
//
//	error="claimship: illegal claim transition ..." error_entity=claim error_from=Enqueued error_to=NotSent
//
// Wrap an existing zerolog logger:
//
//	logger := log.NewZerologAdapterWithLogger(zerolog.New(os.Stderr))
//
// Or discard everything:
//
//	logger := log.NewNoopLogger()
package log
