// Package ports defines the interfaces (ports) that connect the application
// layer to infrastructure adapters.
//
// # Store Ports
//
//   - [LeaseManager]: atomic lease acquisition and release on Claims
//   - [ClaimStore], [PayloadStore], [BatchStore], [DispatchStore]
//   - [AttachmentStore], [MappingStore], [ProviderStore], [ValidationStore]
//   - [APICallStore]: telemetry persistence
//   - [RecoveryStore]: the startup repair sweep
//
// The SQLite implementation in internal/store satisfies all of them.
//
// # Collaborator Ports
//
//   - [ExtractionSource]: claim bundles from the provider database
//   - [BackendClient], [AttachmentUploader], [MappingPoster]: outbound APIs
//   - [ColumnEncryptor]: at-rest encryption codec
//   - [ProgressSink], [APICallRecorder]: fire-and-forget observability
//   - [Logger]: structured logging abstraction
//
// The application layer (internal/app) depends only on these interfaces.
package ports
