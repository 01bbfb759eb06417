// Package domain contains the core entities and state vocabulary for claimship.
//
// This package represents the innermost layer of the Clean Architecture. It has
// no dependencies on infrastructure concerns (SQL, HTTP, logging) and contains
// only the state machines and value objects of the claim pipeline.
//
// # Entities
//
//   - [Batch]: one extraction window for a provider, payer and month
//   - [Claim]: one source record with its enqueue state and lease fields
//   - [Dispatch] and [DispatchItem]: one outbound send attempt and its per-claim results
//   - [Attachment]: a file attached to a Claim, with a single content source
//   - [MissingMapping] and [DomainMapping]: provider code-value translations
//   - [ProviderProfile], [ValidationIssue], [APICall], [ProgressReport]
//
// # State Vocabulary
//
// Every entity has its own status type even where ordinals coincide, so an
// [EnqueueStatus] can never be assigned where a [DispatchStatus] is expected.
// Ordinals are persisted and must not change. Legal successors are listed in
// transitions.go; components that perform a transition check them and return a
// [TransitionError] otherwise.
//
// # Leases
//
// A [LeaseHolder] names the pipeline stage that owns a Claim lease and decides
// the status an abandoned lease is restored to.
package domain
