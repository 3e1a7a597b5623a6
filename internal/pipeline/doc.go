// Package pipeline provides the link chain that every GraphQL request
// flows through on its way to the endpoint.
//
// A chain is an ordered list of stages ending in exactly one terminal
// transport. A request enters at the head; each stage may replace it,
// answer it, or forward it to the next stage. Outcomes travel back
// through the same stages in reverse, so an outer stage observes
// whatever the inner stages produced.
//
// # Standard chain
//
//	ErrorInterceptor -> RetryPolicy -> EnvironmentSplit -> HTTPTransport
//	                                        |
//	                                        +- server: MultipartStrip
//	                                        +- client: (pass-through)
//
// # Outcomes
//
// A stage returns either a *domain.Response or an error:
//   - GraphQL errors are part of a successful Response and never retried
//     by default.
//   - *domain.NetworkFailure reports transport problems and is retried up
//     to the policy's attempt budget.
//   - *domain.CancelledError ends the request once its context is done.
//   - *domain.MalformedRequestError and *domain.ConfigurationError are
//     fatal and never retried.
package pipeline
