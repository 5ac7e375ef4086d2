// Package notifier delivers text messages to chat addresses.
//
// A single Send is one attempt: it waits for the rate limiter, bounds the
// transport call by the configured send timeout and reports failure as a
// *DeliveryError. There are no retries; callers that fan out to many
// recipients count failures and move on.
//
// # History
//
// For operator visibility the service keeps a small in-memory history of
// recent deliveries, exposed through Snapshot.
package notifier
