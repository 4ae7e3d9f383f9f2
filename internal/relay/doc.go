// Package relay defines the finalized message payload handed to dispatch
// backends, and the pure transforms that build it: recipient-list extraction
// from an uploaded CSV and markdown link sanitization.
//
// Nothing in this package performs I/O beyond reading the supplied stream;
// it holds no state and is safe for concurrent use.
package relay
