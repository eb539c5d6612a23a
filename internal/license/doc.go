// Package license holds the pure rules of the key lifecycle: serial
// generation and format, batch size limits, expiry arithmetic against the
// licensing API, promotional record detection and product resolution.
//
// # Serials
//
// A serial is 16 characters drawn uniformly from A-Z and 0-9 using
// crypto/rand. Serials are stored without separators; FormatSerial renders
// them in groups of four for display and NormalizeSerial accepts either form.
//
// # Expiry
//
// The licensing API stores auth_expire in unix seconds, the local mirror in
// milliseconds. Both use -1 for a license that never expires:
//
//	ComputeExpiry(now, nil, &minutes)     // new account: now + minutes
//	ComputeExpiry(now, &current, &minutes) // stacking: max(now, current) + minutes
//	ComputeExpiry(now, current, nil)       // lifetime serial: -1
//
// Batch sizes run from 1 to MaxSerialAmount inclusive.
package license
