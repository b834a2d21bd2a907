// Package codes stores one-time codes (OTPs, verification codes, tickets).
//
// A code is looked up by tenant, value and type. Once Used has been called
// UsedAt is set and stays at its first value.
package codes
