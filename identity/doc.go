// Package identity generates identifiers for intents and the device level
// objects compiled from them.
//
// Random Identifiers
//
// NewID returns a random 128 bit number encoded in Base36. It is used when an
// intent is submitted without an explicit name, so every intent still gets a
// stable key.
//
// Content Identifiers
//
// ContentID derives an identifier from the content of an object. Two flow
// rules that match and act on the same traffic on the same device get the
// same identifier, which is what lets installers compute deltas between an
// old and a new set of rules.
package identity
