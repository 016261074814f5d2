// Package ir defines primary key values and their canonical text encoding.
//
// A key is a String, an Int, or a Tuple of those (compound keys). Keys are
// stored and compared in their canonical JSON form, so two keys are equal
// exactly when their encodings are byte-equal.
//
// Key design constraints:
//   - NO floats (non-integral numbers are rejected)
//   - NO null, booleans or objects (not valid keys)
//   - Strings are NFC normalized at the encoding boundary
//
// ir imports nothing internal; store and repository build on it.
package ir
