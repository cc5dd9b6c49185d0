// Package canonical provides deterministic serialization and digests for
// stored documents.
//
// Marshal produces RFC 8785 style canonical JSON:
//   - Object keys sorted by UTF-16 code units (not UTF-8 bytes)
//   - Strings NFC normalized, no HTML escaping
//   - Integers within int64 printed as is; other numbers go through float64
//     and print in shortest form, so 12 and 12.0 encode identically
//
// Fingerprints hash that canonical form with volatile fields (update
// timestamps) removed, so equivalent documents compare equal. Record
// digests hash the stored payload bytes, only compacted, so any change to
// stored data is detected.
//
// The package imports nothing internal.
package canonical
