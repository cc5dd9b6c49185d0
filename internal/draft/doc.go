// Package draft reconciles a freshly loaded baseline document with a
// locally persisted draft and runs the autosave lifecycle for one editing
// session.
//
// A Session starts by comparing the baseline's fingerprint with the stored
// draft's. An absent draft, or one identical to the baseline, leaves the
// session Clean with autosave enabled (the identical draft is deleted). A
// differing draft puts the session in Conflict: autosave stays disabled
// until the caller accepts the draft or discards it, so a draft the user
// has not seen is never overwritten.
//
// Outside Conflict, every observed document is compared against the last
// settled fingerprint and, when it differs, written as a draft after a
// debounce window. Sessions editing the same document announce themselves
// and their saves over a broadcast.Channel; receivers only raise warnings.
// Storage stays last-writer-wins.
package draft
