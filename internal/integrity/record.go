package integrity

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roach88/draftkeep/internal/canonical"
)

// SchemaVersion is stamped on every record written by this package.
const SchemaVersion = 1

// Key namespaces.
const (
	DraftPrefix = "draft:"
	SheetPrefix = "sheet:"
)

// DraftKey returns the storage key of the draft for document id.
func DraftKey(id string) string {
	return DraftPrefix + id
}

// SheetKey returns the storage key of the authoritative document id.
func SheetKey(id string) string {
	return SheetPrefix + id
}

// StorageRecord is the stored envelope around a payload.
// It is always written whole; there are no partial updates.
type StorageRecord struct {
	Data          json.RawMessage `json:"data"`
	Timestamp     int64           `json:"timestamp"` // epoch milliseconds
	Hash          string          `json:"hash"`
	SchemaVersion int             `json:"schemaVersion"`
	IsDraft       bool            `json:"isDraft"`
}

var errMalformed = errors.New("malformed record")

// parseRecord decodes a stored value. It does not verify the hash.
func parseRecord(value string) (StorageRecord, error) {
	var rec StorageRecord
	if err := json.Unmarshal([]byte(value), &rec); err != nil {
		return StorageRecord{}, fmt.Errorf("%w: %v", errMalformed, err)
	}
	if len(rec.Data) == 0 {
		return StorageRecord{}, fmt.Errorf("%w: missing data", errMalformed)
	}
	if rec.Hash == "" {
		return StorageRecord{}, fmt.Errorf("%w: missing hash", errMalformed)
	}
	return rec, nil
}

// verify recomputes the payload digest and compares it with the stored one.
func (r StorageRecord) verify() error {
	got, err := canonical.RecordHash(r.Data)
	if err != nil {
		return err
	}
	if got != r.Hash {
		return fmt.Errorf("hash mismatch: stored %s, computed %s", short(r.Hash), short(got))
	}
	return nil
}

func short(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
