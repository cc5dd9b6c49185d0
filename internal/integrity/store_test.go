package integrity

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/draftkeep/internal/canonical"
	"github.com/roach88/draftkeep/internal/store"
	"github.com/roach88/draftkeep/internal/testutil"
)

type sheet struct {
	Name        string       `json:"name"`
	Cost        float64      `json:"cost"`
	Yield       int          `json:"yield"`
	Ingredients []ingredient `json:"ingredients"`
	Notes       *string      `json:"notes"`
}

type ingredient struct {
	Item     string  `json:"item"`
	Quantity float64 `json:"quantity"`
	Unit     string  `json:"unit"`
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestStore(t)

	notes := "serve hot <always> & fresh"
	tests := []struct {
		name string
		in   sheet
	}{
		{"empty", sheet{}},
		{"simple", sheet{Name: "Soup", Cost: 10}},
		{"decimals", sheet{Name: "Tart", Cost: 12.75, Yield: 8}},
		{"nested", sheet{
			Name: "Crème brûlée",
			Cost: 3.1,
			Ingredients: []ingredient{
				{Item: "cream", Quantity: 0.5, Unit: "l"},
				{Item: "sugar", Quantity: 120, Unit: "g"},
			},
			Notes: &notes,
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, s.Save(ctx, "sheet:"+tt.name, tt.in, false))

			got, ok, err := LoadAs[sheet](ctx, s, "sheet:"+tt.name)
			require.NoError(t, err)
			require.True(t, ok)
			if diff := cmp.Diff(tt.in, got); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSaveLoad_GenericValues(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestStore(t)

	in := map[string]any{
		"name":  "Soup",
		"cost":  10.0,
		"tags":  []any{"starter", "vegan"},
		"extra": nil,
	}
	require.NoError(t, s.Save(ctx, "k", in, false))

	var out map[string]any
	ok, err := s.Load(ctx, "k", &out)
	require.NoError(t, err)
	require.True(t, ok)
	if diff := cmp.Diff(in, out); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_Missing(t *testing.T) {
	s, _, _ := newTestStore(t)

	var out sheet
	ok, err := s.Load(context.Background(), "sheet:404", &out)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, sheet{}, out)
}

func TestSave_RecordWireFormat(t *testing.T) {
	ctx := context.Background()
	s, mem, _ := newTestStore(t)

	require.NoError(t, s.Save(ctx, DraftKey("1"), map[string]any{"name": "Soup", "cost": 10}, true))

	raw, ok, err := mem.Get(ctx, "draft:1")
	require.NoError(t, err)
	require.True(t, ok)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "draft_record", []byte(raw))
}

func TestSave_OverwritesWholeRecord(t *testing.T) {
	ctx := context.Background()
	s, _, clk := newTestStore(t)

	require.NoError(t, s.Save(ctx, "draft:1", map[string]any{"name": "Soup", "cost": 10}, true))
	clk.Advance(time.Minute)
	require.NoError(t, s.Save(ctx, "draft:1", map[string]any{"name": "Soup v2"}, true))

	got, ok, err := LoadAs[map[string]any](ctx, s, "draft:1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"name": "Soup v2"}, got, "no fields survive from the earlier record")
	assert.Equal(t, testutil.Epoch.Add(time.Minute).UnixMilli(), s.TimestampOf(ctx, "draft:1"))
}

func TestSave_SerializationFailure(t *testing.T) {
	ctx := context.Background()
	s, mem, _ := newTestStore(t)

	err := s.Save(ctx, "k", map[string]any{"fn": func() {}}, false)
	require.Error(t, err)
	assert.True(t, IsSerializationError(err))

	_, ok, _ := mem.Get(ctx, "k")
	assert.False(t, ok, "nothing written on serialization failure")
}

func TestSave_UnknownBackendErrorNotRetried(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("disk on fire")
	s := New(&failingBackend{Memory: store.NewMemory(), err: boom})

	err := s.Save(ctx, "k", "v", false)
	require.Error(t, err)

	var se *StorageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, CodeUnknown, se.Code)
	assert.ErrorIs(t, err, boom)
	assert.False(t, IsQuotaError(err))
}

func TestLoad_TamperedDataDetected(t *testing.T) {
	ctx := context.Background()
	logger, logs := captureLogs()
	mem := store.NewMemory()
	s := New(mem, WithLogger(logger))

	require.NoError(t, s.Save(ctx, "draft:1", sheet{Name: "Soup", Cost: 10}, true))

	raw, _, err := mem.Get(ctx, "draft:1")
	require.NoError(t, err)

	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &rec))
	rec["data"].(map[string]any)["cost"] = 1
	tampered, err := json.Marshal(rec)
	require.NoError(t, err)
	require.NoError(t, mem.Set(ctx, "draft:1", string(tampered)))

	out := sheet{Name: "untouched"}
	var ok bool
	assert.NotPanics(t, func() {
		ok, err = s.Load(ctx, "draft:1", &out)
	})
	assert.False(t, ok)
	assert.True(t, IsIntegrityError(err))
	assert.Equal(t, sheet{Name: "untouched"}, out, "corrupted payload must not reach the caller")
	assert.Contains(t, logs.String(), "integrity check failed")
}

func TestLoad_TamperedLiteralDetected(t *testing.T) {
	tests := []struct {
		name     string
		doc      string
		from, to string
	}{
		{"NFD string", `{"name":"caf\u00e9"}`, "caf\u00e9", "cafe\u0301"},
		{"big integer", `{"id":12345678901234567890}`, "12345678901234567890", "12345678901234567891"},
		{"long decimal", `{"cost":0.1}`, "0.1", "0.10000000000000000001"},
		{"integral float", `{"cost":10}`, ":10", ":10.0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			s, mem, _ := newTestStore(t)

			doc, err := canonical.Decode([]byte(tt.doc))
			require.NoError(t, err)
			require.NoError(t, s.Save(ctx, "draft:1", doc, true))

			raw, _, err := mem.Get(ctx, "draft:1")
			require.NoError(t, err)
			require.Contains(t, raw, tt.from)
			require.NoError(t, mem.Set(ctx, "draft:1", strings.Replace(raw, tt.from, tt.to, 1)))

			got, ok, err := s.LoadRaw(ctx, "draft:1")
			assert.False(t, ok)
			assert.Nil(t, got, "tampered payload must not be returned")
			assert.True(t, IsIntegrityError(err))
		})
	}
}

func TestLoad_PreservesStoredLiterals(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestStore(t)

	doc, err := canonical.Decode([]byte(`{"id":12345678901234567890,"name":"cafe\u0301"}`))
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, "sheet:1", doc, false))

	got, ok, err := s.LoadRaw(ctx, "sheet:1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "{\"id\":12345678901234567890,\"name\":\"cafe\u0301\"}", string(got))
}

func TestLoad_TamperedHashDetected(t *testing.T) {
	ctx := context.Background()
	s, mem, _ := newTestStore(t)

	require.NoError(t, s.Save(ctx, "k", "value", false))
	raw, _, _ := mem.Get(ctx, "k")

	var rec StorageRecord
	require.NoError(t, json.Unmarshal([]byte(raw), &rec))
	rec.Hash = "0000"
	tampered, _ := json.Marshal(rec)
	require.NoError(t, mem.Set(ctx, "k", string(tampered)))

	_, ok, err := s.LoadRaw(ctx, "k")
	assert.False(t, ok)
	assert.True(t, IsIntegrityError(err))
}

func TestLoad_UnparsableRecord(t *testing.T) {
	ctx := context.Background()
	s, mem, _ := newTestStore(t)

	for _, value := range []string{`not json`, `{"timestamp":1}`, `{"data":{"a":1}}`} {
		require.NoError(t, mem.Set(ctx, "k", value))

		_, ok, err := s.LoadRaw(ctx, "k")
		assert.False(t, ok, value)
		assert.True(t, IsIntegrityError(err), value)
	}
}

func TestLoad_ReformattedRecordStillVerifies(t *testing.T) {
	ctx := context.Background()
	s, mem, _ := newTestStore(t)

	require.NoError(t, s.Save(ctx, "k", map[string]any{"a": 1, "b": "x"}, false))
	raw, _, _ := mem.Get(ctx, "k")

	var rec StorageRecord
	require.NoError(t, json.Unmarshal([]byte(raw), &rec))
	rec.Data = json.RawMessage("{ \"b\": \"x\", \"a\": 1.0 }")
	reformatted, _ := json.Marshal(rec)
	require.NoError(t, mem.Set(ctx, "k", string(reformatted)))

	_, ok, err := s.LoadRaw(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok, "formatting changes are not corruption")
}

func TestLoad_DecodeIntoWrongType(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestStore(t)

	require.NoError(t, s.Save(ctx, "k", "a string", false))

	var out sheet
	ok, err := s.Load(ctx, "k", &out)
	assert.False(t, ok)
	assert.True(t, IsSerializationError(err))
}

func TestTimestampOf(t *testing.T) {
	ctx := context.Background()
	s, mem, clk := newTestStore(t)

	assert.Equal(t, int64(0), s.TimestampOf(ctx, "missing"))

	clk.Advance(5 * time.Second)
	require.NoError(t, s.Save(ctx, "k", 1, false))
	assert.Equal(t, testutil.Epoch.Add(5*time.Second).UnixMilli(), s.TimestampOf(ctx, "k"))

	require.NoError(t, mem.Set(ctx, "bad", "{"))
	assert.Equal(t, int64(0), s.TimestampOf(ctx, "bad"))
}

func TestRemove(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestStore(t)

	require.NoError(t, s.Save(ctx, "k", 1, false))
	require.NoError(t, s.Remove(ctx, "k"))
	require.NoError(t, s.Remove(ctx, "k"))

	_, ok, err := s.LoadRaw(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestInspect(t *testing.T) {
	ctx := context.Background()
	s, mem, _ := newTestStore(t)

	require.NoError(t, s.Save(ctx, DraftKey("1"), "a", true))
	require.NoError(t, s.Save(ctx, SheetKey("1"), "b", false))
	require.NoError(t, mem.Set(ctx, DraftKey("2"), "garbage"))

	infos, err := s.Inspect(ctx, "")
	require.NoError(t, err)
	require.Len(t, infos, 3)

	assert.Equal(t, "draft:1", infos[0].Key)
	assert.True(t, infos[0].Verified)
	assert.True(t, infos[0].IsDraft)
	assert.Equal(t, SchemaVersion, infos[0].SchemaVersion)
	assert.Equal(t, testutil.Epoch.UnixMilli(), infos[0].Timestamp)

	assert.Equal(t, "draft:2", infos[1].Key)
	assert.False(t, infos[1].Verified)
	assert.NotEmpty(t, infos[1].Problem)

	assert.Equal(t, "sheet:1", infos[2].Key)
	assert.False(t, infos[2].IsDraft)

	drafts, err := s.Inspect(ctx, DraftPrefix)
	require.NoError(t, err)
	assert.Len(t, drafts, 2)
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "draft:42", DraftKey("42"))
	assert.Equal(t, "sheet:42", SheetKey("42"))
}

func TestStorageError_Format(t *testing.T) {
	err := newQuotaError("draft:1", 2, store.ErrQuotaExceeded)
	assert.Contains(t, err.Error(), "QUOTA_EXCEEDED")
	assert.Contains(t, err.Error(), "draft:1")
	assert.ErrorIs(t, err, store.ErrQuotaExceeded)
	assert.Equal(t, 2, err.Evicted)

	wrapped := errors.Join(errors.New("context"), err)
	assert.True(t, IsQuotaError(wrapped))
	assert.False(t, IsIntegrityError(wrapped))
}
