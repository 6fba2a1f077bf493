package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImportRecord_GetHas(t *testing.T) {
	t.Parallel()

	rec := NewImportRecord(3, []FieldValue{
		{Name: "name", Raw: "Acme"},
		{Name: "amount", Raw: "", Absent: true},
		{Name: "note", Raw: ""},
	})

	v, ok := rec.Get("name")
	assert.True(t, ok)
	assert.Equal(t, "Acme", v)

	// Absent is not the same as empty: an absent field has no value, an
	// empty string is a value.
	_, ok = rec.Get("amount")
	assert.False(t, ok)
	assert.False(t, rec.Has("amount"))

	v, ok = rec.Get("note")
	assert.True(t, ok)
	assert.Equal(t, "", v)

	_, ok = rec.Get("never_uploaded")
	assert.False(t, ok)

	assert.Equal(t, 3, rec.Len())
}

func TestImportRecord_FieldOrderPreserved(t *testing.T) {
	t.Parallel()

	rec := NewImportRecord(0, []FieldValue{
		{Name: "z"}, {Name: "a"}, {Name: "m"},
	})
	fields := rec.Fields()
	require.Len(t, fields, 3)
	assert.Equal(t, "z", fields[0].Name)
	assert.Equal(t, "a", fields[1].Name)
	assert.Equal(t, "m", fields[2].Name)
}

func TestImportRecord_JSONRoundTrip(t *testing.T) {
	t.Parallel()

	in := NewImportRecord(7, []FieldValue{
		{Name: "name", Raw: "Acme"},
		{Name: "amount", Absent: true},
	})
	data, err := json.Marshal(in)
	require.NoError(t, err)

	var out ImportRecord
	require.NoError(t, json.Unmarshal(data, &out))

	assert.Equal(t, 7, out.RowIndex)
	v, ok := out.Get("name")
	assert.True(t, ok)
	assert.Equal(t, "Acme", v)
	assert.False(t, out.Has("amount"))
	assert.Equal(t, in.Fields(), out.Fields())
}
