package model

import "encoding/json"

// FieldValue is one field of an import record. Absent marks a field the
// upload named but supplied no value for; an absent field is distinct from
// an empty string and from a field the upload never mentioned.
type FieldValue struct {
	Name   string `json:"name"`
	Raw    string `json:"raw"`
	Absent bool   `json:"absent,omitempty"`
}

// ImportRecord is one uploaded row. Field order is preserved from the
// upload. The record is immutable once staged: imputations and corrections
// are layered on via ImputationLogEntry annotations, never written back
// into the record itself.
type ImportRecord struct {
	RowIndex int
	fields   []FieldValue
	byName   map[string]int
}

// NewImportRecord builds a record from ordered field values. Later
// duplicates of a field name override earlier ones in lookups but keep
// the first position in iteration order.
func NewImportRecord(rowIndex int, fields []FieldValue) ImportRecord {
	byName := make(map[string]int, len(fields))
	for i, f := range fields {
		byName[f.Name] = i
	}
	return ImportRecord{RowIndex: rowIndex, fields: fields, byName: byName}
}

// Get returns the raw value for a field. ok is false when the field is
// absent or was never supplied.
func (r ImportRecord) Get(name string) (string, bool) {
	i, present := r.byName[name]
	if !present || r.fields[i].Absent {
		return "", false
	}
	return r.fields[i].Raw, true
}

// Has reports whether the field carries a value (present and not absent).
func (r ImportRecord) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// Fields returns the ordered field values. Callers must not mutate the
// returned slice.
func (r ImportRecord) Fields() []FieldValue {
	return r.fields
}

// Len returns the number of declared fields.
func (r ImportRecord) Len() int {
	return len(r.fields)
}

type recordJSON struct {
	RowIndex int          `json:"row_index"`
	Fields   []FieldValue `json:"fields"`
}

// MarshalJSON serializes the record with its field order intact.
func (r ImportRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(recordJSON{RowIndex: r.RowIndex, Fields: r.fields})
}

// UnmarshalJSON restores a record, rebuilding the name index.
func (r *ImportRecord) UnmarshalJSON(data []byte) error {
	var rj recordJSON
	if err := json.Unmarshal(data, &rj); err != nil {
		return err
	}
	*r = NewImportRecord(rj.RowIndex, rj.Fields)
	return nil
}
