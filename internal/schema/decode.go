package schema

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/koustreak/pha/internal/errs"
)

// Decode reads a unified schema from JSON and validates it.
//
// Both the bare form and the {"unified_schema": {...}} envelope produced by
// the extraction service are accepted. Tables may list their fields under
// "fields" or "columns", and a field may flag its key as "is_primary_key" or
// "primary_key".
func Decode(r io.Reader) (*Unified, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindInvalidInput, "failed to read schema", err)
	}
	s, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Parse decodes JSON without validating. Use it when the caller validates
// later as part of a larger request.
func Parse(data []byte) (*Unified, error) {
	var envelope struct {
		Unified *Unified `json:"unified_schema"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, errs.Wrap(errs.ErrKindSchema, "malformed schema JSON", err)
	}
	if envelope.Unified != nil {
		return envelope.Unified, nil
	}

	var s Unified
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, errs.Wrap(errs.ErrKindSchema, "malformed schema JSON", err)
	}
	return &s, nil
}

// Encode writes s as indented JSON in the bare form.
func Encode(w io.Writer, s *Unified) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		return errs.Wrap(errs.ErrKindInvalidInput, "failed to encode schema", err)
	}
	return nil
}

// Marshal is Encode into a byte slice.
func Marshal(s *Unified) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, s); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// --- aliases ---

func (t *Table) UnmarshalJSON(data []byte) error {
	var raw struct {
		Name    string  `json:"name"`
		Fields  []Field `json:"fields"`
		Columns []Field `json:"columns"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	t.Name = raw.Name
	t.Fields = raw.Fields
	if t.Fields == nil {
		t.Fields = raw.Columns
	}
	return nil
}

func (f *Field) UnmarshalJSON(data []byte) error {
	type plain Field
	var raw struct {
		plain
		DataType   string `json:"data_type"`
		PrimaryKey *bool  `json:"primary_key"`
		ForeignKey *bool  `json:"foreign_key"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*f = Field(raw.plain)
	if f.Type == "" {
		f.Type = raw.DataType
	}
	if raw.PrimaryKey != nil && *raw.PrimaryKey {
		f.IsPrimaryKey = true
	}
	if raw.ForeignKey != nil && *raw.ForeignKey {
		f.IsForeignKey = true
	}
	return nil
}
