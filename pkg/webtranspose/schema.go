package webtranspose

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// FieldType is the declared type of a scraper schema field.
type FieldType string

// Supported field types.
const (
	FieldString  FieldType = "string"
	FieldURL     FieldType = "url"
	FieldNumber  FieldType = "number"
	FieldBoolean FieldType = "boolean"
)

// ParseFieldType validates a field type name, case-insensitively.
func ParseFieldType(s string) (FieldType, error) {
	switch t := FieldType(strings.ToLower(strings.TrimSpace(s))); t {
	case FieldString, FieldURL, FieldNumber, FieldBoolean:
		return t, nil
	}
	return "", configErrorf("schema", "unsupported field type %q (want string, url, number or boolean)", s)
}

// Field is one named, typed output field.
type Field struct {
	Name string
	Type FieldType
}

// Schema is an immutable, ordered list of fields. The zero value is empty
// and rejected by NewScraper.
type Schema struct {
	fields []Field
}

// NewSchema builds a Schema from a name→type mapping. Fields are ordered by
// name.
func NewSchema(m map[string]string) (Schema, error) {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)

	fields := make([]Field, 0, len(names))
	for _, name := range names {
		t, err := ParseFieldType(m[name])
		if err != nil {
			return Schema{}, configErrorf("schema", "field %q: unsupported type %q", name, m[name])
		}
		fields = append(fields, Field{Name: name, Type: t})
	}
	return SchemaFromFields(fields...)
}

// SchemaFromFields builds a Schema preserving the given order.
func SchemaFromFields(fields ...Field) (Schema, error) {
	if len(fields) == 0 {
		return Schema{}, configErrorf("schema", "schema must declare at least one field")
	}
	seen := make(map[string]struct{}, len(fields))
	out := make([]Field, 0, len(fields))
	for _, f := range fields {
		if strings.TrimSpace(f.Name) == "" {
			return Schema{}, configErrorf("schema", "field name must not be empty")
		}
		if _, dup := seen[f.Name]; dup {
			return Schema{}, configErrorf("schema", "duplicate field %q", f.Name)
		}
		t, err := ParseFieldType(string(f.Type))
		if err != nil {
			return Schema{}, err
		}
		seen[f.Name] = struct{}{}
		out = append(out, Field{Name: f.Name, Type: t})
	}
	return Schema{fields: out}, nil
}

// Fields returns a copy of the schema's fields.
func (s Schema) Fields() []Field {
	return append([]Field(nil), s.fields...)
}

// Len returns the number of fields.
func (s Schema) Len() int { return len(s.fields) }

// Map returns the wire representation, field name → type name.
func (s Schema) Map() map[string]string {
	m := make(map[string]string, len(s.fields))
	for _, f := range s.fields {
		m[f.Name] = string(f.Type)
	}
	return m
}

// Record is a scrape result. It always holds exactly the schema's keys; a nil
// value means the service found nothing for that field.
type Record map[string]any

// Normalize shapes a raw scrape response into a Record. Values that do not fit
// their declared type produce a schema_mismatch remote error.
func (s Schema) Normalize(raw json.RawMessage) (Record, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil || obj == nil {
		return nil, remoteError(pathScraperScrape, 0, CodeSchemaMismatch, "scrape response is not a JSON object")
	}

	rec := make(Record, len(s.fields))
	for _, f := range s.fields {
		v, err := normalizeValue(f.Type, obj[f.Name])
		if err != nil {
			return nil, remoteError(pathScraperScrape, 0, CodeSchemaMismatch, fmt.Sprintf("field %q: %v", f.Name, err))
		}
		rec[f.Name] = v
	}
	return rec, nil
}

func normalizeValue(t FieldType, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch t {
	case FieldString:
		switch x := v.(type) {
		case string:
			return x, nil
		case json.Number:
			return x.String(), nil
		case bool:
			return strconv.FormatBool(x), nil
		}
	case FieldNumber:
		switch x := v.(type) {
		case json.Number:
			return finite(x.Float64())
		case string:
			x = strings.ReplaceAll(strings.TrimSpace(x), ",", "")
			if x == "" {
				return nil, nil
			}
			return finite(strconv.ParseFloat(x, 64))
		}
	case FieldBoolean:
		switch x := v.(type) {
		case bool:
			return x, nil
		case string:
			x = strings.TrimSpace(x)
			if x == "" {
				return nil, nil
			}
			return strconv.ParseBool(strings.ToLower(x))
		}
	case FieldURL:
		if x, ok := v.(string); ok {
			x = strings.TrimSpace(x)
			if x == "" {
				return nil, nil
			}
			u, err := url.Parse(x)
			if err != nil {
				return nil, err
			}
			if !u.IsAbs() || u.Host == "" {
				return nil, eris.Errorf("%q is not an absolute url", x)
			}
			return x, nil
		}
	}
	return nil, eris.Errorf("cannot use %T as %s", v, t)
}

// finite rejects NaN and infinities, which have no JSON encoding.
func finite(f float64, err error) (any, error) {
	if err != nil {
		return nil, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, eris.Errorf("%v is not a finite number", f)
	}
	return f, nil
}
