// Package schemafile loads scraper schemas from YAML or JSON files.
//
// Two layouts are accepted. A bare mapping of field name to type:
//
//	title: string
//	price: number
//
// or a scraper document with the mapping under "schema":
//
//	name: products
//	render_js: true
//	schema:
//	  title: string
//	  price: number
//
// YAML files keep field order as written; JSON files are ordered by name.
package schemafile

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/webtranspose/pkg/webtranspose"
)

// File is a parsed schema file.
type File struct {
	Name     string
	RenderJS bool
	Schema   webtranspose.Schema
}

// Load reads path and parses it by extension (.yaml, .yml or .json).
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "schemafile: read %s", path)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseYAML(data)
	case ".json":
		return ParseJSON(data)
	default:
		return nil, eris.Errorf("schemafile: unsupported extension %q (want .yaml, .yml or .json)", filepath.Ext(path))
	}
}

// ParseYAML parses a YAML schema document.
func ParseYAML(data []byte) (*File, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, eris.Wrap(err, "schemafile: parse yaml")
	}
	if len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return nil, eris.New("schemafile: document must be a mapping")
	}
	root := doc.Content[0]

	f := &File{}
	fieldsNode := root
	if schemaNode := lookup(root, "schema"); schemaNode != nil {
		if schemaNode.Kind != yaml.MappingNode {
			return nil, eris.New("schemafile: schema must be a mapping")
		}
		fieldsNode = schemaNode
		if n := lookup(root, "name"); n != nil {
			f.Name = n.Value
		}
		if n := lookup(root, "render_js"); n != nil {
			if err := n.Decode(&f.RenderJS); err != nil {
				return nil, eris.Wrap(err, "schemafile: render_js")
			}
		}
	}

	fields := make([]webtranspose.Field, 0, len(fieldsNode.Content)/2)
	for i := 0; i+1 < len(fieldsNode.Content); i += 2 {
		key, val := fieldsNode.Content[i], fieldsNode.Content[i+1]
		if val.Kind != yaml.ScalarNode {
			return nil, eris.Errorf("schemafile: field %q: type must be a string (line %d)", key.Value, val.Line)
		}
		fields = append(fields, webtranspose.Field{Name: key.Value, Type: webtranspose.FieldType(val.Value)})
	}
	schema, err := webtranspose.SchemaFromFields(fields...)
	if err != nil {
		return nil, err
	}
	f.Schema = schema
	return f, nil
}

func lookup(m *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i+1]
		}
	}
	return nil
}

type jsonDoc struct {
	Name     string            `json:"name"`
	RenderJS bool              `json:"render_js"`
	Schema   map[string]string `json:"schema"`
}

// ParseJSON parses a JSON schema document.
func ParseJSON(data []byte) (*File, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, eris.Wrap(err, "schemafile: parse json")
	}

	f := &File{}
	var fields map[string]string
	if _, ok := probe["schema"]; ok {
		var doc jsonDoc
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, eris.Wrap(err, "schemafile: parse json")
		}
		f.Name, f.RenderJS, fields = doc.Name, doc.RenderJS, doc.Schema
	} else if err := json.Unmarshal(data, &fields); err != nil {
		return nil, eris.Wrap(err, "schemafile: field types must be strings")
	}

	schema, err := webtranspose.NewSchema(fields)
	if err != nil {
		return nil, err
	}
	f.Schema = schema
	return f, nil
}
