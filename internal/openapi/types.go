package openapi

import (
	"reflect"
	"strings"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
)

// TypeMapping is an OpenAPI type/format pair.
type TypeMapping struct {
	Type   string // OpenAPI type: string, integer, number, boolean, object, array
	Format string // OpenAPI format: int32, int64, float, double, date-time, etc.
}

var timeType = reflect.TypeOf(time.Time{})

// MapGoType converts a Go type to an OpenAPI type mapping. Pointers map to
// their element type; unknown kinds fall back to {"string", ""}.
func MapGoType(t reflect.Type) TypeMapping {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == timeType {
		return TypeMapping{"string", "date-time"}
	}
	switch t.Kind() {
	case reflect.Bool:
		return TypeMapping{"boolean", ""}
	case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Uint8, reflect.Uint16:
		return TypeMapping{"integer", "int32"}
	case reflect.Int, reflect.Int64, reflect.Uint, reflect.Uint32, reflect.Uint64:
		return TypeMapping{"integer", "int64"}
	case reflect.Float32:
		return TypeMapping{"number", "float"}
	case reflect.Float64:
		return TypeMapping{"number", "double"}
	case reflect.Struct, reflect.Map:
		return TypeMapping{"object", ""}
	case reflect.Slice, reflect.Array:
		return TypeMapping{"array", ""}
	}
	return TypeMapping{"string", ""}
}

// SchemaOf builds an object schema from a struct value using its json tags.
// Fields tagged "-" are skipped, embedded structs are flattened, pointer
// fields are nullable, and fields without omitempty are required.
func SchemaOf(v interface{}) *openapi3.SchemaRef {
	t := reflect.TypeOf(v)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	s := &openapi3.Schema{
		Type:       &openapi3.Types{"object"},
		Properties: openapi3.Schemas{},
	}
	addFields(s, t)
	return &openapi3.SchemaRef{Value: s}
}

func addFields(s *openapi3.Schema, t reflect.Type) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := f.Tag.Get("json")
		if tag == "-" {
			continue
		}
		name, opts, _ := strings.Cut(tag, ",")

		if f.Anonymous && name == "" {
			ft := f.Type
			for ft.Kind() == reflect.Pointer {
				ft = ft.Elem()
			}
			if ft.Kind() == reflect.Struct {
				addFields(s, ft)
				continue
			}
		}
		if !f.IsExported() {
			continue
		}
		if name == "" {
			name = f.Name
		}

		s.Properties[name] = &openapi3.SchemaRef{Value: fieldSchema(f.Type)}
		if f.Type.Kind() != reflect.Pointer && !strings.Contains(opts, "omitempty") {
			s.Required = append(s.Required, name)
		}
	}
}

func fieldSchema(t reflect.Type) *openapi3.Schema {
	m := MapGoType(t)
	s := &openapi3.Schema{Type: &openapi3.Types{m.Type}}
	if m.Format != "" {
		s.Format = m.Format
	}
	if t.Kind() == reflect.Pointer {
		s.Nullable = true
	}
	et := t
	for et.Kind() == reflect.Pointer {
		et = et.Elem()
	}
	if et.Kind() == reflect.Struct && et != timeType {
		s.Properties = openapi3.Schemas{}
		addFields(s, et)
	}
	if m.Type == "array" {
		s.Items = &openapi3.SchemaRef{Value: fieldSchema(t.Elem())}
	}
	return s
}
