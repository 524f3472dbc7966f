package neo4jdriver

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-digitaltwin/go-entity"
)

// metadataPrefix marks node properties maintained by the driver itself.
const metadataPrefix = "_"

// formatProps converts a record to node properties. Nil values are dropped,
// because Neo4j does not store null properties.
func formatProps(values entity.Record) (map[string]any, error) {
	props := make(map[string]any, len(values))
	for k, v := range values {
		if strings.HasPrefix(k, metadataPrefix) {
			return nil, fmt.Errorf("property %q: names beginning with %q are reserved", k, metadataPrefix)
		}
		if v == nil {
			continue
		}
		p, err := formatValue(v)
		if err != nil {
			return nil, fmt.Errorf("property %q: %w", k, err)
		}
		props[k] = p
	}
	return props, nil
}

func formatValue(v any) (any, error) {
	switch x := v.(type) {
	case entity.ID:
		return string(x), nil
	case string, bool, int64, float64:
		return v, nil
	case []any:
		list := make([]any, len(x))
		for i, e := range x {
			if _, nested := e.([]any); nested {
				return nil, fmt.Errorf("element %d: nested lists are not supported", i)
			}
			f, err := formatValue(e)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			list[i] = f
		}
		return list, nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32:
		return int64(rv.Uint()), nil
	case reflect.Float32, reflect.Float64:
		return rv.Float(), nil
	case reflect.String:
		return rv.String(), nil
	case reflect.Bool:
		return rv.Bool(), nil
	}
	return nil, fmt.Errorf("values of type %T cannot be stored as neo4j properties", v)
}

// parseProps converts node properties to a record, leaving out metadata.
func parseProps(props map[string]any) entity.Record {
	r := make(entity.Record, len(props))
	for k, v := range props {
		if strings.HasPrefix(k, metadataPrefix) {
			continue
		}
		r[k] = v
	}
	return r
}
