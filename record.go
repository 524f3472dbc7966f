package entity

import (
	"math"
	"reflect"
	"strconv"
)

// IDField is the key under which a Record carries the identifier of the entity
// it describes.
const IDField = "id"

// ID identifies a persisted entity within its schema. The zero ID denotes an
// entity that has never been persisted.
type ID string

// IsZero reports whether id is the zero ID.
func (id ID) IsZero() bool { return id == "" }

func (id ID) String() string { return string(id) }

// Record is the plain keyed structure exchanged with drivers: attribute names
// mapped to their persisted values, plus the identifier under IDField.
type Record map[string]any

// ID returns the identifier carried by the record. It returns ok == false when
// the record has no identifier, or when the identifier is not of a supported
// identifier type (see IdentifierOf).
func (r Record) ID() (id ID, ok bool) {
	v, found := r[IDField]
	if !found {
		return "", false
	}
	return IdentifierOf(v)
}

// Clone returns a deep copy of the record. Nested keyed structures and slices
// are copied as well; other values are copied by assignment.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	return cloneValue(r).(Record)
}

// IdentifierOf converts v to an ID if v has one of the identifier shapes:
// a non-empty string, an ID, any integer kind, or a float holding an integral
// value (as produced by JSON decoders).
func IdentifierOf(v any) (ID, bool) {
	switch x := v.(type) {
	case ID:
		return x, !x.IsZero()
	case string:
		return ID(x), x != ""
	case float32:
		return floatIdentifier(float64(x))
	case float64:
		return floatIdentifier(x)
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return ID(strconv.FormatInt(rv.Int(), 10)), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return ID(strconv.FormatUint(rv.Uint(), 10)), true
	default:
		return "", false
	}
}

func floatIdentifier(f float64) (ID, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return "", false
	}
	return ID(strconv.FormatFloat(f, 'f', -1, 64)), true
}

// asKeyed returns v as a Record when v is a plain keyed structure.
func asKeyed(v any) (Record, bool) {
	switch x := v.(type) {
	case Record:
		return x, x != nil
	case map[string]any:
		return Record(x), x != nil
	default:
		return nil, false
	}
}

// cloneValue deep-copies keyed structures and slices so that clean snapshots
// never alias the live value.
func cloneValue(v any) any {
	switch x := v.(type) {
	case Record:
		if x == nil {
			return Record(nil)
		}
		c := make(Record, len(x))
		for k, e := range x {
			c[k] = cloneValue(e)
		}
		return c
	case map[string]any:
		if x == nil {
			return map[string]any(nil)
		}
		c := make(map[string]any, len(x))
		for k, e := range x {
			c[k] = cloneValue(e)
		}
		return c
	case []any:
		if x == nil {
			return []any(nil)
		}
		c := make([]any, len(x))
		for i, e := range x {
			c[i] = cloneValue(e)
		}
		return c
	default:
		return v
	}
}
