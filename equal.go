package entity

import (
	"reflect"

	"github.com/google/go-cmp/cmp"
)

// equalOptions configure the structural comparison of Holder values. Numbers
// compare by value regardless of their Go kind, because the same attribute may
// be hydrated by a driver as float64 and assigned by a caller as int.
var equalOptions = []cmp.Option{
	cmp.FilterValues(bothNumbers, cmp.Comparer(numbersEqual)),
	// Values are opaque to this package; compare unexported fields rather than
	// panicking on them.
	cmp.Exporter(func(reflect.Type) bool { return true }),
}

// equal decides whether value matches the clean snapshot. It applies, in order:
//
//  1. Absent values (nil, or typed nil keyed structures) are equal.
//  2. Two keyed structures that both carry an identifier are equal only if the
//     identifiers match and value carries nothing but the identifier; extra
//     fields denote a modification.
//  3. Otherwise, structural deep equality (order-insensitive for keyed
//     structures).
//
// Note that an absent value never equals a present one, so clearing a loaded
// value is a change while clearing a never-set value is not.
func equal(value, clean any) bool {
	if isAbsent(value) && isAbsent(clean) {
		return true
	}
	if v, ok := asKeyed(value); ok {
		if c, ok := asKeyed(clean); ok {
			vid, vok := v[IDField]
			cid, cok := c[IDField]
			if vok && cok && !isAbsent(vid) && !isAbsent(cid) {
				return sameIdentifier(vid, cid) && len(v) == 1
			}
		}
	}
	return cmp.Equal(value, clean, equalOptions...)
}

func sameIdentifier(a, b any) bool {
	x, xok := IdentifierOf(a)
	y, yok := IdentifierOf(b)
	if xok && yok {
		return x == y
	}
	return cmp.Equal(a, b, equalOptions...)
}

func isAbsent(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map, reflect.Pointer, reflect.Slice, reflect.Interface:
		return rv.IsNil()
	default:
		return false
	}
}

func bothNumbers(x, y any) bool {
	return isNumber(reflect.ValueOf(x)) && isNumber(reflect.ValueOf(y))
}

func isNumber(v reflect.Value) bool {
	return isSigned(v) || isUnsigned(v) || isFloat(v)
}

func isSigned(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return true
	}
	return false
}

func isUnsigned(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return true
	}
	return false
}

func isFloat(v reflect.Value) bool {
	return v.Kind() == reflect.Float32 || v.Kind() == reflect.Float64
}

// numbersEqual compares two numbers exactly when both are integers, and as
// float64 otherwise.
func numbersEqual(x, y any) bool {
	vx, vy := reflect.ValueOf(x), reflect.ValueOf(y)
	switch {
	case isSigned(vx) && isSigned(vy):
		return vx.Int() == vy.Int()
	case isUnsigned(vx) && isUnsigned(vy):
		return vx.Uint() == vy.Uint()
	case isSigned(vx) && isUnsigned(vy):
		return vx.Int() >= 0 && uint64(vx.Int()) == vy.Uint()
	case isUnsigned(vx) && isSigned(vy):
		return vy.Int() >= 0 && vx.Uint() == uint64(vy.Int())
	}
	return toFloat(vx) == toFloat(vy)
}

func toFloat(v reflect.Value) float64 {
	switch {
	case isSigned(v):
		return float64(v.Int())
	case isUnsigned(v):
		return float64(v.Uint())
	default:
		return v.Float()
	}
}
