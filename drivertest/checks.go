package drivertest

import (
	"context"
	"reflect"
	"sync"

	"github.com/google/go-cmp/cmp"

	"github.com/go-digitaltwin/go-entity"
)

// countingDriver forwards to the tested driver and counts persist calls per
// schema.
type countingDriver struct {
	next entity.Driver

	mu    sync.Mutex
	calls map[string]int
}

func (d *countingDriver) FindByID(ctx context.Context, schema string, id entity.ID) (entity.Record, error) {
	return d.next.FindByID(ctx, schema, id)
}

func (d *countingDriver) Persist(ctx context.Context, schema string, id entity.ID, values entity.Record) error {
	d.mu.Lock()
	if d.calls == nil {
		d.calls = make(map[string]int)
	}
	d.calls[schema]++
	d.mu.Unlock()
	return d.next.Persist(ctx, schema, id, values)
}

func (d *countingDriver) persists(schema string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[schema]
}

// diffRecords compares records the way storage treats them: a nil field is the
// same as a missing one, and numbers compare by value regardless of the Go type
// the driver decodes them into.
func diffRecords(want, got entity.Record) string {
	return cmp.Diff(dropNulls(want), dropNulls(got),
		cmp.FilterValues(bothNumbers, cmp.Comparer(func(x, y any) bool {
			return toFloat(x) == toFloat(y)
		})),
	)
}

func dropNulls(r entity.Record) map[string]any {
	m := make(map[string]any, len(r))
	for k, v := range r {
		if v != nil {
			m[k] = v
		}
	}
	return m
}

func bothNumbers(x, y any) bool {
	return isNumber(x) && isNumber(y)
}

func isNumber(v any) bool {
	switch reflect.ValueOf(v).Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

func toFloat(v any) float64 {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint())
	default:
		return rv.Float()
	}
}
