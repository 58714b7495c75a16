package cell

import (
	"fmt"
	"math"
	"reflect"
)

// Coerce returns v as a value of type t. Assignable values pass through;
// numeric values convert between numeric kinds when no precision is lost;
// nil becomes the zero value of nillable types.
func Coerce(v any, t reflect.Type) (any, error) {
	if t == nil {
		return v, nil
	}
	if v == nil {
		if nillable(t.Kind()) {
			return reflect.Zero(t).Interface(), nil
		}
		return nil, fmt.Errorf("cannot use nil as %s", t)
	}

	rv := reflect.ValueOf(v)
	if rv.Type().AssignableTo(t) {
		return v, nil
	}
	if numeric(rv.Kind()) && numeric(t.Kind()) {
		if isFloat(rv.Kind()) && isInteger(t.Kind()) {
			f := rv.Float()
			if f != math.Trunc(f) {
				return nil, fmt.Errorf("cannot use %v as %s without truncation", v, t)
			}
		}
		return rv.Convert(t).Interface(), nil
	}
	return nil, fmt.Errorf("cannot use %T as %s", v, t)
}

func nillable(k reflect.Kind) bool {
	switch k {
	case reflect.Interface, reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return true
	}
	return false
}

func numeric(k reflect.Kind) bool {
	return isInteger(k) || isFloat(k)
}

func isInteger(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	}
	return false
}

func isFloat(k reflect.Kind) bool {
	return k == reflect.Float32 || k == reflect.Float64
}
