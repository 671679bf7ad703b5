package validator

import (
	"fmt"
	"reflect"
)

// Validate checks that every dependency handed to a constructor is usable:
// non-nil for pointers, interfaces, maps, channels, funcs, and slices, and
// non-zero for everything else. Returns an error naming the component on the
// first missing dependency.
func Validate(name string, deps ...any) error {
	for i, dep := range deps {
		v := reflect.ValueOf(dep)
		if !v.IsValid() {
			return fmt.Errorf("missing required dep %d for component: %s", i, name)
		}

		switch v.Kind() {
		case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Chan, reflect.Func, reflect.Slice:
			if v.IsNil() {
				return fmt.Errorf("missing required dep %d for component: %s", i, name)
			}
		default:
			if v.IsZero() {
				return fmt.Errorf("missing required dep %d for component: %s", i, name)
			}
		}
	}

	return nil
}
