package errors

import (
	goerrors "errors"
	"reflect"
	"strings"
)

// Classify reduces an error to a stable type name used as the error_class
// tag on dispatch metrics. The innermost wrapped error wins, so a store
// failure wrapping a pgconn error tags as the pg error, not the wrapper.
func Classify(err error) string {
	if err == nil {
		return ""
	}

	for {
		unwrapped := goerrors.Unwrap(err)
		if unwrapped == nil {
			break
		}
		err = unwrapped
	}

	t := reflect.TypeOf(err)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil {
		return "unknown"
	}

	name := strings.ToLower(strings.ReplaceAll(t.String(), "*", ""))
	name = strings.ReplaceAll(name, ".", "_")
	if name == "" {
		return "unknown"
	}
	return name
}
