package remote

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Decode converts loosely-typed rows into typed records and validates
// them. Any mismatch is returned as a shape error.
func Decode[T any](rows []Row) ([]T, error) {
	raw, err := json.Marshal(rows)
	if err != nil {
		return nil, &Error{Code: CodeShape, Message: fmt.Sprintf("encode rows: %v", err)}
	}
	out := make([]T, 0, len(rows))
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &Error{Code: CodeShape, Message: fmt.Sprintf("decode rows: %v", err)}
	}
	for i := range out {
		if err := validate.Struct(&out[i]); err != nil {
			return nil, &Error{Code: CodeShape, Message: fmt.Sprintf("row %d: %v", i, err)}
		}
	}
	return out, nil
}

// DecodeOne decodes exactly one row. An empty slice is a not-found error.
func DecodeOne[T any](rows []Row) (T, error) {
	var zero T
	if len(rows) == 0 {
		return zero, &Error{Code: CodeNotFound, Message: "no rows returned"}
	}
	out, err := Decode[T](rows[:1])
	if err != nil {
		return zero, err
	}
	return out[0], nil
}

// FormatValue renders a filter value the way backends compare it.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return x
	case []byte:
		return string(x)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case *time.Time:
		if x == nil {
			return "null"
		}
		return x.UTC().Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(x)
	}
}
