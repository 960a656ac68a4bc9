// Package metricid provides canonical, content-addressed identities for metric requests.
package metricid

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// ErrUnsupportedValue is returned when a parameter value has no canonical form.
var ErrUnsupportedValue = errors.New("unsupported parameter value")

// ID identifies one metric request: the metric name plus the canonical
// serialization of its domain and value parameters.
type ID struct {
	Name      string
	DomainKey string
	ValueKey  string
}

// Make creates an ID. Parameter mappings are canonicalized so that semantically
// equal requests produce equal IDs regardless of construction order.
func Make(name string, domainKwargs, valueKwargs map[string]any) (ID, error) {
	domainKey, err := Canonical(domainKwargs)
	if err != nil {
		return ID{}, fmt.Errorf("domain kwargs of %s: %w", name, err)
	}

	valueKey, err := Canonical(valueKwargs)
	if err != nil {
		return ID{}, fmt.Errorf("value kwargs of %s: %w", name, err)
	}

	return ID{Name: name, DomainKey: domainKey, ValueKey: valueKey}, nil
}

// String returns the full textual identity.
func (id ID) String() string {
	return id.Name + "|" + id.DomainKey + "|" + id.ValueKey
}

// Hash returns the sha256 digest of the identity.
func (id ID) Hash() string {
	sum := sha256.Sum256([]byte(id.String()))
	return hex.EncodeToString(sum[:])
}

// IsZero reports whether the ID was never constructed.
func (id ID) IsZero() bool {
	return id.Name == ""
}

// Canonical serializes a parameter mapping with sorted keys and normalized scalars.
func Canonical(kwargs map[string]any) (string, error) {
	if len(kwargs) == 0 {
		return "{}", nil
	}

	normalized, err := normalize(kwargs)
	if err != nil {
		return "", err
	}

	// encoding/json sorts map keys, nested maps included.
	out, err := json.Marshal(normalized)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnsupportedValue, err)
	}

	return string(out), nil
}

// CanonicalValue serializes a single value the same way Canonical serializes
// mapping entries. Values that compare equal produce equal strings (1 and 1.0 included).
func CanonicalValue(v any) (string, error) {
	normalized, err := normalize(v)
	if err != nil {
		return "", err
	}

	out, err := json.Marshal(normalized)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnsupportedValue, err)
	}

	return string(out), nil
}

// number marshals verbatim so integers and integral floats share a representation.
type number string

func (n number) MarshalJSON() ([]byte, error) {
	return []byte(n), nil
}

func normalize(v any) (any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case string:
		return t, nil
	case bool:
		return t, nil
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano), nil
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return normalizeFloat(f)
		}
		return nil, fmt.Errorf("%w: number %q", ErrUnsupportedValue, t.String())
	case int:
		return number(strconv.FormatInt(int64(t), 10)), nil
	case int8:
		return number(strconv.FormatInt(int64(t), 10)), nil
	case int16:
		return number(strconv.FormatInt(int64(t), 10)), nil
	case int32:
		return number(strconv.FormatInt(int64(t), 10)), nil
	case int64:
		return number(strconv.FormatInt(t, 10)), nil
	case uint:
		return number(strconv.FormatUint(uint64(t), 10)), nil
	case uint8:
		return number(strconv.FormatUint(uint64(t), 10)), nil
	case uint16:
		return number(strconv.FormatUint(uint64(t), 10)), nil
	case uint32:
		return number(strconv.FormatUint(uint64(t), 10)), nil
	case uint64:
		return number(strconv.FormatUint(t, 10)), nil
	case float32:
		return normalizeFloat(float64(t))
	case float64:
		return normalizeFloat(t)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map:
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			key, err := mapKey(iter.Key())
			if err != nil {
				return nil, err
			}
			value, err := normalize(iter.Value().Interface())
			if err != nil {
				return nil, err
			}
			out[key] = value
		}
		return out, nil
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return []any{}, nil
		}
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			value, err := normalize(rv.Index(i).Interface())
			if err != nil {
				return nil, err
			}
			out[i] = value
		}
		return out, nil
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			return nil, nil
		}
		return normalize(rv.Elem().Interface())
	case reflect.String:
		return rv.String(), nil
	case reflect.Bool:
		return rv.Bool(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return number(strconv.FormatInt(rv.Int(), 10)), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return number(strconv.FormatUint(rv.Uint(), 10)), nil
	case reflect.Float32, reflect.Float64:
		return normalizeFloat(rv.Float())
	}

	return nil, fmt.Errorf("%w: %T", ErrUnsupportedValue, v)
}

func normalizeFloat(f float64) (any, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedValue, f)
	}

	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return number(strconv.FormatInt(int64(f), 10)), nil
	}

	return number(strconv.FormatFloat(f, 'g', -1, 64)), nil
}

func mapKey(key reflect.Value) (string, error) {
	for key.Kind() == reflect.Interface && !key.IsNil() {
		key = key.Elem()
	}

	if key.Kind() == reflect.String {
		return key.String(), nil
	}

	normalized, err := normalize(key.Interface())
	if err != nil {
		return "", err
	}

	encoded, err := json.Marshal(normalized)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnsupportedValue, err)
	}

	return strings.Trim(string(encoded), `"`), nil
}
