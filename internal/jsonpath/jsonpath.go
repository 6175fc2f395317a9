// Package jsonpath extracts integer metric values from decoded JSON documents
// using dot-separated key paths such as "data.public_metrics.followers_count".
package jsonpath

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"

	"github.com/alanyoungcy/predictx-oracle/internal/domain"
)

// PathResolutionError reports that a path step landed on something that is
// not an object (including null or a missing key).
type PathResolutionError struct {
	Path string
	Key  string
}

func (e *PathResolutionError) Error() string {
	return fmt.Sprintf("jsonpath: cannot resolve path %q at key %q", e.Path, e.Key)
}

func (e *PathResolutionError) Unwrap() error { return domain.ErrPathResolution }

// TypeMismatchError reports that the value at the end of a path is not a
// number representable as an int64 after flooring.
type TypeMismatchError struct {
	Path  string
	Value any
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("jsonpath: value at path %q is not a number: %v", e.Path, describe(e.Value))
}

func (e *TypeMismatchError) Unwrap() error { return domain.ErrTypeMismatch }

// Resolve walks doc one key at a time and returns the numeric leaf floored
// toward negative infinity. Arrays are indexed by decimal keys ("items.0").
//
// doc is expected to come from encoding/json; both float64 and json.Number
// leaves are accepted.
func Resolve(doc any, path string) (int64, error) {
	current := doc
	for _, key := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]any:
			current = node[key]
		case []any:
			idx, err := strconv.Atoi(key)
			if err != nil || idx < 0 || idx >= len(node) {
				current = nil
				continue
			}
			current = node[idx]
		default:
			return 0, &PathResolutionError{Path: path, Key: key}
		}
	}
	return floorNumber(path, current)
}

// ResolveBytes decodes body as JSON, preserving number precision, and
// resolves path against it.
func ResolveBytes(body []byte, path string) (int64, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var doc any
	if err := dec.Decode(&doc); err != nil {
		return 0, fmt.Errorf("jsonpath: decode body: %w", err)
	}
	return Resolve(doc, path)
}

func floorNumber(path string, v any) (int64, error) {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, nil
		}
		f, _, err := big.ParseFloat(n.String(), 10, 256, big.ToNegativeInf)
		if err != nil {
			return 0, &TypeMismatchError{Path: path, Value: v}
		}
		return floorBig(path, f, v)
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, &TypeMismatchError{Path: path, Value: v}
		}
		return floorBig(path, new(big.Float).SetFloat64(n), v)
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	default:
		return 0, &TypeMismatchError{Path: path, Value: v}
	}
}

// floorBig floors f toward negative infinity; big.Float.Int truncates toward
// zero so negative fractions need one more step down.
func floorBig(path string, f *big.Float, orig any) (int64, error) {
	i, acc := f.Int(nil)
	if f.Sign() < 0 && acc != big.Exact {
		i.Sub(i, big.NewInt(1))
	}
	if !i.IsInt64() {
		return 0, &TypeMismatchError{Path: path, Value: orig}
	}
	return i.Int64(), nil
}

func describe(v any) string {
	switch x := v.(type) {
	case nil:
		return "undefined"
	case string:
		return strconv.Quote(x)
	case map[string]any:
		return "[object]"
	case []any:
		return "[array]"
	default:
		return fmt.Sprint(x)
	}
}
