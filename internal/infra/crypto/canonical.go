package crypto

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/big"
	"sort"
	"strconv"
	"strings"
)

// CanonicalizeJSON re-encodes a JSON document in RFC 8785 form: sorted
// object keys, no insignificant whitespace, ES6 number formatting.
func CanonicalizeJSON(input []byte) ([]byte, error) {
	value, err := decodeStrict(input)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := encodeCanonical(&buf, value); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// CanonicalizeAny canonicalizes a Go value. Values that are not plain JSON
// trees are round-tripped through encoding/json first so struct tags apply.
func CanonicalizeAny(v any) ([]byte, error) {
	switch value := v.(type) {
	case json.RawMessage:
		return CanonicalizeJSON(value)
	case []byte:
		return CanonicalizeJSON(value)
	}
	if !isJSONTree(v) {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("marshal for canonicalization: %w", err)
		}
		return CanonicalizeJSON(raw)
	}
	var buf bytes.Buffer
	if err := encodeCanonical(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeStrict(input []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(input))
	dec.UseNumber()
	var value any
	if err := dec.Decode(&value); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("invalid JSON: trailing data")
	}
	return value, nil
}

// isJSONTree reports whether v can be encoded without going through
// encoding/json. Nested containers are checked lazily by encodeCanonical.
func isJSONTree(v any) bool {
	switch v.(type) {
	case nil, bool, string, json.Number, float64, float32,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		map[string]any, []any, []string:
		return true
	default:
		return false
	}
}

func encodeCanonical(buf *bytes.Buffer, value any) error {
	switch v := value.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		buf.WriteString(strconv.FormatBool(v))
	case string:
		encodeString(buf, v)
	case json.Number:
		f, err := exactFloat(v)
		if err != nil {
			return err
		}
		return encodeNumber(buf, f)
	case float64:
		return encodeNumber(buf, v)
	case float32:
		return encodeNumber(buf, float64(v))
	case int:
		return encodeNumber(buf, float64(v))
	case int8:
		return encodeNumber(buf, float64(v))
	case int16:
		return encodeNumber(buf, float64(v))
	case int32:
		return encodeNumber(buf, float64(v))
	case int64:
		return encodeNumber(buf, float64(v))
	case uint:
		return encodeNumber(buf, float64(v))
	case uint8:
		return encodeNumber(buf, float64(v))
	case uint16:
		return encodeNumber(buf, float64(v))
	case uint32:
		return encodeNumber(buf, float64(v))
	case uint64:
		return encodeNumber(buf, float64(v))
	case []string:
		buf.WriteByte('[')
		for i, item := range v {
			if i > 0 {
				buf.WriteByte(',')
			}
			encodeString(buf, item)
		}
		buf.WriteByte(']')
	case []any:
		buf.WriteByte('[')
		for i, item := range v {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeCanonical(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			encodeString(buf, k)
			buf.WriteByte(':')
			if err := encodeCanonical(buf, v[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		// Nested value of a foreign type; let encoding/json shape it.
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("unsupported JSON type %T: %w", value, err)
		}
		inner, err := decodeStrict(raw)
		if err != nil {
			return err
		}
		return encodeCanonical(buf, inner)
	}
	return nil
}

// NormalizeNumbers replaces every json.Number in a decoded JSON tree with its
// float64 value. A number float64 cannot hold without changing its decimal
// value is an error, so two different documents never collapse into one.
func NormalizeNumbers(v any) (any, error) {
	switch value := v.(type) {
	case json.Number:
		return exactFloat(value)
	case map[string]any:
		out := make(map[string]any, len(value))
		for k, item := range value {
			n, err := NormalizeNumbers(item)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out[k] = n
		}
		return out, nil
	case []any:
		out := make([]any, len(value))
		for i, item := range value {
			n, err := NormalizeNumbers(item)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = n
		}
		return out, nil
	default:
		return v, nil
	}
}

// exactFloat parses n and fails unless the shortest form of the result has
// the same decimal value as n.
func exactFloat(n json.Number) (float64, error) {
	lit := n.String()
	f, err := strconv.ParseFloat(lit, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid JSON number %q: %w", lit, err)
	}
	if f == 0 {
		// Underflow parses to zero; only a literal zero is exact.
		mant, _, _ := strings.Cut(strings.ToLower(lit), "e")
		if strings.Trim(mant, "-0.") != "" {
			return 0, fmt.Errorf("JSON number %s is not exactly representable", lit)
		}
		return 0, nil
	}
	want, ok := new(big.Rat).SetString(lit)
	if !ok {
		return 0, fmt.Errorf("invalid JSON number %q", lit)
	}
	got, ok := new(big.Rat).SetString(strconv.FormatFloat(f, 'g', -1, 64))
	if !ok || want.Cmp(got) != 0 {
		return 0, fmt.Errorf("JSON number %s is not exactly representable", lit)
	}
	return f, nil
}

const hexDigits = "0123456789abcdef"

func encodeString(buf *bytes.Buffer, s string) {
	buf.WriteByte('"')
	for _, r := range s {
		switch {
		case r == '"' || r == '\\':
			buf.WriteByte('\\')
			buf.WriteRune(r)
		case r == '\b':
			buf.WriteString(`\b`)
		case r == '\f':
			buf.WriteString(`\f`)
		case r == '\n':
			buf.WriteString(`\n`)
		case r == '\r':
			buf.WriteString(`\r`)
		case r == '\t':
			buf.WriteString(`\t`)
		case r < 0x20:
			buf.WriteString(`\u00`)
			buf.WriteByte(hexDigits[r>>4])
			buf.WriteByte(hexDigits[r&0x0f])
		default:
			buf.WriteRune(r)
		}
	}
	buf.WriteByte('"')
}

// encodeNumber writes f the way ECMAScript Number.prototype.toString does.
func encodeNumber(buf *bytes.Buffer, f float64) error {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return errors.New("invalid JSON number: NaN and Inf are not representable")
	}
	if f == 0 {
		buf.WriteByte('0')
		return nil
	}
	if f < 0 {
		buf.WriteByte('-')
		f = -f
	}

	// Shortest round-trip digits plus decimal exponent, e.g. "1.2345e+06".
	sci := strconv.FormatFloat(f, 'e', -1, 64)
	mant, expPart, ok := strings.Cut(sci, "e")
	if !ok {
		return fmt.Errorf("unexpected float format %q", sci)
	}
	exp, err := strconv.Atoi(expPart)
	if err != nil {
		return fmt.Errorf("unexpected float exponent %q: %w", sci, err)
	}
	digits := strings.Replace(mant, ".", "", 1)

	switch {
	case exp >= 21 || exp <= -7:
		buf.WriteByte(digits[0])
		if len(digits) > 1 {
			buf.WriteByte('.')
			buf.WriteString(digits[1:])
		}
		buf.WriteByte('e')
		if exp > 0 {
			buf.WriteByte('+')
		}
		buf.WriteString(strconv.Itoa(exp))
	case exp < 0:
		buf.WriteString("0.")
		buf.WriteString(strings.Repeat("0", -exp-1))
		buf.WriteString(digits)
	case exp+1 >= len(digits):
		buf.WriteString(digits)
		buf.WriteString(strings.Repeat("0", exp+1-len(digits)))
	default:
		buf.WriteString(digits[:exp+1])
		buf.WriteByte('.')
		buf.WriteString(digits[exp+1:])
	}
	return nil
}
