package types

import (
	"database/sql/driver"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Kind identifies which member of a Value is populated.
type Kind uint8

const (
	KindNull Kind = iota
	KindInt
	KindFloat
	KindBool
	KindString
	KindBytes
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindString:
		return "string"
	case KindBytes:
		return "bytes"
	default:
		return "unknown"
	}
}

// TimeLayout is the text form used when a driver hands back a time.Time.
const TimeLayout = "2006-01-02 15:04:05"

// Value is a single nullable cell value. The zero Value is NULL.
type Value struct {
	kind Kind
	i    int64
	f    float64
	b    bool
	s    string
	raw  []byte
}

func Null() Value             { return Value{} }
func Int(v int64) Value       { return Value{kind: KindInt, i: v} }
func Float(v float64) Value   { return Value{kind: KindFloat, f: v} }
func Bool(v bool) Value       { return Value{kind: KindBool, b: v} }
func String(v string) Value   { return Value{kind: KindString, s: v} }
func Bytes(v []byte) Value    { return Value{kind: KindBytes, raw: append([]byte(nil), v...)} }
func (v Value) Kind() Kind    { return v.kind }
func (v Value) IsNull() bool  { return v.kind == KindNull }
func (v Value) IsValid() bool { return v.kind != KindNull }

// ValueOf converts a Go scalar (as produced by database drivers or passed by
// callers) into a Value. Unknown types fall back to their fmt text.
func ValueOf(x any) Value {
	switch t := x.(type) {
	case nil:
		return Null()
	case Value:
		return t
	case *Value:
		if t == nil {
			return Null()
		}
		return *t
	case int:
		return Int(int64(t))
	case int8:
		return Int(int64(t))
	case int16:
		return Int(int64(t))
	case int32:
		return Int(int64(t))
	case int64:
		return Int(t)
	case uint:
		return Int(int64(t))
	case uint8:
		return Int(int64(t))
	case uint16:
		return Int(int64(t))
	case uint32:
		return Int(int64(t))
	case uint64:
		return Int(int64(t))
	case float32:
		return Float(float64(t))
	case float64:
		return Float(t)
	case bool:
		return Bool(t)
	case string:
		return String(t)
	case []byte:
		return Bytes(t)
	case time.Time:
		return String(t.Format(TimeLayout))
	case fmt.Stringer:
		return String(t.String())
	default:
		return String(fmt.Sprint(t))
	}
}

// Int64 returns the value as an integer, converting where it makes sense.
// The second result is false when no conversion was possible.
func (v Value) Int64() (int64, bool) {
	switch v.kind {
	case KindInt:
		return v.i, true
	case KindFloat:
		return int64(v.f), true
	case KindBool:
		if v.b {
			return 1, true
		}
		return 0, true
	case KindString:
		n, err := strconv.ParseInt(strings.TrimSpace(v.s), 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	case KindBytes:
		n, err := strconv.ParseInt(strings.TrimSpace(string(v.raw)), 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}

func (v Value) Float64() (float64, bool) {
	switch v.kind {
	case KindInt:
		return float64(v.i), true
	case KindFloat:
		return v.f, true
	case KindBool:
		if v.b {
			return 1, true
		}
		return 0, true
	case KindString:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.s), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

func (v Value) Bool() bool {
	switch v.kind {
	case KindBool:
		return v.b
	case KindInt:
		return v.i != 0
	case KindFloat:
		return v.f != 0
	case KindString:
		b, _ := strconv.ParseBool(v.s)
		return b
	}
	return false
}

// String renders the value as text. NULL renders as the empty string.
func (v Value) String() string {
	switch v.kind {
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindString:
		return v.s
	case KindBytes:
		return string(v.raw)
	}
	return ""
}

func (v Value) AsBytes() []byte {
	if v.kind == KindBytes {
		return v.raw
	}
	if v.kind == KindNull {
		return nil
	}
	return []byte(v.String())
}

// Any returns the plain Go representation, nil for NULL.
func (v Value) Any() any {
	switch v.kind {
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindBool:
		return v.b
	case KindString:
		return v.s
	case KindBytes:
		return v.raw
	}
	return nil
}

// Value implements driver.Valuer so a Value can be bound as a parameter.
func (v Value) Value() (driver.Value, error) {
	return v.Any(), nil
}

// SQLLiteral renders the value as an inline SQL literal. Strings are single
// quoted with embedded quotes doubled; booleans become 1/0.
func (v Value) SQLLiteral() string {
	switch v.kind {
	case KindNull:
		return "NULL"
	case KindInt, KindFloat:
		return v.String()
	case KindBool:
		if v.b {
			return "1"
		}
		return "0"
	case KindBytes:
		return "X'" + hex.EncodeToString(v.raw) + "'"
	default:
		return "'" + strings.ReplaceAll(v.s, "'", "''") + "'"
	}
}

// MarshalJSON renders the plain Go representation.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindInt:
		return []byte(strconv.FormatInt(v.i, 10)), nil
	case KindFloat:
		// JSON has no NaN or Inf
		if math.IsNaN(v.f) || math.IsInf(v.f, 0) {
			return []byte("null"), nil
		}
		return []byte(strconv.FormatFloat(v.f, 'g', -1, 64)), nil
	case KindBool:
		return []byte(strconv.FormatBool(v.b)), nil
	default:
		return json.Marshal(v.String())
	}
}
