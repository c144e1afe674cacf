package protocol

import "fmt"

type Kind int

const (
	KindSimpleString Kind = iota + 1
	KindError
	KindInteger
	KindBulkString
	KindArray
)

func (k Kind) String() string {
	switch k {
	case KindSimpleString:
		return "simple-string"
	case KindError:
		return "error"
	case KindInteger:
		return "integer"
	case KindBulkString:
		return "bulk-string"
	case KindArray:
		return "array"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Value is one RESP value. Only the fields belonging to Kind are meaningful.
// Null applies to bulk strings and arrays and is distinct from "" and an empty
// array.
type Value struct {
	Kind  Kind
	Str   string
	Int   int64
	Array []Value
	Null  bool
}

func SimpleString(s string) Value {
	return Value{Kind: KindSimpleString, Str: s}
}

func Error(msg string) Value {
	return Value{Kind: KindError, Str: msg}
}

func Errorf(format string, args ...any) Value {
	return Error(fmt.Sprintf(format, args...))
}

func Integer(n int64) Value {
	return Value{Kind: KindInteger, Int: n}
}

func BulkString(s string) Value {
	return Value{Kind: KindBulkString, Str: s}
}

func NullBulkString() Value {
	return Value{Kind: KindBulkString, Null: true}
}

func ArrayOf(vals ...Value) Value {
	if vals == nil {
		vals = []Value{}
	}
	return Value{Kind: KindArray, Array: vals}
}

func NullArray() Value {
	return Value{Kind: KindArray, Null: true}
}

// Command builds a request: an array of bulk strings.
func Command(args ...string) Value {
	vals := make([]Value, 0, len(args))
	for _, a := range args {
		vals = append(vals, BulkString(a))
	}
	return ArrayOf(vals...)
}

// IsBulkString reports whether v is a non-null bulk string.
func (v Value) IsBulkString() bool {
	return v.Kind == KindBulkString && !v.Null
}

func (v Value) IsError() bool {
	return v.Kind == KindError
}

// Equal compares two values structurally.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind || v.Null != o.Null {
		return false
	}
	switch v.Kind {
	case KindInteger:
		return v.Int == o.Int
	case KindArray:
		if len(v.Array) != len(o.Array) {
			return false
		}
		for i := range v.Array {
			if !v.Array[i].Equal(o.Array[i]) {
				return false
			}
		}
		return true
	default:
		return v.Str == o.Str
	}
}
