package protocol

import (
	"errors"
	"fmt"
	"io"

	"github.com/tidwall/resp"
)

var ErrProtocol = errors.New("protocol error")

// Reader decodes RESP values from a byte stream.
type Reader struct {
	rd *resp.Reader
}

func NewReader(r io.Reader) *Reader {
	return &Reader{rd: resp.NewReader(r)}
}

// ReadValue returns the next value. io.EOF is returned unwrapped when the
// stream ends cleanly between values.
func (r *Reader) ReadValue() (Value, error) {
	v, _, err := r.rd.ReadValue()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Value{}, io.EOF
		}
		return Value{}, fmt.Errorf("%w: %w", ErrProtocol, err)
	}
	return fromRESP(v)
}

func fromRESP(v resp.Value) (Value, error) {
	switch v.Type() {
	case resp.SimpleString:
		return SimpleString(v.String()), nil
	case resp.Error:
		return Error(v.String()), nil
	case resp.Integer:
		return Integer(int64(v.Integer())), nil
	case resp.BulkString:
		if v.IsNull() {
			return NullBulkString(), nil
		}
		return BulkString(v.String()), nil
	case resp.Array:
		if v.IsNull() {
			return NullArray(), nil
		}
		items := v.Array()
		out := make([]Value, 0, len(items))
		for _, item := range items {
			conv, err := fromRESP(item)
			if err != nil {
				return Value{}, err
			}
			out = append(out, conv)
		}
		return ArrayOf(out...), nil
	default:
		return Value{}, fmt.Errorf("%w: unsupported type %q", ErrProtocol, byte(v.Type()))
	}
}

// WriteValue encodes v onto w.
func WriteValue(w io.Writer, v Value) error {
	// resp has no constructor for a null array, so the top-level case is
	// written by hand.
	if v.Kind == KindArray && v.Null {
		_, err := io.WriteString(w, "*-1\r\n")
		return err
	}
	conv, err := toRESP(v)
	if err != nil {
		return err
	}
	return resp.NewWriter(w).WriteValue(conv)
}

func toRESP(v Value) (resp.Value, error) {
	switch v.Kind {
	case KindSimpleString:
		return resp.SimpleStringValue(v.Str), nil
	case KindError:
		return resp.ErrorValue(errors.New(v.Str)), nil
	case KindInteger:
		return resp.IntegerValue(int(v.Int)), nil
	case KindBulkString:
		if v.Null {
			return resp.NullValue(), nil
		}
		return resp.StringValue(v.Str), nil
	case KindArray:
		if v.Null {
			// nested null arrays degrade to a null bulk string
			return resp.NullValue(), nil
		}
		items := make([]resp.Value, 0, len(v.Array))
		for _, item := range v.Array {
			conv, err := toRESP(item)
			if err != nil {
				return resp.Value{}, err
			}
			items = append(items, conv)
		}
		return resp.ArrayValue(items), nil
	default:
		return resp.Value{}, fmt.Errorf("%w: cannot encode %s", ErrProtocol, v.Kind)
	}
}
