package protocol

import (
	"strconv"
	"strings"
)

// ParseInline turns a plain text command line ("SET a 1") into a request.
// Tokens are split on whitespace with no quoting. An empty line yields an
// empty array, which the engine rejects.
func ParseInline(line string) Value {
	line = strings.TrimSuffix(line, "\n")
	line = strings.TrimSuffix(line, "\r")
	return Command(strings.Fields(line)...)
}

// Format renders v the way redis-cli prints replies.
func Format(v Value) string {
	var sb strings.Builder
	format(&sb, v, "")
	return sb.String()
}

func format(sb *strings.Builder, v Value, indent string) {
	switch v.Kind {
	case KindSimpleString:
		sb.WriteString(v.Str)
	case KindError:
		sb.WriteString("(error) ")
		sb.WriteString(v.Str)
	case KindInteger:
		sb.WriteString("(integer) ")
		sb.WriteString(strconv.FormatInt(v.Int, 10))
	case KindBulkString:
		if v.Null {
			sb.WriteString("(nil)")
			return
		}
		sb.WriteString(strconv.Quote(v.Str))
	case KindArray:
		if v.Null {
			sb.WriteString("(nil)")
			return
		}
		if len(v.Array) == 0 {
			sb.WriteString("(empty array)")
			return
		}
		for i, item := range v.Array {
			if i > 0 {
				sb.WriteString("\n")
				sb.WriteString(indent)
			}
			prefix := strconv.Itoa(i+1) + ") "
			sb.WriteString(prefix)
			format(sb, item, indent+strings.Repeat(" ", len(prefix)))
		}
	default:
		sb.WriteString("(unknown)")
	}
}
