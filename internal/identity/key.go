package identity

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/funvibe/hotreload/internal/heap"
)

// ConstKey encodes the canonicalisation key of a constant. Nested objects
// are canonical themselves, so they are keyed by identity.
func ConstKey(id heap.ClassID, values []any) string {
	var b strings.Builder
	b.WriteString(strconv.FormatUint(uint64(id), 10))
	b.WriteByte('(')
	for i, v := range values {
		if i > 0 {
			b.WriteByte(',')
		}
		encode(&b, v)
	}
	b.WriteByte(')')
	return b.String()
}

func encode(b *strings.Builder, v any) {
	switch x := v.(type) {
	case nil:
		b.WriteByte('n')
	case bool:
		if x {
			b.WriteString("b1")
		} else {
			b.WriteString("b0")
		}
	case int64:
		b.WriteByte('i')
		b.WriteString(strconv.FormatInt(x, 10))
	case float64:
		b.WriteByte('f')
		b.WriteString(strconv.FormatUint(math.Float64bits(x), 16))
	case string:
		b.WriteByte('s')
		b.WriteString(strconv.Itoa(len(x)))
		b.WriteByte(':')
		b.WriteString(x)
	case *heap.Object:
		b.WriteByte('o')
		b.WriteString(strconv.FormatUint(x.ID(), 10))
	case *heap.Closure:
		b.WriteByte('c')
		b.WriteString(strconv.FormatUint(x.ID(), 10))
	case []any:
		b.WriteString("l[")
		for i, e := range x {
			if i > 0 {
				b.WriteByte(',')
			}
			encode(b, e)
		}
		b.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("m{")
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			encode(b, k)
			b.WriteByte('=')
			encode(b, x[k])
		}
		b.WriteByte('}')
	default:
		fmt.Fprintf(b, "%T:%v", v, v)
	}
}
