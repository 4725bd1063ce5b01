package decode

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// unpickle reads a Python pickle stream covering the object kinds the queue
// runtime serializes: dicts, lists, tuples, strings, bytes, ints, floats,
// bools, and None. Any other opcode (class instances, reductions, and the
// rest of the protocol) is an error, which sends the payload to the
// external decode tier.

// Pickle opcodes, named as in Python's pickletools.
const (
	opMark            = '('
	opStop            = '.'
	opNone            = 'N'
	opInt             = 'I'
	opBinInt          = 'J'
	opBinInt1         = 'K'
	opBinInt2         = 'M'
	opLong            = 'L'
	opLong1           = 0x8a
	opLong4           = 0x8b
	opFloat           = 'F'
	opBinFloat        = 'G'
	opString          = 'S'
	opBinString       = 'T'
	opShortBinString  = 'U'
	opBinBytes        = 'B'
	opShortBinBytes   = 'C'
	opBinBytes8       = 0x8e
	opUnicode         = 'V'
	opBinUnicode      = 'X'
	opShortBinUnicode = 0x8c
	opBinUnicode8     = 0x8d
	opNewTrue         = 0x88
	opNewFalse        = 0x89
	opEmptyList       = ']'
	opList            = 'l'
	opAppend          = 'a'
	opAppends         = 'e'
	opEmptyTuple      = ')'
	opTuple           = 't'
	opTuple1          = 0x85
	opTuple2          = 0x86
	opTuple3          = 0x87
	opEmptyDict       = '}'
	opDict            = 'd'
	opSetItem         = 's'
	opSetItems        = 'u'
	opPut             = 'p'
	opGet             = 'g'
	opBinPut          = 'q'
	opLongBinPut      = 'r'
	opBinGet          = 'h'
	opLongBinGet      = 'j'
	opMemoize         = 0x94
	opProto           = 0x80
	opFrame           = 0x95
)

// markSentinel sits on the stack where a MARK was pushed.
type markSentinel struct{}

type pickleReader struct {
	data  []byte
	pos   int
	stack []any
	memo  map[int]any
}

func unpickle(data []byte) (any, error) {
	r := &pickleReader{data: data, memo: make(map[int]any)}
	for {
		op, err := r.byte()
		if err != nil {
			return nil, err
		}
		switch op {
		case opStop:
			if len(r.stack) == 0 {
				return nil, fmt.Errorf("pickle: empty stack at STOP")
			}
			return resolve(r.stack[len(r.stack)-1]), nil
		case opProto:
			if _, err := r.byte(); err != nil {
				return nil, err
			}
		case opFrame:
			if _, err := r.bytes(8); err != nil {
				return nil, err
			}
		case opMark:
			r.push(markSentinel{})
		case opNone:
			r.push(nil)
		case opNewTrue:
			r.push(true)
		case opNewFalse:
			r.push(false)
		case opInt:
			line, err := r.line()
			if err != nil {
				return nil, err
			}
			switch line {
			case "01":
				r.push(true)
			case "00":
				r.push(false)
			default:
				n, err := strconv.ParseInt(line, 10, 64)
				if err != nil {
					return nil, fmt.Errorf("pickle: bad INT %q", line)
				}
				r.push(n)
			}
		case opBinInt:
			b, err := r.bytes(4)
			if err != nil {
				return nil, err
			}
			r.push(int64(int32(binary.LittleEndian.Uint32(b))))
		case opBinInt1:
			b, err := r.byte()
			if err != nil {
				return nil, err
			}
			r.push(int64(b))
		case opBinInt2:
			b, err := r.bytes(2)
			if err != nil {
				return nil, err
			}
			r.push(int64(binary.LittleEndian.Uint16(b)))
		case opLong:
			line, err := r.line()
			if err != nil {
				return nil, err
			}
			line = strings.TrimSuffix(line, "L")
			n, err := strconv.ParseInt(line, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("pickle: bad LONG %q", line)
			}
			r.push(n)
		case opLong1:
			n, err := r.byte()
			if err != nil {
				return nil, err
			}
			b, err := r.bytes(int(n))
			if err != nil {
				return nil, err
			}
			r.push(decodeLittleEndianLong(b))
		case opLong4:
			lb, err := r.bytes(4)
			if err != nil {
				return nil, err
			}
			b, err := r.bytes(int(binary.LittleEndian.Uint32(lb)))
			if err != nil {
				return nil, err
			}
			r.push(decodeLittleEndianLong(b))
		case opFloat:
			line, err := r.line()
			if err != nil {
				return nil, err
			}
			f, err := strconv.ParseFloat(line, 64)
			if err != nil {
				return nil, fmt.Errorf("pickle: bad FLOAT %q", line)
			}
			r.push(f)
		case opBinFloat:
			b, err := r.bytes(8)
			if err != nil {
				return nil, err
			}
			r.push(math.Float64frombits(binary.BigEndian.Uint64(b)))
		case opString:
			line, err := r.line()
			if err != nil {
				return nil, err
			}
			r.push(stripQuotes(line))
		case opBinString, opBinBytes:
			lb, err := r.bytes(4)
			if err != nil {
				return nil, err
			}
			b, err := r.bytes(int(binary.LittleEndian.Uint32(lb)))
			if err != nil {
				return nil, err
			}
			r.push(string(b))
		case opShortBinString, opShortBinBytes, opShortBinUnicode:
			n, err := r.byte()
			if err != nil {
				return nil, err
			}
			b, err := r.bytes(int(n))
			if err != nil {
				return nil, err
			}
			r.push(string(b))
		case opBinBytes8, opBinUnicode8:
			lb, err := r.bytes(8)
			if err != nil {
				return nil, err
			}
			n := binary.LittleEndian.Uint64(lb)
			if n > uint64(len(r.data)) {
				return nil, fmt.Errorf("pickle: length %d exceeds stream", n)
			}
			b, err := r.bytes(int(n))
			if err != nil {
				return nil, err
			}
			r.push(string(b))
		case opUnicode:
			line, err := r.line()
			if err != nil {
				return nil, err
			}
			r.push(line)
		case opBinUnicode:
			lb, err := r.bytes(4)
			if err != nil {
				return nil, err
			}
			b, err := r.bytes(int(binary.LittleEndian.Uint32(lb)))
			if err != nil {
				return nil, err
			}
			r.push(string(b))
		case opEmptyList:
			r.push(&[]any{})
		case opList:
			items, err := r.popMark()
			if err != nil {
				return nil, err
			}
			list := append([]any{}, items...)
			r.push(&list)
		case opAppend:
			v, err := r.pop()
			if err != nil {
				return nil, err
			}
			list, err := r.topList()
			if err != nil {
				return nil, err
			}
			*list = append(*list, v)
		case opAppends:
			items, err := r.popMark()
			if err != nil {
				return nil, err
			}
			list, err := r.topList()
			if err != nil {
				return nil, err
			}
			*list = append(*list, items...)
		case opEmptyTuple:
			r.push([]any{})
		case opTuple:
			items, err := r.popMark()
			if err != nil {
				return nil, err
			}
			r.push(append([]any{}, items...))
		case opTuple1, opTuple2, opTuple3:
			n := int(op-opTuple1) + 1
			if len(r.stack) < n {
				return nil, fmt.Errorf("pickle: short stack for TUPLE%d", n)
			}
			items := append([]any{}, r.stack[len(r.stack)-n:]...)
			r.stack = r.stack[:len(r.stack)-n]
			r.push(items)
		case opEmptyDict:
			r.push(map[string]any{})
		case opDict:
			items, err := r.popMark()
			if err != nil {
				return nil, err
			}
			if len(items)%2 != 0 {
				return nil, fmt.Errorf("pickle: odd item count for DICT")
			}
			dict := make(map[string]any, len(items)/2)
			for i := 0; i < len(items); i += 2 {
				dict[mapKey(items[i])] = items[i+1]
			}
			r.push(dict)
		case opSetItem:
			v, err := r.pop()
			if err != nil {
				return nil, err
			}
			k, err := r.pop()
			if err != nil {
				return nil, err
			}
			dict, err := r.topDict()
			if err != nil {
				return nil, err
			}
			dict[mapKey(k)] = v
		case opSetItems:
			items, err := r.popMark()
			if err != nil {
				return nil, err
			}
			if len(items)%2 != 0 {
				return nil, fmt.Errorf("pickle: odd item count for SETITEMS")
			}
			dict, err := r.topDict()
			if err != nil {
				return nil, err
			}
			for i := 0; i < len(items); i += 2 {
				dict[mapKey(items[i])] = items[i+1]
			}
		case opMemoize:
			top, err := r.top()
			if err != nil {
				return nil, err
			}
			r.memo[len(r.memo)] = top
		case opBinPut:
			idx, err := r.byte()
			if err != nil {
				return nil, err
			}
			top, err := r.top()
			if err != nil {
				return nil, err
			}
			r.memo[int(idx)] = top
		case opLongBinPut:
			b, err := r.bytes(4)
			if err != nil {
				return nil, err
			}
			top, err := r.top()
			if err != nil {
				return nil, err
			}
			r.memo[int(binary.LittleEndian.Uint32(b))] = top
		case opPut:
			line, err := r.line()
			if err != nil {
				return nil, err
			}
			idx, err := strconv.Atoi(line)
			if err != nil {
				return nil, fmt.Errorf("pickle: bad PUT %q", line)
			}
			top, err := r.top()
			if err != nil {
				return nil, err
			}
			r.memo[idx] = top
		case opBinGet:
			idx, err := r.byte()
			if err != nil {
				return nil, err
			}
			if err := r.pushMemo(int(idx)); err != nil {
				return nil, err
			}
		case opLongBinGet:
			b, err := r.bytes(4)
			if err != nil {
				return nil, err
			}
			if err := r.pushMemo(int(binary.LittleEndian.Uint32(b))); err != nil {
				return nil, err
			}
		case opGet:
			line, err := r.line()
			if err != nil {
				return nil, err
			}
			idx, err := strconv.Atoi(line)
			if err != nil {
				return nil, fmt.Errorf("pickle: bad GET %q", line)
			}
			if err := r.pushMemo(idx); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("pickle: unsupported opcode 0x%02x", op)
		}
	}
}

func (r *pickleReader) byte() (byte, error) {
	if r.pos >= len(r.data) {
		return 0, fmt.Errorf("pickle: truncated stream")
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}

func (r *pickleReader) bytes(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.data) {
		return nil, fmt.Errorf("pickle: truncated stream")
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *pickleReader) line() (string, error) {
	end := r.pos
	for end < len(r.data) && r.data[end] != '\n' {
		end++
	}
	if end >= len(r.data) {
		return "", fmt.Errorf("pickle: unterminated line")
	}
	line := string(r.data[r.pos:end])
	r.pos = end + 1
	return line, nil
}

func (r *pickleReader) push(v any) {
	r.stack = append(r.stack, v)
}

func (r *pickleReader) pop() (any, error) {
	if len(r.stack) == 0 {
		return nil, fmt.Errorf("pickle: pop from empty stack")
	}
	v := r.stack[len(r.stack)-1]
	r.stack = r.stack[:len(r.stack)-1]
	return v, nil
}

func (r *pickleReader) top() (any, error) {
	if len(r.stack) == 0 {
		return nil, fmt.Errorf("pickle: empty stack")
	}
	return r.stack[len(r.stack)-1], nil
}

// popMark pops everything above the most recent MARK, plus the mark itself.
func (r *pickleReader) popMark() ([]any, error) {
	for i := len(r.stack) - 1; i >= 0; i-- {
		if _, ok := r.stack[i].(markSentinel); ok {
			items := append([]any{}, r.stack[i+1:]...)
			r.stack = r.stack[:i]
			return items, nil
		}
	}
	return nil, fmt.Errorf("pickle: no MARK on stack")
}

func (r *pickleReader) topList() (*[]any, error) {
	top, err := r.top()
	if err != nil {
		return nil, err
	}
	list, ok := top.(*[]any)
	if !ok {
		return nil, fmt.Errorf("pickle: expected list, got %T", top)
	}
	return list, nil
}

func (r *pickleReader) topDict() (map[string]any, error) {
	top, err := r.top()
	if err != nil {
		return nil, err
	}
	dict, ok := top.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("pickle: expected dict, got %T", top)
	}
	return dict, nil
}

func (r *pickleReader) pushMemo(idx int) error {
	v, ok := r.memo[idx]
	if !ok {
		return fmt.Errorf("pickle: memo %d not set", idx)
	}
	r.push(v)
	return nil
}

// decodeLittleEndianLong reads a two's-complement little-endian integer, the
// encoding behind LONG1/LONG4.
func decodeLittleEndianLong(b []byte) int64 {
	if len(b) == 0 {
		return 0
	}
	var n int64
	for i := len(b) - 1; i >= 0; i-- {
		n = n<<8 | int64(b[i])
	}
	if b[len(b)-1]&0x80 != 0 && len(b) < 8 {
		n -= 1 << (8 * uint(len(b)))
	}
	return n
}

// mapKey renders a pickle dict key as a string; non-string keys are rare in
// job records but must not crash the reader.
func mapKey(k any) string {
	if s, ok := k.(string); ok {
		return s
	}
	return fmt.Sprint(resolve(k))
}

func stripQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '\'' && s[len(s)-1] == '\'') || (s[0] == '"' && s[len(s)-1] == '"') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

// resolve unwraps the internal mutable-list representation and normalizes
// the whole object graph for callers.
func resolve(v any) any {
	switch t := v.(type) {
	case *[]any:
		out := make([]any, len(*t))
		for i, item := range *t {
			out[i] = resolve(item)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = resolve(item)
		}
		return out
	case map[string]any:
		for k, item := range t {
			t[k] = resolve(item)
		}
		return t
	default:
		return v
	}
}
