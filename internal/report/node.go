package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/buger/jsonparser"
)

// MaxParseDepth bounds nesting accepted by Parse.
const MaxParseDepth = 512

var (
	// ErrInvalidJSON is returned when the input is not a single valid JSON value.
	ErrInvalidJSON = errors.New("invalid json document")
	// ErrTooDeep is returned when the document nests deeper than MaxParseDepth.
	ErrTooDeep = errors.New("json document nested too deeply")
)

// Kind tags the variant held by a Node.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return "null"
	}
}

// Field is a single key/value pair of an object node.
type Field struct {
	Key   string
	Value *Node
}

// Node is an untyped JSON value. Object fields keep document order, which is
// the enumeration order used by every traversal in this package.
//
// All accessors are nil-safe: a nil *Node behaves like an absent value.
type Node struct {
	kind   Kind
	b      bool
	num    float64
	lit    string
	str    string
	items  []*Node
	fields []Field
}

// Null returns a JSON null node.
func Null() *Node { return &Node{kind: KindNull} }

// NewBool returns a boolean node.
func NewBool(b bool) *Node { return &Node{kind: KindBool, b: b} }

// NewNumber returns a numeric node.
func NewNumber(f float64) *Node { return &Node{kind: KindNumber, num: f} }

// NewString returns a string node.
func NewString(s string) *Node { return &Node{kind: KindString, str: s} }

// NewArray returns an array node holding items.
func NewArray(items ...*Node) *Node { return &Node{kind: KindArray, items: items} }

// NewObject returns an object node with fields in the given order.
func NewObject(fields ...Field) *Node {
	n := &Node{kind: KindObject}
	for _, f := range fields {
		n.Set(f.Key, f.Value)
	}
	return n
}

// Parse decodes data into a Node tree.
func Parse(data []byte) (*Node, error) {
	if !json.Valid(data) {
		return nil, ErrInvalidJSON
	}
	value, typ, _, err := jsonparser.Get(data)
	if err != nil {
		return nil, fmt.Errorf("read json value: %w", err)
	}
	return build(value, typ, 0)
}

func build(value []byte, typ jsonparser.ValueType, depth int) (*Node, error) {
	if depth > MaxParseDepth {
		return nil, ErrTooDeep
	}

	switch typ {
	case jsonparser.Null:
		return Null(), nil
	case jsonparser.Boolean:
		b, err := jsonparser.ParseBoolean(value)
		if err != nil {
			return nil, fmt.Errorf("parse bool: %w", err)
		}
		return NewBool(b), nil
	case jsonparser.Number:
		f, err := jsonparser.ParseFloat(value)
		if err != nil {
			return nil, fmt.Errorf("parse number %q: %w", value, err)
		}
		return &Node{kind: KindNumber, num: f, lit: string(value)}, nil
	case jsonparser.String:
		s, err := jsonparser.ParseString(value)
		if err != nil {
			return nil, fmt.Errorf("parse string: %w", err)
		}
		return NewString(s), nil
	case jsonparser.Array:
		n := &Node{kind: KindArray}
		var walkErr error
		_, err := jsonparser.ArrayEach(value, func(v []byte, t jsonparser.ValueType, _ int, err error) {
			if walkErr != nil {
				return
			}
			if err != nil {
				walkErr = err
				return
			}
			child, err := build(v, t, depth+1)
			if err != nil {
				walkErr = err
				return
			}
			n.items = append(n.items, child)
		})
		if walkErr != nil {
			return nil, walkErr
		}
		if err != nil {
			return nil, fmt.Errorf("walk array: %w", err)
		}
		return n, nil
	case jsonparser.Object:
		n := &Node{kind: KindObject}
		err := jsonparser.ObjectEach(value, func(key, v []byte, t jsonparser.ValueType, _ int) error {
			child, err := build(v, t, depth+1)
			if err != nil {
				return err
			}
			n.Set(string(key), child)
			return nil
		})
		if err != nil {
			if errors.Is(err, ErrTooDeep) {
				return nil, err
			}
			return nil, fmt.Errorf("walk object: %w", err)
		}
		return n, nil
	default:
		return nil, ErrInvalidJSON
	}
}

// Kind reports the node variant. A nil node is null.
func (n *Node) Kind() Kind {
	if n == nil {
		return KindNull
	}
	return n.kind
}

// IsNull reports whether n is absent or JSON null.
func (n *Node) IsNull() bool { return n.Kind() == KindNull }

// Truthy is the presence predicate shared by the resolver, locator and
// extractor: null, false, zero, NaN and "" are absent; every array and
// object, even an empty one, is present.
func (n *Node) Truthy() bool {
	switch n.Kind() {
	case KindBool:
		return n.b
	case KindNumber:
		return n.num != 0 && !math.IsNaN(n.num)
	case KindString:
		return n.str != ""
	case KindArray, KindObject:
		return true
	default:
		return false
	}
}

// Get returns the value stored under key, or nil when n is not an object or
// has no such key.
func (n *Node) Get(key string) *Node {
	if n.Kind() != KindObject {
		return nil
	}
	for _, f := range n.fields {
		if f.Key == key {
			return f.Value
		}
	}
	return nil
}

// Path follows keys through nested objects.
func (n *Node) Path(keys ...string) *Node {
	cur := n
	for _, k := range keys {
		cur = cur.Get(k)
		if cur == nil {
			return nil
		}
	}
	return cur
}

// Index returns the i-th array element, or nil.
func (n *Node) Index(i int) *Node {
	if n.Kind() != KindArray || i < 0 || i >= len(n.items) {
		return nil
	}
	return n.items[i]
}

// Fields returns object fields in document order.
func (n *Node) Fields() []Field {
	if n.Kind() != KindObject {
		return nil
	}
	return n.fields
}

// Items returns array elements.
func (n *Node) Items() []*Node {
	if n.Kind() != KindArray {
		return nil
	}
	return n.items
}

// Len is the number of array elements or object fields.
func (n *Node) Len() int {
	switch n.Kind() {
	case KindArray:
		return len(n.items)
	case KindObject:
		return len(n.fields)
	default:
		return 0
	}
}

// Set stores v under key. An existing key keeps its position.
func (n *Node) Set(key string, v *Node) {
	if n == nil || n.kind != KindObject {
		return
	}
	if v == nil {
		v = Null()
	}
	for i := range n.fields {
		if n.fields[i].Key == key {
			n.fields[i].Value = v
			return
		}
	}
	n.fields = append(n.fields, Field{Key: key, Value: v})
}

// Delete removes key in place and reports whether it was present.
func (n *Node) Delete(key string) bool {
	if n.Kind() != KindObject {
		return false
	}
	for i := range n.fields {
		if n.fields[i].Key == key {
			n.fields = append(n.fields[:i], n.fields[i+1:]...)
			return true
		}
	}
	return false
}

// Float coerces scalars to a number: numeric strings parse, booleans are 1
// or 0, null is 0. Arrays, objects and non-numeric strings report false.
func (n *Node) Float() (float64, bool) {
	switch n.Kind() {
	case KindNumber:
		return n.num, !math.IsNaN(n.num)
	case KindBool:
		if n.b {
			return 1, true
		}
		return 0, true
	case KindNull:
		return 0, true
	case KindString:
		f, err := strconv.ParseFloat(strings.TrimSpace(n.str), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// Text renders the node for display. Strings are unquoted, numbers use the
// shortest decimal form, null is empty and containers are compact JSON.
func (n *Node) Text() string {
	switch n.Kind() {
	case KindNull:
		return ""
	case KindBool:
		return strconv.FormatBool(n.b)
	case KindNumber:
		return formatNumber(n.num)
	case KindString:
		return n.str
	default:
		data, err := n.MarshalJSON()
		if err != nil {
			return ""
		}
		return string(data)
	}
}

// Or renders the node, or returns fallback when the node is not truthy.
func (n *Node) Or(fallback string) string {
	if !n.Truthy() {
		return fallback
	}
	return n.Text()
}

// MarshalJSON writes the tree back out, preserving key order.
func (n *Node) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := n.encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalJSON lets a Node sit inside regular structs.
func (n *Node) UnmarshalJSON(data []byte) error {
	parsed, err := Parse(data)
	if err != nil {
		return err
	}
	*n = *parsed
	return nil
}

func (n *Node) encode(buf *bytes.Buffer) error {
	switch n.Kind() {
	case KindNull:
		buf.WriteString("null")
	case KindBool:
		buf.WriteString(strconv.FormatBool(n.b))
	case KindNumber:
		switch {
		case n.lit != "":
			buf.WriteString(n.lit)
		case math.IsNaN(n.num) || math.IsInf(n.num, 0):
			buf.WriteString("null")
		default:
			buf.WriteString(formatNumber(n.num))
		}
	case KindString:
		return writeString(buf, n.str)
	case KindArray:
		buf.WriteByte('[')
		for i, item := range n.items {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := item.encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case KindObject:
		buf.WriteByte('{')
		for i, f := range n.fields {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeString(buf, f.Key); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := f.Value.encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	}
	return nil
}

func writeString(buf *bytes.Buffer, s string) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	buf.Write(data)
	return nil
}

func formatNumber(f float64) string {
	if math.IsNaN(f) {
		return "NaN"
	}
	if math.IsInf(f, 0) {
		if f > 0 {
			return "Infinity"
		}
		return "-Infinity"
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}
