// Package jsontree represents JSON documents as a tagged tree. Object members keep
// their document order so that rendering never reorders fields, and numbers keep
// their original text.
package jsontree

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// Kind tags the variant held by a Node.
type Kind uint8

const (
	Null Kind = iota
	Bool
	Number
	String
	Array
	Object
)

func (k Kind) String() string {
	switch k {
	case Null:
		return "null"
	case Bool:
		return "bool"
	case Number:
		return "number"
	case String:
		return "string"
	case Array:
		return "array"
	case Object:
		return "object"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Member is a key/value pair of an object node.
type Member struct {
	Key   string
	Value *Node
}

// Node is one value of a JSON document. Only the field matching Kind is meaningful.
type Node struct {
	Kind    Kind
	Bool    bool
	Number  string // literal text, e.g. "10.5" or "1e3"
	Str     string
	Items   []*Node
	Members []Member
}

// Constructors used by tests and by callers that build bodies by hand.
func NewNull() *Node           { return &Node{Kind: Null} }
func NewBool(b bool) *Node     { return &Node{Kind: Bool, Bool: b} }
func NewNumber(n string) *Node { return &Node{Kind: Number, Number: n} }
func NewString(s string) *Node { return &Node{Kind: String, Str: s} }

func NewArray(items ...*Node) *Node {
	return &Node{Kind: Array, Items: items}
}

// NewObject builds an object with members in the given order.
func NewObject(members ...Member) *Node {
	return &Node{Kind: Object, Members: members}
}

// Parse builds a tree from a JSON document.
func Parse(data []byte) (*Node, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("invalid JSON document")
	}
	return fromResult(gjson.ParseBytes(data)), nil
}

func fromResult(r gjson.Result) *Node {
	switch r.Type {
	case gjson.Null:
		return NewNull()
	case gjson.False:
		return NewBool(false)
	case gjson.True:
		return NewBool(true)
	case gjson.Number:
		return NewNumber(strings.TrimSpace(r.Raw))
	case gjson.String:
		return NewString(r.String())
	}
	if r.IsArray() {
		n := &Node{Kind: Array, Items: []*Node{}}
		r.ForEach(func(_, value gjson.Result) bool {
			n.Items = append(n.Items, fromResult(value))
			return true
		})
		return n
	}
	n := &Node{Kind: Object, Members: []Member{}}
	r.ForEach(func(key, value gjson.Result) bool {
		n.Members = append(n.Members, Member{Key: key.String(), Value: fromResult(value)})
		return true
	})
	return n
}

// Get returns the value of the first member named key.
func (n *Node) Get(key string) (*Node, bool) {
	if n == nil || n.Kind != Object {
		return nil, false
	}
	for _, m := range n.Members {
		if m.Key == key {
			return m.Value, true
		}
	}
	return nil, false
}

// Lookup returns the member named path, or else follows path as dotted member names,
// e.g. "Policy.IsAdministrator".
func (n *Node) Lookup(path string) (*Node, bool) {
	if v, ok := n.Get(path); ok {
		return v, true
	}
	cur := n
	for _, part := range strings.Split(path, ".") {
		next, ok := cur.Get(part)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

// Keys returns member names in document order.
func (n *Node) Keys() []string {
	if n == nil || n.Kind != Object {
		return nil
	}
	keys := make([]string, 0, len(n.Members))
	for _, m := range n.Members {
		keys = append(keys, m.Key)
	}
	return keys
}

// IsScalar reports whether the node is neither an array nor an object.
func (n *Node) IsScalar() bool {
	return n == nil || (n.Kind != Array && n.Kind != Object)
}

// Text renders the node for a table cell: strings unquoted, null empty,
// containers as compact JSON.
func (n *Node) Text() string {
	if n == nil {
		return ""
	}
	switch n.Kind {
	case Null:
		return ""
	case Bool:
		if n.Bool {
			return "true"
		}
		return "false"
	case Number:
		return n.Number
	case String:
		return n.Str
	}
	b, _ := n.MarshalJSON()
	return string(b)
}

// Equal reports structural equality.
func (n *Node) Equal(o *Node) bool {
	if n == nil || o == nil {
		return n == o
	}
	if n.Kind != o.Kind {
		return false
	}
	switch n.Kind {
	case Null:
		return true
	case Bool:
		return n.Bool == o.Bool
	case Number:
		return n.Number == o.Number
	case String:
		return n.Str == o.Str
	case Array:
		if len(n.Items) != len(o.Items) {
			return false
		}
		for i := range n.Items {
			if !n.Items[i].Equal(o.Items[i]) {
				return false
			}
		}
		return true
	}
	if len(n.Members) != len(o.Members) {
		return false
	}
	for i := range n.Members {
		if n.Members[i].Key != o.Members[i].Key || !n.Members[i].Value.Equal(o.Members[i].Value) {
			return false
		}
	}
	return true
}

// MarshalJSON writes the tree as compact JSON, preserving member order.
func (n *Node) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := n.write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// MarshalIndent writes the tree as indented JSON.
func (n *Node) MarshalIndent(prefix, indent string) ([]byte, error) {
	compact, err := n.MarshalJSON()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, compact, prefix, indent); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (n *Node) write(buf *bytes.Buffer) error {
	if n == nil {
		buf.WriteString("null")
		return nil
	}
	switch n.Kind {
	case Null:
		buf.WriteString("null")
	case Bool:
		if n.Bool {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case Number:
		if !json.Valid([]byte(n.Number)) {
			return fmt.Errorf("invalid number literal %q", n.Number)
		}
		buf.WriteString(n.Number)
	case String:
		writeString(buf, n.Str)
	case Array:
		buf.WriteByte('[')
		for i, item := range n.Items {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := item.write(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case Object:
		buf.WriteByte('{')
		for i, m := range n.Members {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeString(buf, m.Key)
			buf.WriteByte(':')
			if err := m.Value.write(buf); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("unknown node kind %v", n.Kind)
	}
	return nil
}

func writeString(buf *bytes.Buffer, s string) {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(s)
	buf.Write(bytes.TrimSuffix(tmp.Bytes(), []byte("\n")))
}
