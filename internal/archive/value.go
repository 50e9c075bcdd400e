package archive

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Well-known field names the archive reads out of a turn's state.
const (
	FieldEvents    = "events"
	FieldThreat    = "threat"
	FieldEntities  = "entities"
	FieldResources = "resources"
)

// Kind tags the variant held by a Value.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindNumber
	KindText
	KindBool
	KindMap
	KindList
)

func (k Kind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindText:
		return "text"
	case KindBool:
		return "bool"
	case KindMap:
		return "map"
	case KindList:
		return "list"
	default:
		return "invalid"
	}
}

// Value is one field of a simulation snapshot: a number, text, bool,
// nested map or list.
type Value struct {
	kind Kind
	num  float64
	str  string
	flag bool
	m    State
	list []Value
}

// State is a full snapshot of named fields for one turn.
type State map[string]Value

// Delta is a partial diff against the previous full state.
type Delta struct {
	Set     State    `json:"set,omitempty"`
	Removed []string `json:"removed,omitempty"`
}

func Number(f float64) Value { return Value{kind: KindNumber, num: f} }
func Text(s string) Value    { return Value{kind: KindText, str: s} }
func Bool(b bool) Value      { return Value{kind: KindBool, flag: b} }
func MapOf(s State) Value    { return Value{kind: KindMap, m: s} }

func ListOf(vs ...Value) Value {
	return Value{kind: KindList, list: vs}
}

// TextList builds a list of text values.
func TextList(items ...string) Value {
	vs := make([]Value, len(items))
	for i, s := range items {
		vs[i] = Text(s)
	}
	return ListOf(vs...)
}

func (v Value) Kind() Kind { return v.kind }

func (v Value) AsNumber() (float64, bool) { return v.num, v.kind == KindNumber }
func (v Value) AsText() (string, bool)    { return v.str, v.kind == KindText }
func (v Value) AsBool() (bool, bool)      { return v.flag, v.kind == KindBool }
func (v Value) AsMap() (State, bool)      { return v.m, v.kind == KindMap }
func (v Value) AsList() ([]Value, bool)   { return v.list, v.kind == KindList }

// Equal compares two values structurally. Nil and empty maps or lists are
// considered equal.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNumber:
		return v.num == o.num
	case KindText:
		return v.str == o.str
	case KindBool:
		return v.flag == o.flag
	case KindMap:
		return v.m.Equal(o.m)
	case KindList:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(o.list[i]) {
				return false
			}
		}
		return true
	default:
		return true
	}
}

// String renders the value deterministically; map keys are sorted.
func (v Value) String() string {
	switch v.kind {
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindText:
		return v.str
	case KindBool:
		return strconv.FormatBool(v.flag)
	case KindMap:
		parts := make([]string, 0, len(v.m))
		for _, k := range v.m.Keys() {
			parts = append(parts, k+": "+v.m[k].String())
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case KindList:
		parts := make([]string, len(v.list))
		for i, item := range v.list {
			parts[i] = item.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	default:
		return ""
	}
}

func (v Value) clone() Value {
	switch v.kind {
	case KindMap:
		return MapOf(v.m.Clone())
	case KindList:
		if v.list == nil {
			return v
		}
		out := make([]Value, len(v.list))
		for i, item := range v.list {
			out[i] = item.clone()
		}
		return ListOf(out...)
	default:
		return v
	}
}

// Any converts the value to plain Go types (float64, string, bool,
// map[string]any, []any).
func (v Value) Any() any {
	switch v.kind {
	case KindNumber:
		return v.num
	case KindText:
		return v.str
	case KindBool:
		return v.flag
	case KindMap:
		out := make(map[string]any, len(v.m))
		for k, item := range v.m {
			out[k] = item.Any()
		}
		return out
	case KindList:
		out := make([]any, len(v.list))
		for i, item := range v.list {
			out[i] = item.Any()
		}
		return out
	default:
		return nil
	}
}

// FromAny converts decoded JSON-like data into a Value.
func FromAny(x any) (Value, error) {
	switch t := x.(type) {
	case float64:
		return Number(t), nil
	case float32:
		return Number(float64(t)), nil
	case int:
		return Number(float64(t)), nil
	case int64:
		return Number(float64(t)), nil
	case uint64:
		return Number(float64(t)), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("parse number %q: %w", t, err)
		}
		return Number(f), nil
	case string:
		return Text(t), nil
	case bool:
		return Bool(t), nil
	case map[string]any:
		s := make(State, len(t))
		for k, item := range t {
			v, err := FromAny(item)
			if err != nil {
				return Value{}, fmt.Errorf("field %q: %w", k, err)
			}
			s[k] = v
		}
		return MapOf(s), nil
	case []any:
		vs := make([]Value, len(t))
		for i, item := range t {
			v, err := FromAny(item)
			if err != nil {
				return Value{}, fmt.Errorf("index %d: %w", i, err)
			}
			vs[i] = v
		}
		return ListOf(vs...), nil
	case nil:
		return Value{}, fmt.Errorf("null values are not supported")
	default:
		return Value{}, fmt.Errorf("unsupported value type %T", x)
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Any())
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := FromAny(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

func (s State) Clone() State {
	if s == nil {
		return nil
	}
	out := make(State, len(s))
	for k, v := range s {
		out[k] = v.clone()
	}
	return out
}

func (s State) Equal(o State) bool {
	if len(s) != len(o) {
		return false
	}
	for k, v := range s {
		ov, ok := o[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

// Keys returns the field names in sorted order.
func (s State) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Number returns the numeric field named key.
func (s State) Number(key string) (float64, bool) {
	v, ok := s[key]
	if !ok {
		return 0, false
	}
	return v.AsNumber()
}

// Map returns the nested map field named key.
func (s State) Map(key string) (State, bool) {
	v, ok := s[key]
	if !ok {
		return nil, false
	}
	return v.AsMap()
}

// Texts returns the text items of the list field named key. Non-text items
// are skipped.
func (s State) Texts(key string) []string {
	v, ok := s[key]
	if !ok {
		return nil
	}
	items, ok := v.AsList()
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if text, ok := item.AsText(); ok {
			out = append(out, text)
		}
	}
	return out
}

// Render formats the state as "k=v, k=v" with sorted keys.
func (s State) Render() string {
	parts := make([]string, 0, len(s))
	for _, k := range s.Keys() {
		parts = append(parts, k+"="+s[k].String())
	}
	return strings.Join(parts, ", ")
}

func (d Delta) Empty() bool {
	return len(d.Set) == 0 && len(d.Removed) == 0
}

func (d Delta) Equal(o Delta) bool {
	if !d.Set.Equal(o.Set) || len(d.Removed) != len(o.Removed) {
		return false
	}
	for i := range d.Removed {
		if d.Removed[i] != o.Removed[i] {
			return false
		}
	}
	return true
}

// Diff returns the delta that turns prev into cur.
func Diff(prev, cur State) Delta {
	var d Delta
	for k, v := range cur {
		if pv, ok := prev[k]; ok && pv.Equal(v) {
			continue
		}
		if d.Set == nil {
			d.Set = make(State)
		}
		d.Set[k] = v.clone()
	}
	for k := range prev {
		if _, ok := cur[k]; !ok {
			d.Removed = append(d.Removed, k)
		}
	}
	sort.Strings(d.Removed)
	return d
}

// Apply returns prev with d applied. prev is not modified.
func Apply(prev State, d Delta) State {
	out := prev.Clone()
	if out == nil {
		out = make(State, len(d.Set))
	}
	for _, k := range d.Removed {
		delete(out, k)
	}
	for k, v := range d.Set {
		out[k] = v.clone()
	}
	return out
}
