package vector

import (
	"fmt"
	"slices"
	"sort"
)

// Op is a filter operator.
type Op int

const (
	OpEq Op = iota + 1
	OpNe
	OpIn
	OpNin
)

var opNames = map[string]Op{
	"$eq":  OpEq,
	"$ne":  OpNe,
	"$in":  OpIn,
	"$nin": OpNin,
}

func (o Op) String() string {
	for name, op := range opNames {
		if op == o {
			return name
		}
	}
	return fmt.Sprintf("op(%d)", int(o))
}

// Condition tests one metadata field. OpEq and OpNe use Values[0]; OpIn and
// OpNin use the whole list.
type Condition struct {
	Field  string
	Op     Op
	Values []Value
}

func Eq(field string, v Value) Condition { return Condition{Field: field, Op: OpEq, Values: []Value{v}} }
func Ne(field string, v Value) Condition { return Condition{Field: field, Op: OpNe, Values: []Value{v}} }
func In(field string, vs ...Value) Condition {
	return Condition{Field: field, Op: OpIn, Values: slices.Clone(vs)}
}
func Nin(field string, vs ...Value) Condition {
	return Condition{Field: field, Op: OpNin, Values: slices.Clone(vs)}
}

// Filter is a conjunction of conditions. An empty Filter matches everything.
type Filter []Condition

// Match reports whether md satisfies every condition. A document without the
// filtered field never matches, whatever the operator.
func (f Filter) Match(md Metadata) bool {
	for _, c := range f {
		if !c.match(md) {
			return false
		}
	}
	return true
}

func (c Condition) match(md Metadata) bool {
	got, ok := md[c.Field]
	if !ok {
		return false
	}
	switch c.Op {
	case OpEq:
		return len(c.Values) == 1 && equalOrMember(got, c.Values[0])
	case OpNe:
		return len(c.Values) == 1 && !equalOrMember(got, c.Values[0])
	case OpIn:
		return memberOf(got, c.Values)
	case OpNin:
		return !memberOf(got, c.Values)
	default:
		return false
	}
}

// equalOrMember matches a whole value, or one element of a list field, so
// $eq and $ne agree with $in and $nin on a single operand.
func equalOrMember(got, v Value) bool {
	return got.Equal(v) || memberOf(got, []Value{v})
}

// memberOf reports whether got is one of vs. A list field is a member when
// any of its elements is.
func memberOf(got Value, vs []Value) bool {
	if got.kind == KindStrings {
		for _, s := range got.strs {
			if slices.ContainsFunc(vs, String(s).Equal) {
				return true
			}
		}
		return false
	}
	return slices.ContainsFunc(vs, got.Equal)
}

// Validate checks that every condition is well formed.
func (f Filter) Validate() error {
	for _, c := range f {
		if c.Field == "" {
			return fmt.Errorf("%w: empty field name", ErrInvalidFilter)
		}
		switch c.Op {
		case OpEq, OpNe:
			if len(c.Values) != 1 {
				return fmt.Errorf("%w: %s on %q takes one value", ErrInvalidFilter, c.Op, c.Field)
			}
		case OpIn, OpNin:
			if len(c.Values) == 0 {
				return fmt.Errorf("%w: %s on %q needs a non-empty list", ErrInvalidFilter, c.Op, c.Field)
			}
		default:
			return fmt.Errorf("%w: unknown operator on %q", ErrInvalidFilter, c.Field)
		}
	}
	return nil
}

// ParseWhere converts a Chroma-style where clause, mapping each field either to
// a value (equality) or to a single {"$op": operand} object.
func ParseWhere(where map[string]any) (Filter, error) {
	if len(where) == 0 {
		return nil, nil
	}
	fields := make([]string, 0, len(where))
	for field := range where {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	f := make(Filter, 0, len(where))
	for _, field := range fields {
		c, err := parseCondition(field, where[field])
		if err != nil {
			return nil, err
		}
		f = append(f, c)
	}
	return f, f.Validate()
}

func parseCondition(field string, raw any) (Condition, error) {
	if field == "" || field[0] == '$' {
		return Condition{}, fmt.Errorf("%w: unsupported field %q", ErrInvalidFilter, field)
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		v, err := scalarOf(raw)
		if err != nil {
			return Condition{}, fmt.Errorf("%w: field %q: %w", ErrInvalidFilter, field, err)
		}
		return Eq(field, v), nil
	}
	if len(obj) != 1 {
		return Condition{}, fmt.Errorf("%w: field %q needs exactly one operator", ErrInvalidFilter, field)
	}
	for name, operand := range obj {
		op, known := opNames[name]
		if !known {
			return Condition{}, fmt.Errorf("%w: unknown operator %q", ErrInvalidFilter, name)
		}
		switch op {
		case OpEq, OpNe:
			v, err := scalarOf(operand)
			if err != nil {
				return Condition{}, fmt.Errorf("%w: field %q: %w", ErrInvalidFilter, field, err)
			}
			return Condition{Field: field, Op: op, Values: []Value{v}}, nil
		case OpIn, OpNin:
			list, ok := operand.([]any)
			if !ok {
				if ss, isStrings := operand.([]string); isStrings {
					for _, s := range ss {
						list = append(list, s)
					}
				} else {
					return Condition{}, fmt.Errorf("%w: %s on %q needs a list", ErrInvalidFilter, name, field)
				}
			}
			vs := make([]Value, 0, len(list))
			for _, item := range list {
				v, err := scalarOf(item)
				if err != nil {
					return Condition{}, fmt.Errorf("%w: field %q: %w", ErrInvalidFilter, field, err)
				}
				vs = append(vs, v)
			}
			return Condition{Field: field, Op: op, Values: vs}, nil
		}
	}
	return Condition{}, fmt.Errorf("%w: field %q", ErrInvalidFilter, field)
}

func scalarOf(x any) (Value, error) {
	v, err := ValueOf(x)
	if err != nil {
		return Value{}, err
	}
	if v.kind == KindStrings {
		return Value{}, fmt.Errorf("list operand where a scalar was expected")
	}
	return v, nil
}
