package query

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/sanonone/kartadb/pkg/graph"
)

// Validation errors. All of them are raised while compiling a request,
// before a single node is scanned; a request that compiles cleanly can no
// longer fail mid-scan except by cancellation.
var (
	ErrUnknownField               = errors.New("unknown field")
	ErrTypeMismatch               = errors.New("operator not valid for field type")
	ErrInvalidRelationTypeLiteral = errors.New("relation type literal outside vocabulary")
	ErrUnknownSourceClass         = errors.New("unknown source class")
	ErrBadPredicate               = errors.New("malformed predicate")
)

// Predicate is one node of the where-clause tree. Leaves carry Op, Field and
// Value; the "and"/"or" compounds carry an n-ary list of sub-predicates.
type Predicate struct {
	Op    string       `json:"op" yaml:"op"`
	Field string       `json:"field,omitempty" yaml:"field,omitempty"`
	Value string       `json:"value,omitempty" yaml:"value,omitempty"`
	Preds []*Predicate `json:"preds,omitempty" yaml:"preds,omitempty"`
}

// evalFunc evaluates a compiled predicate against one node.
type evalFunc func(st *graph.Store, i uint32) bool

// field classes decide which operators are legal where.
type fieldClass int

const (
	classOrdered   fieldClass = iota // id, kind, content, metadata.<key>
	classNotes                       // unordered string list
	classRelations                   // relation-type list
)

type fieldRef struct {
	name    string
	class   fieldClass
	metaKey string // set for metadata.<key>
}

func resolveField(name string) (fieldRef, error) {
	switch name {
	case "id", "kind", "content":
		return fieldRef{name: name, class: classOrdered}, nil
	case "notes":
		return fieldRef{name: name, class: classNotes}, nil
	case "relations":
		return fieldRef{name: name, class: classRelations}, nil
	}
	if key, ok := strings.CutPrefix(name, "metadata."); ok && key != "" {
		return fieldRef{name: name, class: classOrdered, metaKey: key}, nil
	}
	return fieldRef{}, fmt.Errorf("%w: %q", ErrUnknownField, name)
}

// scalar extracts the ordered scalar value of a field for one node.
// For metadata the second return is false when the key is absent.
func (f fieldRef) scalar(st *graph.Store, i uint32) (string, bool) {
	switch f.name {
	case "id":
		return st.ID(i), true
	case "kind":
		return st.Kind(i).String(), true
	case "content":
		return st.Content(i), true
	}
	return st.Metadata(i, f.metaKey)
}

// compilePredicate validates p and produces its evaluator. Compounds
// short-circuit; leaves never allocate during the scan.
func compilePredicate(p *Predicate) (evalFunc, error) {
	switch p.Op {
	case "and", "or":
		if len(p.Preds) == 0 {
			return nil, fmt.Errorf("%w: empty %q list", ErrBadPredicate, p.Op)
		}
		subs := make([]evalFunc, len(p.Preds))
		for k, sub := range p.Preds {
			f, err := compilePredicate(sub)
			if err != nil {
				return nil, err
			}
			subs[k] = f
		}
		if p.Op == "and" {
			return func(st *graph.Store, i uint32) bool {
				for _, f := range subs {
					if !f(st, i) {
						return false
					}
				}
				return true
			}, nil
		}
		return func(st *graph.Store, i uint32) bool {
			for _, f := range subs {
				if f(st, i) {
					return true
				}
			}
			return false
		}, nil

	case "equals", "not_equals", "less", "greater", "less_eq", "greater_eq",
		"contains", "matches":
		return compileLeaf(p)

	default:
		return nil, fmt.Errorf("%w: unknown operator %q", ErrBadPredicate, p.Op)
	}
}

func compileLeaf(p *Predicate) (evalFunc, error) {
	field, err := resolveField(p.Field)
	if err != nil {
		return nil, err
	}

	switch field.class {
	case classRelations:
		return compileRelationsLeaf(p)
	case classNotes:
		return compileNotesLeaf(p, field)
	default:
		return compileOrderedLeaf(p, field)
	}
}

func compileOrderedLeaf(p *Predicate, field fieldRef) (evalFunc, error) {
	lit := p.Value
	switch p.Op {
	case "equals":
		return func(st *graph.Store, i uint32) bool {
			v, ok := field.scalar(st, i)
			return ok && v == lit
		}, nil
	case "not_equals":
		return func(st *graph.Store, i uint32) bool {
			v, ok := field.scalar(st, i)
			return ok && v != lit
		}, nil
	case "less", "greater", "less_eq", "greater_eq":
		cmp := compareOp(p.Op)
		return func(st *graph.Store, i uint32) bool {
			v, ok := field.scalar(st, i)
			return ok && cmp(strings.Compare(v, lit))
		}, nil
	case "contains":
		if field.name == "content" {
			// Content search goes through the GAI's matching policy
			// (case-insensitive substring).
			return func(st *graph.Store, i uint32) bool {
				return st.ContentContains(i, lit)
			}, nil
		}
		lower := strings.ToLower(lit)
		return func(st *graph.Store, i uint32) bool {
			v, ok := field.scalar(st, i)
			return ok && strings.Contains(strings.ToLower(v), lower)
		}, nil
	case "matches":
		re, err := regexp.Compile(lit)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadPredicate, err)
		}
		return func(st *graph.Store, i uint32) bool {
			v, ok := field.scalar(st, i)
			return ok && re.MatchString(v)
		}, nil
	}
	return nil, fmt.Errorf("%w: %q on %q", ErrTypeMismatch, p.Op, field.name)
}

func compileNotesLeaf(p *Predicate, field fieldRef) (evalFunc, error) {
	lit := p.Value
	switch p.Op {
	case "equals":
		return anyNote(func(note string) bool { return note == lit }), nil
	case "contains":
		lower := strings.ToLower(lit)
		return anyNote(func(note string) bool {
			return strings.Contains(strings.ToLower(note), lower)
		}), nil
	case "matches":
		re, err := regexp.Compile(lit)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadPredicate, err)
		}
		return anyNote(re.MatchString), nil
	}
	// Notes are an unordered list: ordered comparisons are meaningless.
	return nil, fmt.Errorf("%w: %q on %q", ErrTypeMismatch, p.Op, field.name)
}

func compileRelationsLeaf(p *Predicate) (evalFunc, error) {
	switch p.Op {
	case "equals", "contains":
		typ, err := graph.ParseRelationType(p.Value)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidRelationTypeLiteral, p.Value)
		}
		return func(st *graph.Store, i uint32) bool {
			for _, e := range st.Outgoing(i) {
				if e.Type == typ {
					return true
				}
			}
			return false
		}, nil
	}
	// Relation lists carry no ordering and no text to regex over.
	return nil, fmt.Errorf("%w: %q on \"relations\"", ErrTypeMismatch, p.Op)
}

func anyNote(match func(string) bool) evalFunc {
	return func(st *graph.Store, i uint32) bool {
		for _, note := range st.Notes(i) {
			if match(note) {
				return true
			}
		}
		return false
	}
}

func compareOp(op string) func(int) bool {
	switch op {
	case "less":
		return func(c int) bool { return c < 0 }
	case "greater":
		return func(c int) bool { return c > 0 }
	case "less_eq":
		return func(c int) bool { return c <= 0 }
	default: // greater_eq
		return func(c int) bool { return c >= 0 }
	}
}
