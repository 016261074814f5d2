package queryir

import (
	"errors"
	"fmt"
)

// Validate checks a predicate tree for structural errors: empty field names,
// nil comparison values, Match nodes without a function, and foreign node
// types. A nil predicate is valid (no filter).
//
// All problems are reported together via errors.Join.
func Validate(p Predicate) error {
	v := &validator{}
	v.validatePredicate(p, "filter")
	return errors.Join(v.errs...)
}

// validator accumulates errors during traversal.
type validator struct {
	errs []error
}

func (v *validator) addError(format string, args ...any) {
	v.errs = append(v.errs, fmt.Errorf(format, args...))
}

func (v *validator) validatePredicate(p Predicate, path string) {
	switch pred := p.(type) {
	case nil:
		return
	case Equals:
		v.validateComparison(pred.Field, pred.Value, path)
	case *Equals:
		v.validateComparison(pred.Field, pred.Value, path)
	case NotEquals:
		v.validateComparison(pred.Field, pred.Value, path)
	case *NotEquals:
		v.validateComparison(pred.Field, pred.Value, path)
	case And:
		v.validateChildren(pred.Predicates, path+".and")
	case *And:
		v.validateChildren(pred.Predicates, path+".and")
	case Or:
		v.validateChildren(pred.Predicates, path+".or")
	case *Or:
		v.validateChildren(pred.Predicates, path+".or")
	case Match:
		v.validateMatch(pred, path)
	case *Match:
		v.validateMatch(*pred, path)
	default:
		v.addError("%s: unsupported predicate type %T", path, p)
	}
}

func (v *validator) validateChildren(preds []Predicate, path string) {
	for i, child := range preds {
		if child == nil {
			v.addError("%s[%d]: nil predicate", path, i)
			continue
		}
		v.validatePredicate(child, fmt.Sprintf("%s[%d]", path, i))
	}
}

func (v *validator) validateComparison(field string, value any, path string) {
	if field == "" {
		v.addError("%s: comparison without field", path)
	}
	if value == nil {
		v.addError("%s: field %q compared to nil", path, field)
	}
}

func (v *validator) validateMatch(m Match, path string) {
	if m.Fn == nil {
		v.addError("%s: match %q has no function", path, m.Name)
	}
}
