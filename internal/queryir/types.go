package queryir

// Query is a sealed interface over table queries.
type Query interface {
	queryNode() // Marker method - seals interface to this package
}

// Predicate is a sealed interface over filter conditions.
type Predicate interface {
	predicateNode() // Marker method - seals interface to this package
}

// Select returns the rows of From that satisfy Filter (nil = every row),
// in insertion order.
type Select struct {
	From   string
	Filter Predicate
}

func (Select) queryNode() {}

// Count returns the number of rows of From that satisfy Filter.
type Count struct {
	From   string
	Filter Predicate
}

func (Count) queryNode() {}

// Equals matches rows whose Field equals Value.
//
// Field is a property name or a compound key path such as
// "[firstName+lastName]", in which case Value is the ordered member values.
type Equals struct {
	Field string
	Value any
}

func (Equals) predicateNode() {}

// NotEquals matches rows whose Field differs from Value. Rows without Field
// match only when the comparison narrows an earlier selection (see
// IndexSeeded).
type NotEquals struct {
	Field string
	Value any
}

func (NotEquals) predicateNode() {}

// And matches when every predicate matches (empty = always true).
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}

// Or matches when any predicate matches (empty = never).
type Or struct {
	Predicates []Predicate
}

func (Or) predicateNode() {}

// MatchFunc decides whether a stored document matches.
// doc is the JSON document exactly as stored.
type MatchFunc func(doc []byte) (bool, error)

// Match is an opaque in-process filter. Name is used in errors and logs.
type Match struct {
	Name string
	Fn   MatchFunc
}

func (Match) predicateNode() {}

// AndOf conjoins two predicates, flattening nested Ands. A nil side is dropped.
func AndOf(left, right Predicate) Predicate {
	switch {
	case left == nil:
		return right
	case right == nil:
		return left
	}
	if l, ok := left.(And); ok {
		preds := append(append([]Predicate{}, l.Predicates...), right)
		return And{Predicates: preds}
	}
	return And{Predicates: []Predicate{left, right}}
}

// OrOf disjoins two predicates, flattening nested Ors. A nil side is dropped.
func OrOf(left, right Predicate) Predicate {
	switch {
	case left == nil:
		return right
	case right == nil:
		return left
	}
	if l, ok := left.(Or); ok {
		preds := append(append([]Predicate{}, l.Predicates...), right)
		return Or{Predicates: preds}
	}
	return Or{Predicates: []Predicate{left, right}}
}
