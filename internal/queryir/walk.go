package queryir

// Leaves returns the leaf nodes of a tree in depth-first, left-to-right order.
func Leaves(p Predicate) []Predicate {
	var out []Predicate
	walk(p, func(leaf Predicate) { out = append(out, leaf) })
	return out
}

// HasMatch reports whether the tree contains a Match node.
func HasMatch(p Predicate) bool {
	found := false
	walk(p, func(leaf Predicate) {
		switch leaf.(type) {
		case Match, *Match:
			found = true
		}
	})
	return found
}

// IndexedLeaves returns the comparisons a store must serve from an index:
// the leftmost comparison of the tree and the leftmost comparison of every
// Or branch. Match nodes never need an index.
func IndexedLeaves(p Predicate) []Predicate {
	var out []Predicate
	seeded := IndexSeeded(p)
	for i, leaf := range Leaves(p) {
		switch leaf.(type) {
		case Match, *Match:
			continue
		}
		if seeded[i] {
			out = append(out, leaf)
		}
	}
	return out
}

// IndexSeeded reports, for each leaf in Leaves order, whether the leaf opens
// an index lookup rather than narrowing rows already selected. Seeding
// comparisons skip rows without the property; narrowing NotEquals keeps them.
func IndexSeeded(p Predicate) []bool {
	var out []bool
	var mark func(p Predicate, seeded bool)
	mark = func(p Predicate, seeded bool) {
		switch pred := p.(type) {
		case nil:
		case And:
			for i, child := range pred.Predicates {
				mark(child, seeded && i == 0)
			}
		case *And:
			mark(*pred, seeded)
		case Or:
			for i, child := range pred.Predicates {
				mark(child, seeded || i > 0)
			}
		case *Or:
			mark(*pred, seeded)
		default:
			out = append(out, seeded)
		}
	}
	mark(p, true)
	return out
}

func walk(p Predicate, visit func(Predicate)) {
	switch pred := p.(type) {
	case nil:
	case And:
		for _, child := range pred.Predicates {
			walk(child, visit)
		}
	case *And:
		walk(*pred, visit)
	case Or:
		for _, child := range pred.Predicates {
			walk(child, visit)
		}
	case *Or:
		walk(*pred, visit)
	default:
		visit(p)
	}
}
