// Package sqlbuild accumulates typed predicates and column assignments and
// renders them into SQL with `?` placeholders. Backends rebind the
// placeholders to their own dialect.
package sqlbuild

import (
	"strings"
)

// Predicate is one boolean SQL fragment with its bound arguments.
type Predicate struct {
	SQL  string
	Args []interface{}
}

// Builder collects predicates that are combined with AND.
type Builder struct {
	preds []Predicate
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Where adds a predicate.
func (b *Builder) Where(sql string, args ...interface{}) *Builder {
	b.preds = append(b.preds, Predicate{SQL: sql, Args: args})
	return b
}

// Predicates returns the accumulated predicates in insertion order.
func (b *Builder) Predicates() []Predicate {
	out := make([]Predicate, len(b.preds))
	copy(out, b.preds)
	return out
}

// Empty reports whether no predicate was added.
func (b *Builder) Empty() bool {
	return len(b.preds) == 0
}

// Render returns "WHERE p1 AND p2 ..." and the flattened arguments, or an
// empty string when there are no predicates.
func (b *Builder) Render() (string, []interface{}) {
	if len(b.preds) == 0 {
		return "", nil
	}
	parts := make([]string, 0, len(b.preds))
	var args []interface{}
	for _, p := range b.preds {
		parts = append(parts, "("+p.SQL+")")
		args = append(args, p.Args...)
	}
	return "WHERE " + strings.Join(parts, " AND "), args
}

// Assignments collects column = value pairs for an UPDATE.
type Assignments struct {
	cols []string
	args []interface{}
}

// Set records column = value.
func (a *Assignments) Set(column string, value interface{}) *Assignments {
	a.cols = append(a.cols, column)
	a.args = append(a.args, value)
	return a
}

// Empty reports whether nothing was set.
func (a *Assignments) Empty() bool {
	return len(a.cols) == 0
}

// Render returns "c1 = ?, c2 = ?" and the values in the same order.
func (a *Assignments) Render() (string, []interface{}) {
	parts := make([]string, len(a.cols))
	for i, col := range a.cols {
		parts[i] = col + " = ?"
	}
	args := make([]interface{}, len(a.args))
	copy(args, a.args)
	return strings.Join(parts, ", "), args
}

// Map returns the assignments keyed by column.
func (a *Assignments) Map() map[string]interface{} {
	out := make(map[string]interface{}, len(a.cols))
	for i, col := range a.cols {
		out[col] = a.args[i]
	}
	return out
}
