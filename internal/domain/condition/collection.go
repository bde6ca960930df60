// internal/domain/condition/collection.go
package condition

import (
	"errors"
	"sort"
	"strings"
)

var (
	ErrNilCondition = errors.New("condition: nil condition")
)

// Collection is an ordered, name-keyed set of conditions.
//
// Insertion order is preserved; Sorted() orders by the explicit order field
// ascending with insertion order as the stable tie-break.
type Collection struct {
	names  []string
	byName map[string]*Condition
}

func NewCollection(conds ...*Condition) (*Collection, error) {
	col := &Collection{byName: map[string]*Condition{}}
	for _, c := range conds {
		if err := col.Put(c); err != nil {
			return nil, err
		}
	}
	return col, nil
}

// Put inserts or replaces a condition by name. A replacement keeps the
// original insertion position.
func (col *Collection) Put(c *Condition) error {
	if c == nil {
		return ErrNilCondition
	}
	if col.byName == nil {
		col.byName = map[string]*Condition{}
	}
	if _, ok := col.byName[c.name]; !ok {
		col.names = append(col.names, c.name)
	}
	col.byName[c.name] = c
	return nil
}

func (col *Collection) Has(name string) bool {
	_, ok := col.byName[strings.TrimSpace(name)]
	return ok
}

func (col *Collection) Get(name string) (*Condition, bool) {
	c, ok := col.byName[strings.TrimSpace(name)]
	return c, ok
}

// Remove deletes a condition by name. Returns false when nothing matched;
// "nothing to remove" is expected, not exceptional.
func (col *Collection) Remove(name string) bool {
	n := strings.TrimSpace(name)
	if _, ok := col.byName[n]; !ok {
		return false
	}
	delete(col.byName, n)
	for i, existing := range col.names {
		if existing == n {
			col.names = append(col.names[:i], col.names[i+1:]...)
			break
		}
	}
	return true
}

// RemoveByType deletes every condition of the given type. Returns false when
// none matched.
func (col *Collection) RemoveByType(condType string) bool {
	t := strings.TrimSpace(condType)
	removed := false
	for _, name := range col.Names() {
		if c, ok := col.byName[name]; ok && c.condType == t {
			removed = col.Remove(name) || removed
		}
	}
	return removed
}

// ByType returns conditions of the given type in insertion order.
func (col *Collection) ByType(condType string) []*Condition {
	t := strings.TrimSpace(condType)
	var out []*Condition
	for _, name := range col.names {
		if c := col.byName[name]; c != nil && c.condType == t {
			out = append(out, c)
		}
	}
	return out
}

// CountByType returns how many conditions carry the given type.
func (col *Collection) CountByType(condType string) int {
	return len(col.ByType(condType))
}

// Names returns a copy of the names in insertion order.
func (col *Collection) Names() []string {
	out := make([]string, len(col.names))
	copy(out, col.names)
	return out
}

// All returns the conditions in insertion order.
func (col *Collection) All() []*Condition {
	out := make([]*Condition, 0, len(col.names))
	for _, name := range col.names {
		if c := col.byName[name]; c != nil {
			out = append(out, c)
		}
	}
	return out
}

// Sorted returns the conditions in application order: order ascending,
// insertion order as the stable tie-break.
func (col *Collection) Sorted() []*Condition {
	out := col.All()
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].order < out[j].order
	})
	return out
}

func (col *Collection) Len() int { return len(col.names) }
func (col *Collection) IsEmpty() bool { return len(col.names) == 0 }

// Clear removes every condition.
func (col *Collection) Clear() {
	col.names = nil
	col.byName = map[string]*Condition{}
}

// Clone returns a shallow copy of the collection. Conditions themselves are
// immutable so sharing the pointers is safe.
func (col *Collection) Clone() *Collection {
	out := &Collection{
		names:  append([]string{}, col.names...),
		byName: make(map[string]*Condition, len(col.byName)),
	}
	for k, v := range col.byName {
		out.byName[k] = v
	}
	return out
}
