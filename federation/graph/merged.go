package graph

import (
	"fmt"

	"github.com/n9te9/graphql-parser/ast"
)

// Cardinality is the shape of a relationship field's result.
type Cardinality int

const (
	// OneToMany yields a list of target rows; keys with no rows resolve to
	// an empty list.
	OneToMany Cardinality = iota
	// OneToOne yields a single target row; missing keys resolve to null.
	OneToOne
)

// Relationship declares one cross-service field injected into the merged
// schema. It carries everything the executor needs: which parent fields must
// be present before the field can resolve (the selection set), which
// subgraph and batch root field serve it, and how batch rows are
// redistributed onto the requested keys.
type Relationship struct {
	ParentType string // type the field is injected into, e.g. "User"
	FieldName  string // injected field name, e.g. "expenses"
	TargetType string // type of the resolved value, e.g. "Expense"

	// SelectionSet is the minimal set of parent fields the resolver needs.
	// The executor injects these into the parent subgraph query even when
	// the client did not ask for them.
	SelectionSet []string

	// KeyField is the parent field whose value becomes the load key. It is
	// always a member of SelectionSet.
	KeyField string

	Cardinality Cardinality

	// Source names the subgraph that serves BatchField.
	Source string
	// BatchField is the batched root query field, e.g. "expensesByUsers".
	BatchField string
	// BatchArg is the list argument of BatchField, e.g. "userIds".
	BatchArg string
	// GroupKey is the target-row field used to redistribute batch results:
	// the foreign key for OneToMany, the primary key for OneToOne.
	GroupKey string
}

// MergedSchema is the union of the subgraphs' type systems plus the injected
// relationship fields. It is read-only after construction and shared by
// every request.
type MergedSchema struct {
	SubGraphs     []*SubGraph
	Relationships []Relationship

	relIndex map[string]map[string]*Relationship // parent type -> field -> rel
	byName   map[string]*SubGraph
}

// NewMergedSchema composes the subgraphs and injects the relationship
// fields. It fails when a type name is declared with different shapes in
// more than one subgraph, or when a relationship references a subgraph,
// type, or batch field that does not exist.
func NewMergedSchema(subGraphs []*SubGraph, relationships []Relationship) (*MergedSchema, error) {
	if len(subGraphs) == 0 {
		return nil, fmt.Errorf("merge: no subgraphs given")
	}

	ms := &MergedSchema{
		SubGraphs:     subGraphs,
		Relationships: relationships,
		relIndex:      make(map[string]map[string]*Relationship),
		byName:        make(map[string]*SubGraph, len(subGraphs)),
	}

	for _, sg := range subGraphs {
		if _, dup := ms.byName[sg.Name]; dup {
			return nil, fmt.Errorf("merge: duplicate subgraph name %q", sg.Name)
		}
		ms.byName[sg.Name] = sg
	}

	if err := ms.checkTypeCollisions(); err != nil {
		return nil, err
	}

	for i := range relationships {
		rel := &relationships[i]
		if err := ms.validateRelationship(rel); err != nil {
			return nil, err
		}
		fields, ok := ms.relIndex[rel.ParentType]
		if !ok {
			fields = make(map[string]*Relationship)
			ms.relIndex[rel.ParentType] = fields
		}
		if _, dup := fields[rel.FieldName]; dup {
			return nil, fmt.Errorf("merge: duplicate relationship %s.%s", rel.ParentType, rel.FieldName)
		}
		fields[rel.FieldName] = rel
	}

	return ms, nil
}

// checkTypeCollisions rejects type names that exist in more than one
// subgraph with differing field sets. Root types are exempt: Query and
// Mutation are unioned by design.
func (ms *MergedSchema) checkTypeCollisions() error {
	owners := make(map[string]*SubGraph)
	for _, sg := range ms.SubGraphs {
		for typeName := range sg.types {
			if typeName == "Query" || typeName == "Mutation" || typeName == "Subscription" {
				continue
			}
			prev, seen := owners[typeName]
			if !seen {
				owners[typeName] = sg
				continue
			}
			a := prev.fieldSignatures(typeName)
			b := sg.fieldSignatures(typeName)
			if !equalStrings(a, b) {
				return fmt.Errorf("merge: type %q has incompatible shapes in subgraphs %q and %q", typeName, prev.Name, sg.Name)
			}
		}
	}

	// Unioned root fields must not collide either.
	if field, pair, collides := ms.rootFieldCollision(); collides {
		return fmt.Errorf("merge: root field %q is served by both %q and %q", field, pair[0], pair[1])
	}
	return nil
}

func (ms *MergedSchema) rootFieldCollision() (string, [2]string, bool) {
	for _, roots := range []func(sg *SubGraph) map[string]bool{
		func(sg *SubGraph) map[string]bool { return sg.queryRoots },
		func(sg *SubGraph) map[string]bool { return sg.mutRoots },
	} {
		owners := make(map[string]string)
		for _, sg := range ms.SubGraphs {
			for field := range roots(sg) {
				if prev, seen := owners[field]; seen {
					return field, [2]string{prev, sg.Name}, true
				}
				owners[field] = sg.Name
			}
		}
	}
	return "", [2]string{}, false
}

func (ms *MergedSchema) validateRelationship(rel *Relationship) error {
	src, ok := ms.byName[rel.Source]
	if !ok {
		return fmt.Errorf("merge: relationship %s.%s references unknown subgraph %q", rel.ParentType, rel.FieldName, rel.Source)
	}
	if !src.queryRoots[rel.BatchField] {
		return fmt.Errorf("merge: subgraph %q has no root field %q for relationship %s.%s", rel.Source, rel.BatchField, rel.ParentType, rel.FieldName)
	}
	if _, ok := ms.TypeOwner(rel.ParentType); !ok {
		return fmt.Errorf("merge: relationship parent type %q is not defined by any subgraph", rel.ParentType)
	}
	if _, ok := ms.TypeOwner(rel.TargetType); !ok {
		return fmt.Errorf("merge: relationship target type %q is not defined by any subgraph", rel.TargetType)
	}
	if rel.KeyField == "" || len(rel.SelectionSet) == 0 {
		return fmt.Errorf("merge: relationship %s.%s has no selection set", rel.ParentType, rel.FieldName)
	}
	for _, f := range rel.SelectionSet {
		if f == rel.KeyField {
			return nil
		}
	}
	return fmt.Errorf("merge: relationship %s.%s key field %q is not in its selection set", rel.ParentType, rel.FieldName, rel.KeyField)
}

// SubGraph returns the subgraph registered under name.
func (ms *MergedSchema) SubGraph(name string) (*SubGraph, bool) {
	sg, ok := ms.byName[name]
	return sg, ok
}

// RootFieldOwner returns the subgraph that serves the given root field.
func (ms *MergedSchema) RootFieldOwner(op ast.OperationType, fieldName string) (*SubGraph, bool) {
	for _, sg := range ms.SubGraphs {
		if sg.OwnsRootField(op, fieldName) {
			return sg, true
		}
	}
	return nil, false
}

// TypeOwner returns the first subgraph declaring typeName.
func (ms *MergedSchema) TypeOwner(typeName string) (*SubGraph, bool) {
	for _, sg := range ms.SubGraphs {
		if _, ok := sg.Type(typeName); ok {
			return sg, true
		}
	}
	return nil, false
}

// Relationship looks up the injected field parentType.fieldName.
func (ms *MergedSchema) Relationship(parentType, fieldName string) (*Relationship, bool) {
	fields, ok := ms.relIndex[parentType]
	if !ok {
		return nil, false
	}
	rel, ok := fields[fieldName]
	return rel, ok
}

// FieldTypeName resolves typeName.fieldName across all subgraphs and the
// injected relationship fields.
func (ms *MergedSchema) FieldTypeName(typeName, fieldName string) string {
	if rel, ok := ms.Relationship(typeName, fieldName); ok {
		return rel.TargetType
	}
	for _, sg := range ms.SubGraphs {
		if name := sg.FieldTypeName(typeName, fieldName); name != "" {
			return name
		}
	}
	return ""
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
