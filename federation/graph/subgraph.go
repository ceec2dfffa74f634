// Package graph models the two backing GraphQL services and the schema
// produced by merging them into a single graph with cross-service
// relationship fields.
package graph

import (
	"fmt"
	"sort"

	"github.com/n9te9/graphql-parser/ast"
	"github.com/n9te9/graphql-parser/lexer"
	"github.com/n9te9/graphql-parser/parser"
)

// SubGraph is one independently owned GraphQL service: its name, the
// endpoint it serves, and its parsed schema.
type SubGraph struct {
	Name   string
	Host   string
	Schema *ast.Document

	types      map[string]*ast.ObjectTypeDefinition
	queryRoots map[string]bool // root Query field names owned by this service
	mutRoots   map[string]bool // root Mutation field names owned by this service
}

// NewSubGraph parses src as SDL and indexes the subgraph's type definitions
// and root fields.
func NewSubGraph(name string, src []byte, host string) (*SubGraph, error) {
	l := lexer.New(string(src))
	p := parser.New(l)
	doc := p.ParseDocument()
	if len(p.Errors()) > 0 {
		return nil, fmt.Errorf("subgraph %q: parse error: %v", name, p.Errors())
	}

	sg := &SubGraph{
		Name:       name,
		Host:       host,
		Schema:     doc,
		types:      make(map[string]*ast.ObjectTypeDefinition),
		queryRoots: make(map[string]bool),
		mutRoots:   make(map[string]bool),
	}

	for _, def := range doc.Definitions {
		objType, ok := def.(*ast.ObjectTypeDefinition)
		if !ok {
			continue
		}
		typeName := objType.Name.String()
		sg.types[typeName] = objType

		switch typeName {
		case "Query":
			for _, field := range objType.Fields {
				sg.queryRoots[field.Name.String()] = true
			}
		case "Mutation":
			for _, field := range objType.Fields {
				sg.mutRoots[field.Name.String()] = true
			}
		}
	}

	return sg, nil
}

// Type returns the object type definition for name, if the subgraph
// declares it.
func (sg *SubGraph) Type(name string) (*ast.ObjectTypeDefinition, bool) {
	t, ok := sg.types[name]
	return t, ok
}

// OwnsRootField reports whether this subgraph serves the given root field
// for the given operation kind.
func (sg *SubGraph) OwnsRootField(op ast.OperationType, fieldName string) bool {
	switch op {
	case ast.Query:
		return sg.queryRoots[fieldName]
	case ast.Mutation:
		return sg.mutRoots[fieldName]
	}
	return false
}

// FieldTypeName resolves the unwrapped type name of typeName.fieldName, or
// "" when the subgraph does not declare it.
func (sg *SubGraph) FieldTypeName(typeName, fieldName string) string {
	objType, ok := sg.types[typeName]
	if !ok {
		return ""
	}
	for _, field := range objType.Fields {
		if field.Name.String() == fieldName {
			return UnwrapTypeName(field.Type)
		}
	}
	return ""
}

// ScalarFieldNames lists the leaf (non-object) fields of typeName in
// declaration order. The executor uses it to build full-row batch queries.
func (sg *SubGraph) ScalarFieldNames(typeName string) []string {
	objType, ok := sg.types[typeName]
	if !ok {
		return nil
	}
	var names []string
	for _, field := range objType.Fields {
		base := UnwrapTypeName(field.Type)
		if _, isObject := sg.types[base]; isObject {
			continue
		}
		names = append(names, field.Name.String())
	}
	return names
}

// fieldSignatures renders each field of typeName as "name:Type" for the
// merge-time collision check, sorted for stable comparison.
func (sg *SubGraph) fieldSignatures(typeName string) []string {
	objType, ok := sg.types[typeName]
	if !ok {
		return nil
	}
	sigs := make([]string, 0, len(objType.Fields))
	for _, field := range objType.Fields {
		sigs = append(sigs, field.Name.String()+":"+field.Type.String())
	}
	sort.Strings(sigs)
	return sigs
}

// UnwrapTypeName strips list and non-null wrappers down to the named type.
func UnwrapTypeName(t ast.Type) string {
	switch typ := t.(type) {
	case *ast.NamedType:
		return typ.Name.String()
	case *ast.ListType:
		return UnwrapTypeName(typ.Type)
	case *ast.NonNullType:
		return UnwrapTypeName(typ.Type)
	}
	return ""
}
