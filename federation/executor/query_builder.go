package executor

import (
	"fmt"
	"sort"
	"strings"

	"github.com/expensegraph/expense-gateway/federation/graph"
	"github.com/n9te9/graphql-parser/ast"
)

// QueryBuilder renders the upstream queries sent to subgraphs: per-service
// root queries with relationship fields stripped and their key fields
// injected, and the batched queries relationship loaders dispatch.
type QueryBuilder struct {
	schema *graph.MergedSchema
}

// NewQueryBuilder creates a QueryBuilder over the merged schema.
func NewQueryBuilder(schema *graph.MergedSchema) *QueryBuilder {
	return &QueryBuilder{schema: schema}
}

// BuildRootQuery renders the query for the root fields a single subgraph
// owns. Relationship fields are not forwarded upstream; instead the parent
// fields their resolvers require are injected into the selection. Fragment
// spreads in nested selections are inlined from fragments. The returned
// variables map holds only the variables the rendered query uses.
func (qb *QueryBuilder) BuildRootQuery(
	op ast.OperationType,
	fields []*ast.Field,
	sg *graph.SubGraph,
	variables map[string]any,
	fragments map[string]*ast.FragmentDefinition,
) (string, map[string]any, error) {
	var sb strings.Builder

	operation := "query"
	rootType := "Query"
	if op == ast.Mutation {
		operation = "mutation"
		rootType = "Mutation"
	}

	usedVars := qb.collectVariables(fields, fragments)
	sb.WriteString(operation)
	if len(usedVars) > 0 {
		sb.WriteString(" (")
		for i, varName := range usedVars {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString("$")
			sb.WriteString(varName)
			sb.WriteString(": ")
			sb.WriteString(qb.variableType(varName, fields, sg, variables))
		}
		sb.WriteString(")")
	}
	sb.WriteString(" {\n")

	for _, field := range fields {
		if err := qb.writeField(&sb, field, "\t", sg, rootType, fragments); err != nil {
			return "", nil, err
		}
	}
	sb.WriteString("}")

	queryVars := make(map[string]any, len(usedVars))
	for _, name := range usedVars {
		if v, ok := variables[name]; ok {
			queryVars[name] = v
		}
	}
	return sb.String(), queryVars, nil
}

// BuildBatchQuery renders the batched query for a relationship, selecting
// every scalar field of the target type so one coalesced call can serve
// sibling resolvers with differing sub-selections. The keys travel as a
// single list variable named after the batch argument.
func (qb *QueryBuilder) BuildBatchQuery(rel *graph.Relationship) (string, error) {
	src, ok := qb.schema.SubGraph(rel.Source)
	if !ok {
		return "", fmt.Errorf("unknown subgraph %q for relationship %s.%s", rel.Source, rel.ParentType, rel.FieldName)
	}

	argType := qb.rootArgumentType(src, rel.BatchField, rel.BatchArg)
	if argType == "" {
		argType = "[ID!]!"
	}

	fieldNames := src.ScalarFieldNames(rel.TargetType)
	if len(fieldNames) == 0 {
		return "", fmt.Errorf("subgraph %q declares no scalar fields for type %q", rel.Source, rel.TargetType)
	}
	if !containsString(fieldNames, rel.GroupKey) {
		fieldNames = append(fieldNames, rel.GroupKey)
	}

	var sb strings.Builder
	sb.WriteString("query ($")
	sb.WriteString(rel.BatchArg)
	sb.WriteString(": ")
	sb.WriteString(argType)
	sb.WriteString(") {\n\t")
	sb.WriteString(rel.BatchField)
	sb.WriteString("(")
	sb.WriteString(rel.BatchArg)
	sb.WriteString(": $")
	sb.WriteString(rel.BatchArg)
	sb.WriteString(") {\n")
	for _, name := range fieldNames {
		sb.WriteString("\t\t")
		sb.WriteString(name)
		sb.WriteString("\n")
	}
	sb.WriteString("\t}\n}")
	return sb.String(), nil
}

// writeField renders one field. Relationship fields are skipped entirely;
// object fields get their child relationships' key fields injected.
func (qb *QueryBuilder) writeField(sb *strings.Builder, field *ast.Field, indent string, sg *graph.SubGraph, parentType string, fragments map[string]*ast.FragmentDefinition) error {
	fieldName := field.Name.String()
	if _, isRel := qb.schema.Relationship(parentType, fieldName); isRel {
		return nil
	}

	sb.WriteString(indent)
	if field.Alias != nil && field.Alias.String() != "" {
		sb.WriteString(field.Alias.String())
		sb.WriteString(": ")
	}
	sb.WriteString(fieldName)

	if len(field.Arguments) > 0 {
		sb.WriteString("(")
		for i, arg := range field.Arguments {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(arg.Name.String())
			sb.WriteString(": ")
			qb.writeValue(sb, arg.Value)
		}
		sb.WriteString(")")
	}

	if len(field.SelectionSet) > 0 {
		fieldType := sg.FieldTypeName(parentType, fieldName)
		if fieldType == "" {
			fieldType = qb.schema.FieldTypeName(parentType, fieldName)
		}
		sb.WriteString(" {\n")
		if err := qb.writeSelectionSet(sb, field.SelectionSet, indent+"\t", sg, fieldType, fragments); err != nil {
			return err
		}
		sb.WriteString(indent)
		sb.WriteString("}")
	}
	sb.WriteString("\n")
	return nil
}

// writeSelectionSet renders the child selections of an object of type
// parentType, injecting the parent fields required by any relationship
// fields present in the selection. Fragment spreads matching parentType are
// inlined; each spread is expanded at most once per selection set.
func (qb *QueryBuilder) writeSelectionSet(sb *strings.Builder, selections []ast.Selection, indent string, sg *graph.SubGraph, parentType string, fragments map[string]*ast.FragmentDefinition) error {
	written := make(map[string]bool)
	spread := make(map[string]bool)
	var required []string

	var walk func(sels []ast.Selection) error
	walk = func(sels []ast.Selection) error {
		for _, sel := range sels {
			switch s := sel.(type) {
			case *ast.Field:
				fieldName := s.Name.String()
				if rel, isRel := qb.schema.Relationship(parentType, fieldName); isRel {
					for _, req := range rel.SelectionSet {
						if !containsString(required, req) {
							required = append(required, req)
						}
					}
					continue
				}
				written[fieldName] = true
				if err := qb.writeField(sb, s, indent, sg, parentType, fragments); err != nil {
					return err
				}
			case *ast.InlineFragment:
				if s.TypeCondition == nil || s.TypeCondition.Name.String() == parentType {
					if err := walk(s.SelectionSet); err != nil {
						return err
					}
				}
			case *ast.FragmentSpread:
				name := s.Name.String()
				if spread[name] {
					continue
				}
				spread[name] = true
				fragDef, ok := fragments[name]
				if !ok {
					return fmt.Errorf("fragment %q is not defined", name)
				}
				if fragDef.TypeCondition != nil && fragDef.TypeCondition.Name.String() != parentType {
					continue
				}
				if err := walk(fragDef.SelectionSet); err != nil {
					return err
				}
			}
		}
		return nil
	}
	if err := walk(selections); err != nil {
		return err
	}

	for _, req := range required {
		if written[req] {
			continue
		}
		sb.WriteString(indent)
		sb.WriteString(req)
		sb.WriteString("\n")
	}
	return nil
}

// collectVariables gathers the variable names used by the given fields,
// descending into fragment spreads, sorted for deterministic output.
func (qb *QueryBuilder) collectVariables(fields []*ast.Field, fragments map[string]*ast.FragmentDefinition) []string {
	vars := make(map[string]bool)
	spread := make(map[string]bool)
	var walkSelections func(sels []ast.Selection)
	walkSelections = func(sels []ast.Selection) {
		for _, sel := range sels {
			switch s := sel.(type) {
			case *ast.Field:
				for _, arg := range s.Arguments {
					collectVariablesFromValue(arg.Value, vars)
				}
				walkSelections(s.SelectionSet)
			case *ast.InlineFragment:
				walkSelections(s.SelectionSet)
			case *ast.FragmentSpread:
				name := s.Name.String()
				if spread[name] {
					continue
				}
				spread[name] = true
				if fragDef, ok := fragments[name]; ok {
					walkSelections(fragDef.SelectionSet)
				}
			}
		}
	}
	for _, field := range fields {
		for _, arg := range field.Arguments {
			collectVariablesFromValue(arg.Value, vars)
		}
		walkSelections(field.SelectionSet)
	}

	names := make([]string, 0, len(vars))
	for name := range vars {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func collectVariablesFromValue(val ast.Value, vars map[string]bool) {
	switch v := val.(type) {
	case *ast.Variable:
		vars[v.Name] = true
	case *ast.ListValue:
		for _, item := range v.Values {
			collectVariablesFromValue(item, vars)
		}
	case *ast.ObjectValue:
		for _, field := range v.Fields {
			collectVariablesFromValue(field.Value, vars)
		}
	}
}

// variableType resolves a variable's declared type from the subgraph schema,
// falling back to inference from the supplied value.
func (qb *QueryBuilder) variableType(varName string, fields []*ast.Field, sg *graph.SubGraph, variables map[string]any) string {
	for _, field := range fields {
		for _, arg := range field.Arguments {
			if variable, ok := arg.Value.(*ast.Variable); ok && variable.Name == varName {
				if t := qb.rootArgumentType(sg, field.Name.String(), arg.Name.String()); t != "" {
					return t
				}
			}
		}
	}

	if val, ok := variables[varName]; ok {
		switch val.(type) {
		case string:
			return "String"
		case bool:
			return "Boolean"
		case int, int32, int64:
			return "Int"
		case float32, float64:
			return "Float"
		}
	}
	return "String"
}

// rootArgumentType looks up the declared type of a root field argument.
func (qb *QueryBuilder) rootArgumentType(sg *graph.SubGraph, fieldName, argName string) string {
	for _, rootType := range []string{"Query", "Mutation"} {
		objType, ok := sg.Type(rootType)
		if !ok {
			continue
		}
		for _, field := range objType.Fields {
			if field.Name.String() != fieldName {
				continue
			}
			for _, arg := range field.Arguments {
				if arg.Name.String() == argName {
					return arg.Type.String()
				}
			}
		}
	}
	return ""
}

// writeValue renders an argument value as GraphQL source.
func (qb *QueryBuilder) writeValue(sb *strings.Builder, val ast.Value) {
	switch v := val.(type) {
	case *ast.StringValue:
		sb.WriteString("\"")
		sb.WriteString(v.Value)
		sb.WriteString("\"")
	case *ast.IntValue:
		fmt.Fprintf(sb, "%d", v.Value)
	case *ast.FloatValue:
		fmt.Fprintf(sb, "%f", v.Value)
	case *ast.BooleanValue:
		fmt.Fprintf(sb, "%t", v.Value)
	case *ast.Variable:
		sb.WriteString("$")
		sb.WriteString(v.Name)
	case *ast.ListValue:
		sb.WriteString("[")
		for i, item := range v.Values {
			if i > 0 {
				sb.WriteString(", ")
			}
			qb.writeValue(sb, item)
		}
		sb.WriteString("]")
	case *ast.ObjectValue:
		sb.WriteString("{")
		for i, field := range v.Fields {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(field.Name.String())
			sb.WriteString(": ")
			qb.writeValue(sb, field.Value)
		}
		sb.WriteString("}")
	case *ast.EnumValue:
		sb.WriteString(v.Value)
	default:
		sb.WriteString("null")
	}
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
