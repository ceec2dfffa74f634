package loader

import (
	"fmt"
)

// Row is a single GraphQL object returned by an upstream batch field.
type Row = map[string]any

// ExtractRows pulls the row list out of a subgraph data payload. The batch
// response contract is explicit: the rows live under the root field the
// gateway itself queried, so no shape probing is needed.
func ExtractRows(data map[string]any, rootField string) ([]Row, error) {
	raw, ok := data[rootField]
	if !ok {
		return nil, fmt.Errorf("loader: response is missing field %q", rootField)
	}
	if raw == nil {
		return nil, nil
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("loader: field %q is %T, expected a list", rootField, raw)
	}
	rows := make([]Row, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		row, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("loader: field %q contains %T, expected an object", rootField, item)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// GroupByKey buckets rows by the string value of field, preserving insertion
// order inside each bucket. Rows without the field are skipped.
func GroupByKey(rows []Row, field string) map[string][]Row {
	groups := make(map[string][]Row)
	for _, row := range rows {
		key, ok := stringField(row, field)
		if !ok {
			continue
		}
		groups[key] = append(groups[key], row)
	}
	return groups
}

// OrderOneToMany redistributes a flat child-row list back onto the ordered
// key list of a one-to-many batch. Position i of the result holds the rows
// whose foreign key equals keys[i]; keys with no rows get an empty slice,
// never nil.
func OrderOneToMany(keys []string, rows []Row, foreignKey string) [][]Row {
	groups := GroupByKey(rows, foreignKey)
	out := make([][]Row, len(keys))
	for i, key := range keys {
		if group, ok := groups[key]; ok {
			out[i] = group
		} else {
			out[i] = []Row{}
		}
	}
	return out
}

// OrderOneToOne redistributes parent rows onto the ordered key list of a
// one-to-one batch. Position i holds the row whose primary key equals
// keys[i], or nil when absent. Duplicate primary keys are last-write-wins.
func OrderOneToOne(keys []string, rows []Row, primaryKey string) []Row {
	index := make(map[string]Row, len(rows))
	for _, row := range rows {
		if key, ok := stringField(row, primaryKey); ok {
			index[key] = row
		}
	}
	out := make([]Row, len(keys))
	for i, key := range keys {
		out[i] = index[key]
	}
	return out
}

// stringField reads row[field] as a string, accepting the scalar forms JSON
// decoding produces for ID values.
func stringField(row Row, field string) (string, bool) {
	raw, ok := row[field]
	if !ok || raw == nil {
		return "", false
	}
	switch v := raw.(type) {
	case string:
		return v, true
	case float64:
		return fmt.Sprintf("%v", v), true
	case int:
		return fmt.Sprintf("%d", v), true
	default:
		return "", false
	}
}
