package graph

// UserExpenseRelationships declares the two fields stitched across the user
// and expense services: User.expenses resolved through the expense service's
// batched expensesByUsers query, and Expense.user resolved through the user
// service's batched users query.
func UserExpenseRelationships(userService, expenseService string) []Relationship {
	return []Relationship{
		{
			ParentType:   "User",
			FieldName:    "expenses",
			TargetType:   "Expense",
			SelectionSet: []string{"id"},
			KeyField:     "id",
			Cardinality:  OneToMany,
			Source:       expenseService,
			BatchField:   "expensesByUsers",
			BatchArg:     "userIds",
			GroupKey:     "userId",
		},
		{
			ParentType:   "Expense",
			FieldName:    "user",
			TargetType:   "User",
			SelectionSet: []string{"userId"},
			KeyField:     "userId",
			Cardinality:  OneToOne,
			Source:       userService,
			BatchField:   "users",
			BatchArg:     "ids",
			GroupKey:     "id",
		},
	}
}
