package config

// DefaultTables returns the timtracker tables this tool was built to move.
// Order here is informational only; the orchestrator recomputes the copy
// order from the declared dependencies.
func DefaultTables() []Table {
	return []Table{
		{
			Name: "people",
			Columns: []string{
				"id", "name", "note", "gender", "importance", "alive",
				"tag", "relationships", "created_at", "updated_at",
			},
			IdentityColumn: "id",
		},
		{
			Name: "meal_logs",
			Columns: []string{
				"id", "user_id", "description", "health_score",
				"health_comment", "date", "created_at", "updated_at",
			},
			IdentityColumn: "id",
		},
		{
			// Composite primary key on (user_id, date), no identity column.
			Name: "daily_meal_scores",
			Columns: []string{
				"user_id", "date", "health_score", "health_comment",
				"created_at", "updated_at",
			},
		},
		{
			Name: "interactions",
			Columns: []string{
				"id", "user_id", "person_id", "interaction_type",
				"date", "note", "created_at", "updated_at",
			},
			IdentityColumn: "id",
			DependsOn:      []string{"people"},
		},
	}
}
