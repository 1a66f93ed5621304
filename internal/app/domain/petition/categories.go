package petition

// DefaultCategories is the reference data every backend is seeded with.
func DefaultCategories() []Category {
	return []Category{
		{ID: 1, Name: "Wildlife"},
		{ID: 2, Name: "Environmental Causes"},
		{ID: 3, Name: "Animal Rights"},
		{ID: 4, Name: "Health and Wellness"},
		{ID: 5, Name: "Education"},
		{ID: 6, Name: "Human Rights"},
		{ID: 7, Name: "Technology and Innovation"},
		{ID: 8, Name: "Arts and Culture"},
		{ID: 9, Name: "Community Development"},
		{ID: 10, Name: "Economic Empowerment"},
		{ID: 11, Name: "Science and Research"},
		{ID: 12, Name: "Sports and Recreation"},
	}
}
