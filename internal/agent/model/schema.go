package model

import "sort"

// Schema lists the keys a step's document must carry. Nested keys use dotted
// paths, e.g. "course_info.title".
type Schema struct {
	Required []string `yaml:"required" json:"required"`
}

// Missing returns the required paths absent from d, sorted.
func (s Schema) Missing(d Document) []string {
	var missing []string
	for _, path := range s.Required {
		if _, ok := d.Lookup(path); !ok {
			missing = append(missing, path)
		}
	}
	sort.Strings(missing)
	return missing
}
