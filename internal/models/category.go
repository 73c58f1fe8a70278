package models

import (
	"fmt"
	"strings"
)

type Category string

const (
	CategoryFurniture  Category = "furniture"
	CategoryElectrical Category = "electrical"
	CategoryPlumbing   Category = "plumbing"
	CategoryCleaning   Category = "cleaning"
	CategoryEquipment  Category = "equipment"
	CategoryOther      Category = "other"
)

// Categories lists every category in menu order.
var Categories = []Category{
	CategoryFurniture,
	CategoryElectrical,
	CategoryPlumbing,
	CategoryCleaning,
	CategoryEquipment,
	CategoryOther,
}

var categoryLabels = map[Category]string{
	CategoryFurniture:  "🪑 Furniture",
	CategoryElectrical: "💡 Electrical",
	CategoryPlumbing:   "🚰 Plumbing",
	CategoryCleaning:   "🧹 Cleaning",
	CategoryEquipment:  "🖥️ Equipment",
	CategoryOther:      "❓ Other",
}

// Label returns the keyboard label shown to users.
func (c Category) Label() string {
	if l, ok := categoryLabels[c]; ok {
		return l
	}
	return string(c)
}

func (c Category) Valid() bool {
	_, ok := categoryLabels[c]
	return ok
}

// CategoryFromLabel maps a keyboard label back to its category.
func CategoryFromLabel(label string) (Category, bool) {
	label = strings.TrimSpace(label)
	for c, l := range categoryLabels {
		if l == label {
			return c, true
		}
	}
	return "", false
}

// ParseCategory parses a category code as written in configuration files.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("unknown category %q", s)
	}
	return c, nil
}
