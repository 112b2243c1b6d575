package model

import "time"

// ValueType declares how a ContentItem's string value is interpreted.
type ValueType string

const (
	ValueText     ValueType = "text"
	ValueNumber   ValueType = "number"
	ValueDate     ValueType = "date"
	ValueDateTime ValueType = "datetime"
	ValueBoolean  ValueType = "boolean"
)

// String returns the string representation of the value type.
func (v ValueType) String() string {
	return string(v)
}

// IsValid checks whether the value type is a known value.
func (v ValueType) IsValid() bool {
	switch v {
	case ValueText, ValueNumber, ValueDate, ValueDateTime, ValueBoolean:
		return true
	}
	return false
}

// Well-known categories used to group items in the admin panel.
// Categories are open-ended; these are the ones the seed data uses.
const (
	CategoryPricing = "pricing"
	CategoryDates   = "dates"
	CategoryContent = "content"
	CategoryMedia   = "media"
	CategoryContact = "contact"
	CategoryGeneral = "general"
)

// ContentItem is the current value of one editable site field.
type ContentItem struct {
	Key         string    `json:"key"`
	Value       string    `json:"value"`
	ValueType   ValueType `json:"value_type"`
	Category    string    `json:"category"`
	Description string    `json:"description,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
	UpdatedBy   string    `json:"updated_by,omitempty"`
}

// Clone returns a copy of the item.
func (c *ContentItem) Clone() *ContentItem {
	if c == nil {
		return nil
	}
	cp := *c
	return &cp
}
