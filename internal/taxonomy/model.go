package taxonomy

import "time"

const defaultColor = "#007bff"

// Category organizes articles into a self-referential hierarchy.
type Category struct {
	ID          string    `gorm:"column:id;primaryKey;size:36;not null"`
	Name        string    `gorm:"column:name;size:100;not null;uniqueIndex"`
	Slug        string    `gorm:"column:slug;size:100;not null;uniqueIndex"`
	Description string    `gorm:"column:description;type:text"`
	Color       string    `gorm:"column:color;size:7;not null;default:'#007bff'"`
	ParentID    *string   `gorm:"column:parent_id;size:36;index"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing categories.
func (Category) TableName() string {
	return "categories"
}
