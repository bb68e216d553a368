package gormrepo

import (
	"time"

	"gorm.io/datatypes"
)

type apiModel struct {
	ID        string `gorm:"primaryKey"`
	Name      string `gorm:"not null"`
	Source    string
	RawData   []byte
	CreatedAt time.Time
}

func (apiModel) TableName() string { return "apis" }

type mcpModel struct {
	ID        string `gorm:"primaryKey"`
	Name      string `gorm:"not null"`
	Transport string
	Port      int
	// ApiGroups holds the JSON-encoded map of api id to group.
	ApiGroups datatypes.JSON
	Version   int64 `gorm:"not null"`
	UpdatedAt time.Time
}

func (mcpModel) TableName() string { return "mcps" }

type overrideModel struct {
	ServerID  string `gorm:"primaryKey"`
	ToolName  string `gorm:"primaryKey"`
	Transform datatypes.JSON
	UpdatedAt time.Time
}

func (overrideModel) TableName() string { return "tool_overrides" }
