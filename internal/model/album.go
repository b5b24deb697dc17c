package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"gorm.io/gorm"
)

// AlbumRule 是相册保存的检索条件。空字段表示不约束。
type AlbumRule struct {
	Q          string `json:"q,omitempty"`
	Collection string `json:"collection,omitempty"`
	EntityType string `json:"entity_type,omitempty"`
	StartDate  string `json:"start_date,omitempty"`
	EndDate    string `json:"end_date,omitempty"`
}

// Value 实现 driver.Valuer，规则以 JSON 文本入库。
func (r AlbumRule) Value() (driver.Value, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan 实现 sql.Scanner。
func (r *AlbumRule) Scan(value interface{}) error {
	var data []byte
	switch v := value.(type) {
	case nil:
		*r = AlbumRule{}
		return nil
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return fmt.Errorf("unsupported album rule type %T", value)
	}
	return json.Unmarshal(data, r)
}

// Album 对应于数据库中的 'albums' 表。
// 删除为软删除，Seq 因此只增不减，id 不会被复用。
type Album struct {
	ID        string         `gorm:"type:varchar(32);primaryKey" json:"id"`
	Name      string         `gorm:"type:varchar(255);not null" json:"name"`
	Rule      AlbumRule      `gorm:"type:text" json:"rule"`
	Seq       int64          `gorm:"not null;index" json:"-"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Album) TableName() string {
	return "albums"
}
