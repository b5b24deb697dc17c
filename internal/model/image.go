// Package model 包含了应用的数据模型定义。
package model

// 实体类别，闭集。
const (
	EntityURL    = "url"
	EntityEmail  = "email"
	EntityPhone  = "phone"
	EntityDate   = "date"
	EntityAmount = "amount"
	EntityCode   = "code"
)

// EntityCategories 按固定顺序列出所有实体类别。
var EntityCategories = []string{EntityURL, EntityEmail, EntityPhone, EntityDate, EntityAmount, EntityCode}

// Entities 将实体类别映射到去重后的匹配子串。只有非空类别才会出现。
type Entities map[string][]string

// Has 判断某个类别是否存在且非空。
func (e Entities) Has(category string) bool {
	return len(e[category]) > 0
}

// ImageRecord 是元数据日志中的一行，与向量索引中同一行的向量一一对应。
// 写入后不再修改。
type ImageRecord struct {
	ID         string   `json:"id"`
	Filename   string   `json:"filename"`
	Text       string   `json:"text"`
	Width      int      `json:"width"`
	Height     int      `json:"height"`
	Collection *string  `json:"collection"`
	ImportedAt string   `json:"imported_at"`
	TypeLabel  *string  `json:"type_label"`
	Entities   Entities `json:"entities"`
}

// BBox 是 OCR 分块的像素包围盒。
type BBox struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// OCRBlock 是识别出的一个文本片段。Conf 取值 0-100，无法解析时为 -1。
type OCRBlock struct {
	Text string  `json:"text"`
	Conf float64 `json:"conf"`
	BBox BBox    `json:"bbox"`
}

// ImagePath 返回记录对应原图的相对路径。
func ImagePath(id string) string {
	return "images/" + id + ".jpg"
}
