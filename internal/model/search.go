package model

// SearchResult 定义了返回给前端的搜索结果结构。
type SearchResult struct {
	ImageRecord
	Score     float32 `json:"score"`
	ImagePath string  `json:"image_path"`
}

// ExportedImage 是 /export.json 中的一条记录。
type ExportedImage struct {
	ImageRecord
	ImagePath string `json:"image_path"`
}

// IngestResult 是单张图片导入成功后的返回值。
type IngestResult struct {
	ImageRecord
	ImagePath string `json:"image_path"`
}

// OCRView 是某张图片的 OCR 分块，以及每个实体类别命中的分块下标。
type OCRView struct {
	Blocks          []OCRBlock       `json:"blocks"`
	EntityBlockIdxs map[string][]int `json:"entity_block_idxs"`
}

// SearchResponse 是 /search 的返回值，Query 为合并相册规则后实际使用的查询。
type SearchResponse struct {
	Query   string         `json:"query"`
	Results []SearchResult `json:"results"`
}
