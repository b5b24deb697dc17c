// Package tasks defines the structure for tasks that are sent to Kafka.
package tasks

import (
	"encoding/json"
	"errors"
	"fmt"
)

// IngestTask 是一张已暂存、等待异步导入的图片。
// StagingKey 指向 ArtifactStore 中 staging/ 下的原始字节。
type IngestTask struct {
	ID         string  `json:"id"`
	StagingKey string  `json:"staging_key"`
	Filename   string  `json:"filename"`
	Collection *string `json:"collection,omitempty"`
}

// Decode 解析一条 Kafka 消息，缺少必要字段时返回错误。
func Decode(data []byte) (IngestTask, error) {
	var task IngestTask
	if err := json.Unmarshal(data, &task); err != nil {
		return IngestTask{}, fmt.Errorf("decode ingest task: %w", err)
	}
	if task.ID == "" || task.StagingKey == "" {
		return IngestTask{}, errors.New("ingest task missing id or staging_key")
	}
	return task, nil
}
