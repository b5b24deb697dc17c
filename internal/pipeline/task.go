package pipeline

import (
	"context"
	"errors"
	"fmt"

	"quarry-go/pkg/log"
	"quarry-go/pkg/storage"
	"quarry-go/pkg/tasks"
)

// TaskHandler 把 Kafka 中的异步导入任务接到 Processor 上。
type TaskHandler struct {
	processor *Processor
}

// NewTaskHandler 创建一个 TaskHandler。
func NewTaskHandler(p *Processor) *TaskHandler {
	return &TaskHandler{processor: p}
}

// Process 读取暂存字节并导入，成功后删除暂存文件并落盘索引。
// 暂存文件已不存在说明任务之前已经成功处理过，直接视为成功。
func (h *TaskHandler) Process(ctx context.Context, task tasks.IngestTask) error {
	p := h.processor
	log.Infof("[TaskHandler] 开始处理导入任务, ID: %s, FileName: %s", task.ID, task.Filename)

	data, err := p.artifacts.GetStaging(ctx, task.StagingKey)
	if errors.Is(err, storage.ErrNotFound) {
		log.Warnf("[TaskHandler] 暂存文件不存在, 跳过任务, ID: %s", task.ID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load staged upload %s: %w", task.StagingKey, err)
	}

	res, err := p.Process(ctx, IngestRequest{
		Data:       data,
		Filename:   task.Filename,
		Collection: task.Collection,
	})
	if err != nil {
		if errors.Is(err, ErrDecodeImage) {
			// 重试无法修复坏图片
			log.Warnf("[TaskHandler] 图片无法解码, 丢弃任务, ID: %s", task.ID)
			_ = p.artifacts.DeleteStaging(ctx, task.StagingKey)
			return nil
		}
		return err
	}
	// 提交已经落盘，此后的失败不能让任务被重投，否则同一张图会重复入库
	if err := p.artifacts.DeleteStaging(ctx, task.StagingKey); err != nil {
		log.Warnf("[TaskHandler] 删除暂存文件失败, key: %s, error: %v", task.StagingKey, err)
	}
	if err := p.index.Save(); err != nil {
		log.Errorf("[TaskHandler] 索引落盘失败, 记录已追加写入, TaskID: %s, error: %v", task.ID, err)
	}
	log.Infof("[TaskHandler] 导入任务完成, TaskID: %s, ImageID: %s", task.ID, res.ID)
	return nil
}
