// Package pipeline 定义了截图导入的核心流程。
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"quarry-go/internal/classify"
	"quarry-go/internal/extract"
	"quarry-go/internal/index"
	"quarry-go/internal/model"
	"quarry-go/pkg/embedding"
	"quarry-go/pkg/log"
	"quarry-go/pkg/ocr"
	"quarry-go/pkg/storage"
)

// ErrDecodeImage 表示上传的字节不是可识别的图片。
var ErrDecodeImage = errors.New("cannot decode image")

// IngestRequest 是一张待导入的图片。
type IngestRequest struct {
	Data       []byte
	Filename   string
	Collection *string
}

// Processor 封装了导入流程的所有依赖。
type Processor struct {
	index      *index.Index
	recognizer ocr.Recognizer
	embedder   embedding.Client
	classifier *classify.Classifier
	artifacts  storage.ArtifactStore
	workers    int
	now        func() time.Time
}

// NewProcessor 创建一个新的 Processor 实例。workers 是批量导入的并发度，<= 0 时为 1。
func NewProcessor(
	idx *index.Index,
	recognizer ocr.Recognizer,
	embedder embedding.Client,
	classifier *classify.Classifier,
	artifacts storage.ArtifactStore,
	workers int,
) *Processor {
	if workers <= 0 {
		workers = 1
	}
	if classifier == nil {
		classifier = classify.New(nil)
	}
	return &Processor{
		index:      idx,
		recognizer: recognizer,
		embedder:   embedder,
		classifier: classifier,
		artifacts:  artifacts,
		workers:    workers,
		now:        time.Now,
	}
}

// Process 导入一张图片：解码、OCR、向量化、抽取实体与类型，最后原子地提交到索引。
// 提交之前的任何失败都不会改变索引。
func (p *Processor) Process(ctx context.Context, req IngestRequest) (*model.IngestResult, error) {
	log.Infof("[Processor] 开始处理图片, FileName: %s, Size: %d", req.Filename, len(req.Data))

	// 1. 解码图片
	img, format, err := image.Decode(bytes.NewReader(req.Data))
	if err != nil {
		log.Warnf("[Processor] 图片解码失败, FileName: %s, Error: %v", req.Filename, err)
		return nil, fmt.Errorf("%w: %s: %v", ErrDecodeImage, req.Filename, err)
	}
	bounds := img.Bounds()
	log.Debugf("[Processor] 步骤1: 解码成功, format: %s, %dx%d", format, bounds.Dx(), bounds.Dy())

	// 2. OCR
	res, err := p.recognizer.Recognize(ctx, img, req.Data)
	if err != nil {
		log.Errorf("[Processor] OCR 失败, FileName: %s, Error: %v", req.Filename, err)
		return nil, fmt.Errorf("ocr %s: %w", req.Filename, err)
	}
	log.Debugf("[Processor] 步骤2: OCR 完成, 文本长度: %d 字符, 分块数: %d", utf8.RuneCountInString(res.Text), len(res.Blocks))

	// 3. 向量化并归一化
	raw, err := p.embedder.CreateEmbedding(ctx, res.Text)
	if err != nil {
		log.Errorf("[Processor] 向量化失败, FileName: %s, Error: %v", req.Filename, err)
		return nil, fmt.Errorf("embed %s: %w", req.Filename, err)
	}
	vec, err := index.Normalize(raw)
	if err != nil {
		return nil, fmt.Errorf("normalize embedding of %s: %w", req.Filename, err)
	}

	// 4. 实体与类型
	entities := extract.Extract(res.Text)
	typeLabel := p.classifier.Classify(res.Text)

	// 5. 提交。附属文件在提交锁内以分配到的 id 写入
	record := model.ImageRecord{
		Filename:   req.Filename,
		Text:       res.Text,
		Width:      bounds.Dx(),
		Height:     bounds.Dy(),
		Collection: req.Collection,
		ImportedAt: p.now().UTC().Format(time.RFC3339),
		TypeLabel:  typeLabel,
		Entities:   entities,
	}
	var imagePath string
	stored, err := p.index.Commit(ctx, vec, func(ctx context.Context, id string) (model.ImageRecord, error) {
		path, err := p.artifacts.StoreImage(ctx, id, img)
		if err != nil {
			return model.ImageRecord{}, fmt.Errorf("store image %s: %w", id, err)
		}
		if err := p.artifacts.StoreBlocks(ctx, id, res.Blocks); err != nil {
			return model.ImageRecord{}, fmt.Errorf("store ocr blocks %s: %w", id, err)
		}
		imagePath = path
		return record, nil
	})
	if err != nil {
		log.Errorf("[Processor] 提交到索引失败, FileName: %s, Error: %v", req.Filename, err)
		return nil, err
	}

	log.Infof("[Processor] 图片处理完成, ID: %s, FileName: %s, type: %v, entities: %d", stored.ID, req.Filename, labelOf(stored.TypeLabel), len(stored.Entities))
	return &model.IngestResult{ImageRecord: stored, ImagePath: imagePath}, nil
}

// BatchItem 是批量导入中一张图片的结果，Err 与 Result 二者有且只有一个非空。
type BatchItem struct {
	Filename string
	Result   *model.IngestResult
	Err      error
}

// ProcessBatch 以有限并发导入一批图片，结果顺序与输入一致，单张失败不影响其他图片。
// 全部完成后把索引整体落盘一次。
func (p *Processor) ProcessBatch(ctx context.Context, reqs []IngestRequest) ([]BatchItem, error) {
	log.Infof("[Processor] 开始批量导入, 数量: %d, 并发: %d", len(reqs), p.workers)

	items := make([]BatchItem, len(reqs))
	sem := semaphore.NewWeighted(int64(p.workers))
	g, gctx := errgroup.WithContext(ctx)
	for i, req := range reqs {
		items[i].Filename = req.Filename
		if err := sem.Acquire(gctx, 1); err != nil {
			items[i].Err = err
			continue
		}
		g.Go(func() error {
			defer sem.Release(1)
			res, err := p.Process(gctx, req)
			items[i].Result, items[i].Err = res, err
			return nil
		})
	}
	_ = g.Wait()

	if err := p.index.Save(); err != nil {
		return items, fmt.Errorf("save index: %w", err)
	}

	failed := 0
	for _, it := range items {
		if it.Err != nil {
			failed++
		}
	}
	log.Infof("[Processor] 批量导入完成, 成功: %d, 失败: %d", len(items)-failed, failed)
	return items, nil
}

func labelOf(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}
