package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"quarry-go/internal/index"
	"quarry-go/internal/model"
	"quarry-go/pkg/storage"
)

var (
	// ErrImageNotFound 表示索引中没有该 id。
	ErrImageNotFound = errors.New("image not found")
	// ErrOCRNotFound 表示该图片没有保存 OCR 分块。
	ErrOCRNotFound = errors.New("ocr not found")
)

// ImageService 提供单张图片的元数据、原图、OCR 分块查看以及全量导出。
type ImageService interface {
	Get(id string) (*model.ImageRecord, error)
	Image(ctx context.Context, id string) ([]byte, error)
	OCR(ctx context.Context, id string) (*model.OCRView, error)
	Export() []model.ExportedImage
}

type imageService struct {
	index     *index.Index
	artifacts storage.ArtifactStore
}

// NewImageService 创建一个新的 ImageService 实例。
func NewImageService(idx *index.Index, artifacts storage.ArtifactStore) ImageService {
	return &imageService{index: idx, artifacts: artifacts}
}

func (s *imageService) Get(id string) (*model.ImageRecord, error) {
	rec, ok := s.index.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrImageNotFound, id)
	}
	return &rec, nil
}

func (s *imageService) Image(ctx context.Context, id string) ([]byte, error) {
	data, err := s.artifacts.LoadImage(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrImageNotFound, id)
	}
	return data, err
}

// OCR 返回分块，并把每个实体值按忽略大小写的子串匹配映射到分块下标。
func (s *imageService) OCR(ctx context.Context, id string) (*model.OCRView, error) {
	blocks, err := s.artifacts.LoadBlocks(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrOCRNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	view := &model.OCRView{Blocks: blocks, EntityBlockIdxs: map[string][]int{}}
	rec, ok := s.index.Get(id)
	if !ok {
		return view, nil
	}
	view.EntityBlockIdxs = MapEntitiesToBlocks(rec.Entities, blocks)
	return view, nil
}

// MapEntitiesToBlocks 对每个类别收集包含其任一取值的分块下标，升序去重；没有命中的类别不出现。
func MapEntitiesToBlocks(entities model.Entities, blocks []model.OCRBlock) map[string][]int {
	out := make(map[string][]int)
	lowered := make([]string, len(blocks))
	for i, b := range blocks {
		lowered[i] = strings.ToLower(b.Text)
	}
	for category, values := range entities {
		seen := make(map[int]bool)
		for _, v := range values {
			needle := strings.ToLower(strings.TrimSpace(v))
			if needle == "" {
				continue
			}
			for i, text := range lowered {
				if strings.Contains(text, needle) {
					seen[i] = true
				}
			}
		}
		if len(seen) == 0 {
			continue
		}
		idxs := make([]int, 0, len(seen))
		for i := range seen {
			idxs = append(idxs, i)
		}
		sort.Ints(idxs)
		out[category] = idxs
	}
	return out
}

func (s *imageService) Export() []model.ExportedImage {
	records := s.index.List()
	out := make([]model.ExportedImage, len(records))
	for i, rec := range records {
		out[i] = model.ExportedImage{ImageRecord: rec, ImagePath: model.ImagePath(rec.ID)}
	}
	return out
}
