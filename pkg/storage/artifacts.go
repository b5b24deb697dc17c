package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"

	"quarry-go/internal/model"
)

const (
	jpegQuality = 85

	ocrPrefix     = "ocr/"
	stagingPrefix = "staging/"
)

// ArtifactStore 保存以记录 id 为键的附属文件：预览原图与 OCR 分块，以及异步上传的暂存字节。
type ArtifactStore interface {
	// StoreImage 把图片重新编码为 JPEG 保存，返回相对路径 images/<id>.jpg。
	StoreImage(ctx context.Context, id string, img image.Image) (string, error)
	LoadImage(ctx context.Context, id string) ([]byte, error)
	StoreBlocks(ctx context.Context, id string, blocks []model.OCRBlock) error
	// LoadBlocks 读取分块，不存在时返回 ErrNotFound。
	LoadBlocks(ctx context.Context, id string) ([]model.OCRBlock, error)

	PutStaging(ctx context.Context, key string, data []byte) error
	GetStaging(ctx context.Context, key string) ([]byte, error)
	DeleteStaging(ctx context.Context, key string) error
}

type artifactStore struct {
	blobs BlobStore
}

// NewArtifactStore 在 blobs 之上实现 ArtifactStore。
func NewArtifactStore(blobs BlobStore) ArtifactStore {
	return &artifactStore{blobs: blobs}
}

type blocksFile struct {
	Blocks []model.OCRBlock `json:"blocks"`
}

func (s *artifactStore) StoreImage(ctx context.Context, id string, img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return "", fmt.Errorf("encode jpeg for %s: %w", id, err)
	}
	key := model.ImagePath(id)
	if err := s.blobs.Put(ctx, key, buf.Bytes()); err != nil {
		return "", err
	}
	return key, nil
}

func (s *artifactStore) LoadImage(ctx context.Context, id string) ([]byte, error) {
	return s.blobs.Get(ctx, model.ImagePath(id))
}

func (s *artifactStore) StoreBlocks(ctx context.Context, id string, blocks []model.OCRBlock) error {
	if blocks == nil {
		blocks = []model.OCRBlock{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(blocksFile{Blocks: blocks}); err != nil {
		return fmt.Errorf("encode ocr blocks for %s: %w", id, err)
	}
	return s.blobs.Put(ctx, ocrPrefix+id+".json", buf.Bytes())
}

func (s *artifactStore) LoadBlocks(ctx context.Context, id string) ([]model.OCRBlock, error) {
	data, err := s.blobs.Get(ctx, ocrPrefix+id+".json")
	if err != nil {
		return nil, err
	}
	var f blocksFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode ocr blocks for %s: %w", id, err)
	}
	if f.Blocks == nil {
		f.Blocks = []model.OCRBlock{}
	}
	return f.Blocks, nil
}

func (s *artifactStore) PutStaging(ctx context.Context, key string, data []byte) error {
	return s.blobs.Put(ctx, stagingPrefix+key, data)
}

func (s *artifactStore) GetStaging(ctx context.Context, key string) ([]byte, error) {
	return s.blobs.Get(ctx, stagingPrefix+key)
}

func (s *artifactStore) DeleteStaging(ctx context.Context, key string) error {
	return s.blobs.Delete(ctx, stagingPrefix+key)
}
