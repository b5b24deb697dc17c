// Package ocr 定义文字识别接口及其实现。
package ocr

import (
	"context"
	"fmt"
	"image"

	"quarry-go/internal/config"
	"quarry-go/internal/model"
)

// Result 是一次识别的结果：全文以及带位置的分块。
type Result struct {
	Text   string
	Blocks []model.OCRBlock
}

// Recognizer 从图片中识别文字。raw 是上传的原始字节，img 是已解码的图像，
// 实现可以按需选择其一。
type Recognizer interface {
	Recognize(ctx context.Context, img image.Image, raw []byte) (Result, error)
}

// NewRecognizer 根据配置选择识别实现。
func NewRecognizer(cfg config.OCRConfig) (Recognizer, error) {
	switch cfg.Provider {
	case "", "tesseract":
		return NewTesseract(cfg), nil
	case "tika":
		return NewTikaClient(cfg), nil
	default:
		return nil, fmt.Errorf("unknown ocr provider: %q", cfg.Provider)
	}
}
