package ocr

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"net/http"
	"strings"
	"time"

	"quarry-go/internal/config"
	"quarry-go/internal/model"
)

// TikaClient 是 Tika 服务器的客户端。Tika 只返回纯文本，因此没有分块。
type TikaClient struct {
	serverURL string
	client    *http.Client
}

// NewTikaClient 创建一个新的 Tika 客户端实例。
func NewTikaClient(cfg config.OCRConfig) *TikaClient {
	return &TikaClient{
		serverURL: strings.TrimRight(cfg.TikaURL, "/"),
		client:    &http.Client{Timeout: 2 * time.Minute},
	}
}

// Recognize 把原始字节 PUT 到 /tika，内容类型由字节嗅探得到。
func (c *TikaClient) Recognize(ctx context.Context, _ image.Image, raw []byte) (Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.serverURL+"/tika", bytes.NewReader(raw))
	if err != nil {
		return Result{}, fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("Accept", "text/plain")
	req.Header.Set("Content-Type", http.DetectContentType(raw))

	resp, err := c.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("调用 Tika 失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Result{}, fmt.Errorf("Tika 返回错误 [%d]: %s", resp.StatusCode, string(body))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("读取 Tika 响应失败: %w", err)
	}
	return Result{
		Text:   strings.Join(strings.Fields(string(body)), " "),
		Blocks: []model.OCRBlock{},
	}, nil
}
