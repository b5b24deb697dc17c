package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"quarry-go/internal/service"
	"quarry-go/pkg/log"
)

// ImageHandler 提供单张图片的元数据、原图与 OCR 查看，以及全量导出。
type ImageHandler struct {
	imageService service.ImageService
}

// NewImageHandler 创建一个新的 ImageHandler 实例。
func NewImageHandler(imageService service.ImageService) *ImageHandler {
	return &ImageHandler{imageService: imageService}
}

// Get 处理 GET /image/:id。
func (h *ImageHandler) Get(c *gin.Context) {
	rec, err := h.imageService.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "image not found"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

// OCR 处理 GET /image/:id/ocr。
func (h *ImageHandler) OCR(c *gin.Context) {
	view, err := h.imageService.OCR(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, service.ErrOCRNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "ocr not found"})
			return
		}
		log.Errorf("[ImageHandler] 读取 OCR 失败, id: %s, error: %v", c.Param("id"), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, view)
}

// File 处理 GET /images/:file，file 形如 <id>.jpg。
func (h *ImageHandler) File(c *gin.Context) {
	id, ok := strings.CutSuffix(c.Param("file"), ".jpg")
	if !ok || id == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "image not found"})
		return
	}
	data, err := h.imageService.Image(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrImageNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "image not found"})
			return
		}
		log.Errorf("[ImageHandler] 读取原图失败, id: %s, error: %v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Header("Cache-Control", "public, max-age=86400")
	c.Data(http.StatusOK, "image/jpeg", data)
}

// Export 处理 GET /export.json。
func (h *ImageHandler) Export(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"images": h.imageService.Export()})
}

// Health 处理 GET /health。
func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
