package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"quarry-go/internal/model"
	"quarry-go/internal/service"
	"quarry-go/pkg/log"
)

// AlbumHandler 负责相册的增删改查。
type AlbumHandler struct {
	albumService service.AlbumService
}

// NewAlbumHandler 创建一个新的 AlbumHandler 实例。
func NewAlbumHandler(albumService service.AlbumService) *AlbumHandler {
	return &AlbumHandler{albumService: albumService}
}

// List 处理 GET /albums。
func (h *AlbumHandler) List(c *gin.Context) {
	albums, err := h.albumService.List()
	if err != nil {
		log.Error("[AlbumHandler] 获取相册列表失败", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "服务器内部错误"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"albums": albums})
}

// Create 处理 POST /albums，表单字段 name 与 rule（JSON 文本）。
func (h *AlbumHandler) Create(c *gin.Context) {
	name := c.PostForm("name")
	var rule model.AlbumRule
	if raw := c.PostForm("rule"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &rule); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "rule 不是合法的 JSON: " + err.Error()})
			return
		}
	}
	album, err := h.albumService.Create(name, rule)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"album": album})
}

// Rename 处理 POST /albums/:id/rename。
func (h *AlbumHandler) Rename(c *gin.Context) {
	album, err := h.albumService.Rename(c.Param("id"), c.PostForm("name"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"album": album})
}

// Delete 处理 DELETE /albums/:id。
func (h *AlbumHandler) Delete(c *gin.Context) {
	if err := h.albumService.Delete(c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

func (h *AlbumHandler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrAlbumNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "album not found"})
	case errors.Is(err, service.ErrInvalidAlbum):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		log.Error("[AlbumHandler] 相册操作失败", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "服务器内部错误"})
	}
}
