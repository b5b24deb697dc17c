package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"quarry-go/internal/service"
	"quarry-go/pkg/log"
)

// SearchHandler 结构体定义了检索相关的处理器。
type SearchHandler struct {
	searchService service.SearchService
}

// NewSearchHandler 创建一个新的 SearchHandler 实例。
func NewSearchHandler(searchService service.SearchService) *SearchHandler {
	return &SearchHandler{
		searchService: searchService,
	}
}

// Search 处理 GET /search。k 缺省时使用默认值，非正整数返回 400。
func (h *SearchHandler) Search(c *gin.Context) {
	req := service.SearchRequest{
		Query:   c.Query("q"),
		AlbumID: c.Query("album_id"),
		Filters: service.Filters{
			Collection: optionalString(c.Query("collection")),
			EntityType: optionalString(c.Query("entity_type")),
			StartDate:  optionalString(c.Query("start_date")),
			EndDate:    optionalString(c.Query("end_date")),
			TypeLabel:  optionalString(c.Query("type_label")),
		},
	}
	if ks := c.Query("k"); ks != "" {
		k, err := strconv.Atoi(ks)
		if err != nil || k <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "无效的参数 k"})
			return
		}
		req.K = k
	}

	resp, err := h.searchService.Search(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, service.ErrAlbumNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "album not found"})
			return
		}
		log.Errorf("[SearchHandler] 检索失败, error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, resp)
}
