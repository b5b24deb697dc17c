package handler

import (
	"github.com/gin-gonic/gin"

	"quarry-go/internal/middleware"
)

// Handlers 汇总所有路由需要的处理器。
type Handlers struct {
	Index  *IndexHandler
	Search *SearchHandler
	Image  *ImageHandler
	Album  *AlbumHandler
}

// NewRouter 注册全部路由。
func NewRouter(h Handlers) *gin.Engine {
	r := gin.New()
	r.MaxMultipartMemory = 64 << 20
	r.Use(middleware.RequestLogger(), middleware.CORS(), gin.Recovery())

	r.GET("/health", Health)
	r.POST("/index", h.Index.Index)
	r.GET("/search", h.Search.Search)

	r.GET("/image/:id", h.Image.Get)
	r.GET("/image/:id/ocr", h.Image.OCR)
	r.GET("/images/:file", h.Image.File)
	r.GET("/export.json", h.Image.Export)

	albums := r.Group("/albums")
	{
		albums.GET("", h.Album.List)
		albums.POST("", h.Album.Create)
		albums.POST("/:id/rename", h.Album.Rename)
		albums.DELETE("/:id", h.Album.Delete)
	}
	return r
}
