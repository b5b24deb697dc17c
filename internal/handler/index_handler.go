// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"quarry-go/internal/model"
	"quarry-go/internal/pipeline"
	"quarry-go/pkg/log"
	"quarry-go/pkg/storage"
	"quarry-go/pkg/tasks"
)

// maxUploadSize 是单个上传文件的大小上限。
const maxUploadSize = 32 << 20

// EnqueueFunc 把导入任务投递到异步队列。
type EnqueueFunc func(ctx context.Context, task tasks.IngestTask) error

// IndexHandler 负责处理图片导入请求。
type IndexHandler struct {
	processor *pipeline.Processor
	artifacts storage.ArtifactStore
	enqueue   EnqueueFunc
}

// NewIndexHandler 创建一个新的 IndexHandler 实例。enqueue 为 nil 时不支持异步导入。
func NewIndexHandler(processor *pipeline.Processor, artifacts storage.ArtifactStore, enqueue EnqueueFunc) *IndexHandler {
	return &IndexHandler{processor: processor, artifacts: artifacts, enqueue: enqueue}
}

type failedUpload struct {
	Filename string `json:"filename"`
	Error    string `json:"error"`
}

type queuedUpload struct {
	TaskID   string `json:"task_id"`
	Filename string `json:"filename"`
}

// Index 处理 multipart 上传：字段 files 可以有多个，collection 可选，async=true 时异步导入。
func (h *IndexHandler) Index(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的上传表单"})
		return
	}
	files := form.File["files"]
	if len(files) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少上传文件 files"})
		return
	}
	collection := optionalString(c.PostForm("collection"))
	async, _ := strconv.ParseBool(c.PostForm("async"))
	log.Infof("[IndexHandler] 收到导入请求, 文件数: %d, async: %v", len(files), async)

	reqs := make([]pipeline.IngestRequest, 0, len(files))
	for _, fh := range files {
		data, err := readUpload(fh)
		if err != nil {
			log.Warnf("[IndexHandler] 读取上传文件失败, FileName: %s, Error: %v", fh.Filename, err)
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("读取文件 %s 失败: %v", fh.Filename, err)})
			return
		}
		reqs = append(reqs, pipeline.IngestRequest{Data: data, Filename: fh.Filename, Collection: collection})
	}

	if async {
		h.indexAsync(c, reqs)
		return
	}

	items, err := h.processor.ProcessBatch(c.Request.Context(), reqs)
	if err != nil {
		log.Errorf("[IndexHandler] 导入失败, error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	indexed := make([]*model.IngestResult, 0, len(items))
	failed := make([]failedUpload, 0)
	for _, it := range items {
		if it.Err != nil {
			failed = append(failed, failedUpload{Filename: it.Filename, Error: it.Err.Error()})
			continue
		}
		indexed = append(indexed, it.Result)
	}
	c.JSON(http.StatusOK, gin.H{"indexed": indexed, "failed": failed})
}

func (h *IndexHandler) indexAsync(c *gin.Context, reqs []pipeline.IngestRequest) {
	if h.enqueue == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "异步导入未启用"})
		return
	}
	ctx := c.Request.Context()
	queued := make([]queuedUpload, 0, len(reqs))
	for _, req := range reqs {
		task := tasks.IngestTask{
			ID:         uuid.NewString(),
			Filename:   req.Filename,
			Collection: req.Collection,
		}
		task.StagingKey = task.ID
		if err := h.artifacts.PutStaging(ctx, task.StagingKey, req.Data); err != nil {
			log.Errorf("[IndexHandler] 暂存上传文件失败, FileName: %s, error: %v", req.Filename, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "暂存上传文件失败"})
			return
		}
		if err := h.enqueue(ctx, task); err != nil {
			log.Errorf("[IndexHandler] 投递导入任务失败, TaskID: %s, error: %v", task.ID, err)
			_ = h.artifacts.DeleteStaging(ctx, task.StagingKey)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "投递导入任务失败"})
			return
		}
		queued = append(queued, queuedUpload{TaskID: task.ID, Filename: task.Filename})
	}
	c.JSON(http.StatusAccepted, gin.H{"queued": queued})
}

func readUpload(fh *multipart.FileHeader) ([]byte, error) {
	if fh.Size > maxUploadSize {
		return nil, fmt.Errorf("文件超过 %d 字节", maxUploadSize)
	}
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(io.LimitReader(f, maxUploadSize+1))
}

// optionalString 把空字符串视为未提供。
func optionalString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
