// Package main 是应用程序的入口点。
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"quarry-go/internal/classify"
	"quarry-go/internal/config"
	"quarry-go/internal/handler"
	"quarry-go/internal/index"
	"quarry-go/internal/model"
	"quarry-go/internal/pipeline"
	"quarry-go/internal/repository"
	"quarry-go/internal/service"
	"quarry-go/pkg/database"
	"quarry-go/pkg/embedding"
	"quarry-go/pkg/kafka"
	"quarry-go/pkg/log"
	"quarry-go/pkg/ocr"
	"quarry-go/pkg/storage"
)

const defaultConfigPath = "./configs/config.yaml"

func main() {
	// 1. 初始化配置
	configPath := os.Getenv("QUARRY_CONFIG")
	if configPath == "" {
		configPath = defaultConfigPath
	}
	config.Init(configPath)
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	// 3. 打开索引
	idx, err := index.Open(cfg.Store.DataDir, cfg.Store.Dimension)
	if err != nil {
		log.Fatal("打开索引失败", err)
	}

	// 4. 初始化外部依赖
	rootCtx, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()

	blobs, err := storage.NewBlobStore(rootCtx, cfg.Storage, cfg.Store.DataDir)
	if err != nil {
		log.Fatal("初始化存储失败", err)
	}
	artifacts := storage.NewArtifactStore(blobs)

	recognizer, err := ocr.NewRecognizer(cfg.OCR)
	if err != nil {
		log.Fatal("初始化 OCR 失败", err)
	}
	embeddingClient := embedding.NewClient(cfg.Embedding)
	if d := embeddingClient.Dimensions(); d > 0 && d != cfg.Store.Dimension {
		log.Fatalf("embedding.dimensions (%d) 与 store.dimension (%d) 不一致", d, cfg.Store.Dimension)
	}

	database.InitDB(cfg.Database)
	if err := database.DB.AutoMigrate(&model.Album{}); err != nil {
		log.Fatal("相册表迁移失败", err)
	}

	// 5. 初始化 Repository 与 Service (依赖注入)
	albumRepo := repository.NewAlbumRepository(database.DB)
	albumService := service.NewAlbumService(albumRepo)
	searchService := service.NewSearchService(idx, embeddingClient, albumService)
	imageService := service.NewImageService(idx, artifacts)

	// 6. 初始化导入管道 (Processor)
	processor := pipeline.NewProcessor(idx, recognizer, embeddingClient, classify.New(nil), artifacts, cfg.Pipeline.Workers)
	if cfg.Pipeline.SeedDir != "" {
		go func() {
			if _, err := processor.ImportDir(rootCtx, cfg.Pipeline.SeedDir); err != nil {
				log.Error("初始化导入失败", err)
			}
		}()
	}

	// 7. 启动后台 Kafka 消费者
	var enqueue handler.EnqueueFunc
	var consumers sync.WaitGroup
	if cfg.Kafka.Enabled {
		database.InitRedis(cfg.Redis)
		kafka.InitProducer(cfg.Kafka)
		enqueue = kafka.ProduceIngestTask

		counter := database.NewRedisAttemptCounter(database.RDB, kafka.AttemptsKey)
		consumers.Add(1)
		go func() {
			defer consumers.Done()
			kafka.StartConsumer(rootCtx, cfg.Kafka, pipeline.NewTaskHandler(processor), counter)
		}()
	}

	// 8. 设置 Gin 模式并注册路由
	gin.SetMode(cfg.Server.Mode)
	r := handler.NewRouter(handler.Handlers{
		Index:  handler.NewIndexHandler(processor, artifacts, enqueue),
		Search: handler.NewSearchHandler(searchService),
		Image:  handler.NewImageHandler(imageService),
		Album:  handler.NewAlbumHandler(albumService),
	})

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// 关闭 HTTP 服务器，等待进行中的导入请求结束
	if err := srv.Shutdown(ctx); err != nil {
		log.Errorf("HTTP 服务器关闭失败: %v", err)
	}

	// 停止 Kafka 消费者
	cancelRoot()
	consumers.Wait()
	if err := kafka.CloseProducer(); err != nil {
		log.Errorf("关闭 Kafka 生产者失败: %v", err)
	}

	// 索引落盘
	if err := idx.Close(); err != nil {
		log.Errorf("索引落盘失败: %v", err)
	}
	log.Info("服务已优雅关闭")
}
