// Package kafka 提供了与 Kafka 消息队列交互的功能，用于异步导入。
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/segmentio/kafka-go"

	"quarry-go/internal/config"
	"quarry-go/pkg/log"
	"quarry-go/pkg/tasks"
)

// maxAttempts 是一个任务最多处理的次数，之后提交 offset 放弃重试。
const maxAttempts = 3

// TaskProcessor defines the interface for any service that can process a task.
// This decouples the Kafka consumer from the concrete pipeline implementation.
type TaskProcessor interface {
	Process(ctx context.Context, task tasks.IngestTask) error
}

// AttemptCounter 记录任务失败次数。
type AttemptCounter interface {
	Incr(ctx context.Context, taskID string) (int64, error)
	Reset(ctx context.Context, taskID string) error
}

var producer *kafka.Writer

func brokers(cfg config.KafkaConfig) []string {
	var out []string
	for _, b := range strings.Split(cfg.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// InitProducer 初始化 Kafka 生产者。
func InitProducer(cfg config.KafkaConfig) {
	producer = &kafka.Writer{
		Addr:                   kafka.TCP(brokers(cfg)...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
	}
	log.Info("Kafka 生产者初始化成功")
}

// ProduceIngestTask 发送一个导入任务到 Kafka。
func ProduceIngestTask(ctx context.Context, task tasks.IngestTask) error {
	if producer == nil {
		return errors.New("kafka producer not initialized")
	}
	taskBytes, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return producer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(task.ID),
		Value: taskBytes,
	})
}

// CloseProducer 关闭生产者。
func CloseProducer() error {
	if producer == nil {
		return nil
	}
	return producer.Close()
}

// StartConsumer 启动一个 Kafka 消费者来处理导入任务，ctx 取消时返回。
func StartConsumer(ctx context.Context, cfg config.KafkaConfig, processor TaskProcessor, counter AttemptCounter) {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers(cfg),
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})

	log.Infof("Kafka 消费者已启动，正在监听主题 '%s'", cfg.Topic)

	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Error("从 Kafka 读取消息失败", err)
			}
			break
		}

		log.Infof("收到 Kafka 消息: offset %d", m.Offset)
		if handleMessage(ctx, m.Value, processor, counter) {
			if err := r.CommitMessages(ctx, m); err != nil {
				log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
			}
		}
	}

	if err := r.Close(); err != nil {
		log.Errorf("关闭 Kafka 消费者失败: %v", err)
	}
}

// handleMessage 处理一条消息并返回是否应提交 offset。
// 成功、消息无法解析、或失败次数达到 maxAttempts 时提交；其余情况不提交，让 Kafka 重投。
func handleMessage(ctx context.Context, value []byte, processor TaskProcessor, counter AttemptCounter) bool {
	task, err := tasks.Decode(value)
	if err != nil {
		// 消息格式错误，直接提交，避免阻塞队列
		log.Errorf("无法解析 Kafka 消息: %v, value: %s", err, string(value))
		return true
	}

	log.Infof("开始处理导入任务: ID=%s, FileName=%s", task.ID, task.Filename)
	if err := processor.Process(ctx, task); err != nil {
		log.Errorf("处理导入任务失败: ID=%s, Error: %v", task.ID, err)
		attempts, incErr := counter.Incr(ctx, task.ID)
		if incErr != nil {
			// 计数器异常时保守处理：不提交 offset，让 Kafka 重试
			log.Warnf("记录失败次数失败: ID=%s, Error: %v", task.ID, incErr)
			return false
		}
		if attempts >= maxAttempts {
			log.Errorf("导入任务多次失败(>=%d)，提交 offset 终止重试: ID=%s", maxAttempts, task.ID)
			return true
		}
		return false
	}

	log.Infof("导入任务处理成功: ID=%s", task.ID)
	if err := counter.Reset(ctx, task.ID); err != nil {
		log.Warnf("清理失败计数失败: ID=%s, Error: %v", task.ID, err)
	}
	return true
}

// AttemptsKey 返回某个任务失败计数在 Redis 中的 key。
func AttemptsKey(taskID string) string {
	return fmt.Sprintf("kafka:attempts:%s", taskID)
}
