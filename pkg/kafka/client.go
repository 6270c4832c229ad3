// Package kafka 提供了与 Kafka 消息队列交互的功能。
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"querytube-go/internal/config"
	"querytube-go/pkg/log"
	"querytube-go/pkg/tasks"
)

// TaskProcessor 处理索引重建任务，把消费者与具体流水线解耦。
type TaskProcessor interface {
	Process(ctx context.Context, task tasks.IndexBuildTask) error
}

// AttemptCounter 记录任务失败次数。
type AttemptCounter interface {
	Incr(ctx context.Context, taskID string) (int64, error)
	Reset(ctx context.Context, taskID string) error
}

var producer *kafka.Writer

func brokerList(brokers string) []string {
	var out []string
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// InitProducer 初始化 Kafka 生产者。
func InitProducer(cfg config.KafkaConfig) {
	producer = &kafka.Writer{
		Addr:                   kafka.TCP(brokerList(cfg.Brokers)...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
	}
	log.Info("Kafka 生产者初始化成功")
}

// ProduceIndexTask 发送一个索引重建任务到 Kafka，以 TaskID 作为消息键。
func ProduceIndexTask(ctx context.Context, task tasks.IndexBuildTask) error {
	if producer == nil {
		return errors.New("kafka producer is not initialized")
	}
	taskBytes, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return producer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(task.TaskID),
		Value: taskBytes,
	})
}

// CloseProducer 关闭生产者。
func CloseProducer() {
	if producer != nil {
		if err := producer.Close(); err != nil {
			log.Errorf("[Kafka] 关闭生产者失败: %v", err)
		}
	}
}

type committer interface {
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// StartConsumer 启动消费者循环，ctx 取消后退出。
func StartConsumer(ctx context.Context, cfg config.KafkaConfig, processor TaskProcessor, attempts AttemptCounter) {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokerList(cfg.Brokers),
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
	maxAttempts := int64(cfg.MaxAttempts)
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

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
		handleMessage(ctx, r, m, processor, attempts, maxAttempts)
	}

	if err := r.Close(); err != nil {
		log.Errorf("关闭 Kafka 消费者失败: %v", err)
	}
	log.Info("Kafka 消费者已退出")
}

// retryDelay 是同一条消息两次本地重试之间的等待时间。
var retryDelay = 2 * time.Second

// handleMessage 处理单条消息并决定是否提交 offset。
// FetchMessage 不会在同一会话内重投未提交的消息，所以失败的任务在本地重试，
// 直到成功或失败次数达到上限后提交；只有 ctx 取消时才不提交，留给重启后的消费者。
func handleMessage(ctx context.Context, r committer, m kafka.Message, processor TaskProcessor, attempts AttemptCounter, maxAttempts int64) bool {
	commit := func() bool {
		if err := r.CommitMessages(ctx, m); err != nil {
			log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
			return false
		}
		return true
	}

	var task tasks.IndexBuildTask
	if err := json.Unmarshal(m.Value, &task); err != nil || task.TaskID == "" {
		log.Errorf("无法解析 Kafka 消息: %v, value: %s", err, string(m.Value))
		return commit()
	}

	var local int64
	for {
		log.Infof("开始处理索引任务: TaskID=%s, Object=%s", task.TaskID, task.ObjectName)
		err := processor.Process(ctx, task)
		if err == nil {
			break
		}
		log.Errorf("处理索引任务失败: TaskID=%s, Error: %v", task.TaskID, err)

		local++
		n, incErr := attempts.Incr(ctx, task.TaskID)
		if incErr != nil {
			log.Errorf("记录任务失败次数失败，使用本地计数: %v", incErr)
			n = local
		}
		if n < local {
			n = local
		}
		if n >= maxAttempts {
			log.Errorf("索引任务多次失败(>=%d)，提交 offset 终止重试: TaskID=%s", maxAttempts, task.TaskID)
			return commit()
		}

		if ctx.Err() != nil {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(retryDelay):
		}
	}

	log.Infof("索引任务处理成功: TaskID=%s", task.TaskID)
	if err := attempts.Reset(ctx, task.TaskID); err != nil {
		log.Warnf("清理任务失败计数失败: %v", err)
	}
	return commit()
}

