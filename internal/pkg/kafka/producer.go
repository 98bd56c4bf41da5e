package kafka

import (
	"Shoptalk/internal/api/config"
	log "log/slog"
	"time"

	"github.com/IBM/sarama"
	"github.com/goccy/go-json"
)

// EventProducer 把已提交的聊天事件异步投递到分析主题
// 纯旁路链路：投递失败只记日志，绝不反压业务路径
type EventProducer struct {
	producer sarama.AsyncProducer
	topic    string
	done     chan struct{}
}

type analyticsEvent struct {
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// NewEventProducer 构造函数；配置未启用时返回 nil，由调用方空值短路
func NewEventProducer(cfg *config.Config) (*EventProducer, error) {
	if !cfg.Kafka.Enable {
		return nil, nil
	}

	producer, err := sarama.NewAsyncProducer(cfg.Kafka.Brokers, newSaramaConfig(cfg.Kafka))
	if err != nil {
		return nil, err
	}

	p := &EventProducer{
		producer: producer,
		topic:    cfg.Kafka.Topic,
		done:     make(chan struct{}),
	}

	// 错误通道必须消费，否则生产者阻塞
	go func() {
		defer close(p.done)
		for perr := range producer.Errors() {
			log.Error("analytics event publish failed", "topic", p.topic, "err", perr.Err)
		}
	}()

	return p, nil
}

// Publish 投递一条分析事件，队列打满时直接丢弃
func (p *EventProducer) Publish(eventType string, payload interface{}) {
	data, err := json.Marshal(&analyticsEvent{
		Type:      eventType,
		Payload:   payload,
		Timestamp: time.Now(),
	})
	if err != nil {
		log.Error("marshal analytics event failed", "type", eventType, "err", err)
		return
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(eventType),
		Value: sarama.ByteEncoder(data),
	}

	select {
	case p.producer.Input() <- msg:
	default:
		log.Warn("analytics event dropped, producer queue full", "type", eventType)
	}
}

// Close 优雅关闭，等待错误通道清空
func (p *EventProducer) Close() {
	p.producer.AsyncClose()
	<-p.done
	log.Info("Kafka producer shut down gracefully")
}
