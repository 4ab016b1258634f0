// Package sink implements concrete Pipeline Node destinations. Kafka is
// the reference destination driver: its Queue() pushes into a durable
// queue.Queue and a small pool of worker goroutines drain that queue
// into a sarama SyncProducer.
//
// Follows internal/sinks/kafka_sink.go and internal/sinks/kafka_scram.go's
// shape: a producer wrapping github.com/IBM/sarama, optional SCRAM
// authentication via github.com/xdg-go/scram, and compression codec
// selection, generalized from an in-memory channel queue to the
// durable queue.Queue contract (push_tail/pop_head/ack_backlog) and
// from a plain log-entry type to FlowCore's Event plus template
// rendering.
package sink

import (
	"context"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"
	"github.com/xdg-go/scram"

	"github.com/sswcorp/flowcore/pkg/event"
	"github.com/sswcorp/flowcore/pkg/metrics"
	"github.com/sswcorp/flowcore/pkg/pipeline"
	"github.com/sswcorp/flowcore/pkg/queue"
	"github.com/sswcorp/flowcore/pkg/template"
	"github.com/sswcorp/flowcore/pkg/tracing"
)

// Config configures one Kafka destination driver instance.
type Config struct {
	Name          string
	Brokers       []string
	Topic         string
	Compression   string // "none", "gzip", "snappy", "lz4", "zstd"
	SASLEnabled   bool
	SASLMechanism string // "SCRAM-SHA-256", "SCRAM-SHA-512"
	SASLUser      string
	SASLPassword  string
	RequiredAcks  sarama.RequiredAcks
	FlushBytes    int
	Workers       int
}

func (c *Config) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.RequiredAcks == 0 {
		c.RequiredAcks = sarama.WaitForLocal
	}
}

// KafkaSink is a Pipeline Node that queues events into a durable
// queue.Queue and delivers them to Kafka from a fixed worker pool,
// AckBacklog-ing the queue once the broker confirms a batch.
type KafkaSink struct {
	pipeline.Base

	cfg      Config
	logger   *logrus.Logger
	metrics  *metrics.Registry
	tracer   *tracing.Manager
	tmpl     *template.Template
	queue    queue.Queue
	producer sarama.SyncProducer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	sentCount    int64
	errorCount   int64
}

// NewKafkaSink builds a KafkaSink bound to an already-started durable
// queue q and a compiled render template.
func NewKafkaSink(cfg Config, q queue.Queue, tmpl *template.Template, metricsReg *metrics.Registry, tracer *tracing.Manager, logger *logrus.Logger) (*KafkaSink, error) {
	cfg.applyDefaults()

	saramaCfg := sarama.NewConfig()
	saramaCfg.Producer.RequiredAcks = cfg.RequiredAcks
	saramaCfg.Producer.Return.Successes = true
	if err := applyCompression(saramaCfg, cfg.Compression); err != nil {
		return nil, err
	}
	if cfg.SASLEnabled {
		if err := applySASL(saramaCfg, cfg); err != nil {
			return nil, err
		}
	}

	producer, err := sarama.NewSyncProducer(cfg.Brokers, saramaCfg)
	if err != nil {
		return nil, fmt.Errorf("sink: creating kafka producer: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &KafkaSink{
		cfg:      cfg,
		logger:   logger,
		metrics:  metricsReg,
		tracer:   tracer,
		tmpl:     tmpl,
		queue:    q,
		producer: producer,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

func applyCompression(cfg *sarama.Config, codec string) error {
	switch codec {
	case "", "none":
		cfg.Producer.Compression = sarama.CompressionNone
	case "gzip":
		cfg.Producer.Compression = sarama.CompressionGZIP
	case "snappy":
		cfg.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		cfg.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		cfg.Producer.Compression = sarama.CompressionZSTD
	default:
		return fmt.Errorf("sink: unknown kafka compression %q", codec)
	}
	return nil
}

// scramClient adapts crypto/sha256 and crypto/sha512 to xdg-go/scram's
// HashGeneratorFcn, the same adapter shape internal/sinks/kafka_scram.go uses.
type scramClient struct {
	*scram.Client
	*scram.ClientConversation
	scram.HashGeneratorFcn
}

func (c *scramClient) Begin(userName, password, authzID string) error {
	cl, err := c.HashGeneratorFcn.NewClient(userName, password, authzID)
	if err != nil {
		return err
	}
	c.Client = cl
	c.ClientConversation = c.Client.NewConversation()
	return nil
}

func (c *scramClient) Step(challenge string) (string, error) {
	return c.ClientConversation.Step(challenge)
}

func (c *scramClient) Done() bool {
	return c.ClientConversation.Done()
}

var (
	scramSHA256 scram.HashGeneratorFcn = sha256.New
	scramSHA512 scram.HashGeneratorFcn = sha512.New
)

func applySASL(cfg *sarama.Config, sc Config) error {
	cfg.Net.SASL.Enable = true
	cfg.Net.SASL.User = sc.SASLUser
	cfg.Net.SASL.Password = sc.SASLPassword
	cfg.Net.SASL.Handshake = true

	switch sc.SASLMechanism {
	case "SCRAM-SHA-256":
		cfg.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA256
		cfg.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
			return &scramClient{HashGeneratorFcn: scramSHA256}
		}
	case "SCRAM-SHA-512":
		cfg.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA512
		cfg.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
			return &scramClient{HashGeneratorFcn: scramSHA512}
		}
	default:
		return fmt.Errorf("sink: unknown SASL mechanism %q", sc.SASLMechanism)
	}
	return nil
}

// Init launches the delivery workers. The durable queue must already
// have been started by the caller.
func (n *KafkaSink) Init(cfg pipeline.Config) error {
	for i := 0; i < n.cfg.Workers; i++ {
		n.wg.Add(1)
		go n.drainLoop(i)
	}
	return nil
}

// Deinit stops delivery workers, closes the producer, and flushes the
// durable queue back to disk.
func (n *KafkaSink) Deinit() error {
	n.cancel()
	n.wg.Wait()
	if err := n.producer.Close(); err != nil {
		n.logger.WithError(err).Warn("sink: closing kafka producer")
	}
	_, err := n.queue.Stop()
	return err
}

// Queue implements pipeline.Node: it pushes ev into the durable queue,
// applying back pressure (Suspended ack) when the queue is full, the
// terminal hop for a destination pipeline rather than a forward.
func (n *KafkaSink) Queue(ev *event.Event, po event.PathOptions) error {
	if n.tracer != nil {
		_, span := n.tracer.StartQueuePushTail(context.Background(), n.cfg.Name)
		defer span.End()
	}

	accepted, err := n.queue.PushTail(ev, po)
	if err != nil {
		ev.Ack(po, event.Aborted)
		return fmt.Errorf("sink: push_tail: %w", err)
	}
	if n.metrics != nil {
		n.metrics.ObserveQueueDepth(n.cfg.Name, n.queue.Length())
	}
	if !accepted {
		if n.metrics != nil {
			n.metrics.IncDropped(n.cfg.Name)
		}
		ev.Ack(po, event.Suspended)
		return nil
	}
	return nil
}

func (n *KafkaSink) Clone() pipeline.Node { return n }

// drainLoop pops events off the durable queue and delivers them to
// Kafka in small batches, acking the backlog once the broker confirms.
func (n *KafkaSink) drainLoop(id int) {
	defer n.wg.Done()
	const batchSize = 64
	po := event.DefaultPathOptions().WithAckNeeded(true)

	for {
		select {
		case <-n.ctx.Done():
			return
		default:
		}

		batch := n.popBatch(po, batchSize)
		if len(batch) == 0 {
			time.Sleep(50 * time.Millisecond)
			continue
		}
		n.deliver(batch, po)
	}
}

func (n *KafkaSink) popHead(po event.PathOptions) (*event.Event, bool, error) {
	if n.tracer != nil {
		_, span := n.tracer.StartQueuePopHead(context.Background(), n.cfg.Name)
		defer span.End()
	}
	return n.queue.PopHead(po)
}

func (n *KafkaSink) popBatch(po event.PathOptions, max int) []*event.Event {
	var batch []*event.Event
	for len(batch) < max {
		ev, ok, err := n.popHead(po)
		if err != nil || !ok {
			break
		}
		batch = append(batch, ev)
	}
	return batch
}

func (n *KafkaSink) deliver(batch []*event.Event, po event.PathOptions) {
	eo := template.DefaultEvalOptions()
	msgs := make([]*sarama.ProducerMessage, 0, len(batch))
	for _, ev := range batch {
		text, err := n.tmpl.EvalString(ev, eo)
		if err != nil {
			atomic.AddInt64(&n.errorCount, 1)
			ev.Ack(po, event.Aborted)
			continue
		}
		msgs = append(msgs, &sarama.ProducerMessage{
			Topic: n.cfg.Topic,
			Value: sarama.StringEncoder(text),
		})
	}
	if len(msgs) == 0 {
		return
	}

	if err := n.producer.SendMessages(msgs); err != nil {
		n.logger.WithError(err).Warn("sink: kafka delivery failed, rewinding backlog")
		atomic.AddInt64(&n.errorCount, int64(len(msgs)))
		for _, ev := range batch {
			ev.Ack(po, event.Suspended)
		}
		_ = n.queue.RewindBacklog(len(batch))
		return
	}

	atomic.AddInt64(&n.sentCount, int64(len(msgs)))
	for _, ev := range batch {
		ev.Ack(po, event.Processed)
	}
	if err := n.queue.AckBacklog(len(batch)); err != nil {
		n.logger.WithError(err).Warn("sink: ack_backlog failed")
	}
	if n.metrics != nil {
		n.metrics.ObserveQueueDepth(n.cfg.Name, n.queue.Length())
	}
}
