// Package kafka implements a destination that publishes records to a Kafka
// topic as Avro binary datums framed with the schema registry wire header.
package kafka

import (
	"context"
	"crypto/tls"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/ajitpratap0/recordbridge/pkg/compression"
	"github.com/ajitpratap0/recordbridge/pkg/config"
	"github.com/ajitpratap0/recordbridge/pkg/connector/base"
	"github.com/ajitpratap0/recordbridge/pkg/connector/core"
	"github.com/ajitpratap0/recordbridge/pkg/errors"
	"github.com/ajitpratap0/recordbridge/pkg/formats/avro"
	"github.com/ajitpratap0/recordbridge/pkg/models"
	"github.com/ajitpratap0/recordbridge/pkg/schema"
	"github.com/ajitpratap0/recordbridge/pkg/schema/registry"
)

// Headers added to every message
const (
	HeaderSource      = "recordbridge.source"
	HeaderContentType = "content-type"
	contentType       = "application/vnd.kafka.avro.v2"
)

// Settings are the kafka destination settings.
//
//	settings:
//	  brokers: kafka-1:9092,kafka-2:9092
//	  topic: orders
//	  key_field: order_id
type Settings struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	// KeyField names the field whose value keys each message. Records
	// without it are sent unkeyed.
	KeyField string `mapstructure:"key_field"`
	ClientID string `mapstructure:"client_id"`

	// Acks is all, 1 or 0
	Acks            string `mapstructure:"acks"`
	Compression     string `mapstructure:"compression"`
	MaxMessageBytes int    `mapstructure:"max_message_bytes"`
	Idempotent      bool   `mapstructure:"idempotent"`

	TLS bool `mapstructure:"tls"`
	// SASLMechanism is PLAIN, SCRAM-SHA-256 or SCRAM-SHA-512. Credentials
	// come from the username and password credentials.
	SASLMechanism string `mapstructure:"sasl_mechanism"`

	// Subject defaults to <topic>-value
	Subject       string `mapstructure:"subject"`
	Compatibility string `mapstructure:"compatibility"`
	// RegistryFile persists registered schemas so ids stay stable across
	// runs
	RegistryFile string `mapstructure:"registry_file"`
}

// connectFunc creates the producer. client is nil when none backs it.
type connectFunc func(brokers []string, cfg *sarama.Config) (sarama.Client, sarama.SyncProducer, error)

func connect(brokers []string, cfg *sarama.Config) (sarama.Client, sarama.SyncProducer, error) {
	client, err := sarama.NewClient(brokers, cfg)
	if err != nil {
		return nil, nil, err
	}
	producer, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return client, producer, nil
}

// Destination publishes records to one topic
type Destination struct {
	*base.BaseConnector

	settings Settings
	connect  connectFunc
	client   sarama.Client
	producer sarama.SyncProducer
	registry *registry.Registry

	schema  *schema.Schema
	encoder *avro.Encoder
	version *registry.Version
}

// NewDestination creates a kafka destination
func NewDestination(name string) *Destination {
	return &Destination{
		BaseConnector: base.NewBaseConnector(name, core.ConnectorTypeDestination, "1.0.0"),
		connect:       connect,
	}
}

// Initialize connects the producer and loads the schema registry file
func (d *Destination) Initialize(ctx context.Context, cfg *config.BaseConfig) error {
	if err := d.BaseConnector.Initialize(ctx, cfg); err != nil {
		return err
	}
	if err := cfg.Decode(&d.settings); err != nil {
		return err
	}
	if len(d.settings.Brokers) == 0 {
		if b := cfg.Security.Credentials["brokers"]; b != "" {
			d.settings.Brokers = strings.Split(b, ",")
		}
	}
	if len(d.settings.Brokers) == 0 || d.settings.Topic == "" {
		return errors.New(errors.ErrorTypeConfig, "kafka destination needs brokers and topic")
	}
	if d.settings.Subject == "" {
		d.settings.Subject = d.settings.Topic + "-value"
	}

	saramaCfg, err := d.saramaConfig(cfg)
	if err != nil {
		return err
	}

	d.registry = registry.New(d.Logger())
	if err := d.loadRegistry(); err != nil {
		return err
	}
	if d.settings.Compatibility != "" {
		mode, err := registry.ParseCompatibility(d.settings.Compatibility)
		if err != nil {
			return err
		}
		if err := d.registry.SetCompatibility(d.settings.Subject, mode); err != nil {
			return err
		}
	}

	err = d.ExecuteWithRetry(ctx, "connect", func(ctx context.Context) error {
		client, producer, err := d.connect(d.settings.Brokers, saramaCfg)
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeConnection, "failed to connect to Kafka")
		}
		d.client, d.producer = client, producer
		return nil
	})
	if err != nil {
		return err
	}
	d.SetHealthCheck(func(ctx context.Context) error {
		if d.client == nil {
			return nil
		}
		return d.client.RefreshMetadata(d.settings.Topic)
	})

	d.Logger().Info("kafka destination initialized",
		zap.Strings("brokers", d.settings.Brokers),
		zap.String("topic", d.settings.Topic),
		zap.String("subject", d.settings.Subject))
	return nil
}

func (d *Destination) saramaConfig(cfg *config.BaseConfig) (*sarama.Config, error) {
	s := d.settings
	c := sarama.NewConfig()
	c.ClientID = "recordbridge"
	if s.ClientID != "" {
		c.ClientID = s.ClientID
	}
	c.Producer.Return.Successes = true
	c.Producer.Return.Errors = true
	c.Producer.Retry.Max = cfg.Reliability.RetryAttempts
	if cfg.Timeouts.Request > 0 {
		c.Producer.Timeout = cfg.Timeouts.Request
	}
	if cfg.Timeouts.Connection > 0 {
		c.Net.DialTimeout = cfg.Timeouts.Connection
	}
	if s.MaxMessageBytes > 0 {
		c.Producer.MaxMessageBytes = s.MaxMessageBytes
	}

	switch strings.ToLower(s.Acks) {
	case "", "all", "-1":
		c.Producer.RequiredAcks = sarama.WaitForAll
	case "1":
		c.Producer.RequiredAcks = sarama.WaitForLocal
	case "0":
		c.Producer.RequiredAcks = sarama.NoResponse
	default:
		return nil, errors.Newf(errors.ErrorTypeConfig, "unknown acks %q", s.Acks)
	}

	codec, err := compressionCodec(s.Compression)
	if err != nil {
		return nil, err
	}
	c.Producer.Compression = codec
	if codec == sarama.CompressionZSTD {
		c.Version = sarama.V2_1_0_0
	}

	if s.Idempotent {
		c.Producer.Idempotent = true
		c.Producer.RequiredAcks = sarama.WaitForAll
		c.Net.MaxOpenRequests = 1
		if c.Producer.Retry.Max == 0 {
			c.Producer.Retry.Max = 1
		}
		if !c.Version.IsAtLeast(sarama.V0_11_0_0) {
			c.Version = sarama.V0_11_0_0
		}
	}

	if s.TLS {
		c.Net.TLS.Enable = true
		c.Net.TLS.Config = &tls.Config{InsecureSkipVerify: cfg.Security.TLSSkipVerify} //nolint:gosec // operator choice
	}
	if s.SASLMechanism != "" {
		c.Net.SASL.Enable = true
		c.Net.SASL.User = cfg.Security.Credentials["username"]
		c.Net.SASL.Password = cfg.Security.Credentials["password"]
		switch strings.ToUpper(s.SASLMechanism) {
		case "PLAIN":
			c.Net.SASL.Mechanism = sarama.SASLTypePlaintext
		case "SCRAM-SHA-256":
			c.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA256
		case "SCRAM-SHA-512":
			c.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA512
		default:
			return nil, errors.Newf(errors.ErrorTypeConfig, "unknown sasl_mechanism %q", s.SASLMechanism)
		}
	}

	if err := c.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid producer configuration")
	}
	return c, nil
}

// compressionCodec maps a compression name to a producer codec. s2 has no
// Kafka codec.
func compressionCodec(name string) (sarama.CompressionCodec, error) {
	if name == "" {
		return sarama.CompressionNone, nil
	}
	alg, err := compression.Parse(name)
	if err != nil {
		return sarama.CompressionNone, err
	}
	switch alg {
	case compression.None:
		return sarama.CompressionNone, nil
	case compression.Gzip:
		return sarama.CompressionGZIP, nil
	case compression.Snappy:
		return sarama.CompressionSnappy, nil
	case compression.LZ4:
		return sarama.CompressionLZ4, nil
	case compression.Zstd:
		return sarama.CompressionZSTD, nil
	}
	return sarama.CompressionNone, errors.Newf(errors.ErrorTypeConfig, "kafka does not support %s compression", alg)
}

func (d *Destination) loadRegistry() error {
	if d.settings.RegistryFile == "" {
		return nil
	}
	data, err := os.ReadFile(d.settings.RegistryFile)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to read registry file")
	}
	return d.registry.Import(data)
}

func (d *Destination) saveRegistry() error {
	if d.settings.RegistryFile == "" {
		return nil
	}
	data, err := d.registry.Export()
	if err != nil {
		return err
	}
	tmp := d.settings.RegistryFile + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to write registry file")
	}
	if err := os.Rename(tmp, d.settings.RegistryFile); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to write registry file")
	}
	return nil
}

// CreateSchema registers s under the subject and prepares the encoder. A
// schema incompatible with the subject's earlier versions is rejected.
func (d *Destination) CreateSchema(ctx context.Context, s *schema.Schema) error {
	if s == nil {
		return errors.New(errors.ErrorTypeSchema, "schema is required")
	}
	if d.registry == nil {
		return errors.New(errors.ErrorTypeValidation, "destination not initialized")
	}
	if d.settings.KeyField != "" {
		if _, ok := s.Field(d.settings.KeyField); !ok {
			return errors.Newf(errors.ErrorTypeConfig, "key_field %q is not a field of %s", d.settings.KeyField, s.Name)
		}
	}
	v, err := d.registry.Register(ctx, d.settings.Subject, s)
	if err != nil {
		return err
	}
	enc, err := avro.NewEncoder(s, uint32(v.ID)) //nolint:gosec // ids start at 1
	if err != nil {
		return err
	}
	if err := d.saveRegistry(); err != nil {
		return err
	}
	d.schema, d.encoder, d.version = s, enc, v
	d.Logger().Info("schema registered",
		zap.String("subject", v.Subject),
		zap.Int("version", v.Version),
		zap.Int("id", v.ID))
	return nil
}

// SchemaVersion returns the registered version records are written with
func (d *Destination) SchemaVersion() *registry.Version {
	return d.version
}

// Write consumes a record stream, publishing batches of BatchSize
func (d *Destination) Write(ctx context.Context, stream *core.RecordStream) error {
	cfg := d.Config()
	return d.WriteBatch(ctx, core.BatchFromStream(ctx, stream, d.BatchSize(500), cfg.Performance.FlushInterval))
}

// WriteBatch publishes every batch of the stream
func (d *Destination) WriteBatch(ctx context.Context, stream *core.BatchStream) error {
	if d.encoder == nil {
		return errors.New(errors.ErrorTypeSchema, "CreateSchema must be called before writing")
	}
	batches, errs := stream.Batches, stream.Errors
	for batches != nil || errs != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case batch, ok := <-batches:
			if !ok {
				batches = nil
				continue
			}
			err := d.Tracer().TraceBatch(ctx, len(batch), "publish", func(ctx context.Context) error {
				return d.publish(ctx, batch)
			})
			if err != nil {
				return err
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			return err
		}
	}
	return nil
}

func (d *Destination) publish(ctx context.Context, batch []*models.Record) error {
	start := time.Now()
	msgs := make([]*sarama.ProducerMessage, 0, len(batch))
	var size int64
	for _, rec := range batch {
		msg, n, err := d.message(rec)
		if err != nil {
			if herr := d.HandleRecordError(ctx, "encode", err, rec); herr != nil {
				return herr
			}
			continue
		}
		size += int64(n)
		msgs = append(msgs, msg)
	}
	if len(msgs) == 0 {
		return nil
	}

	// only messages the brokers rejected are sent again
	pending := msgs
	err := d.ExecuteWithRetry(ctx, "publish", func(ctx context.Context) error {
		err := d.producer.SendMessages(pending)
		if err == nil {
			return nil
		}
		var perrs sarama.ProducerErrors
		if errors.As(err, &perrs) && len(perrs) > 0 {
			failed := make([]*sarama.ProducerMessage, 0, len(perrs))
			for _, pe := range perrs {
				failed = append(failed, pe.Msg)
			}
			pending = failed
			return errors.Wrapf(perrs[0].Err, errors.ErrorTypeConnection, "%d of %d messages not delivered", len(perrs), len(msgs))
		}
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to publish")
	})
	d.RecordBatch("publish", len(msgs), size, time.Since(start), err)
	return err
}

// message encodes one record
func (d *Destination) message(rec *models.Record) (*sarama.ProducerMessage, int, error) {
	value, err := d.encoder.Encode(rec.Data)
	if err != nil {
		return nil, 0, err
	}
	if limit := d.settings.MaxMessageBytes; limit > 0 && len(value) > limit {
		return nil, 0, errors.Newf(errors.ErrorTypeData, "encoded record of %d bytes exceeds max_message_bytes %d", len(value), limit)
	}
	msg := &sarama.ProducerMessage{
		Topic: d.settings.Topic,
		Value: sarama.ByteEncoder(value),
		Headers: []sarama.RecordHeader{
			{Key: []byte(HeaderContentType), Value: []byte(contentType)},
		},
	}
	if rec.Metadata.Source != "" {
		msg.Headers = append(msg.Headers, sarama.RecordHeader{Key: []byte(HeaderSource), Value: []byte(rec.Metadata.Source)})
	}
	if !rec.Metadata.Timestamp.IsZero() {
		msg.Timestamp = rec.Metadata.Timestamp
	}
	if d.settings.KeyField != "" {
		if key := messageKey(rec.Data[d.settings.KeyField]); key != nil {
			msg.Key = key
		}
	}
	return msg, len(value), nil
}

// messageKey renders a key value; nil leaves the message unkeyed
func messageKey(v any) sarama.Encoder {
	switch k := v.(type) {
	case nil:
		return nil
	case string:
		return sarama.StringEncoder(k)
	case []byte:
		return sarama.ByteEncoder(k)
	case time.Time:
		return sarama.StringEncoder(k.UTC().Format(time.RFC3339Nano))
	case fmt.Stringer:
		return sarama.StringEncoder(k.String())
	}
	return sarama.StringEncoder(fmt.Sprint(v))
}

// Metrics adds the registered schema to the base metrics
func (d *Destination) Metrics() map[string]interface{} {
	m := d.BaseConnector.Metrics()
	m["topic"] = d.settings.Topic
	if d.version != nil {
		m["schema_id"] = d.version.ID
		m["schema_version"] = d.version.Version
	}
	return m
}

// Close flushes and closes the producer
func (d *Destination) Close(ctx context.Context) error {
	if d.IsClosed() {
		return nil
	}
	var err error
	if d.producer != nil {
		err = d.producer.Close()
	}
	if d.client != nil && !d.client.Closed() {
		_ = d.client.Close()
	}
	_ = d.BaseConnector.Close(ctx)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to close producer")
	}
	return nil
}
