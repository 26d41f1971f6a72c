package kafka

import (
	"context"
	"log"
	"time"

	"github.com/segmentio/kafka-go"
)

// messageWriter is the part of *kafka.Writer the producer needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Producer struct {
	w       messageWriter
	topic   string
	inbox   chan kafka.Message
	closeCh chan struct{}
}

func NewProducer(brokers []string, topic string, buf int) *Producer {
	return newProducer(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}, topic, buf)
}

func newProducer(w messageWriter, topic string, buf int) *Producer {
	return &Producer{
		w:       w,
		topic:   topic,
		inbox:   make(chan kafka.Message, buf),
		closeCh: make(chan struct{}),
	}
}

// Start menjalankan loop writer. Setelah Close, sisa pesan di-flush lalu writer ditutup.
func (p *Producer) Start(ctx context.Context) {
	go func() {
		defer close(p.closeCh)
		for m := range p.inbox {
			p.write(m)
		}
		if err := p.w.Close(); err != nil {
			log.Printf("producer topic=%s close: %v", p.topic, err)
		}
	}()
	go func() {
		<-ctx.Done()
		p.Close()
	}()
}

func (p *Producer) write(m kafka.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.w.WriteMessages(ctx, m); err != nil {
		log.Printf("producer topic=%s key=%s: %v", p.topic, m.Key, err)
	}
}

// Publish antre pesan. Tidak pernah block: kalau inbox penuh pesan dibuang.
func (p *Producer) Publish(key, value []byte, headers ...kafka.Header) (ok bool) {
	defer func() {
		// inbox sudah ditutup saat shutdown
		if recover() != nil {
			ok = false
		}
	}()
	select {
	case p.inbox <- kafka.Message{Key: key, Value: value, Time: time.Now(), Headers: headers}:
		return true
	default:
		log.Printf("producer topic=%s: inbox full, dropping key=%s", p.topic, key)
		return false
	}
}

// Close menutup inbox, aman dipanggil lebih dari sekali.
func (p *Producer) Close() {
	defer func() { _ = recover() }()
	close(p.inbox)
}

// Tunggu sampai goroutine selesai.
func (p *Producer) WaitClosed() { <-p.closeCh }
