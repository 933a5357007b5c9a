// Package events fans verification audit events out to Kafka and
// ClickHouse. Every sink is optional: with none configured the events
// still land in the structured log, and a sink failure never blocks or
// fails the request that produced the event.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"restaurant-verify/internal/bucketing"
	"restaurant-verify/internal/client"
	"restaurant-verify/internal/hashing"
	"restaurant-verify/internal/model"
	"restaurant-verify/internal/util"
)

const (
	bufferSize    = 1024
	flushInterval = 2 * time.Second
	flushBatch    = 100
	flushTimeout  = 10 * time.Second
)

// Publisher accepts events on a buffered channel and flushes them in
// batches from a single background goroutine.
type Publisher struct {
	kafka      *client.KafkaProducer
	clickhouse *client.ClickHouseClient
	hasher     *hashing.Hasher
	bucketMgr  *bucketing.Manager

	events    chan model.VerificationEvent
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewPublisher starts the flush goroutine. kafka and clickhouse may be
// nil; events then degrade to log lines only.
func NewPublisher(kafka *client.KafkaProducer, clickhouse *client.ClickHouseClient, hasher *hashing.Hasher, bucketMgr *bucketing.Manager) *Publisher {
	p := &Publisher{
		kafka:      kafka,
		clickhouse: clickhouse,
		hasher:     hasher,
		bucketMgr:  bucketMgr,
		events:     make(chan model.VerificationEvent, bufferSize),
		done:       make(chan struct{}),
	}
	p.wg.Add(1)
	go p.run()
	return p
}

// Emit records one audit event. The raw phone number is hashed and
// bucketed here, before the event can reach any external sink. Emit
// never blocks: when the buffer is full the event is dropped with a
// warning, because the request path matters more than the audit copy.
func (p *Publisher) Emit(eventType, outcome, phoneE164, ipAddress, placeID, channel string) {
	event := model.VerificationEvent{
		EventType:   eventType,
		Outcome:     outcome,
		PhoneHash:   p.hasher.HashPhone(phoneE164),
		PhoneBucket: p.bucketMgr.PhoneBucket(phoneE164),
		IPAddress:   ipAddress,
		PlaceID:     placeID,
		Channel:     channel,
		OccurredAt:  time.Now().UTC(),
	}

	util.Info("verification event",
		zap.String("event_type", event.EventType),
		zap.String("outcome", event.Outcome),
		zap.String("phone_hash", event.PhoneHash),
		zap.Int("phone_bucket", event.PhoneBucket),
		zap.String("ip", event.IPAddress),
		zap.String("place_id", event.PlaceID),
		zap.String("channel", event.Channel),
	)

	select {
	case p.events <- event:
	default:
		util.Warn("Event buffer full, dropping audit event",
			zap.String("event_type", event.EventType),
		)
	}
}

func (p *Publisher) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]model.VerificationEvent, 0, flushBatch)
	for {
		select {
		case event := <-p.events:
			batch = append(batch, event)
			if len(batch) >= flushBatch {
				p.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				p.flush(batch)
				batch = batch[:0]
			}
		case <-p.done:
			// Drain whatever is still buffered before exiting.
			for {
				select {
				case event := <-p.events:
					batch = append(batch, event)
				default:
					if len(batch) > 0 {
						p.flush(batch)
					}
					return
				}
			}
		}
	}
}

func (p *Publisher) flush(batch []model.VerificationEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	if p.kafka != nil {
		for _, event := range batch {
			value, err := json.Marshal(event)
			if err != nil {
				continue
			}
			// The phone hash keys the message so all events for one
			// number land on one partition, in order.
			if err := p.kafka.ProduceMessage(ctx, []byte(event.PhoneHash), value); err != nil {
				util.Warn("Failed to produce audit event", zap.Error(err))
				break
			}
		}
	}

	if p.clickhouse != nil {
		rows := make([][]interface{}, 0, len(batch))
		for _, event := range batch {
			rows = append(rows, []interface{}{
				event.EventType, event.Outcome, event.PhoneHash,
				uint16(event.PhoneBucket), event.IPAddress, event.PlaceID,
				event.Channel, event.OccurredAt,
			})
		}
		err := p.clickhouse.BatchInsert(ctx, `
			INSERT INTO verification_events
				(event_type, outcome, phone_hash, phone_bucket, ip_address, place_id, channel, occurred_at)`,
			rows,
		)
		if err != nil {
			util.Warn("Failed to insert audit events", zap.Error(err))
		}
	}
}

// Close stops the flush goroutine after draining the buffer.
func (p *Publisher) Close() {
	p.closeOnce.Do(func() {
		close(p.done)
		p.wg.Wait()
	})
}
