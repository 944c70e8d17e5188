// Package mongosink stores diagnostic events in a MongoDB collection.
package mongosink

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/querygate/querygate/internal/config"
	"github.com/querygate/querygate/internal/diag"
)

type inserter interface {
	InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error)
}

type Sink struct {
	coll    inserter
	timeout time.Duration
}

func New(coll inserter, timeout time.Duration) *Sink {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Sink{coll: coll, timeout: timeout}
}

// Connect dials MongoDB, verifies the primary is reachable and returns a sink
// plus the function that disconnects the client.
func Connect(ctx context.Context, cfg config.DiagnosticsConfig) (*Sink, func(context.Context) error, error) {
	if cfg.MongoURI == "" {
		return nil, nil, fmt.Errorf("mongo uri is required")
	}
	client, err := mongo.Connect(ctx, options.Client().
		ApplyURI(cfg.MongoURI).
		SetConnectTimeout(cfg.MongoTimeout).
		SetServerSelectionTimeout(cfg.MongoTimeout))
	if err != nil {
		return nil, nil, fmt.Errorf("connect mongo: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, cfg.MongoTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, fmt.Errorf("ping mongo: %w", err)
	}
	coll := client.Database(cfg.MongoDatabase).Collection(cfg.MongoCollection)
	return New(coll, cfg.MongoTimeout), client.Disconnect, nil
}

func (s *Sink) Record(ctx context.Context, event diag.Event) error {
	// Detached from the request so a cancelled request still gets its trail.
	insertCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	if _, err := s.coll.InsertOne(insertCtx, document(event)); err != nil {
		return fmt.Errorf("insert diagnostic event: %w", err)
	}
	return nil
}

func document(event diag.Event) bson.M {
	doc := bson.M{
		"request_id": event.RequestID,
		"stage":      event.Stage,
		"outcome":    event.Outcome,
		"elapsed_ms": event.Elapsed.Milliseconds(),
		"at":         event.At,
	}
	if event.TraceID != "" {
		doc["trace_id"] = event.TraceID
	}
	if event.Attempt > 0 {
		doc["attempt"] = event.Attempt
	}
	if event.Provider != "" {
		doc["provider"] = event.Provider
	}
	if event.Detail != "" {
		doc["detail"] = event.Detail
	}
	return doc
}
