package eventlog

import (
	"context"
	"encoding/json"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/agentkernel/core/internal/kernel/event"
)

// MongoSink durably persists the log to a MongoDB collection, one document
// per entry keyed by sequence number, grounded on the document-store shape
// in registry/store/mongo/mongo.go. Unlike RedisSink it supports a true
// ordered range query, so ReadAll sorts by sequence rather than draining a
// stream.
type MongoSink struct {
	collection *mongo.Collection
}

// entryDocument is the MongoDB document representation of an Entry: the
// envelope is stored as its JSON encoding so the event's own type-tagged
// payload shape is preserved verbatim.
type entryDocument struct {
	Sequence int64  `bson:"_id"`
	Envelope []byte `bson:"envelope"`
}

// NewMongoSink builds a MongoSink over the given collection. The collection
// should be from a connected client; callers are responsible for indexes
// beyond the implicit _id ordering MongoDB already provides.
func NewMongoSink(collection *mongo.Collection) *MongoSink {
	return &MongoSink{collection: collection}
}

// Write upserts entry as a document keyed by its sequence number.
func (s *MongoSink) Write(ctx context.Context, entry Entry) error {
	env, err := event.EncodeEnvelope(entry.Sequence, entry.Event)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("eventlog: marshal envelope: %w", err)
	}
	doc := entryDocument{Sequence: int64(entry.Sequence), Envelope: payload}
	opts := options.Replace().SetUpsert(true)
	_, err = s.collection.ReplaceOne(ctx, bson.M{"_id": doc.Sequence}, doc, opts)
	if err != nil {
		return fmt.Errorf("eventlog: mongo write entry %d: %w", entry.Sequence, err)
	}
	return nil
}

// ReadAll returns every persisted entry ordered by sequence.
func (s *MongoSink) ReadAll(ctx context.Context) ([]Entry, error) {
	cur, err := s.collection.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("eventlog: mongo find: %w", err)
	}
	defer cur.Close(ctx)

	var out []Entry
	for cur.Next(ctx) {
		var doc entryDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("eventlog: mongo decode: %w", err)
		}
		var env event.Envelope
		if err := json.Unmarshal(doc.Envelope, &env); err != nil {
			return nil, fmt.Errorf("eventlog: unmarshal envelope: %w", err)
		}
		evt, err := event.DecodeEnvelope(env)
		if err != nil {
			return nil, err
		}
		out = append(out, Entry{Sequence: env.Sequence, Event: evt, Origin: OriginReplay})
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("eventlog: mongo cursor: %w", err)
	}
	return out, nil
}
