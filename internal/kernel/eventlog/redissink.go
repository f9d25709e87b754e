package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"goa.design/pulse/streaming"
	streamopts "goa.design/pulse/streaming/options"

	"github.com/agentkernel/core/internal/kernel/event"
)

// RedisSink durably persists the log by appending Entry frames to a Redis
// Stream via goa.design/pulse/streaming, the same primitive
// features/stream/pulse/clients/pulse/client.go uses to back its own
// Stream/Sink abstraction. It makes the event log durable across process
// restarts and, when multiple kernels share the Redis instance, visible to
// every node — though the kernel explicitly scopes clustered consensus
// out; this sink only provides shared durability, not coordinated
// multi-writer semantics.
type RedisSink struct {
	stream *streaming.Stream
	// drainQuiescence bounds how long ReadAll waits for no further entries
	// before concluding the stream has been fully drained. Pulse streams
	// are built for continuous consumer-group consumption, not a bounded
	// "read everything" query, so ReadAll approximates one with an idle
	// timeout.
	drainQuiescence time.Duration
}

const redisStreamEvent = "kernel.event"

// NewRedisSink opens (creating if necessary) the named Redis Stream as the
// log's durable backing store.
func NewRedisSink(name string, client *redis.Client, maxLen int) (*RedisSink, error) {
	var opts []streamopts.Stream
	if maxLen > 0 {
		opts = append(opts, streamopts.WithStreamMaxLen(maxLen))
	}
	str, err := streaming.NewStream(name, client, opts...)
	if err != nil {
		return nil, fmt.Errorf("eventlog: open redis stream %q: %w", name, err)
	}
	return &RedisSink{stream: str, drainQuiescence: 200 * time.Millisecond}, nil
}

// Write appends entry's JSON envelope to the Redis stream.
func (s *RedisSink) Write(ctx context.Context, entry Entry) error {
	frame, err := encodeEntryFrame(entry)
	if err != nil {
		return err
	}
	_, err = s.stream.Add(ctx, redisStreamEvent, frame)
	if err != nil {
		return fmt.Errorf("eventlog: redis stream add: %w", err)
	}
	return nil
}

// ReadAll creates a throwaway consumer group positioned at the beginning of
// the stream and drains it until no further entries arrive within the
// sink's quiescence window, returning everything read in arrival order.
func (s *RedisSink) ReadAll(ctx context.Context) ([]Entry, error) {
	// A freshly created consumer group name reads the stream from its
	// start, since no prior group with this name has ever acknowledged
	// entries on it.
	sinkName := fmt.Sprintf("replay-%d", time.Now().UnixNano())
	sink, err := s.stream.NewSink(ctx, sinkName)
	if err != nil {
		return nil, fmt.Errorf("eventlog: create replay sink: %w", err)
	}
	defer sink.Close(ctx)

	var out []Entry
	ch := sink.Subscribe()
	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				return out, nil
			}
			entry, err := decodeEntryFrame(evt.Payload)
			if err != nil {
				return nil, err
			}
			entry.Origin = OriginReplay
			out = append(out, entry)
			if err := sink.Ack(ctx, evt); err != nil {
				return nil, fmt.Errorf("eventlog: ack replay event: %w", err)
			}
		case <-time.After(s.drainQuiescence):
			return out, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func encodeEntryFrame(entry Entry) ([]byte, error) {
	env, err := event.EncodeEnvelope(entry.Sequence, entry.Event)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

func decodeEntryFrame(payload []byte) (Entry, error) {
	var env event.Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Entry{}, fmt.Errorf("eventlog: unmarshal envelope: %w", err)
	}
	evt, err := event.DecodeEnvelope(env)
	if err != nil {
		return Entry{}, err
	}
	return Entry{Sequence: env.Sequence, Event: evt}, nil
}
