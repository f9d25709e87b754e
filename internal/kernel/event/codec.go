package event

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/agentkernel/core/internal/kernel/id"
)

// Envelope is the self-describing, durable JSON form of an Event. It is
// the form the durable sinks persist: every field the kernel ever
// needs to reconstruct the typed Event is present by name, so the format
// tolerates being read by tooling that has never linked this package.
type Envelope struct {
	Sequence      uint64          `json:"sequence"`
	Timestamp     int64           `json:"timestamp_unix_ms"`
	Type          Type            `json:"type"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// EncodeEnvelope converts evt into its durable JSON envelope at the given
// log sequence number. CorrelationID is omitted when zero.
func EncodeEnvelope(sequence uint64, evt Event) (Envelope, error) {
	payload, err := json.Marshal(evt)
	if err != nil {
		return Envelope{}, fmt.Errorf("event: marshal payload for %s: %w", evt.Type(), err)
	}
	var corr string
	if c := evt.CorrelationID(); !c.IsZero() {
		corr = c.String()
	}
	return Envelope{
		Sequence:      sequence,
		Timestamp:     evt.Stamp().UnixMilli(),
		Type:          evt.Type(),
		CorrelationID: corr,
		Payload:       payload,
	}, nil
}

// DecodeEnvelope reconstructs the typed Event carried by env. The returned
// Event's CorrelationID and Stamp are populated from the envelope's own
// fields, not from the embedded payload, so decode is lossless even though
// the concrete struct's base fields are unexported.
func DecodeEnvelope(env Envelope) (Event, error) {
	evt, err := decodeTypedPayload(env.Type, env.Payload)
	if err != nil {
		return nil, err
	}
	if env.CorrelationID != "" {
		cid, err := id.Parse(env.CorrelationID)
		if err != nil {
			return nil, fmt.Errorf("event: decode correlation id: %w", err)
		}
		evt = withCorrelation(evt, cid)
	}
	return evt.WithStamp(time.UnixMilli(env.Timestamp)), nil
}

func decodeTypedPayload(t Type, payload json.RawMessage) (Event, error) {
	switch t {
	case TypeTaskSubmitted:
		var e TaskSubmitted
		return e, unmarshalInto(payload, &e)
	case TypeTaskCompleted:
		var e TaskCompleted
		return e, unmarshalInto(payload, &e)
	case TypeTaskFailed:
		var e TaskFailed
		return e, unmarshalInto(payload, &e)
	case TypePluginLoaded:
		var e PluginLoaded
		return e, unmarshalInto(payload, &e)
	case TypePluginInvoked:
		var e PluginInvoked
		return e, unmarshalInto(payload, &e)
	case TypePluginResult:
		var e PluginResult
		return e, unmarshalInto(payload, &e)
	case TypePluginError:
		var e PluginError
		return e, unmarshalInto(payload, &e)
	case TypeAgentSpawned:
		var e AgentSpawned
		return e, unmarshalInto(payload, &e)
	case TypeAgentPartialChunk:
		var e AgentPartialOutput
		return e, unmarshalInto(payload, &e)
	case TypeAgentCompleted:
		var e AgentCompleted
		return e, unmarshalInto(payload, &e)
	case TypeAgentError:
		var e AgentError
		return e, unmarshalInto(payload, &e)
	default:
		return nil, fmt.Errorf("event: unknown variant %q", t)
	}
}

// unmarshalInto is a small generic helper that decodes payload into dst and
// returns only the decode error; the caller returns its own local variable
// as the Event. It exists only to keep decodeTypedPayload's cases one line
// each.
func unmarshalInto[T any](payload json.RawMessage, dst *T) error {
	return json.Unmarshal(payload, dst)
}

// withCorrelation rebuilds evt with correlation set, dispatching on the
// concrete type since base is unexported and embedded by value.
func withCorrelation(evt Event, correlation id.Id) Event {
	switch e := evt.(type) {
	case TaskSubmitted:
		e.correlation = correlation
		return e
	case PluginInvoked:
		e.correlation = correlation
		return e
	case PluginResult:
		e.correlation = correlation
		return e
	case PluginError:
		e.correlation = correlation
		return e
	case AgentSpawned:
		e.correlation = correlation
		return e
	default:
		return evt
	}
}

// BinaryFrame is the compact form: a 4-byte big-endian length prefix
// followed by a gob-encoded Envelope. gob rather than a hand-rolled format
// keeps the frame self-describing without a schema compiler, mirroring the
// upstream project's length-prefixed framing at the toolregistry/host
// boundary. Only WriteFrame and ReadFrame produce and consume it: the
// orchestrator's mailbox carries Event values directly, and the
// external-process plugin channel carries raw payload bytes.

// WriteFrame writes evt's binary frame to w, prefixed with its length.
func WriteFrame(w io.Writer, sequence uint64, evt Event) error {
	env, err := EncodeEnvelope(sequence, evt)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(env); err != nil {
		return fmt.Errorf("event: gob encode frame: %w", err)
	}
	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(buf.Len()))
	if _, err := w.Write(lenPrefix[:]); err != nil {
		return err
	}
	_, err = w.Write(buf.Bytes())
	return err
}

// ReadFrame reads one length-prefixed binary frame from r and decodes it.
// It returns io.EOF when r is exhausted before a frame begins.
func ReadFrame(r io.Reader) (Event, uint64, error) {
	var lenPrefix [4]byte
	if _, err := io.ReadFull(r, lenPrefix[:]); err != nil {
		return nil, 0, err
	}
	n := binary.BigEndian.Uint32(lenPrefix[:])
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, 0, fmt.Errorf("event: read frame body: %w", err)
	}
	var env Envelope
	if err := gob.NewDecoder(bytes.NewReader(body)).Decode(&env); err != nil {
		return nil, 0, fmt.Errorf("event: gob decode frame: %w", err)
	}
	evt, err := DecodeEnvelope(env)
	if err != nil {
		return nil, 0, err
	}
	return evt, env.Sequence, nil
}
