package agentregistry

import (
	"context"
	"io"
	"sync"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
)

// Chunk is one piece of a model's streamed response: either a text
// fragment or the terminal signal that the stream is finished.
type Chunk struct {
	Text string
	Done bool
}

// Streamer yields Chunks until the underlying stream is exhausted or
// fails; Recv returns io.EOF once Done has been observed. Grounded on
// model.Streamer/anthropicStreamer in features/model/anthropic/stream.go,
// reduced to the single text-delta case the kernel's AgentRegistry needs.
type Streamer interface {
	Recv() (Chunk, error)
	Close() error
}

// Request is a single turn sent to the model.
type Request struct {
	Model     string
	Prompt    string
	MaxTokens int64
}

// Client starts a streaming model turn. The default implementation wraps
// github.com/anthropics/anthropic-sdk-go the same way
// features/model/anthropic/client.go does.
type Client interface {
	Stream(ctx context.Context, req Request) (Streamer, error)
}

// MessagesClient captures the subset of the Anthropic SDK used here,
// satisfied by *sdk.MessageService so tests can substitute a fake.
type MessagesClient interface {
	NewStreaming(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion]
}

// AnthropicClient adapts MessagesClient to Client.
type AnthropicClient struct {
	msg          MessagesClient
	defaultModel string
}

// NewAnthropicClient builds a Client backed by the Anthropic Messages
// streaming API.
func NewAnthropicClient(msg MessagesClient, defaultModel string) *AnthropicClient {
	return &AnthropicClient{msg: msg, defaultModel: defaultModel}
}

func (c *AnthropicClient) Stream(ctx context.Context, req Request) (Streamer, error) {
	model := req.Model
	if model == "" {
		model = c.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	body := sdk.MessageNewParams{
		Model:     sdk.Model(model),
		MaxTokens: maxTokens,
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(req.Prompt)),
		},
	}
	stream := c.msg.NewStreaming(ctx, body)
	return newAnthropicStreamer(ctx, stream), nil
}

type anthropicStreamer struct {
	ctx    context.Context
	cancel context.CancelFunc
	stream *ssestream.Stream[sdk.MessageStreamEventUnion]

	chunks chan Chunk

	errMu    sync.Mutex
	errSet   bool
	finalErr error
}

func newAnthropicStreamer(ctx context.Context, stream *ssestream.Stream[sdk.MessageStreamEventUnion]) Streamer {
	cctx, cancel := context.WithCancel(ctx)
	s := &anthropicStreamer{ctx: cctx, cancel: cancel, stream: stream, chunks: make(chan Chunk, 32)}
	go s.run()
	return s
}

func (s *anthropicStreamer) run() {
	defer close(s.chunks)
	defer func() {
		if s.stream != nil {
			_ = s.stream.Close()
		}
	}()

	for {
		select {
		case <-s.ctx.Done():
			s.setErr(s.ctx.Err())
			return
		default:
		}
		if !s.stream.Next() {
			if err := s.stream.Err(); err != nil {
				s.setErr(err)
			} else {
				s.setErr(nil)
			}
			return
		}
		event := s.stream.Current()
		switch ev := event.AsAny().(type) {
		case sdk.ContentBlockDeltaEvent:
			if delta, ok := ev.Delta.AsAny().(sdk.TextDelta); ok && delta.Text != "" {
				if err := s.emit(Chunk{Text: delta.Text}); err != nil {
					s.setErr(err)
					return
				}
			}
		case sdk.MessageStopEvent:
			if err := s.emit(Chunk{Done: true}); err != nil {
				s.setErr(err)
				return
			}
		}
	}
}

func (s *anthropicStreamer) emit(c Chunk) error {
	select {
	case <-s.ctx.Done():
		return s.ctx.Err()
	case s.chunks <- c:
		return nil
	}
}

func (s *anthropicStreamer) Recv() (Chunk, error) {
	select {
	case c, ok := <-s.chunks:
		if ok {
			return c, nil
		}
		if err := s.err(); err != nil {
			return Chunk{}, err
		}
		return Chunk{}, io.EOF
	case <-s.ctx.Done():
		err := s.ctx.Err()
		if err == nil {
			err = context.Canceled
		}
		s.setErr(err)
		return Chunk{}, err
	}
}

func (s *anthropicStreamer) Close() error {
	s.cancel()
	if s.stream == nil {
		return nil
	}
	return s.stream.Close()
}

func (s *anthropicStreamer) setErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.errSet {
		return
	}
	s.errSet = true
	s.finalErr = err
}

func (s *anthropicStreamer) err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.finalErr
}
