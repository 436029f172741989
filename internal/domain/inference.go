package domain

import "context"

// InferenceRequest is built fresh for every provider call.
type InferenceRequest struct {
	ModelID      string
	Instructions string
	Input        Conversation
	Stream       bool
}

// OutputKind discriminates the two shapes an InferenceOutput can take.
type OutputKind int

const (
	// OutputStream carries an incremental ChunkStream.
	OutputStream OutputKind = iota + 1
	// OutputWhole carries a single resolved value.
	OutputWhole
)

func (k OutputKind) String() string {
	switch k {
	case OutputStream:
		return "stream"
	case OutputWhole:
		return "whole"
	}
	return "unknown"
}

// ChunkStream yields raw chunks of model output. Next returns io.EOF once the
// stream is exhausted. Chunk boundaries may split multi-byte characters.
type ChunkStream interface {
	Next(ctx context.Context) ([]byte, error)
	Close() error
}

// InferenceOutput is the provider adapter's result. Exactly one of Stream or
// Value is meaningful, selected by Kind.
type InferenceOutput struct {
	Kind   OutputKind
	Stream ChunkStream
	Value  any
}

// StreamOutput wraps an incremental producer.
func StreamOutput(s ChunkStream) InferenceOutput {
	return InferenceOutput{Kind: OutputStream, Stream: s}
}

// WholeOutput wraps a single complete value: text, bytes or anything
// JSON-serializable.
func WholeOutput(v any) InferenceOutput {
	return InferenceOutput{Kind: OutputWhole, Value: v}
}
