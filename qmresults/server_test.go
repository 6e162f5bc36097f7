package qmresults

import (
	"context"
	"testing"
)

type echoParams struct {
	Name string `qm:"name"`
}

func TestStreamMethodRegistersChunkStream(t *testing.T) {
	s := NewServer()
	StreamMethod(s, "echo", func(_ context.Context, _ *CallContext, p echoParams, cw *ChunkWriter) error {
		return cw.WriteResult(p.Name, []byte{1}, 1)
	})
	Unary(s, "ping", func(context.Context, *CallContext, echoParams) (echoParams, error) {
		return echoParams{}, nil
	})

	info, ok := s.methods["echo"]
	if !ok {
		t.Fatalf("echo not registered")
	}
	if info.Type != MethodChunkStream || info.ResultSchema != chunkSchema {
		t.Fatalf("echo registered as %v", info.Type)
	}
	if info.ParamsSchema.NumFields() != 1 || info.ParamsSchema.Field(0).Name != "name" {
		t.Fatalf("unexpected params schema %v", info.ParamsSchema)
	}
	if s.methods["ping"].Type != MethodUnary {
		t.Fatalf("ping registered as %v", s.methods["ping"].Type)
	}
}
