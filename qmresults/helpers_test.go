package qmresults

import (
	"bytes"
	"encoding/binary"
	"log/slog"
	"sync"
	"testing"
)

func pack(t *testing.T, values ...any) []byte {
	t.Helper()
	var buf bytes.Buffer
	for _, v := range values {
		if err := binary.Write(&buf, binary.LittleEndian, v); err != nil {
			t.Fatalf("pack %T: %v", v, err)
		}
	}
	return buf.Bytes()
}

func mustArray(t *testing.T, dt *Dtype, shape []int, data []byte) *Array {
	t.Helper()
	a, err := NewArray(dt, shape, data)
	if err != nil {
		t.Fatalf("NewArray: %v", err)
	}
	return a
}

// logBuffer collects log output for assertions.
type logBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *logBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func captureLogger() (*slog.Logger, *logBuffer) {
	lb := &logBuffer{}
	return slog.New(slog.NewTextHandler(lb, &slog.HandlerOptions{Level: slog.LevelDebug})), lb
}
