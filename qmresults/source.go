// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package qmresults

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
)

// ResultSource is the backend a server exposes: the stored results of any
// number of jobs.
type ResultSource interface {
	JobResultSchema(ctx context.Context, jobID string) ([]*ResultItemSchema, error)
	// NamedHeader fails with a *SchemaError for an unknown name.
	NamedHeader(ctx context.Context, jobID, name string, flatStruct bool) (NamedResultHeader, error)
	JobState(ctx context.Context, jobID string) (JobStreamingState, error)
	ProgramMetadata(ctx context.Context, jobID string) (ProgramMetadata, error)
	// ReadItems returns the raw bytes of at most limit items starting at
	// offset and how many items they hold.
	ReadItems(ctx context.Context, jobID, name string, offset, limit int) ([]byte, int, error)
}

type sourceOptions struct {
	legacy bool
}

// SourceOption configures RegisterResultSource.
type SourceOption func(*sourceOptions)

// WithLegacyProtocol exposes only the first-generation surface: no job
// state query, no batched headers or results, no program metadata and no
// chunk streaming. Job state is then carried on result headers.
func WithLegacyProtocol() SourceOption {
	return func(o *sourceOptions) { o.legacy = true }
}

// RegisterResultSource registers every result method on s, served by src,
// and advertises the matching capabilities.
func RegisterResultSource(s *Server, src ResultSource, opts ...SourceOption) {
	var o sourceOptions
	for _, opt := range opts {
		opt(&o)
	}

	Unary(s, methodJobResultSchema, func(ctx context.Context, _ *CallContext, p jobParams) ([]schemaRow, error) {
		items, err := src.JobResultSchema(ctx, p.JobID)
		if err != nil {
			return nil, err
		}
		rows := make([]schemaRow, len(items))
		for i, it := range items {
			rows[i] = schemaRow{
				Name:          it.Name,
				Dtype:         it.DtypeDescriptor,
				Shape:         it.Shape,
				IsSingle:      it.IsSingle,
				ExpectedCount: int64(it.ExpectedCount),
			}
		}
		return rows, nil
	})

	Unary(s, methodNamedHeader, func(ctx context.Context, _ *CallContext, p namedHeaderParams) (headerRow, error) {
		h, err := src.NamedHeader(ctx, p.JobID, p.Name, p.FlatStruct)
		if err != nil {
			return headerRow{}, err
		}
		return headerToRow(p.Name, h), nil
	})

	StreamMethod(s, methodNamedResult, func(ctx context.Context, cc *CallContext, p namedResultParams, cw *ChunkWriter) error {
		data, count, err := src.ReadItems(ctx, p.JobID, p.Name, int(p.Offset), int(p.Limit))
		if err != nil {
			return err
		}
		name := p.Name
		if o.legacy {
			name = ""
		}
		cc.ClientLog(LogDebug, fmt.Sprintf("sending %d items of '%s'", count, p.Name))
		return cw.WriteResult(name, data, count)
	})

	if o.legacy {
		return
	}

	Unary(s, methodNamedHeaders, func(ctx context.Context, _ *CallContext, p namedHeadersParams) ([]headerRow, error) {
		rows := make([]headerRow, 0, len(p.Names))
		for i, name := range p.Names {
			flat := i < len(p.FlatStruct) && p.FlatStruct[i]
			h, err := src.NamedHeader(ctx, p.JobID, name, flat)
			if errors.Is(err, ErrSchema) {
				continue
			}
			if err != nil {
				return nil, err
			}
			rows = append(rows, headerToRow(name, h))
		}
		return rows, nil
	})

	Unary(s, methodJobState, func(ctx context.Context, _ *CallContext, p jobParams) (jobStateRow, error) {
		st, err := src.JobState(ctx, p.JobID)
		if err != nil {
			return jobStateRow{}, err
		}
		return jobStateRow{Done: st.Done, Closed: st.Closed, HasDataloss: st.HasDataloss}, nil
	})

	Unary(s, methodProgramMetadata, func(ctx context.Context, _ *CallContext, p jobParams) (programMetadataRow, error) {
		meta, err := src.ProgramMetadata(ctx, p.JobID)
		if err != nil {
			return programMetadataRow{}, err
		}
		data, err := json.Marshal(meta)
		if err != nil {
			return programMetadataRow{}, err
		}
		return programMetadataRow{Metadata: string(data)}, nil
	})

	StreamMethod(s, methodNamedResults, func(ctx context.Context, _ *CallContext, p namedResultsParams, cw *ChunkWriter) error {
		if len(p.RangeFrom) != len(p.Names) || len(p.RangeTo) != len(p.Names) {
			return &RpcError{Type: "ValueError", Message: "names, range_from and range_to must have the same length"}
		}
		for i, name := range p.Names {
			if err := ctx.Err(); err != nil {
				return err
			}
			from, to := int(p.RangeFrom[i]), int(p.RangeTo[i])
			data, count, err := src.ReadItems(ctx, p.JobID, name, from, to-from+1)
			if err != nil {
				return err
			}
			if err := cw.WriteResult(name, data, count); err != nil {
				return err
			}
		}
		return nil
	})

	s.Advertise(CapMultipleStreamsFetching, CapJobStreamingState, CapChunkStreaming)
}
