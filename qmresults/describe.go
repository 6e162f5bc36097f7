// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package qmresults

import (
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
)

// Description is what a server reports about itself through __describe__.
type Description struct {
	ServerID     string
	Methods      map[string]string // method name to DispatchMethodUnary or DispatchMethodStream
	Capabilities Capabilities
}

func joinCapabilities(caps []string) string { return strings.Join(caps, ",") }

func splitCapabilities(s string) []string {
	var out []string
	for _, c := range strings.Split(s, ",") {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out
}

func newBatchWithMetadata(batch arrow.RecordBatch, keys, vals []string) arrow.RecordBatch {
	return array.NewRecordBatchWithMetadata(batch.Schema(), batch.Columns(), batch.NumRows(), arrow.NewMetadata(keys, vals))
}

// applyDescribeBatch folds one __describe__ response batch into d.
func (d *Description) applyDescribeBatch(batch arrow.RecordBatch) error {
	if rb, ok := batch.(arrow.RecordBatchWithMetadata); ok {
		meta := rb.Metadata()
		if v, ok := meta.GetValue(MetaCapabilities); ok {
			d.Capabilities = NewCapabilities(splitCapabilities(v)...)
		}
		if v, ok := meta.GetValue(MetaServerID); ok {
			d.ServerID = v
		}
	}
	var rows []describeRow
	if err := decodeRows(batch, &rows); err != nil {
		return err
	}
	for _, r := range rows {
		d.Methods[r.Name] = r.MethodType
	}
	return nil
}
