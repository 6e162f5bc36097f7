package qmresults

import (
	"github.com/apache/arrow-go/v18/arrow"
)

// Request parameters, one struct per remote method.

type jobParams struct {
	JobID string `qm:"job_id"`
}

type namedHeaderParams struct {
	JobID      string `qm:"job_id"`
	Name       string `qm:"name"`
	FlatStruct bool   `qm:"flat_struct,default=false"`
}

type namedHeadersParams struct {
	JobID      string   `qm:"job_id"`
	Names      []string `qm:"names"`
	FlatStruct []bool   `qm:"flat_struct"`
}

type namedResultParams struct {
	JobID  string `qm:"job_id"`
	Name   string `qm:"name"`
	Offset int64  `qm:"offset"`
	Limit  int64  `qm:"limit"`
}

// namedResultsParams carries one inclusive [from, to] item range per name.
type namedResultsParams struct {
	JobID     string   `qm:"job_id"`
	Names     []string `qm:"names"`
	RangeFrom []int64  `qm:"range_from"`
	RangeTo   []int64  `qm:"range_to"`
}

// Result rows.

type schemaRow struct {
	Name          string `qm:"name"`
	Dtype         string `qm:"dtype"`
	Shape         []int  `qm:"shape"`
	IsSingle      bool   `qm:"is_single"`
	ExpectedCount int64  `qm:"expected_count"`
}

type headerRow struct {
	Name               string `qm:"name"`
	CountSoFar         int64  `qm:"count_so_far"`
	Dtype              string `qm:"dtype"`
	Shape              []int  `qm:"shape"`
	HasDataloss        bool   `qm:"has_dataloss"`
	HasExecutionErrors bool   `qm:"has_execution_errors"`
	Done               bool   `qm:"done,default=false"`
	Closed             bool   `qm:"closed,default=false"`
}

type jobStateRow struct {
	Done        bool `qm:"done"`
	Closed      bool `qm:"closed"`
	HasDataloss bool `qm:"has_dataloss"`
}

type programMetadataRow struct {
	Metadata string `qm:"metadata_json"`
}

func headerToRow(name string, h NamedResultHeader) headerRow {
	return headerRow{
		Name:               name,
		CountSoFar:         int64(h.CountSoFar),
		Dtype:              h.DtypeDescriptor,
		Shape:              h.Shape,
		HasDataloss:        h.HasDataloss,
		HasExecutionErrors: h.HasExecutionErrors,
		Done:               h.Done,
		Closed:             h.Closed,
	}
}

func (r headerRow) header() NamedResultHeader {
	return NamedResultHeader{
		CountSoFar:         int(r.CountSoFar),
		DtypeDescriptor:    r.Dtype,
		Shape:              r.Shape,
		HasDataloss:        r.HasDataloss,
		HasExecutionErrors: r.HasExecutionErrors,
		Done:               r.Done,
		Closed:             r.Closed,
	}
}

// chunkSchema is the output schema of both result streaming methods. With
// chunk streaming, a result arrives as pieces with summary=false followed by
// one summary row carrying the item count. Otherwise every row is complete.
var chunkSchema = arrow.NewSchema([]arrow.Field{
	{Name: "output_name", Type: arrow.BinaryTypes.String},
	{Name: "data", Type: arrow.BinaryTypes.Binary},
	{Name: "count_of_items", Type: arrow.PrimitiveTypes.Int64},
	{Name: "summary", Type: &arrow.BooleanType{}},
}, nil)

type chunkRow struct {
	OutputName   string `qm:"output_name"`
	Data         []byte `qm:"data"`
	CountOfItems int64  `qm:"count_of_items"`
	Summary      bool   `qm:"summary"`
}
