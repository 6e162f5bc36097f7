package qmresults

// Well-known metadata keys used in the results wire protocol.
// These appear as custom_metadata on Arrow IPC RecordBatch messages.
const (
	MetaMethod         = "qm.method"
	MetaRequestVersion = "qm.request_version"
	MetaRequestID      = "qm.request_id"
	MetaLogLevel       = "qm.log_level"
	MetaLogMessage     = "qm.log_message"
	MetaLogExtra       = "qm.log_extra"
	MetaServerID       = "qm.server_id"
	MetaCapabilities   = "qm.capabilities"

	ProtocolVersion = "1"
)

// Capability names advertised by the remote service.
const (
	CapMultipleStreamsFetching = "qm.multiple_streams_fetching"
	CapJobStreamingState       = "qm.job_streaming_state"
	CapChunkStreaming          = "qm.chunk_streaming"
)

// Remote method names.
const (
	methodDescribe        = "__describe__"
	methodJobResultSchema = "get_job_result_schema"
	methodNamedHeader     = "get_named_header"
	methodNamedHeaders    = "get_named_headers"
	methodJobState        = "get_job_state"
	methodProgramMetadata = "get_program_metadata"
	methodNamedResult     = "get_named_result"
	methodNamedResults    = "get_named_results"
)
