// Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

// Package qmresults reconstructs the streamed results of a quantum-control
// job into typed arrays.
//
// A job produces named results. Each result has a schema (a numpy dtype
// descriptor plus a per-item shape) and a growing sequence of raw items
// that the result service streams in chunks. The client fetches the
// header of a result, normalizes the caller's selection against the
// items available so far, streams the raw bytes and rebuilds an
// in-memory NPY array from them.
//
// # Fetchers
//
// [NewManager] loads a job's schema and builds one [Fetcher] per result:
//
//   - [SingletonFetcher] for "save" results holding a single value. Fetch
//     returns the scalar, or nil when nothing has been saved yet.
//   - [SequenceFetcher] for everything else. A result whose items carry
//     timestamps is unwrapped to its values; a companion result named
//     NAME_timestamps is joined back in as a record array.
//
// When the server advertises [CapMultipleStreamsFetching], a
// [MultiFetcher] reads the headers and data of several results in one
// call each, and every fetcher routes through it.
//
// # Selecting items
//
// A [Selector] is either an [Index] or a [Slice]. Slices may leave either
// bound open; the stop is clamped to the items available. A negative
// bound, a non-unit step or a stop before the start is an
// [InvalidRangeError].
//
// # Waiting
//
// Fetchers and the manager can poll until a number of items exist or
// the job has finished. Polling backs off from 10ms to 1s. A wait that
// runs out of time fails with a [TimeoutError] of kind [TimeoutWait]; a
// deadline hit while talking to the server is [TimeoutNetwork]. A caller's
// ctx deadline reached between polls is also [TimeoutWait].
//
// # Transport
//
// [Client] speaks the result protocol over HTTP. Every call is
//
//	POST /qm/{method}
//
// with an Arrow IPC body whose single batch carries the parameters and
// the method name, protocol version, request ID and requested log level
// as batch metadata. Responses are Arrow IPC streams: zero-row log
// batches, then either result rows or a zero-row EXCEPTION batch.
// Bodies are zstd-compressed when the client accepts it.
//
// The server side is [Server] plus [HttpServer]. [RegisterResultSource]
// exposes any [ResultSource] with the full method set, or with only the
// first-generation subset under [WithLegacyProtocol]. A GET on the prefix
// returns an HTML page listing the methods and capabilities.
package qmresults
