// Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

// Package conformance provides an in-memory result backend for exercising
// the qmresults protocol end to end. [Store] implements
// [qmresults.ResultSource]; [NewDemoStore] seeds it with jobs that cover
// every result kind: scalar and per-item-shaped sequences, a timestamped
// record, a singleton, a legacy boolean array, a legacy timestamps
// companion, and jobs that are still running, failed or lost data.
//
// The conformance binary in cmd/qmresults-conformance serves the demo
// store over HTTP with either protocol generation.
package conformance
