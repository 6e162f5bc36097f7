// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

// Command qmresults-conformance serves the demo result store over HTTP on
// a random local port, printing "PORT:<n>" once it is listening.
//
//	qmresults-conformance --http [--legacy]
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Query-farm/qmresults/conformance"
	"github.com/Query-farm/qmresults/qmresults"
)

func main() {
	useHTTP := flag.Bool("http", false, "serve over HTTP")
	legacy := flag.Bool("legacy", false, "expose only the first-generation protocol")
	flag.Parse()

	if !*useHTTP {
		fmt.Fprintln(os.Stderr, "usage: qmresults-conformance --http [--legacy]")
		os.Exit(2)
	}

	server := qmresults.NewServer()
	server.SetDebugErrors(true)
	server.SetServerID("conformance")
	var opts []qmresults.SourceOption
	if *legacy {
		opts = append(opts, qmresults.WithLegacyProtocol())
	}
	qmresults.RegisterResultSource(server, conformance.NewDemoStore(), opts...)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to listen: %v\n", err)
		os.Exit(1)
	}
	port := listener.Addr().(*net.TCPAddr).Port
	fmt.Printf("PORT:%d\n", port)
	os.Stdout.Sync()

	srv := &http.Server{Handler: qmresults.NewHttpServer(server)}

	// Catch SIGTERM/SIGINT so the process exits cleanly and flushes
	// coverage data when built with -cover.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-sigCh
		srv.Shutdown(context.Background())
	}()

	if err := srv.Serve(listener); err != nil && err != http.ErrServerClosed {
		fmt.Fprintf(os.Stderr, "http serve error: %v\n", err)
		os.Exit(1)
	}
}
