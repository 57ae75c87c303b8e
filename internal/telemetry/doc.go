// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package telemetry builds the process logger and the Prometheus metrics for
// rigrun-chat.
//
// # Logging
//
// All components log through log/slog. NewLogger picks a text or JSON
// handler; Setup does the same from the [logging] config section and opens
// the log file when one is configured:
//
//	logger, closer, err := telemetry.Setup(cfg.Logging, os.Stderr, nil)
//	if err != nil {
//	    return err
//	}
//	defer closer.Close()
//
// # Metrics
//
// Metrics owns a private registry. Observe is shaped to be passed to
// chat.WithObserver, and ObserveHTTP is called by the server middleware:
//
//	m := telemetry.NewMetrics()
//	orch := chat.New(store, client, creds, settings, chat.WithObserver(m.Observe))
//	mux.Handle("GET /metrics", m.Handler())
//
// # Privacy
//
// Neither logs nor metrics carry message text or API keys. Keys appear only
// as fingerprints.
package telemetry
