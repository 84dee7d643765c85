// Package timeouts defines shared timeout constants used across commands.
package timeouts

import "time"

// GRPCDial caps the wait time when dialing a gRPC peer.
const GRPCDial = 2 * time.Second

// HealthCheck caps one gRPC health probe.
const HealthCheck = time.Second

// WebhookRequest caps one outbound reply or announcement request.
const WebhookRequest = 10 * time.Second

// ArtifactUpload caps one artifact write.
const ArtifactUpload = 30 * time.Second

// Shutdown limits how long servers wait for in-flight work during
// graceful shutdown.
const Shutdown = 5 * time.Second
