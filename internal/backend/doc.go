// Package backend wires weight provisioning, the supervised ollama server,
// the readiness gate and the streaming chat client into one setup sequence.
// It is split by concern:
//
//   - setup.go: Config, Deps and Setup (download, launch, readiness, load).
//   - handle.go: Handle, the ready backend used for predictions.
//   - service.go: Service, which runs Setup in the background for the HTTP layer.
//   - report.go: setup report (timestamps, status, log lines).
//   - errors.go: SetupError, ReadinessTimeoutError, NotReadyError and PhaseOf.
//   - metrics.go: prediction and setup metrics.
//
// Callers outside the package should use Setup or Start and the Handle or
// Service they return.
package backend
