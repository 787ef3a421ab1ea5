// Package listener adapts the CoAP and HTTP transports to the ingestion
// pipeline. Exactly one listener runs per process.
package listener

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"

	"iot-gateway/internal/services"
	"iot-gateway/pkg/config"
)

// Listener is a protocol adapter bound to one socket
type Listener interface {
	Name() string
	// Start binds the socket and serves in the background. A bind failure is returned.
	Start(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// Ingester runs the ingestion pipeline for one request body
type Ingester interface {
	Ingest(ctx context.Context, body []byte) (*services.Outcome, error)
}

// Recorder counts request outcomes
type Recorder interface {
	RequestHandled(protocol, status string)
}

// Status is the protocol-neutral result of a request
type Status int

const (
	StatusAccepted Status = iota
	StatusBadRequest
	StatusServerError
)

func (s Status) String() string {
	switch s {
	case StatusAccepted:
		return "accepted"
	case StatusBadRequest:
		return "bad_request"
	default:
		return "server_error"
	}
}

// Classify maps a pipeline error to a request status
func Classify(err error) Status {
	if err == nil {
		return StatusAccepted
	}
	var derr *services.DecodeError
	if errors.As(err, &derr) {
		return StatusBadRequest
	}
	return StatusServerError
}

// Options configures the selected listener
type Options struct {
	Addr     string
	DataPath string
	Ingester Ingester
	Recorder Recorder
}

// New returns the listener for protocol
func New(protocol string, opts Options) (Listener, error) {
	h := &handler{ingester: opts.Ingester, recorder: opts.Recorder}
	paths := ingestPaths(opts.DataPath)

	switch protocol {
	case config.ProtocolCoAP:
		h.protocol = config.ProtocolCoAP
		return newCoAP(opts.Addr, paths, h), nil
	case config.ProtocolHTTP:
		h.protocol = config.ProtocolHTTP
		return newHTTP(opts.Addr, paths, h), nil
	default:
		return nil, fmt.Errorf("unknown protocol %q", protocol)
	}
}

// ingestPaths returns the configured data path and the /data alias
func ingestPaths(dataPath string) []string {
	primary := "/" + dataPath
	if primary == "/" || primary == "/data" {
		return []string{"/data"}
	}
	return []string{primary, "/data"}
}

// handler is the request path shared by both listeners
type handler struct {
	protocol string
	ingester Ingester
	recorder Recorder
}

func (h *handler) handle(ctx context.Context, body []byte) Status {
	id := uuid.NewString()

	out, err := h.ingester.Ingest(ctx, body)
	status := Classify(err)

	switch status {
	case StatusAccepted:
		log.Printf("Listener %s [%s]: Stored reading from node %q (%d forecast points)",
			h.protocol, id, out.Record.NodeID, out.ForecastPoints)
	case StatusBadRequest:
		log.Printf("Listener %s [%s]: Rejected request: %v", h.protocol, id, err)
	default:
		log.Printf("Listener %s [%s]: Internal Server Error for node %q: %v",
			h.protocol, id, nodeID(out, body), err)
	}

	if h.recorder != nil {
		h.recorder.RequestHandled(h.protocol, status.String())
	}
	return status
}

// nodeID recovers the node id for logging when the pipeline returned none
func nodeID(out *services.Outcome, body []byte) string {
	if out != nil {
		return out.Record.NodeID
	}
	if rec, err := services.DecodeRecord(body, false); err == nil {
		return rec.NodeID
	}
	return ""
}
