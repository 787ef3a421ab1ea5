package listener

import (
	"bytes"
	"context"
	"fmt"
	"log"

	"github.com/plgd-dev/go-coap/v3/message"
	"github.com/plgd-dev/go-coap/v3/message/codes"
	"github.com/plgd-dev/go-coap/v3/mux"
	coapNet "github.com/plgd-dev/go-coap/v3/net"
	"github.com/plgd-dev/go-coap/v3/options"
	"github.com/plgd-dev/go-coap/v3/udp"
	udpServer "github.com/plgd-dev/go-coap/v3/udp/server"
)

type coapListener struct {
	addr   string
	router *mux.Router
	server *udpServer.Server
	conn   *coapNet.UDPConn
}

func newCoAP(addr string, paths []string, h *handler) *coapListener {
	r := mux.NewRouter()

	ingest := mux.HandlerFunc(func(w mux.ResponseWriter, req *mux.Message) {
		if req.Code() != codes.PUT && req.Code() != codes.POST {
			respond(w, codes.MethodNotAllowed, "Method Not Allowed")
			return
		}

		body, err := req.ReadBody()
		if err != nil {
			log.Printf("Listener coap: Failed to read request body: %v", err)
			respond(w, codes.BadRequest, "Invalid JSON")
			return
		}

		switch h.handle(req.Context(), body) {
		case StatusAccepted:
			respond(w, codes.Changed, "OK CoAP")
		case StatusBadRequest:
			respond(w, codes.BadRequest, "Invalid JSON")
		default:
			respond(w, codes.InternalServerError, "Server Error")
		}
	})
	for _, p := range paths {
		if err := r.Handle(p, ingest); err != nil {
			log.Printf("Listener coap: Failed to register %s: %v", p, err)
		}
	}

	return &coapListener{addr: addr, router: r}
}

func respond(w mux.ResponseWriter, code codes.Code, text string) {
	if err := w.SetResponse(code, message.TextPlain, bytes.NewReader([]byte(text))); err != nil {
		log.Printf("Listener coap: Failed to set response: %v", err)
	}
}

func (l *coapListener) Name() string { return "coap" }

func (l *coapListener) Start(ctx context.Context) error {
	conn, err := coapNet.NewListenUDP("udp", l.addr)
	if err != nil {
		return fmt.Errorf("failed to bind CoAP listener on %s: %w", l.addr, err)
	}
	l.conn = conn
	l.server = udp.NewServer(options.WithMux(l.router))

	go func() {
		if err := l.server.Serve(conn); err != nil {
			log.Printf("Listener coap: Server stopped: %v", err)
		}
	}()

	log.Printf("Listener coap: Serving on %s", conn.LocalAddr())
	return nil
}

func (l *coapListener) Shutdown(ctx context.Context) error {
	if l.server != nil {
		l.server.Stop()
	}
	if l.conn != nil {
		return l.conn.Close()
	}
	return nil
}

// localAddr reports the bound address once started
func (l *coapListener) localAddr() string {
	if l.conn == nil {
		return ""
	}
	return l.conn.LocalAddr().String()
}
