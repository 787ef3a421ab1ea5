package listener

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/plgd-dev/go-coap/v3/message"
	"github.com/plgd-dev/go-coap/v3/message/codes"
	"github.com/plgd-dev/go-coap/v3/udp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startCoAP(t *testing.T, ing *fakeIngester) string {
	t.Helper()
	l := newCoAP("127.0.0.1:0", ingestPaths("sensors"), &handler{protocol: "coap", ingester: ing})
	require.NoError(t, l.Start(context.Background()))
	t.Cleanup(func() { _ = l.Shutdown(context.Background()) })
	return l.localAddr()
}

func putCoAP(t *testing.T, addr, path, body string) (codes.Code, string) {
	t.Helper()
	conn, err := udp.Dial(addr)
	require.NoError(t, err)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := conn.Put(ctx, path, message.AppJSON, bytes.NewReader([]byte(body)))
	require.NoError(t, err)
	payload, err := resp.ReadBody()
	require.NoError(t, err)
	return resp.Code(), string(payload)
}

func TestCoAP_Changed(t *testing.T) {
	ing := &fakeIngester{}
	addr := startCoAP(t, ing)

	code, body := putCoAP(t, addr, "/sensors", `{"node_id":"n1","temperature":22.5,"humidity":48.0,"light":310}`)
	assert.Equal(t, codes.Changed, code)
	assert.Equal(t, "OK CoAP", body)

	code, _ = putCoAP(t, addr, "/data", `{}`)
	assert.Equal(t, codes.Changed, code)
	assert.Equal(t, 2, ing.calls())
}

func TestCoAP_BadRequest(t *testing.T) {
	addr := startCoAP(t, &fakeIngester{})

	code, body := putCoAP(t, addr, "/sensors", `{"temperature":`)
	assert.Equal(t, codes.BadRequest, code)
	assert.Equal(t, "Invalid JSON", body)
}

func TestCoAP_ServerError(t *testing.T) {
	addr := startCoAP(t, &fakeIngester{err: errors.New("store down")})

	code, body := putCoAP(t, addr, "/sensors", `{"node_id":"n1"}`)
	assert.Equal(t, codes.InternalServerError, code)
	assert.Equal(t, "Server Error", body)
}

func TestCoAP_MethodNotAllowed(t *testing.T) {
	ing := &fakeIngester{}
	addr := startCoAP(t, ing)

	conn, err := udp.Dial(addr)
	require.NoError(t, err)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := conn.Get(ctx, "/sensors")
	require.NoError(t, err)
	assert.Equal(t, codes.MethodNotAllowed, resp.Code())
	assert.Zero(t, ing.calls())
}

func TestCoAP_BindFailure(t *testing.T) {
	addr := startCoAP(t, &fakeIngester{})

	l := newCoAP(addr, ingestPaths("sensors"), &handler{protocol: "coap", ingester: &fakeIngester{}})
	assert.Error(t, l.Start(context.Background()))
}
