package main

import (
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	*broadcastServer
	cell    *stateCell
	secrets *secretStore
}

type testOptions struct {
	max       int
	heartbeat time.Duration
	push      time.Duration
	pongWait  time.Duration
	cps       float64
	burst     int
	noPage    bool
}

// newTestServer starts a server on a free loopback port and stops it when the
// test ends.
func newTestServer(t *testing.T, o testOptions) *testServer {
	t.Helper()
	if o.max == 0 {
		o.max = 10
	}
	if o.push == 0 {
		o.push = 10 * time.Millisecond
	}
	secrets, err := newSecretStore("", "", nil, discardLogger())
	require.NoError(t, err)

	var page *pageTemplate
	if !o.noPage {
		page, err = loadPageTemplate("")
		require.NoError(t, err)
	}

	cell := newStateCell()
	s := newBroadcastServer(cell, secrets, page, serverConfig{
		HeartbeatPeriod:      o.heartbeat,
		PushPeriod:           o.push,
		PongWait:             o.pongWait,
		ConnectionsPerSecond: o.cps,
		ConnectionBurst:      o.burst,
		StopTimeout:          time.Second,
		KillTimeout:          100 * time.Millisecond,
	}, discardLogger())
	require.NoError(t, s.Start("127.0.0.1", 0, o.max))
	t.Cleanup(func() { _ = s.Stop() })
	return &testServer{broadcastServer: s, cell: cell, secrets: secrets}
}

func (ts *testServer) url(scheme, path string) *url.URL {
	return &url.URL{Scheme: scheme, Host: ts.Addr().String(), Path: path}
}

func TestHTML(t *testing.T) {
	t.Log("TestHTML: GET /somestring serves the page with the secret in it")
	ts := newTestServer(t, testOptions{})
	ts.secrets.Set("header.payload.signature")

	resp := get(t, ts.url("http", "/somestring"))
	body := string(responseBody(t, resp))

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/html; charset=utf-8", resp.Header.Get("Content-Type"))
	assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
	assert.Contains(t, body, "<html")
	assert.Contains(t, body, `"header.payload.signature"`)
	assert.NotContains(t, body, secretPlaceholder)
}

func TestHTMLSecretChange(t *testing.T) {
	t.Log("TestHTMLSecretChange: a new secret shows up on the next request")
	ts := newTestServer(t, testOptions{})

	ts.secrets.Set("first-secret")
	first := string(responseBody(t, get(t, ts.url("http", "/"))))
	ts.secrets.Set("second-secret")
	second := string(responseBody(t, get(t, ts.url("http", "/"))))

	assert.Contains(t, first, "first-secret")
	assert.Contains(t, second, "second-secret")
	assert.NotContains(t, second, "first-secret")
}

func TestHTMLEmptySecret(t *testing.T) {
	ts := newTestServer(t, testOptions{})

	body := string(responseBody(t, get(t, ts.url("http", "/"))))
	assert.Contains(t, body, `var HIFI_JWT = "";`)
}

func TestHEAD(t *testing.T) {
	ts := newTestServer(t, testOptions{})

	resp, err := http.Head(ts.url("http", "/").String())
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, responseBody(t, resp))
}

func TestXSS(t *testing.T) {
	t.Log("TestXSS: a secret containing markup does not return <xss>")
	ts := newTestServer(t, testOptions{})
	ts.secrets.Set(`"</script><xss>`)

	body := string(responseBody(t, get(t, ts.url("http", "/"))))
	assert.NotContains(t, body, "<xss>")
	assert.NotContains(t, body, `"</script>`)
}

func TestTemplateUnavailable(t *testing.T) {
	t.Log("TestTemplateUnavailable: the page is refused but /locdata keeps streaming")
	ts := newTestServer(t, testOptions{noPage: true})
	ts.cell.Set(newSample(1, 2, 3, 180))

	resp := get(t, ts.url("http", "/"))
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	ws := mockWs(t, ts.url("ws", locdataPath))
	defer ws.Close()
	_, msg, err := ws.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, `{"x":1,"y":2,"z":3,"yaw":0}`, string(msg))
}

func TestLocdataStreamsSamples(t *testing.T) {
	t.Log("TestLocdataStreamsSamples: a client receives the latest sample every push period")
	ts := newTestServer(t, testOptions{})
	ts.cell.Set(Sample{X: 1.5, Y: 2.0, Z: -3.25, Heading: 350.0})

	ws := mockWs(t, ts.url("ws", locdataPath))
	defer ws.Close()

	for i := 0; i < 3; i++ {
		messageType, msg, err := ws.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, websocket.TextMessage, messageType)
		assert.Equal(t, `{"x":1.5,"y":2,"z":-3.25,"yaw":350}`, string(msg))
	}

	ts.cell.Set(newSample(0, 64, 0, 10))
	assert.Eventually(t, func() bool {
		_, msg, err := ws.ReadMessage()
		return err == nil && string(msg) == `{"x":0,"y":64,"z":0,"yaw":170}`
	}, time.Second, time.Millisecond)
}

func TestLocdataPings(t *testing.T) {
	ts := newTestServer(t, testOptions{heartbeat: 20 * time.Millisecond, push: time.Hour})

	ws := mockWs(t, ts.url("ws", locdataPath))
	defer ws.Close()

	pings := make(chan string, 10)
	ws.SetPingHandler(func(appData string) error {
		pings <- appData
		return nil
	})
	// Control frames are only delivered while reading.
	go func() {
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	select {
	case p := <-pings:
		assert.Equal(t, "Ping", p)
	case <-time.After(2 * time.Second):
		t.Fatal("no ping received")
	}
}

func TestLocdataPongsKeepClientAlive(t *testing.T) {
	ts := newTestServer(t, testOptions{heartbeat: 20 * time.Millisecond, push: time.Hour, pongWait: 200 * time.Millisecond})
	pongs := m.count("conn.pong")

	ws := mockWs(t, ts.url("ws", locdataPath))
	defer ws.Close()
	// The default ping handler answers with a pong while we read.
	go func() {
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	time.Sleep(500 * time.Millisecond)
	assert.Equal(t, 1, ts.Sessions())
	assert.Greater(t, m.count("conn.pong"), pongs)
}

func TestLocdataSilentClientDropped(t *testing.T) {
	ts := newTestServer(t, testOptions{heartbeat: time.Hour, push: time.Hour, pongWait: 50 * time.Millisecond})

	ws := mockWs(t, ts.url("ws", locdataPath))
	defer ws.Close()

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := ws.ReadMessage()
	require.Error(t, err)
	var netErr net.Error
	assert.False(t, errors.As(err, &netErr) && netErr.Timeout(), "server never dropped the client")
	assert.Eventually(t, func() bool { return ts.Sessions() == 0 }, time.Second, time.Millisecond)
}

func TestLocdataClientMessagesIgnored(t *testing.T) {
	ts := newTestServer(t, testOptions{})

	ws := mockWs(t, ts.url("ws", locdataPath))
	defer ws.Close()
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("hello")))

	// The stream continues and nothing echoes the message back.
	for i := 0; i < 5; i++ {
		_, msg, err := ws.ReadMessage()
		require.NoError(t, err)
		assert.NotEqual(t, "hello", string(msg))
	}
}

func TestMaxConnections(t *testing.T) {
	t.Log("TestMaxConnections: connections beyond the limit are refused")
	ts := newTestServer(t, testOptions{max: 2})

	first := mockWs(t, ts.url("ws", locdataPath))
	second := mockWs(t, ts.url("ws", locdataPath))
	defer second.Close()
	require.Eventually(t, func() bool { return ts.Sessions() == 2 }, time.Second, time.Millisecond)

	_, resp, err := dial(ts.url("ws", locdataPath))
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	first.Close()
	require.Eventually(t, func() bool { return ts.admission.inUse() == 1 }, 2*time.Second, time.Millisecond)

	third := mockWs(t, ts.url("ws", locdataPath))
	defer third.Close()
	require.Eventually(t, func() bool { return ts.Sessions() == 2 }, time.Second, time.Millisecond)
}

func TestConnectionRate(t *testing.T) {
	ts := newTestServer(t, testOptions{cps: 0.001, burst: 1})

	ws := mockWs(t, ts.url("ws", locdataPath))
	defer ws.Close()

	_, resp, err := dial(ts.url("ws", locdataPath))
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestUpgradeFailureKeepsServing(t *testing.T) {
	ts := newTestServer(t, testOptions{})

	resp := get(t, ts.url("http", locdataPath))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	ws := mockWs(t, ts.url("ws", locdataPath))
	defer ws.Close()
	_, _, err := ws.ReadMessage()
	assert.NoError(t, err)
}

func TestStop(t *testing.T) {
	t.Log("TestStop: clients are told the server is going away")
	ts := newTestServer(t, testOptions{})

	ws := mockWs(t, ts.url("ws", locdataPath))
	defer ws.Close()
	require.Eventually(t, func() bool { return ts.Sessions() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, ts.Stop())
	require.NoError(t, ts.Stop())

	var closeErr *websocket.CloseError
	for {
		_, _, err := ws.ReadMessage()
		if err == nil {
			continue
		}
		require.ErrorAs(t, err, &closeErr)
		break
	}
	assert.Equal(t, websocket.CloseGoingAway, closeErr.Code)
	assert.Eventually(t, func() bool { return ts.Sessions() == 0 }, time.Second, time.Millisecond)

	_, err := net.DialTimeout("tcp", ts.Addr().String(), 100*time.Millisecond)
	assert.Error(t, err, "listener still open after Stop")
}

func TestStopBeforeStart(t *testing.T) {
	s := newBroadcastServer(newStateCell(), &secretStore{}, nil, serverConfig{}, discardLogger())
	assert.NoError(t, s.Stop())
	assert.Nil(t, s.Addr())
}

func TestStartErrors(t *testing.T) {
	ts := newTestServer(t, testOptions{})

	err := ts.Start("127.0.0.1", 0, 1)
	assert.EqualError(t, err, "server already started")

	s := newBroadcastServer(newStateCell(), &secretStore{}, nil, serverConfig{}, discardLogger())
	assert.Error(t, s.Start("127.0.0.1", 0, 0))

	_, port, err := net.SplitHostPort(ts.Addr().String())
	require.NoError(t, err)
	p, err := net.LookupPort("tcp", port)
	require.NoError(t, err)

	err = s.Start("127.0.0.1", p, 1)
	var bindErr *BindError
	require.True(t, errors.As(err, &bindErr), "expected BindError, got %v", err)
	assert.True(t, strings.HasSuffix(bindErr.Addr, ":"+port))
}

func get(t *testing.T, u *url.URL) *http.Response {
	t.Helper()
	resp, err := http.Get(u.String())
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func responseBody(t *testing.T, r *http.Response) []byte {
	t.Helper()
	defer r.Body.Close()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		t.Fatal(err)
	}
	return body
}

func dial(u *url.URL) (*websocket.Conn, *http.Response, error) {
	dialer := &websocket.Dialer{
		NetDial: func(network, addr string) (net.Conn, error) {
			d := net.Dialer{
				Timeout: 3 * time.Second,
			}
			return d.Dial(network, u.Host)
		},
		HandshakeTimeout: 3 * time.Second,
	}
	return dialer.Dial(u.String(), nil)
}

func mockWs(t *testing.T, u *url.URL) *websocket.Conn {
	t.Helper()
	ws, resp, err := dial(u)
	if err != nil {
		t.Fatal("dial error:", err, "resp:", resp)
	}
	return ws
}
