// Package lochub streams a continuously sampled position and heading to
// browsers over websockets.
//
//     lochub -host=localhost -port=7777 -jwt=<token>
//
// A writer (the host simulation loop, or the built-in random walker when
// -simulate is set) stores the latest sample once per tick. Every connected
// websocket client then receives that sample as JSON every 100ms and a ping
// every 5s, regardless of how fast the writer ticks.
//
// Connect a client to the data stream:
//     ws://localhost:7777/locdata
//
// Each frame looks like:
//     {"x":12.5,"y":64,"z":-3.25,"yaw":170}
//
// Messages sent by clients are logged and otherwise ignored.
//
// Any other path serves an HTML page that connects to /locdata. The page is a
// template: every ##HIFI_JWT## in it is replaced by the configured token on
// each request, so a token changed with SIGHUP (-jwt-file) is visible on the
// next page load.
//
// At most -max-connections clients are served at once. Further upgrade
// requests are refused with 503 instead of being queued.
package main

import "time"

const (
	// Websocket route.
	locdataPath = "/locdata"

	// Replaced by the configured token in the bootstrap page.
	secretPlaceholder = "##HIFI_JWT##"

	defaultHeartbeatPeriod = 5 * time.Second
	defaultPushPeriod      = 100 * time.Millisecond
)

// Payload of every heartbeat ping.
var pingPayload = []byte("Ping")
