package stream

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

func deadlineNow() time.Time { return time.Now().Add(time.Second) }

func marshalErrorData(d errorData) (json.RawMessage, error) { return json.Marshal(d) }

func marshalSubscribedData(d subscribedData) (json.RawMessage, error) { return json.Marshal(d) }

// fakeServer is a minimal in-process stand-in for the upstream actor,
// used to drive Transport through connect/subscribe/event/disconnect
// without a real network dependency.
type fakeServer struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader

	validToken      string
	rejectSubscribe bool
	subscribeFrames chan subscribeObservation

	mu    sync.Mutex
	conns []*websocket.Conn
	// manualAck, when set, suppresses the handler's automatic
	// "subscribed" reply so a test can drive the acknowledgement
	// sequence itself (e.g. to exercise request-id correlation). Tests
	// flip it after serving has started, so access is guarded by mu.
	manualAck bool
}

func (fs *fakeServer) setManualAck(v bool) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.manualAck = v
}

func (fs *fakeServer) isManualAck() bool {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.manualAck
}

// subscribeObservation pairs a received subscribe frame with the
// connection it arrived on, for manualAck-mode tests.
type subscribeObservation struct {
	conn  *websocket.Conn
	frame clientFrame
}

func newFakeServer(validToken string) *fakeServer {
	fs := &fakeServer{validToken: validToken, subscribeFrames: make(chan subscribeObservation, 16)}
	fs.srv = httptest.NewServer(http.HandlerFunc(fs.handle))
	return fs
}

func (fs *fakeServer) wsURL() string {
	return "ws" + fs.srv.URL[len("http"):]
}

func (fs *fakeServer) close() {
	fs.mu.Lock()
	for _, c := range fs.conns {
		c.Close()
	}
	fs.mu.Unlock()
	fs.srv.Close()
}

// dropAll forcibly closes every connection the server has accepted so
// far with an abnormal closure, simulating an upstream-initiated
// disconnect that is not one of the protocol's meaningful close codes.
func (fs *fakeServer) dropAll() {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	for _, c := range fs.conns {
		c.Close()
	}
	fs.conns = nil
}

// closeAllWithCode closes every accepted connection with the given
// close code, so tests can exercise the code-1000/1008/4401 semantics.
func (fs *fakeServer) closeAllWithCode(code int) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	for _, c := range fs.conns {
		c.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, ""), deadlineNow())
		c.Close()
	}
	fs.conns = nil
}

func (fs *fakeServer) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := fs.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	if r.URL.Query().Get("token") != fs.validToken {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(closeCodeAuthFailureCustom, "bad token"), deadlineNow())
		conn.Close()
		return
	}

	fs.mu.Lock()
	fs.conns = append(fs.conns, conn)
	fs.mu.Unlock()

	for {
		var frame clientFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		if frame.Op != opSubscribe {
			continue
		}
		if fs.isManualAck() {
			fs.subscribeFrames <- subscribeObservation{conn: conn, frame: frame}
			continue
		}
		if fs.rejectSubscribe {
			data, _ := marshalErrorData(errorData{Message: "no such channel", RequestID: frame.RequestID})
			conn.WriteJSON(serverFrame{EventType: eventTypeError, Data: data})
			continue
		}
		data, _ := marshalSubscribedData(subscribedData{Channels: frame.Channels, RequestID: frame.RequestID})
		conn.WriteJSON(serverFrame{EventType: eventTypeSubscribed, Data: data})
	}
}

func (fs *fakeServer) pushEvent(conn *websocket.Conn, eventType string, data []byte) error {
	return conn.WriteJSON(serverFrame{EventType: eventType, Data: data})
}

func (fs *fakeServer) pushShutdown(conn *websocket.Conn) error {
	return conn.WriteJSON(serverFrame{EventType: eventTypeShutdown})
}

// pushSubscribed writes a "subscribed" control frame carrying an
// arbitrary requestId, bypassing the handler's own correlation — used
// to simulate a stray/mismatched acknowledgement in manualAck mode.
func (fs *fakeServer) pushSubscribed(conn *websocket.Conn, channels []string, requestID string) error {
	data, err := marshalSubscribedData(subscribedData{Channels: channels, RequestID: requestID})
	if err != nil {
		return err
	}
	return conn.WriteJSON(serverFrame{EventType: eventTypeSubscribed, Data: data})
}
