package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/usedbytes/picamera/internal/api"
	"github.com/usedbytes/picamera/internal/app"
)

func Init() {
	var cfg struct {
		Mod struct {
			Origin string `yaml:"origin"`
		} `yaml:"api"`
	}

	app.LoadConfig(&cfg)

	log = app.GetLogger("ws")

	upgrader.CheckOrigin = checkOrigin(cfg.Mod.Origin)

	api.HandleFunc("api/ws", apiWS)
}

var log zerolog.Logger

// Message is JSON envelope of websocket API, binary messages carry JPEG frames.
type Message struct {
	Type  string          `json:"type"`
	Value any             `json:"value,omitempty"`
	Raw   json.RawMessage `json:"-"`
}

// String returns value of string message, empty for other values.
func (m *Message) String() (s string) {
	_ = json.Unmarshal(m.Raw, &s)
	return
}

func (m *Message) Unmarshal(v any) error {
	return json.Unmarshal(m.Raw, v)
}

// UnmarshalJSON keeps value raw, handlers decode it later.
func (m *Message) UnmarshalJSON(b []byte) error {
	var v struct {
		Type  string          `json:"type"`
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	m.Type, m.Raw = v.Type, v.Value
	return nil
}

// Handler runs in own goroutine until it returns or client disconnects.
type Handler func(tr *Transport, msg *Message) error

var handlers sync.Map // map[string]Handler

func HandleFunc(msgType string, handler Handler) {
	handlers.Store(msgType, handler)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 64 * 1024,
	CheckOrigin:     checkOrigin(""),
}

// checkOrigin allows any origin for "*", otherwise only same host with any port
func checkOrigin(origin string) func(r *http.Request) bool {
	if origin == "*" {
		return func(*http.Request) bool { return true }
	}

	return func(r *http.Request) bool {
		s := r.Header.Get("Origin")
		if s == "" {
			return true
		}
		u, err := url.Parse(s)
		if err != nil {
			return false
		}
		if u.Host == r.Host || u.Hostname() == r.Host {
			return true
		}
		log.Trace().Str("origin", s).Str("host", r.Host).Msg("[ws] origin rejected")
		return false
	}
}

func apiWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("[ws] upgrade")
		return
	}

	tr := newTransport(r)
	go tr.writer(conn)

	log.Trace().Str("remote", r.RemoteAddr).Msg("[ws] open")

	for {
		var msg Message
		if err = conn.ReadJSON(&msg); err != nil {
			break
		}

		v, _ := handlers.Load(msg.Type)
		handler, _ := v.(Handler)
		if handler == nil {
			tr.Write(&Message{Type: "error", Value: "unknown type: " + msg.Type})
			continue
		}

		go func(msg *Message) {
			if err := handler(tr, msg); err != nil {
				tr.Write(&Message{Type: "error", Value: msg.Type + ": " + err.Error()})
			}
		}(&msg)
	}

	log.Trace().Err(err).Uint64("dropped", tr.dropped.Load()).Msg("[ws] close")

	tr.cancel()
	_ = conn.Close()
}

// Transport is one client. Messages are queued and written by one
// goroutine, when the client is slow new messages are dropped.
type Transport struct {
	Request *http.Request

	ctx    context.Context
	cancel context.CancelFunc

	out     chan any
	dropped atomic.Uint64
}

const queueSize = 8

func newTransport(r *http.Request) *Transport {
	ctx, cancel := context.WithCancel(context.Background())
	return &Transport{Request: r, ctx: ctx, cancel: cancel, out: make(chan any, queueSize)}
}

// Context is done when client disconnects.
func (t *Transport) Context() context.Context {
	return t.ctx
}

// Write queues JSON message or []byte frame, false when dropped.
func (t *Transport) Write(msg any) bool {
	if t.ctx.Err() != nil {
		return false
	}
	select {
	case t.out <- msg:
		return true
	default:
		t.dropped.Add(1)
		return false
	}
}

func (t *Transport) writer(conn *websocket.Conn) {
	for {
		select {
		case msg := <-t.out:
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))

			var err error
			if b, ok := msg.([]byte); ok {
				err = conn.WriteMessage(websocket.BinaryMessage, b)
			} else {
				err = conn.WriteJSON(msg)
			}
			if err != nil {
				log.Trace().Err(err).Msg("[ws] write")
				t.cancel()
				_ = conn.Close()
				return
			}
		case <-t.ctx.Done():
			return
		}
	}
}
