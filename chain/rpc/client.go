// Package rpc speaks JSON-RPC 2.0 to a substrate node over one
// websocket connection: correlated request/response calls plus
// server-push subscriptions.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/grigorimaxim422/atom/common/log"
	"github.com/grigorimaxim422/atom/monitor"
	"github.com/pkg/errors"
)

// ErrClosed is returned for every call made after the connection died.
var ErrClosed = errors.New("rpc connection closed")

// Error is the JSON-RPC error object sent by the node.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (self *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", self.Code, self.Message)
}

type request struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

// envelope covers both call responses (ID set) and subscription
// pushes (Method and Params set).
type envelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *uint64         `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *Error          `json:"error"`
	Method  string          `json:"method"`
	Params  *pushParams     `json:"params"`
}

type pushParams struct {
	Subscription json.RawMessage `json:"subscription"`
	Result       json.RawMessage `json:"result"`
}

// Client multiplexes calls and subscriptions over one websocket.
type Client struct {
	conn        *websocket.Conn
	endpoint    string
	callTimeout time.Duration

	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]chan *envelope
	subs    map[string]chan json.RawMessage

	writeMu sync.Mutex

	closed    chan struct{}
	closeOnce sync.Once
	loopWg    sync.WaitGroup
}

// Dial connects to a ws:// or wss:// endpoint and starts the read loop.
func Dial(endpoint string, dialTimeout, callTimeout time.Duration) (*Client, error) {
	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	conn, _, err := dialer.Dial(endpoint, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", endpoint)
	}
	self := &Client{
		conn:        conn,
		endpoint:    endpoint,
		callTimeout: callTimeout,
		pending:     make(map[uint64]chan *envelope),
		subs:        make(map[string]chan json.RawMessage),
		closed:      make(chan struct{}),
	}
	self.loopWg.Add(1)
	go self.readLoop()
	return self, nil
}

func (self *Client) Endpoint() string { return self.endpoint }

// Closed reports and signals connection death. All pending and future
// calls fail once this channel is closed.
func (self *Client) Closed() <-chan struct{} { return self.closed }

func (self *Client) Close() {
	self.fail()
	self.loopWg.Wait()
}

// fail wakes every pending call and subscriber exactly once.
func (self *Client) fail() {
	self.closeOnce.Do(func() {
		close(self.closed)
		self.conn.Close()
		self.mu.Lock()
		defer self.mu.Unlock()
		for id, ch := range self.pending {
			close(ch)
			delete(self.pending, id)
		}
		for id, ch := range self.subs {
			close(ch)
			delete(self.subs, id)
		}
	})
}

func (self *Client) readLoop() {
	defer self.loopWg.Done()
	defer self.fail()
	for {
		select {
		case <-self.closed:
			return
		default:
			_, raw, err := self.conn.ReadMessage()
			if err != nil {
				select {
				case <-self.closed:
				default:
					log.Error("rpc read %s: %v", self.endpoint, err)
				}
				return
			}
			env := &envelope{}
			if err := json.Unmarshal(raw, env); err != nil {
				log.Error("rpc bad frame from %s: %v", self.endpoint, err)
				continue
			}
			self.route(env)
		}
	}
}

func (self *Client) route(env *envelope) {
	if env.ID != nil {
		self.mu.Lock()
		ch, ok := self.pending[*env.ID]
		if ok {
			delete(self.pending, *env.ID)
		}
		self.mu.Unlock()
		if ok {
			ch <- env
		}
		return
	}
	if env.Params == nil {
		return
	}
	id := normalizeSubID(env.Params.Subscription)
	// The push stays under the lock so nobody closes the channel
	// between the lookup and the send. Every case is non-blocking.
	self.mu.Lock()
	defer self.mu.Unlock()
	ch, ok := self.subs[id]
	if !ok {
		return
	}
	// A stalled subscriber must not stall every other caller, so the
	// oldest push is dropped when its buffer is full.
	select {
	case ch <- env.Params.Result:
	default:
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- env.Params.Result:
		default:
		}
		log.Warn("rpc subscription %s lagging, dropped a push", id)
	}
}

// Call invokes method with positional params and decodes the result
// into out when out is non-nil.
func (self *Client) Call(ctx context.Context, method string, out interface{}, params ...interface{}) error {
	defer monitor.LogTime("rpc", method, time.Now())
	if params == nil {
		params = []interface{}{}
	}

	self.mu.Lock()
	select {
	case <-self.closed:
		self.mu.Unlock()
		return ErrClosed
	default:
	}
	self.nextID++
	id := self.nextID
	ch := make(chan *envelope, 1)
	self.pending[id] = ch
	self.mu.Unlock()

	if err := self.write(&request{JSONRPC: "2.0", ID: id, Method: method, Params: params}); err != nil {
		self.drop(id)
		return errors.Wrapf(err, "rpc send %s", method)
	}

	timeout := time.NewTimer(self.callTimeout)
	defer timeout.Stop()
	select {
	case env, ok := <-ch:
		if !ok {
			return ErrClosed
		}
		if env.Error != nil {
			return env.Error
		}
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(env.Result, out); err != nil {
			return errors.Wrapf(err, "rpc decode %s result", method)
		}
		return nil
	case <-timeout.C:
		self.drop(id)
		return errors.Errorf("rpc call %s timed out after %s", method, self.callTimeout)
	case <-ctx.Done():
		self.drop(id)
		return ctx.Err()
	case <-self.closed:
		return ErrClosed
	}
}

func (self *Client) drop(id uint64) {
	self.mu.Lock()
	delete(self.pending, id)
	self.mu.Unlock()
}

// gorilla allows a single concurrent writer.
func (self *Client) write(req *request) error {
	self.writeMu.Lock()
	defer self.writeMu.Unlock()
	return self.conn.WriteJSON(req)
}

// Subscription is a live server-push stream. Chan is closed on
// Unsubscribe and when the connection dies.
type Subscription struct {
	ID    string
	ch    chan json.RawMessage
	unsub string
	c     *Client
	once  sync.Once
}

func (self *Subscription) Chan() <-chan json.RawMessage { return self.ch }

func (self *Subscription) Unsubscribe() {
	self.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), self.c.callTimeout)
		defer cancel()
		var ok bool
		if err := self.c.Call(ctx, self.unsub, &ok, self.ID); err != nil && errors.Cause(err) != ErrClosed {
			log.Warn("rpc unsubscribe %s: %v", self.ID, err)
		}
		self.c.mu.Lock()
		if ch, live := self.c.subs[self.ID]; live {
			close(ch)
			delete(self.c.subs, self.ID)
		}
		self.c.mu.Unlock()
	})
}

// Subscribe starts a subscription. unsubMethod is the matching
// unsubscribe RPC, e.g. chain_unsubscribeNewHeads.
func (self *Client) Subscribe(ctx context.Context, method, unsubMethod string, params ...interface{}) (*Subscription, error) {
	var raw json.RawMessage
	if err := self.Call(ctx, method, &raw, params...); err != nil {
		return nil, err
	}
	id := normalizeSubID(raw)
	if id == "" {
		return nil, errors.Errorf("rpc subscribe %s: empty subscription id", method)
	}
	ch := make(chan json.RawMessage, 16)
	self.mu.Lock()
	select {
	case <-self.closed:
		self.mu.Unlock()
		return nil, ErrClosed
	default:
	}
	self.subs[id] = ch
	self.mu.Unlock()
	return &Subscription{ID: id, ch: ch, unsub: unsubMethod, c: self}, nil
}

// normalizeSubID flattens string and numeric subscription ids to one
// map key form.
func normalizeSubID(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	return strings.Trim(s, `"`)
}
