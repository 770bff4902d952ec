package net

import (
	"context"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"CollabBoard/internal/state"
)

type ProviderConfig struct {
	// Addr is the hub's host:port.
	Addr string
	Room string

	DialTimeout  time.Duration
	WriteTimeout time.Duration
	ReadTimeout  time.Duration
	// MinReconnect and MaxReconnect bound the exponential reconnect backoff.
	MinReconnect time.Duration
	MaxReconnect time.Duration
	QueueSize    int
}

func DefaultProviderConfig() ProviderConfig {
	return ProviderConfig{
		DialTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		ReadTimeout:  30 * time.Second,
		MinReconnect: 250 * time.Millisecond,
		MaxReconnect: 10 * time.Second,
		QueueSize:    1024,
	}
}

type Status int

const (
	StatusConnecting Status = iota
	StatusConnected
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	default:
		return "closed"
	}
}

// Provider connects one replica and its presence channel to a room on a
// hub. Local edits and presence changes are forwarded as they happen;
// every (re)connect exchanges full snapshots, so edits made while offline
// are merged once the hub is reachable again.
type Provider struct {
	ctx    context.Context
	cancel context.CancelFunc
	cfg    ProviderConfig

	doc      *state.Doc
	presence *state.Presence

	queue chan *Message
	// resync is set when the queue overflowed and a snapshot must be sent
	// instead of the dropped updates.
	resync chan struct{}

	mu        sync.Mutex
	status    Status
	onSynced  []func()
	onStatus  []func(Status)
	onControl []func(*Message)

	unsubs []func()
	wg     sync.WaitGroup
}

func NewProvider(ctx context.Context, doc *state.Doc, presence *state.Presence, cfg ProviderConfig) *Provider {
	def := DefaultProviderConfig()
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = def.DialTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if cfg.MinReconnect <= 0 {
		cfg.MinReconnect = def.MinReconnect
	}
	if cfg.MaxReconnect < cfg.MinReconnect {
		cfg.MaxReconnect = max(def.MaxReconnect, cfg.MinReconnect)
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	cancelCtx, cancel := context.WithCancel(ctx)
	p := &Provider{
		ctx:      cancelCtx,
		cancel:   cancel,
		cfg:      cfg,
		doc:      doc,
		presence: presence,
		queue:    make(chan *Message, cfg.QueueSize),
		resync:   make(chan struct{}, 1),
	}
	p.unsubs = append(p.unsubs,
		doc.OnUpdate(func(u state.Update) {
			p.enqueue(&Message{Type: MsgUpdate, Update: &u})
		}),
		presence.OnLocalChange(func(s state.State) {
			p.enqueue(&Message{Type: MsgPresence, State: s})
		}),
	)
	p.wg.Add(1)
	go p.run()
	return p
}

// OnSynced registers fn to run after the hub's replica has been applied on
// each connect.
func (p *Provider) OnSynced(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onSynced = append(p.onSynced, fn)
}

func (p *Provider) OnStatus(fn func(Status)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onStatus = append(p.onStatus, fn)
}

// OnControl registers fn for the audio call messages relayed by the hub.
func (p *Provider) OnControl(fn func(*Message)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onControl = append(p.onControl, fn)
}

func (p *Provider) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// SendControl queues an audio call message.
func (p *Provider) SendControl(m *Message) bool {
	if !m.IsVoice() {
		return false
	}
	return p.enqueue(m)
}

// Close disconnects and stops forwarding. The replica is left as is.
func (p *Provider) Close() {
	for _, unsub := range p.unsubs {
		unsub()
	}
	p.cancel()
	p.wg.Wait()
}

func (p *Provider) enqueue(m *Message) bool {
	select {
	case p.queue <- m:
		return true
	default:
	}
	if m.Type == MsgUpdate {
		select {
		case p.resync <- struct{}{}:
		default:
		}
	}
	glog.Infof("[provider] queue full, dropped %s\n", m.Type)
	return false
}

func (p *Provider) setStatus(s Status) {
	p.mu.Lock()
	if p.status == s {
		p.mu.Unlock()
		return
	}
	p.status = s
	fns := append([]func(Status){}, p.onStatus...)
	p.mu.Unlock()
	for _, fn := range fns {
		fn(s)
	}
}

func (p *Provider) run() {
	defer p.wg.Done()
	defer p.setStatus(StatusClosed)

	backoff := p.cfg.MinReconnect
	for {
		connected := p.connectOnce()
		if connected {
			backoff = p.cfg.MinReconnect
		}
		if p.ctx.Err() != nil {
			return
		}
		p.setStatus(StatusConnecting)
		glog.V(2).Infof("[provider] reconnect in %s\n", backoff)
		select {
		case <-p.ctx.Done():
			return
		case <-time.After(backoff):
		}
		if !connected {
			backoff = min(2*backoff, p.cfg.MaxReconnect)
		}
	}
}

// connectOnce runs one connection until it breaks. It reports whether the
// connection was established.
func (p *Provider) connectOnce() bool {
	url := RoomURL(p.cfg.Addr, p.cfg.Room, p.presence.LocalID())
	dialCtx, cancel := context.WithTimeout(p.ctx, p.cfg.DialTimeout)
	ws, _, err := websocket.DefaultDialer.DialContext(dialCtx, url, nil)
	cancel()
	if err != nil {
		glog.Infof("[provider] connect %s = %s\n", url, err)
		return false
	}
	defer ws.Close()
	ws.SetPingHandler(func(data string) error {
		ws.SetReadDeadline(time.Now().Add(p.cfg.ReadTimeout))
		return ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(p.cfg.WriteTimeout))
	})

	handleCtx, handleCancel := context.WithCancel(p.ctx)
	defer handleCancel()

	// queued updates are covered by the snapshot below
	p.drain()

	snapshot := p.doc.Snapshot()
	hello := []*Message{
		{Type: MsgSync, Update: &snapshot},
		{Type: MsgPresence, State: p.presence.LocalState()},
	}
	for _, m := range hello {
		if err := p.write(ws, m); err != nil {
			glog.Infof("[provider] handshake = %s\n", err)
			return true
		}
	}
	p.setStatus(StatusConnected)
	glog.Infof("[provider] connected to %s as %s\n", p.cfg.Room, p.presence.LocalID())

	go func() {
		defer handleCancel()
		for {
			select {
			case <-handleCtx.Done():
				return
			case <-p.resync:
				snapshot := p.doc.Snapshot()
				if err := p.write(ws, &Message{Type: MsgSync, Update: &snapshot}); err != nil {
					return
				}
			case m := <-p.queue:
				if err := p.write(ws, m); err != nil {
					glog.Infof("[provider] %s-> error = %s\n", m.Type, err)
					return
				}
			}
		}
	}()

	go func() {
		<-handleCtx.Done()
		// unblocks the read below
		ws.Close()
	}()

	for {
		ws.SetReadDeadline(time.Now().Add(p.cfg.ReadTimeout))
		_, buf, err := ws.ReadMessage()
		if err != nil {
			if p.ctx.Err() == nil {
				glog.Infof("[provider] <- error = %s\n", err)
			}
			handleCancel()
			p.forgetPeers()
			return true
		}
		m, err := decodeMessage(buf)
		if err != nil {
			glog.Infof("[provider] bad message = %s\n", err)
			continue
		}
		p.receive(m)
	}
}

func (p *Provider) receive(m *Message) {
	glog.V(2).Infof("[provider] <-%s from %s\n", m.Type, m.From)
	switch m.Type {
	case MsgSync:
		if m.Update != nil {
			p.doc.ApplyUpdate(*m.Update)
		}
		p.mu.Lock()
		fns := append([]func(){}, p.onSynced...)
		p.mu.Unlock()
		for _, fn := range fns {
			fn()
		}
	case MsgUpdate:
		if m.Update != nil {
			p.doc.ApplyUpdate(*m.Update)
		}
	case MsgPresence:
		if m.From != "" {
			p.presence.ApplyRemote(m.From, m.State)
		}
	case MsgLeave:
		p.presence.Remove(m.From)
	default:
		if !m.IsVoice() {
			return
		}
		p.mu.Lock()
		fns := append([]func(*Message){}, p.onControl...)
		p.mu.Unlock()
		for _, fn := range fns {
			fn(m)
		}
	}
}

func (p *Provider) write(ws *websocket.Conn, m *Message) error {
	buf, err := encodeMessage(m)
	if err != nil {
		return err
	}
	ws.SetWriteDeadline(time.Now().Add(p.cfg.WriteTimeout))
	return ws.WriteMessage(websocket.TextMessage, buf)
}

// drain discards queued updates, presence and a pending resync, all of
// which the handshake resends. Control messages are kept.
func (p *Provider) drain() {
	select {
	case <-p.resync:
	default:
	}
	var keep []*Message
	for {
		select {
		case m := <-p.queue:
			if m.Type != MsgUpdate && m.Type != MsgPresence {
				keep = append(keep, m)
			}
			continue
		default:
		}
		break
	}
	for _, m := range keep {
		p.enqueue(m)
	}
}

// forgetPeers drops remote presence after a disconnect. The hub resends it
// on the next connect.
func (p *Provider) forgetPeers() {
	for _, id := range p.presence.Clients() {
		p.presence.Remove(id)
	}
}
