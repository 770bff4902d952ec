package net

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"CollabBoard/internal/state"
)

type HubConfig struct {
	WriteTimeout time.Duration
	ReadTimeout  time.Duration
	PingInterval time.Duration
	// SendBuffer is the number of messages queued per client before the
	// client is considered stuck and dropped.
	SendBuffer int
}

func DefaultHubConfig() HubConfig {
	return HubConfig{
		WriteTimeout: 5 * time.Second,
		ReadTimeout:  30 * time.Second,
		PingInterval: 10 * time.Second,
		SendBuffer:   256,
	}
}

// Hub relays document updates, presence and call signalling between the
// participants of each room. It keeps a replica per room so participants
// that join late, or reconnect, receive everything drawn so far.
type Hub struct {
	cfg      HubConfig
	upgrader websocket.Upgrader

	mu    sync.Mutex
	rooms map[string]*room
}

type room struct {
	id       string
	doc      *state.Doc
	peers    map[string]*peer
	presence map[string]state.State
	voice    map[string]bool
}

type peer struct {
	id        string
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func (p *peer) close() {
	p.closeOnce.Do(func() { close(p.done) })
}

func NewHub(cfg HubConfig) *Hub {
	def := DefaultHubConfig()
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = def.SendBuffer
	}
	return &Hub{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// desktop clients do not send a browser origin
			CheckOrigin: func(*http.Request) bool { return true },
		},
		rooms: make(map[string]*room),
	}
}

// ListenAndServe runs the hub on addr until ctx is done.
func (h *Hub) ListenAndServe(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/rooms/", h)
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), h.cfg.WriteTimeout)
		defer cancel()
		srv.Shutdown(shutdownCtx)
		h.Close()
	}()
	glog.Infof("[hub] listening on %s\n", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return ctx.Err()
}

// Close drops every connected participant. Room replicas are kept.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, r := range h.rooms {
		for _, p := range r.peers {
			p.close()
		}
	}
}

// Rooms returns the ids of rooms that have been used.
func (h *Hub) Rooms() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	ids := make([]string, 0, len(h.rooms))
	for id := range h.rooms {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Clients returns the participants connected to a room.
func (h *Hub) Clients(roomID string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[roomID]
	if !ok {
		return nil
	}
	return r.peerIDs("")
}

// ServeHTTP upgrades /rooms/{room}?client={id} to a websocket.
func (h *Hub) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	roomID, ok := NormalizeRoom(strings.TrimPrefix(req.URL.Path, "/rooms/"))
	if !ok {
		http.Error(w, "bad room", http.StatusNotFound)
		return
	}
	client := req.URL.Query().Get("client")
	if client == "" {
		http.Error(w, "missing client", http.StatusBadRequest)
		return
	}
	conn, err := h.upgrader.Upgrade(w, req, nil)
	if err != nil {
		glog.Infof("[hub] upgrade %s = %s\n", client, err)
		return
	}
	p := &peer{
		id:   client,
		conn: conn,
		send: make(chan []byte, h.cfg.SendBuffer),
		done: make(chan struct{}),
	}
	h.join(roomID, p)
	go h.writeLoop(p)
	h.readLoop(roomID, p)
}

func (h *Hub) join(roomID string, p *peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[roomID]
	if !ok {
		r = &room{
			id:       roomID,
			doc:      state.NewDocWithSite("hub:" + roomID),
			peers:    make(map[string]*peer),
			presence: make(map[string]state.State),
			voice:    make(map[string]bool),
		}
		h.rooms[roomID] = r
		glog.Infof("[hub] room %s opened\n", roomID)
	}
	if old, ok := r.peers[p.id]; ok {
		// same participant reconnecting before the old socket timed out
		old.close()
	}
	r.peers[p.id] = p

	snapshot := r.doc.Snapshot()
	h.deliver(p, &Message{Type: MsgSync, Update: &snapshot})
	for _, id := range r.presenceIDs() {
		if id != p.id {
			h.deliver(p, &Message{Type: MsgPresence, From: id, State: r.presence[id]})
		}
	}
	glog.Infof("[hub] %s joined %s (%d connected)\n", p.id, roomID, len(r.peers))
}

func (h *Hub) leave(roomID string, p *peer) {
	p.close()
	h.mu.Lock()
	defer h.mu.Unlock()
	r := h.rooms[roomID]
	if r.peers[p.id] != p {
		// replaced by a newer connection
		return
	}
	delete(r.peers, p.id)
	delete(r.presence, p.id)
	if r.voice[p.id] {
		delete(r.voice, p.id)
		h.broadcast(r, p.id, &Message{Type: MsgVoiceLeave, From: p.id}, true)
	}
	h.broadcast(r, p.id, &Message{Type: MsgLeave, From: p.id}, false)
	glog.Infof("[hub] %s left %s (%d connected)\n", p.id, roomID, len(r.peers))
}

func (h *Hub) readLoop(roomID string, p *peer) {
	defer h.leave(roomID, p)
	p.conn.SetPongHandler(func(string) error {
		p.conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
		return nil
	})
	for {
		p.conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
		_, buf, err := p.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				glog.V(2).Infof("[hub] %s<- error = %s\n", p.id, err)
			}
			return
		}
		m, err := decodeMessage(buf)
		if err != nil {
			glog.Infof("[hub] %s<- bad message = %s\n", p.id, err)
			continue
		}
		m.From = p.id
		h.handle(roomID, p, m)
	}
}

func (h *Hub) handle(roomID string, p *peer, m *Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r := h.rooms[roomID]
	if r.peers[p.id] != p {
		return
	}
	glog.V(2).Infof("[hub] %s %s<-\n", m.Type, p.id)

	switch m.Type {
	case MsgSync, MsgUpdate:
		if m.Update == nil {
			return
		}
		// forward only what the room had not seen yet, in the order the
		// room replica integrated it
		changes := r.doc.ApplyUpdate(*m.Update)
		if len(changes) == 0 {
			return
		}
		ops := make([]state.Op, 0, len(changes))
		for _, c := range changes {
			ops = append(ops, c.Op)
		}
		h.broadcast(r, p.id, &Message{Type: MsgUpdate, From: p.id, Update: &state.Update{Site: m.Update.Site, Ops: ops}}, false)
	case MsgPresence:
		r.presence[p.id] = m.State
		h.broadcast(r, p.id, m, false)
	case MsgVoiceJoin:
		peers := make([]string, 0, len(r.voice))
		for id := range r.voice {
			if id != p.id {
				peers = append(peers, id)
			}
		}
		sort.Strings(peers)
		r.voice[p.id] = true
		h.deliver(p, &Message{Type: MsgVoicePeers, Peers: peers})
	case MsgVoiceSignal, MsgVoiceReturn:
		if to, ok := r.peers[m.To]; ok {
			h.deliver(to, m)
		}
	case MsgVoiceLeave:
		if r.voice[p.id] {
			delete(r.voice, p.id)
			h.broadcast(r, p.id, m, true)
		}
	default:
		glog.Infof("[hub] %s<- unknown message type %q\n", p.id, m.Type)
	}
}

// broadcast sends m to every peer of r except the sender. When voiceOnly
// is set only call participants receive it.
func (h *Hub) broadcast(r *room, from string, m *Message, voiceOnly bool) {
	for _, id := range r.peerIDs(from) {
		if voiceOnly && !r.voice[id] {
			continue
		}
		h.deliver(r.peers[id], m)
	}
}

// deliver queues m for p without blocking. A peer that cannot keep up is
// disconnected and resyncs when it reconnects.
func (h *Hub) deliver(p *peer, m *Message) {
	buf, err := encodeMessage(m)
	if err != nil {
		glog.Infof("[hub] encode %s = %s\n", m.Type, err)
		return
	}
	select {
	case p.send <- buf:
	default:
		glog.Infof("[hub] drop slow client %s\n", p.id)
		p.close()
	}
}

func (h *Hub) writeLoop(p *peer) {
	ping := time.NewTicker(h.cfg.PingInterval)
	defer func() {
		ping.Stop()
		p.conn.Close()
	}()
	for {
		select {
		case <-p.done:
			p.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			p.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case buf := <-p.send:
			p.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := p.conn.WriteMessage(websocket.TextMessage, buf); err != nil {
				glog.Infof("[hub] %s-> error = %s\n", p.id, err)
				p.close()
				return
			}
		case <-ping.C:
			p.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				p.close()
				return
			}
		}
	}
}

func (r *room) peerIDs(except string) []string {
	ids := make([]string, 0, len(r.peers))
	for id := range r.peers {
		if id != except {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (r *room) presenceIDs() []string {
	ids := make([]string, 0, len(r.presence))
	for id := range r.presence {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
