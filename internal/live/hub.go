package live

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"schoolboard/internal/events"
	"schoolboard/internal/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024
	refreshTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Display screens are kiosks served from other origins; the token is checked before upgrade.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Frame is one message pushed to a display.
type Frame struct {
	Type      string          `json:"type"`
	Snapshot  *Snapshot       `json:"snapshot,omitempty"`
	Spotlight *SpotlightState `json:"spotlight,omitempty"`
}

const (
	FrameSnapshot  = "snapshot"
	FrameSpotlight = "spotlight"
)

// inbound is what a display may send: {"type":"select","lessonId":"..."}.
// entryId picks one specific live entry when a lesson runs in several classes.
type inbound struct {
	Type     string `json:"type"`
	LessonID string `json:"lessonId"`
	EntryID  string `json:"entryId"`
}

type client struct {
	hub       *Hub
	conn      *websocket.Conn
	send      chan []byte
	override  *Moment
	spotlight Spotlight

	// entryByLesson maps lesson ids of the last snapshot to their first live entry.
	entryByLesson map[string]string
}

type selection struct {
	client *client
	id     string
}

type HubConfig struct {
	RotationInterval time.Duration
	PushInterval     time.Duration
}

// Hub owns every connected display. All client state is touched only from Run.
type Hub struct {
	aggregator *Aggregator
	clock      Clock
	broker     events.Broker
	metrics    *metrics.Metrics
	log        *zap.Logger
	cfg        HubConfig

	clients    map[*client]struct{}
	register   chan *client
	unregister chan *client
	selects    chan selection
	done       chan struct{}
}

func NewHub(agg *Aggregator, clock Clock, broker events.Broker, m *metrics.Metrics, log *zap.Logger, cfg HubConfig) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.RotationInterval <= 0 {
		cfg.RotationInterval = 10 * time.Second
	}
	if cfg.PushInterval <= 0 {
		cfg.PushInterval = 30 * time.Second
	}
	return &Hub{
		aggregator: agg,
		clock:      clock,
		broker:     broker,
		metrics:    m,
		log:        log,
		cfg:        cfg,
		clients:    map[*client]struct{}{},
		register:   make(chan *client),
		unregister: make(chan *client),
		selects:    make(chan selection, 16),
		done:       make(chan struct{}),
	}
}

// Run serves the hub until ctx ends.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	var changes <-chan events.Event
	if h.broker != nil {
		ch, cancel := h.broker.Subscribe(ctx)
		defer cancel()
		changes = ch
	}
	push := time.NewTicker(h.cfg.PushInterval)
	defer push.Stop()
	rotate := time.NewTicker(h.cfg.RotationInterval)
	defer rotate.Stop()

	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				h.drop(c)
			}
			return
		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.metrics.DisplayClientConnected()
			h.refresh(ctx, []*client{c})
		case c := <-h.unregister:
			h.drop(c)
		case sel := <-h.selects:
			c := sel.client
			if _, ok := h.clients[c]; !ok {
				continue
			}
			id := sel.id
			if entry, ok := c.entryByLesson[id]; ok {
				id = entry
			}
			if c.spotlight.Select(id) {
				h.sendSpotlight(c)
			}
		case _, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			h.refresh(ctx, h.all())
		case <-push.C:
			h.refresh(ctx, h.all())
		case <-rotate.C:
			for c := range h.clients {
				if len(c.spotlight.order) > 1 {
					c.spotlight.Next()
					h.sendSpotlight(c)
				}
			}
		}
	}
}

func (h *Hub) all() []*client {
	out := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		out = append(out, c)
	}
	return out
}

func (h *Hub) drop(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	h.metrics.DisplayClientDisconnected()
}

// refresh aggregates once per distinct moment and pushes the result.
func (h *Hub) refresh(ctx context.Context, clients []*client) {
	if len(clients) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, refreshTimeout)
	defer cancel()

	snapshots := map[Moment]*Snapshot{}
	for _, c := range clients {
		at, err := At(ctx, h.clock, c.override)
		if err != nil {
			h.log.Warn("display clock failed", zap.Error(err))
			continue
		}
		snap, ok := snapshots[at]
		if !ok {
			result, err := h.aggregator.Aggregate(ctx, at)
			if err != nil {
				h.log.Error("display aggregate failed", zap.Int("day", at.Day), zap.Int("minute", at.Minute), zap.Error(err))
				continue
			}
			snap = &result
			snapshots[at] = snap
		}
		ids := make([]string, 0, len(snap.Lessons))
		c.entryByLesson = make(map[string]string, len(snap.Lessons))
		for _, lesson := range snap.Lessons {
			ids = append(ids, lesson.EntryID)
			if _, ok := c.entryByLesson[lesson.LessonID]; !ok {
				c.entryByLesson[lesson.LessonID] = lesson.EntryID
			}
		}
		c.spotlight.Update(ids)
		state := c.spotlight.State()
		h.send(c, Frame{Type: FrameSnapshot, Snapshot: snap, Spotlight: &state})
	}
}

func (h *Hub) sendSpotlight(c *client) {
	state := c.spotlight.State()
	h.send(c, Frame{Type: FrameSpotlight, Spotlight: &state})
}

func (h *Hub) send(c *client, frame Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		h.log.Error("display frame marshal failed", zap.Error(err))
		return
	}
	select {
	case c.send <- data:
	default:
		h.log.Warn("display client too slow, dropping")
		h.drop(c)
	}
}

// ServeWS upgrades the request and registers the display. override pins the
// display to a simulated moment.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, override *Moment) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	c := &client{hub: h, conn: conn, send: make(chan []byte, 32), override: override}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	case <-r.Context().Done():
		conn.Close()
		return
	}
	go c.writePump()
	go c.readPump()
}

func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Warn("display connection closed", zap.Error(err))
			}
			return
		}
		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type != "select" {
			continue
		}
		id := msg.EntryID
		if id == "" {
			id = msg.LessonID
		}
		if id == "" {
			continue
		}
		select {
		case c.hub.selects <- selection{client: c, id: id}:
		case <-c.hub.done:
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
