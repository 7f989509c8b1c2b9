package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/kevinxiao27/mutstate/ol"
	"github.com/kevinxiao27/mutstate/proxy"
	"github.com/kevinxiao27/mutstate/sched"
	"github.com/kevinxiao27/mutstate/store"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server hosts one store per document. Stores, views and the documents map
// are only touched on the loop goroutine.
type Server struct {
	loop      *sched.Loop
	logger    *slog.Logger
	seed      map[string]any
	documents map[string]*document
	upgrader  websocket.Upgrader
}

type document struct {
	store   *store.Store
	clients map[uuid.UUID]*client
}

type client struct {
	id        uuid.UUID
	conn      *websocket.Conn
	send      chan WSMessage
	cancel    store.CancelFunc
	closeOnce sync.Once
}

type WSMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ActionRequest describes one write-intent against a document.
//
// Op is one of replace, update, set, delete or append. The last three are
// sent as Mutate procedures on the node at Path.
type ActionRequest struct {
	Op    string `json:"op"`
	Path  []any  `json:"path"`
	Key   string `json:"key,omitempty"`
	Value any    `json:"value,omitempty"`
}

type ActionResponse struct {
	Pending int `json:"pending"`
}

var errBadRequest = errors.New("bad request")

func NewServer(loop *sched.Loop, seed map[string]any, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		loop:      loop,
		logger:    logger,
		seed:      seed,
		documents: make(map[string]*document),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/docs/{id}", s.handleGet).Methods(http.MethodGet)
	r.HandleFunc("/docs/{id}/actions", s.handleActions).Methods(http.MethodPost)
	r.HandleFunc("/docs/{id}/flush", s.handleFlush).Methods(http.MethodPost)
	r.HandleFunc("/ws", s.handleWebSocket)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// getDocument must run on the loop.
func (s *Server) getDocument(id string) (*document, error) {
	if doc, exists := s.documents[id]; exists {
		return doc, nil
	}

	initial, ok := s.seed[id]
	if !ok {
		initial = map[string]any{}
	} else {
		initial = ol.Clone(initial)
	}
	st, err := store.New(initial,
		store.WithScheduler(s.loop),
		store.WithLogger(s.logger),
		store.WithName(id))
	if err != nil {
		return nil, fmt.Errorf("document %s: %w", id, err)
	}

	doc := &document{store: st, clients: make(map[uuid.UUID]*client)}
	s.documents[id] = doc
	return doc, nil
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var body []byte
	var err error
	doErr := s.loop.Do(r.Context(), func() {
		var doc *document
		if doc, err = s.getDocument(id); err != nil {
			return
		}
		body, err = json.Marshal(doc.store.Root())
	})
	if err = errors.Join(doErr, err); err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
}

func (s *Server) handleActions(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var reqs []ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil {
		s.writeError(w, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}

	var resp ActionResponse
	var err error
	doErr := s.loop.Do(r.Context(), func() {
		var doc *document
		if doc, err = s.getDocument(id); err != nil {
			return
		}
		for _, req := range reqs {
			if err = s.apply(doc.store, req); err != nil {
				return
			}
		}
		resp.Pending = doc.store.Pending()
	})
	if err = errors.Join(doErr, err); err != nil {
		s.writeError(w, err)
		return
	}

	s.logger.Info("actions queued", slog.String("doc", id), slog.Int("count", len(reqs)))
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleFlush(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var err error
	doErr := s.loop.Do(r.Context(), func() {
		var doc *document
		if doc, err = s.getDocument(id); err != nil {
			return
		}
		err = doc.store.Flush()
	})
	if err = errors.Join(doErr, err); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// apply turns a request into a write-intent on the view at req.Path. Must run on the loop.
func (s *Server) apply(st *store.Store, req ActionRequest) error {
	path, err := parsePath(req.Path)
	if err != nil {
		return err
	}
	target, ok := st.Root().Walk(path)
	if !ok {
		return fmt.Errorf("%w: no node at %s", errBadRequest, path)
	}
	view, ok := target.(*proxy.View)
	if !ok {
		return fmt.Errorf("%w: %s is not a container", errBadRequest, path)
	}

	switch req.Op {
	case "replace":
		view.Replace(req.Value)
	case "update":
		partial, ok := req.Value.(map[string]any)
		if !ok || view.Kind() != ol.Record {
			return fmt.Errorf("%w: update needs an object at a record", errBadRequest)
		}
		view.Update(partial)
	case "set":
		key, value := req.Key, ol.Normalize(req.Value)
		view.Mutate(func(node any) {
			if record, ok := node.(map[string]any); ok {
				record[key] = value
			}
		})
	case "delete":
		key := req.Key
		view.Mutate(func(node any) {
			if record, ok := node.(map[string]any); ok {
				delete(record, key)
			}
		})
	case "append":
		value := ol.Normalize(req.Value)
		view.Mutate(func(node any) {
			if list, ok := node.(*[]any); ok {
				*list = append(*list, value)
			}
		})
	default:
		return fmt.Errorf("%w: unknown op %q", errBadRequest, req.Op)
	}
	return nil
}

func parsePath(raw []any) (ol.Path, error) {
	path := make(ol.Path, 0, len(raw))
	for _, seg := range raw {
		switch v := seg.(type) {
		case string:
			path = append(path, ol.Name(v))
		case float64:
			if v != float64(int(v)) {
				return nil, fmt.Errorf("%w: index %v", errBadRequest, v)
			}
			path = append(path, ol.Index(int(v)))
		default:
			return nil, fmt.Errorf("%w: path segment %v", errBadRequest, seg)
		}
	}
	return path, nil
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, errBadRequest), errors.Is(err, ol.ErrKeyNotFound), errors.Is(err, ol.ErrKindMismatch):
		status = http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, sched.ErrLoopClosed):
		status = http.StatusServiceUnavailable
	}
	http.Error(w, err.Error(), status)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	docID := r.URL.Query().Get("doc")
	c := &client{id: uuid.New(), conn: conn, send: make(chan WSMessage, 16)}

	// Listen on connect, cancel on disconnect, like a mounted component.
	err = s.loop.Do(r.Context(), func() {
		doc, err := s.getDocument(docID)
		if err != nil {
			return
		}
		doc.clients[c.id] = c
		c.cancel = doc.store.Listen(func(root *proxy.View) {
			c.push("state", root)
		})
		c.push("init", doc.store.Root())
		s.logger.Info("client connected", slog.String("doc", docID), slog.Int("total", len(doc.clients)))
	})
	if err != nil || c.cancel == nil {
		return
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for msg := range c.send {
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		}
	}()

	for {
		var msg WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}
		if msg.Type != "action" {
			continue
		}
		var req ActionRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			continue
		}
		s.loop.Do(r.Context(), func() {
			doc := s.documents[docID]
			if err := s.apply(doc.store, req); err != nil {
				c.push("error", err.Error())
			}
		})
	}

	err = s.loop.Do(context.Background(), func() {
		c.cancel()
		doc := s.documents[docID]
		delete(doc.clients, c.id)
		c.close()
		s.logger.Info("client disconnected", slog.String("doc", docID), slog.Int("remaining", len(doc.clients)))
	})
	if err != nil {
		c.close()
	}
	<-writerDone
}

func (c *client) close() {
	c.closeOnce.Do(func() { close(c.send) })
}

// push encodes v and hands it to the writer goroutine, dropping it when the
// client is too slow. Must run on the loop.
func (c *client) push(kind string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case c.send <- WSMessage{Type: kind, Data: data}:
	default:
	}
}
