// Package gateway exposes the connection manager as a small REST control
// plane.
package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/HMasataka/conduit/logging"
	"github.com/HMasataka/conduit/pkg/httpcodec"
	"github.com/HMasataka/conduit/pkg/network"
)

// Gateway routes control-plane requests to a connection manager
type Gateway struct {
	manager        *network.Manager
	codec          *httpcodec.Client
	logger         *logging.Logger
	receiveTimeout time.Duration
}

// New creates a gateway over the given manager
func New(manager *network.Manager, logger *logging.Logger, receiveTimeout time.Duration) *Gateway {
	return &Gateway{
		manager:        manager,
		codec:          httpcodec.NewClient(manager, logger),
		logger:         logger,
		receiveTimeout: receiveTimeout,
	}
}

// Router builds the chi router for the gateway
func (g *Gateway) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Route("/connections", func(r chi.Router) {
		r.Get("/", g.listConnections)
		r.Post("/", g.createConnection)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/state", g.connectionState)
			r.Post("/connect", g.connect)
			r.Post("/disconnect", g.disconnect)
			r.Post("/send", g.send)
			r.Post("/receive", g.receive)
			r.Delete("/", g.closeConnection)
		})
	})

	r.Post("/fetch", g.fetch)

	return r
}

type createConnectionRequest struct {
	Host     string            `json:"host"`
	Port     uint16            `json:"port"`
	Protocol string            `json:"protocol"`
	Timeout  string            `json:"timeout,omitempty"`
	Params   map[string]string `json:"params,omitempty"`
}

func (g *Gateway) createConnection(w http.ResponseWriter, r *http.Request) {
	var req createConnectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	protocol, ok := network.ParseProtocol(req.Protocol)
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown protocol: " + req.Protocol})
		return
	}

	cfg := network.DefaultConfig(req.Host, req.Port, protocol)
	cfg.Params = req.Params
	if req.Timeout != "" {
		timeout, err := time.ParseDuration(req.Timeout)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		cfg.Timeout = timeout
	}

	id, err := g.manager.CreateConnection(cfg)
	if err != nil {
		writeNetworkError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"connection_id": id})
}

func (g *Gateway) listConnections(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"active": g.manager.ActiveConnections(),
	})
}

func (g *Gateway) connectionState(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	writeJSON(w, http.StatusOK, map[string]string{
		"connection_id": id,
		"state":         g.manager.ConnectionState(id).String(),
	})
}

func (g *Gateway) connect(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := g.manager.Connect(r.Context(), id); err != nil {
		writeNetworkError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"state": g.manager.ConnectionState(id).String()})
}

func (g *Gateway) disconnect(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := g.manager.Disconnect(id); err != nil {
		writeNetworkError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"state": g.manager.ConnectionState(id).String()})
}

func (g *Gateway) closeConnection(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !g.manager.CloseConnection(id) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "connection not found"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type sendRequest struct {
	Data  string `json:"data"`
	Topic string `json:"topic,omitempty"`
}

func (g *Gateway) send(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := g.manager.Send(r.Context(), id, network.NewTextMessage(req.Data, req.Topic)); err != nil {
		writeNetworkError(w, err)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

func (g *Gateway) receive(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	timeout := g.receiveTimeout
	if raw := r.URL.Query().Get("timeout"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		timeout = parsed
	}

	msg, err := g.manager.Receive(id, timeout)
	if err != nil {
		writeNetworkError(w, err)
		return
	}
	if msg == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":      msg.Text(),
		"topic":     msg.Topic,
		"sender":    msg.Sender,
		"timestamp": msg.Timestamp,
	})
}

type fetchRequest struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
	Timeout string            `json:"timeout,omitempty"`
}

func (g *Gateway) fetch(w http.ResponseWriter, r *http.Request) {
	var req fetchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if req.Method == "" {
		req.Method = http.MethodGet
	}

	timeout := g.receiveTimeout
	if req.Timeout != "" {
		parsed, err := time.ParseDuration(req.Timeout)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		timeout = parsed
	}

	headers := make([]httpcodec.Header, 0, len(req.Headers))
	for k, v := range req.Headers {
		headers = append(headers, httpcodec.Header{Key: k, Value: v})
	}

	resp, err := g.codec.Do(r.Context(), req.URL, req.Method, headers, []byte(req.Body), timeout)
	if err != nil {
		writeNetworkError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status_code": resp.StatusCode,
		"status_text": resp.StatusText,
		"headers":     json.RawMessage(resp.Headers),
		"body":        string(resp.Body),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// writeNetworkError maps structured network errors onto HTTP statuses
func writeNetworkError(w http.ResponseWriter, err error) {
	status := http.StatusBadGateway

	if netErr, ok := err.(*network.Error); ok {
		switch netErr.Code {
		case network.CodeConnectionNotFound:
			status = http.StatusNotFound
		case network.CodeHandlerUnavailable, network.CodeInvalidURL:
			status = http.StatusBadRequest
		case network.CodeReceiveFailed:
			status = http.StatusGatewayTimeout
		}

		writeJSON(w, status, map[string]any{
			"error":  netErr.Message,
			"code":   netErr.Code,
			"source": netErr.Source,
		})
		return
	}

	writeError(w, status, err)
}
