package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/gorilla/websocket"

	"github.com/kozaktomas/facewatch/internal/constants"
	"github.com/kozaktomas/facewatch/internal/recognition"
	"github.com/kozaktomas/facewatch/internal/session"
	"github.com/kozaktomas/facewatch/internal/stream"
)

// StreamSession is the part of the session the stream endpoints drive.
type StreamSession interface {
	Start(ctx context.Context, req session.StartRequest) error
	Stop(ctx context.Context) error
	IsRunning() bool
	StreamFrames(ctx context.Context) <-chan stream.Frame
	StreamResults(ctx context.Context) <-chan recognition.ResultSet
	Status() session.Status
}

// StreamHandler handles stream control and the live feeds.
type StreamHandler struct {
	session     StreamSession
	log         logs.Log
	stopTimeout time.Duration
	upgrader    websocket.Upgrader
}

// NewStreamHandler creates a new stream handler. checkOrigin filters
// WebSocket upgrades; nil accepts every origin.
func NewStreamHandler(s StreamSession, log logs.Log, checkOrigin func(r *http.Request) bool) *StreamHandler {
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &StreamHandler{
		session:     s,
		log:         log,
		stopTimeout: constants.StopTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
	}
}

// StartResponse is returned by /start and /end.
type StartResponse struct {
	Stream  bool   `json:"stream"`
	Message string `json:"message"`
}

// parseStartRequest accepts form-encoded, multipart or JSON bodies.
func parseStartRequest(w http.ResponseWriter, r *http.Request) (session.StartRequest, error) {
	var req session.StartRequest
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		r.Body = http.MaxBytesReader(w, r.Body, constants.MaxJSONBodySize)
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return req, err
		}
		return req, nil
	}

	r.Body = http.MaxBytesReader(w, r.Body, constants.MaxFormSize)
	if err := r.ParseMultipartForm(constants.MaxFormSize); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		return req, err
	}
	req.StreamSource = r.FormValue("stream_src")
	req.DataFile = r.FormValue("data_file")
	return req, nil
}

// Start starts the stream. Refusals are reported with 200 and stream=false
// so that the browser page can show the message.
func (h *StreamHandler) Start(w http.ResponseWriter, r *http.Request) {
	req, err := parseStartRequest(w, r)
	if err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	if err := h.session.Start(r.Context(), req); err != nil {
		var startErr *session.StartError
		if errors.As(err, &startErr) {
			h.log.Infof("Start refused for %s: %v", sanitizeForLog(req.StreamSource), startErr.Err)
			respondJSON(w, http.StatusOK, StartResponse{Stream: false, Message: startErr.Reason})
			return
		}
		h.log.Errorf("Start failed: %v", err)
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, StartResponse{Stream: true, Message: session.ReasonSuccess})
}

// End stops the stream.
func (h *StreamHandler) End(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.stopTimeout)
	defer cancel()

	if err := h.session.Stop(ctx); err != nil {
		if errors.Is(err, session.ErrNotStarted) {
			respondJSON(w, http.StatusOK, StartResponse{Stream: false, Message: session.ReasonNotStarted})
			return
		}
		respondError(w, http.StatusInternalServerError, fmt.Sprintf("stopping stream: %v", err))
		return
	}

	respondJSON(w, http.StatusOK, StartResponse{Stream: true, Message: session.ReasonSuccess})
}

// CheckAlive answers Yes or No.
func (h *StreamHandler) CheckAlive(w http.ResponseWriter, r *http.Request) {
	answer := "No"
	if h.session.IsRunning() {
		answer = "Yes"
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(answer))
}

// Status returns the session status.
func (h *StreamHandler) Status(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.session.Status())
}

// VideoFeed streams the latest frames as multipart/x-mixed-replace MJPEG.
// The response ends when the stream run ends.
func (h *StreamHandler) VideoFeed(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+constants.MJPEGBoundary)
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	header := "--" + constants.MJPEGBoundary + "\r\nContent-Type: image/jpeg\r\n\r\n"
	for frame := range h.session.StreamFrames(r.Context()) {
		if _, err := w.Write([]byte(header)); err != nil {
			return
		}
		if _, err := w.Write(frame.Data); err != nil {
			return
		}
		if _, err := w.Write([]byte("\r\n")); err != nil {
			return
		}
		flusher.Flush()
	}
}

// Results streams result sets as newline-delimited JSON.
func (h *StreamHandler) Results(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for rs := range h.session.StreamResults(r.Context()) {
		line, err := rs.MarshalLine()
		if err != nil {
			h.log.Warnf("Encoding results: %v", err)
			continue
		}
		if _, err := w.Write(line); err != nil {
			return
		}
		flusher.Flush()
	}
}

// Events streams result sets as server-sent events.
func (h *StreamHandler) Events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := setupSSEConnection(w)
	if !ok {
		return
	}

	sendSSEEvent(w, flusher, "status", h.session.Status())

	results := h.session.StreamResults(r.Context())
	keepAlive := time.NewTicker(constants.SSEKeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepAlive.C:
			sendSSEComment(w, flusher, "keep-alive")
		case rs, ok := <-results:
			if !ok {
				sendSSEEvent(w, flusher, "end", map[string]bool{"stream": false})
				return
			}
			if rs.Data == nil {
				rs.Data = []recognition.Result{}
			}
			sendSSEEvent(w, flusher, "results", rs)
		}
	}
}

// WebSocket pushes every result set as a JSON text message.
func (h *StreamHandler) WebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warnf("Results websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// The reader only notices the client going away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	results := h.session.StreamResults(ctx)
	ping := time.NewTicker(constants.WebSocketPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			deadline := time.Now().Add(constants.WebSocketWriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		case rs, ok := <-results:
			if !ok {
				msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stream ended")
				_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(constants.WebSocketWriteTimeout))
				return
			}
			line, err := rs.MarshalLine()
			if err != nil {
				h.log.Warnf("Encoding results: %v", err)
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, bytes.TrimSpace(line)); err != nil {
				h.log.Debugf("Results websocket write failed: %v", err)
				return
			}
		}
	}
}
