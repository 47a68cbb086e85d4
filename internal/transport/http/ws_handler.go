package http

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"evaliq-attempt-service/internal/app"
	"evaliq-attempt-service/internal/domain"
	"github.com/gorilla/websocket"
)

type WSHandler struct {
	service  *app.AttemptService
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.AttemptService, allowedOrigins []string) *WSHandler {
	anyOrigin := allowAnyOrigin(allowedOrigins)
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = struct{}{}
	}
	return &WSHandler{
		service: service,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if anyOrigin {
					return true
				}
				_, ok := allowed[r.Header.Get("Origin")]
				return ok
			},
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type startPayload struct {
	Name string `json:"name"`
}

type answerPayload struct {
	QuestionID  string `json:"questionId"`
	OptionIndex int    `json:"optionIndex"`
}

type visibilityPayload struct {
	Hidden bool `json:"hidden"`
}

type submitPayload struct {
	Confirm bool `json:"confirm"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

// ServeWS upgrades HTTP requests to websockets, streams session events
// (state, timer, warning, submitted) and accepts participant commands.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	ref := r.URL.Query().Get("quiz")
	sessionID := r.URL.Query().Get("session")
	if ref == "" {
		http.Error(w, "missing quiz", http.StatusBadRequest)
		return
	}

	attempt, err := h.service.Open(r.Context(), ref, sessionID)
	if err != nil {
		status, payload := describeError(err)
		http.Error(w, payload.Message, status)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	events, cancel := attempt.Subscribe()
	defer cancel()

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	eventsDone := make(chan struct{})

	// single writer; gorilla connections do not allow concurrent writes
	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				log.Printf("ws write error: %v", err)
				// unblock the read loop
				conn.Close()
				return
			}
		}
	}()

	go func() {
		defer close(eventsDone)
		for {
			select {
			case ev, ok := <-events:
				if !ok {
					return
				}
				select {
				case send <- outboundMessage[any]{Type: string(ev.Type), Payload: ev.Payload}:
				case <-writerDone:
					return
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	// The session outlives the socket: a running countdown still auto-submits
	// and a reconnect with the same session id resumes it.
	ctx := context.WithoutCancel(r.Context())
	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		if msg, ok := h.handle(ctx, attempt, inbound); ok {
			if !enqueue(send, writerDone, msg) {
				break
			}
		}
	}

	close(closeSignals)
	<-eventsDone
	close(send)
	<-writerDone
}

// handle runs one command. Successful commands answer with the fresh state;
// submissions are announced through the event stream instead.
func (h *WSHandler) handle(ctx context.Context, attempt *app.Attempt, inbound inboundMessage) (outboundMessage[any], bool) {
	var err error
	switch inbound.Type {
	case "start":
		var payload startPayload
		if err = decode(inbound.Payload, &payload); err == nil {
			_, err = attempt.Start(ctx, payload.Name)
		}
	case "answer":
		var payload answerPayload
		if err = decode(inbound.Payload, &payload); err == nil {
			err = attempt.SelectAnswer(ctx, payload.QuestionID, payload.OptionIndex)
		}
	case "visibility":
		var payload visibilityPayload
		if err = decode(inbound.Payload, &payload); err == nil {
			// warnings arrive through the event stream
			_, err = attempt.ReportVisibility(ctx, payload.Hidden)
			if err == nil {
				return outboundMessage[any]{}, false
			}
		}
	case "submit":
		var payload submitPayload
		if err = decode(inbound.Payload, &payload); err == nil {
			if _, err = attempt.Submit(ctx, app.SubmitOptions{Confirmed: payload.Confirm}); err == nil {
				return outboundMessage[any]{}, false
			}
		}
	case "retry":
		_, err = attempt.Retry(ctx)
	case "state":
	default:
		return outboundMessage[any]{Type: "error", Payload: errorPayload{Code: "unsupported", Message: "unsupported message type"}}, true
	}
	if err != nil {
		_, payload := describeError(err)
		return outboundMessage[any]{Type: "error", Payload: payload}, true
	}
	return outboundMessage[any]{Type: string(domain.EventState), Payload: attempt.View()}, true
}

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errInvalidPayload
	}
	return nil
}

// enqueue hands msg to the writer goroutine. It reports false once the writer
// has stopped, so a dead writer never blocks the read loop.
func enqueue(send chan<- outboundMessage[any], writerDone <-chan struct{}, msg outboundMessage[any]) bool {
	select {
	case <-writerDone:
		return false
	default:
	}
	select {
	case send <- msg:
		return true
	case <-writerDone:
		return false
	}
}
