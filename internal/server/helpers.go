package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"llmcouncil/internal/core"
	"llmcouncil/internal/util"

	"github.com/gin-gonic/gin"
)

// setStreamingHeaders sets streaming response HTTP headers
func setStreamingHeaders(c *gin.Context) {
	c.Header(core.HeaderContentType, core.ContentTypeEventStream)
	c.Header(core.HeaderCacheControl, core.CacheControlNoCache)
	c.Header(core.HeaderConnection, core.ConnectionKeepAlive)
}

// sseEvent is the JSON body of every stage event. Type repeats the event
// name so clients reading only data lines can dispatch on it.
type sseEvent struct {
	Type     string `json:"type"`
	Data     any    `json:"data,omitempty"`
	Metadata any    `json:"metadata,omitempty"`
}

// writeSSEEvent writes one named SSE event
func writeSSEEvent(w io.Writer, event string, data any) error {
	return writeSSE(w, sseEvent{Type: event, Data: data})
}

func writeSSE(w io.Writer, event sseEvent) error {
	payload, err := util.MarshalJSON(event)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event.Type, err)
	}
	_, err = fmt.Fprintf(w, "%s%s\n%s%s\n\n", core.StreamEventPrefix, event.Type, core.StreamChunkPrefix, payload)
	return err
}

// respondWithError returns a JSON error body
func respondWithError(c *gin.Context, code int, message string) {
	c.JSON(code, gin.H{"error": message})
}

// statusForError maps store and council errors to HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, core.ErrConversationNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrInvalidConversation),
		errors.Is(err, core.ErrEmptyHistory),
		errors.Is(err, core.ErrInvalidHistory):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrConversationExists):
		return http.StatusConflict
	case core.IsConfigError(err):
		return http.StatusInternalServerError
	case errors.Is(err, errClientGone):
		return statusClientClosedRequest
	default:
		return http.StatusInternalServerError
	}
}

// statusClientClosedRequest is the de facto status for requests the client
// abandoned before a response was ready.
const statusClientClosedRequest = 499

var errClientGone = errors.New("client closed request")

// withPanicRecovery turns a handler panic into a 500 and logs it
func withPanicRecovery(c *gin.Context, logger core.Logger) func() {
	return func() {
		if r := recover(); r != nil {
			logger.Error("Panic in handler: %v", r)
			if !c.Writer.Written() {
				respondWithError(c, http.StatusInternalServerError, "internal server error")
			}
		}
	}
}
