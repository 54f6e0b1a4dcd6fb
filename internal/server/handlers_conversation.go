package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"llmcouncil/internal/core"
	"llmcouncil/internal/council"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type sendMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

type messageResponse struct {
	ConversationID string             `json:"conversation_id"`
	Title          string             `json:"title"`
	Round          *core.CouncilRound `json:"round"`
}

func (s *Server) listConversations(c *gin.Context) {
	list, err := s.conversations.ListConversations(c.Request.Context())
	if err != nil {
		s.config.Logger.Error("Failed to list conversations: %v", err)
		respondWithError(c, statusForError(err), "failed to list conversations")
		return
	}
	if list == nil {
		list = []core.ConversationMetadata{}
	}
	c.JSON(http.StatusOK, list)
}

func (s *Server) createConversation(c *gin.Context) {
	conv := &core.Conversation{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC(),
		Title:     core.DefaultConversationTitle,
		Messages:  []core.ConversationMessage{},
	}
	if err := s.conversations.CreateConversation(c.Request.Context(), conv); err != nil {
		s.config.Logger.Error("Failed to create conversation: %v", err)
		respondWithError(c, statusForError(err), "failed to create conversation")
		return
	}
	c.JSON(http.StatusOK, conv)
}

func (s *Server) getConversation(c *gin.Context) {
	conv, err := s.conversations.GetConversation(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondWithError(c, statusForError(err), err.Error())
		return
	}
	c.JSON(http.StatusOK, conv)
}

func (s *Server) deleteConversation(c *gin.Context) {
	id := c.Param("id")
	unlock := s.convLocks.Lock(id)
	defer unlock()

	if err := s.conversations.DeleteConversation(c.Request.Context(), id); err != nil {
		respondWithError(c, statusForError(err), err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted", "id": id})
}

func (s *Server) bindMessage(c *gin.Context) (string, bool) {
	var request sendMessageRequest
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Content) == "" {
		respondWithError(c, http.StatusBadRequest, "message content is required")
		return "", false
	}
	return request.Content, true
}

func (s *Server) sendMessage(c *gin.Context) {
	defer withPanicRecovery(c, s.config.Logger)()

	content, ok := s.bindMessage(c)
	if !ok {
		return
	}

	conv, round, err := s.runConversationTurn(c.Request.Context(), c.Param("id"), content, nil, nil)
	if err != nil {
		s.config.Logger.Warn("Conversation turn failed: %v", err)
		respondWithError(c, statusForError(err), err.Error())
		return
	}

	c.JSON(http.StatusOK, messageResponse{ConversationID: conv.ID, Title: conv.Title, Round: round})
}

// sendMessageStream reports round progress as SSE stage events. Model output
// is delivered whole in the stage events, never token by token.
func (s *Server) sendMessageStream(c *gin.Context) {
	defer withPanicRecovery(c, s.config.Logger)()

	content, ok := s.bindMessage(c)
	if !ok {
		return
	}
	id := c.Param("id")
	if _, err := s.conversations.GetConversation(c.Request.Context(), id); err != nil {
		respondWithError(c, statusForError(err), err.Error())
		return
	}

	setStreamingHeaders(c)
	c.Status(http.StatusOK)

	send := func(event sseEvent) {
		if err := writeSSE(c.Writer, event); err != nil {
			s.config.Logger.Debug("Failed to write %s event: %v", event.Type, err)
			return
		}
		c.Writer.Flush()
	}
	emit := func(event string, data any) {
		send(sseEvent{Type: event, Data: data})
	}

	observer := func(state core.RoundState, round *core.CouncilRound) {
		switch state {
		case core.RoundDispatching:
			emit(core.EventStage1Start, nil)
		case core.RoundAggregated:
			emit(core.EventStage1Complete, round.Responses)
		case core.RoundReviewing:
			emit(core.EventStage2Start, nil)
		case core.RoundReviewed:
			send(sseEvent{
				Type: core.EventStage2Complete,
				Data: round.Review.Rankings,
				Metadata: gin.H{
					"label_to_model":     round.Review.LabelToModel,
					"aggregate_rankings": round.Review.Aggregate,
				},
			})
		case core.RoundSynthesizing:
			emit(core.EventStage3Start, nil)
		case core.RoundComplete:
			emit(core.EventStage3Complete, round.Final)
		}
	}
	onTitle := func(title string) {
		emit(core.EventTitleComplete, gin.H{"title": title})
	}

	conv, round, err := s.runConversationTurn(c.Request.Context(), id, content, observer, onTitle)
	if err != nil {
		s.config.Logger.Warn("Streaming conversation turn failed: %v", err)
		emit(core.EventError, gin.H{"message": err.Error()})
		return
	}
	emit(core.EventComplete, gin.H{"conversation_id": conv.ID, "round_id": round.ID})
}

// runConversationTurn appends content to conversation id, runs a round over
// the whole history and persists both messages. Turns on the same
// conversation are serialized. On the first message a title is generated
// alongside the round and passed to onTitle after the save.
func (s *Server) runConversationTurn(
	ctx context.Context,
	id, content string,
	observer council.Observer,
	onTitle func(string),
) (*core.Conversation, *core.CouncilRound, error) {
	unlock := s.convLocks.Lock(id)
	defer unlock()

	conv, err := s.conversations.GetConversation(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	conv = conv.Clone()

	var titleCh chan string
	if len(conv.Messages) == 0 {
		titleCh = make(chan string, 1)
		go func() {
			titleCh <- s.council.GenerateTitle(ctx, content)
		}()
	}

	conv.Messages = append(conv.Messages, core.ConversationMessage{
		Role:      core.RoleUser,
		Content:   content,
		Timestamp: time.Now().UTC(),
	})

	round, err := s.runRound(ctx, conv.History(), observer)
	if err != nil {
		return nil, nil, err
	}

	if titleCh != nil {
		conv.Title = <-titleCh
	}

	conv.Messages = append(conv.Messages, core.ConversationMessage{
		Role:      core.RoleAssistant,
		Round:     round,
		Timestamp: round.CompletedAt.UTC(),
	})

	// A finished round is kept even if the client has gone away meanwhile.
	if err := s.conversations.SaveConversation(context.WithoutCancel(ctx), conv); err != nil {
		s.config.Logger.Error("Failed to save conversation %s: %v", id, err)
		return nil, nil, err
	}
	// Reported only once saved, so a client reloading on it sees the new title.
	if titleCh != nil && onTitle != nil {
		onTitle(conv.Title)
	}
	return conv, round, nil
}
