package server

import (
	"github.com/gin-gonic/gin"
)

func (s *Server) setupRoutes() {
	gin.SetMode(s.ginMode)
	s.router = gin.New()

	s.router.Use(gin.Logger())
	s.router.Use(gin.Recovery())
	s.router.Use(s.corsMiddleware())
	s.router.Use(s.maxBodySizeMiddleware())
	s.router.Use(s.rateLimitMiddleware())

	// Public routes (no auth)
	s.router.GET("/health", s.healthCheck)
	s.router.GET("/api/stats", s.getStatsData)
	s.router.GET("/api/council", s.getCouncil)

	// Conversation routes (auth required)
	conversations := s.router.Group("/api/conversations")
	conversations.Use(s.authenticateClient)
	{
		conversations.GET("", s.listConversations)
		conversations.POST("", s.createConversation)
		conversations.GET("/:id", s.getConversation)
		conversations.DELETE("/:id", s.deleteConversation)
		conversations.POST("/:id/message", s.sendMessage)
		conversations.POST("/:id/message/stream", s.sendMessageStream)
	}

	// Stateless API (auth required)
	api := s.router.Group("/v1")
	api.Use(s.authenticateClient)
	{
		api.POST("/council", s.runCouncil)
	}
}
