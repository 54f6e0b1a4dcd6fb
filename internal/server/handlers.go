package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"llmcouncil/internal/core"
	"llmcouncil/internal/council"
	"llmcouncil/internal/metrics"

	"github.com/gin-gonic/gin"
)

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (s *Server) getStatsData(c *gin.Context) {
	stats := s.metricsService.GetRequestStats()
	periodStats := metrics.GetPeriodStats(stats.RequestHistory, 24, 24*7, 24*30)
	currentQPS := s.metricsService.GetQPS()
	hits, misses := s.metricsService.CacheCounts()

	c.JSON(http.StatusOK, gin.H{
		"currentTime":  time.Now().Format(core.TimeFormatDateTime),
		"currentQPS":   fmt.Sprintf("%.3f", currentQPS),
		"totalRecords": len(stats.RequestHistory),
		"stats24h":     periodStats[24],
		"stats7d":      periodStats[24*7],
		"stats30d":     periodStats[24*30],
		"models":       metrics.GetModelStats(stats.RequestHistory),
		"rounds": gin.H{
			"total":  stats.TotalRounds,
			"failed": stats.FailedRounds,
		},
		"cache": gin.H{
			"hits":   hits,
			"misses": misses,
		},
	})
}

func (s *Server) getCouncil(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"models":                   s.council.Roster(),
		"chairman":                 s.council.Chairman(),
		"timeout_seconds":          s.councilCfg.Timeout.Seconds(),
		"chairman_timeout_seconds": s.councilCfg.ChairmanTimeout.Seconds(),
		"peer_review":              s.council.PeerReview(),
	})
}

type councilRequest struct {
	Messages []core.Message `json:"messages"`
	Query    string         `json:"query"`
}

// runCouncil runs a stateless round over the posted history.
func (s *Server) runCouncil(c *gin.Context) {
	defer withPanicRecovery(c, s.config.Logger)()

	var request councilRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		respondWithError(c, http.StatusBadRequest, "invalid request body")
		return
	}

	history := request.Messages
	if len(history) == 0 && request.Query != "" {
		history = []core.Message{{Role: core.RoleUser, Content: request.Query}}
	}
	if err := core.ValidateHistory(history); err != nil {
		respondWithError(c, http.StatusBadRequest, err.Error())
		return
	}

	round, err := s.runRound(c.Request.Context(), history, nil)
	if err != nil {
		s.config.Logger.Warn("Council round failed: %v", err)
		respondWithError(c, statusForError(err), err.Error())
		return
	}
	c.JSON(http.StatusOK, round)
}

// runRound runs one council round and records it.
func (s *Server) runRound(ctx context.Context, history []core.Message, observer council.Observer) (*core.CouncilRound, error) {
	start := time.Now()
	round, err := s.council.Run(ctx, history, observer)
	if err != nil {
		s.metricsService.RecordRound(false, time.Since(start))
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", errClientGone, err)
		}
		return nil, err
	}
	s.metricsService.RecordRound(round.Final.OK(), round.Duration())
	return round, nil
}
