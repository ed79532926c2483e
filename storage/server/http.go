package server

import (
	"net/http"
	"sync/atomic"

	"github.com/gin-gonic/gin"
)

type Stats struct {
	KeyCount         int   `json:"key_count"`
	LogSize          int64 `json:"log_size"`
	Sets             int64 `json:"sets"`
	Gets             int64 `json:"gets"`
	Deletes          int64 `json:"deletes"`
	Compactions      int64 `json:"compactions"`
	SetsPerSecond    int64 `json:"sets_per_second"`
	GetsPerSecond    int64 `json:"gets_per_second"`
	DeletesPerSecond int64 `json:"deletes_per_second"`
}

// SetRouter builds the admin HTTP router. It is served on a separate
// listener from the command protocol and is optional.
func (s *Server) SetRouter() *gin.Engine {
	router := gin.New()
	router.GET("/stats", s.getStatsHandler)
	return router
}

func (s *Server) getStatsHandler(ctx *gin.Context) {
	stats := Stats{
		KeyCount:         s.engine.Len(),
		LogSize:          s.engine.LogSize(),
		Sets:             atomic.LoadInt64(&s.sets),
		Gets:             atomic.LoadInt64(&s.gets),
		Deletes:          atomic.LoadInt64(&s.deletes),
		Compactions:      atomic.LoadInt64(&s.compactions),
		SetsPerSecond:    s.setRate.Rate(),
		GetsPerSecond:    s.getRate.Rate(),
		DeletesPerSecond: s.deleteRate.Rate(),
	}
	ctx.JSON(http.StatusOK, stats)
}
