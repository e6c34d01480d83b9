// Package api exposes the studio over HTTP
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"trance-studio/debug"
	"trance-studio/pattern"
	"trance-studio/sequencer"
	"trance-studio/studio"
)

// startTimeout bounds engine initialization for a start request
const startTimeout = 10 * time.Second

type Server struct {
	studio *studio.Studio
	router *gin.Engine
}

type trackJSON struct {
	Instrument pattern.Instrument `json:"instrument"`
	Name       string             `json:"name"`
	Steps      pattern.Pattern    `json:"steps"`
}

type patternJSON struct {
	Tracks []trackJSON `json:"tracks"`
}

type transportJSON struct {
	Running bool   `json:"running"`
	Step    int    `json:"step"`
	Tempo   int    `json:"tempo"`
	Engine  string `json:"engine"`
}

type toggleRequest struct {
	Instrument string `json:"instrument" binding:"required"`
	Step       *int   `json:"step" binding:"required"`
}

type tempoRequest struct {
	BPM int `json:"bpm" binding:"required"`
}

func New(s *studio.Studio) *Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestLog(), corsMiddleware())

	srv := &Server{studio: s, router: r}

	r.GET("/health", healthCheck)

	v1 := r.Group("/api/v1")
	{
		v1.GET("/pattern", srv.getPattern)
		v1.POST("/pattern/toggle", srv.toggleStep)
		v1.POST("/pattern/preset", srv.loadPreset)
		v1.POST("/pattern/clear", srv.clearPattern)
		v1.POST("/pattern/randomize/:instrument", srv.randomize)

		v1.GET("/transport", srv.getTransport)
		v1.POST("/transport/start", srv.start)
		v1.POST("/transport/stop", srv.stop)
		v1.PUT("/transport/tempo", srv.setTempo)
	}
	return srv
}

// Handler returns the router for use with net/http
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is cancelled
func (s *Server) Run(ctx context.Context, addr string) error {
	hs := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		debug.Log("api", "listening addr=%s", addr)
		errc <- hs.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := hs.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		debug.Log("api", "%s %s %d %s", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "trance-studio",
	})
}

func abortWith(c *gin.Context, status int, err error) {
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

// statusFor maps studio errors to HTTP codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, pattern.ErrInvalidIndex), errors.Is(err, pattern.ErrUnknownInstrument):
		return http.StatusBadRequest
	case errors.Is(err, sequencer.ErrEngineUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, sequencer.ErrClosed):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func encodePattern(set pattern.Set) patternJSON {
	out := patternJSON{}
	for _, inst := range pattern.Instruments() {
		p, _ := set.Pattern(inst)
		info, _ := pattern.Info(inst)
		out.Tracks = append(out.Tracks, trackJSON{Instrument: inst, Name: info.Name, Steps: p})
	}
	return out
}

func encodeTransport(st sequencer.Status) transportJSON {
	return transportJSON{
		Running: st.Running,
		Step:    st.Step,
		Tempo:   st.Tempo,
		Engine:  st.Engine.String(),
	}
}

func (s *Server) getPattern(c *gin.Context) {
	c.JSON(http.StatusOK, encodePattern(s.studio.Snapshot()))
}

func (s *Server) toggleStep(c *gin.Context) {
	var req toggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWith(c, http.StatusBadRequest, err)
		return
	}
	inst, err := pattern.ParseInstrument(req.Instrument)
	if err == nil {
		err = s.studio.Toggle(inst, *req.Step)
	}
	if err != nil {
		abortWith(c, statusFor(err), err)
		return
	}
	c.JSON(http.StatusOK, encodePattern(s.studio.Snapshot()))
}

func (s *Server) loadPreset(c *gin.Context) {
	s.studio.LoadPreset()
	c.JSON(http.StatusOK, encodePattern(s.studio.Snapshot()))
}

func (s *Server) clearPattern(c *gin.Context) {
	s.studio.Clear()
	c.JSON(http.StatusOK, encodePattern(s.studio.Snapshot()))
}

func (s *Server) randomize(c *gin.Context) {
	inst, err := pattern.ParseInstrument(c.Param("instrument"))
	if err == nil {
		err = s.studio.Randomize(inst)
	}
	if err != nil {
		abortWith(c, statusFor(err), err)
		return
	}
	c.JSON(http.StatusOK, encodePattern(s.studio.Snapshot()))
}

func (s *Server) getTransport(c *gin.Context) {
	c.JSON(http.StatusOK, encodeTransport(s.studio.Status()))
}

func (s *Server) start(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), startTimeout)
	defer cancel()
	if err := s.studio.Play(ctx); err != nil {
		abortWith(c, statusFor(err), err)
		return
	}
	c.JSON(http.StatusOK, encodeTransport(s.studio.Status()))
}

func (s *Server) stop(c *gin.Context) {
	s.studio.Stop()
	c.JSON(http.StatusOK, encodeTransport(s.studio.Status()))
}

func (s *Server) setTempo(c *gin.Context) {
	var req tempoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWith(c, http.StatusBadRequest, err)
		return
	}
	s.studio.SetTempo(req.BPM)
	c.JSON(http.StatusOK, encodeTransport(s.studio.Status()))
}
