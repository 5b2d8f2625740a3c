package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type response struct {
	ErrNo  int         `json:"errno"`          //错误码
	ErrMsg string      `json:"errmsg"`         //错误描述
	Data   interface{} `json:"data,omitempty"` //成功时返回的数据
	ID     string      `json:"id,omitempty"`   //当前请求的唯一ID,便于问题定位
}

const (
	errNoOK       = 0
	errNoNotFound = 1000404
)

type apiEntry struct {
	method string               //请求方法
	url    string               //请求url
	hook   func(c *gin.Context) //API入口
}

func (s *Server) apis() []apiEntry {
	apis := []apiEntry{
		{method: "GET", url: "/ping", hook: s.ping},
		{method: "GET", url: "/sessions", hook: s.listSessions},
		{method: "GET", url: "/sessions/:id", hook: s.getSession},
	}

	if s.registry != nil {
		h := promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
		apis = append(apis, apiEntry{method: "GET", url: "/metrics", hook: gin.WrapH(h)})
	}

	return apis
}

func (s *Server) setupRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery(), traceID)
	for _, api := range s.apis() {
		r.Handle(api.method, api.url, api.hook)
	}

	return r
}

// ListenAndServeAPI serves the status API on APIAddr until Shutdown.
func (s *Server) ListenAndServeAPI() error {
	srv := &http.Server{
		Addr:    s.config.APIAddr,
		Handler: s.setupRouter(),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return http.ErrServerClosed
	}
	s.api = srv
	s.mu.Unlock()

	return srv.ListenAndServe()
}

func traceID(c *gin.Context) {
	traceId := uuid.New().String()
	c.Set("trace-id", traceId)

	c.Header("X-Request-Id", traceId)
}

func reply(c *gin.Context, status, errno int, msg string, data interface{}) {
	c.JSON(status, &response{
		ErrNo:  errno,
		ErrMsg: msg,
		Data:   data,
		ID:     c.GetString("trace-id"),
	})
}

func (s *Server) ping(c *gin.Context) {
	reply(c, http.StatusOK, errNoOK, "OK", "pong")
}

func (s *Server) listSessions(c *gin.Context) {
	sessions := s.broker.snapshot()
	if sessions == nil {
		sessions = []sessionInfo{}
	}

	reply(c, http.StatusOK, errNoOK, "OK", gin.H{
		"total":    s.broker.getSessionTotalNumber(),
		"sessions": sessions,
	})
}

func (s *Server) getSession(c *gin.Context) {
	sess, ok := s.broker.getSession(c.Param("id"))
	if !ok {
		reply(c, http.StatusNotFound, errNoNotFound, "session not found", nil)
		return
	}

	reply(c, http.StatusOK, errNoOK, "OK", sess.info())
}
