// Package view exposes the conversation engine to a browser page over HTTP.
package view

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/davidakpele/chatengine/conversation"
	"github.com/davidakpele/chatengine/markdown"
	"github.com/davidakpele/chatengine/models"
	"github.com/davidakpele/chatengine/sessions"
)

// Backend is the part of the session client the page drives.
// *sessions.Client implements it.
type Backend interface {
	Store() *conversation.Store
	State() sessions.State
	Send(text string) error
	StartNewConversation() error
	OpenConversation(id string) error
	RenameConversation(id, title string) error
	DeleteConversation(id string) error
	DeleteMessage(id string) error
	RefreshSidebar() error
}

// Handler wires HTTP routes to a Backend.
type Handler struct {
	backend    Backend
	renderer   *markdown.Renderer
	titleLimit int
	Logger     *log.Logger
}

func NewHandler(backend Backend, renderer *markdown.Renderer, titleLimit int, logger *log.Logger) *Handler {
	if renderer == nil {
		renderer = markdown.New()
	}
	if titleLimit <= 0 {
		titleLimit = models.DefaultTitleLimit
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{
		backend:    backend,
		renderer:   renderer,
		titleLimit: titleLimit,
		Logger:     logger,
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/markdown.css", h.stylesheet)

	api := router.Group("/api")
	api.GET("/state", h.getState)
	api.GET("/events", h.streamEvents)
	api.POST("/messages", h.sendMessage)
	api.DELETE("/messages/:id", h.deleteMessage)
	api.POST("/conversations", h.newConversation)
	api.POST("/conversations/refresh", h.refreshSidebar)
	api.POST("/conversations/:id/open", h.openConversation)
	api.PATCH("/conversations/:id", h.renameConversation)
	api.DELETE("/conversations/:id", h.deleteConversation)
}

// NewRouter returns a gin engine with the handler's routes registered.
func NewRouter(h *Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	h.RegisterRoutes(router)
	return router
}

func (h *Handler) getState(c *gin.Context) {
	c.JSON(http.StatusOK, h.buildState(h.backend.Store().Snapshot()))
}

func (h *Handler) stylesheet(c *gin.Context) {
	c.Data(http.StatusOK, "text/css; charset=utf-8", []byte(h.renderer.Stylesheet()))
}

type sendRequest struct {
	Text string `json:"text"`
}

func (h *Handler) sendMessage(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	h.respond(c, http.StatusAccepted, h.backend.Send(req.Text))
}

func (h *Handler) newConversation(c *gin.Context) {
	h.respond(c, http.StatusAccepted, h.backend.StartNewConversation())
}

func (h *Handler) openConversation(c *gin.Context) {
	h.respond(c, http.StatusAccepted, h.backend.OpenConversation(c.Param("id")))
}

// refreshSidebar asks the server for the conversation list again.
func (h *Handler) refreshSidebar(c *gin.Context) {
	h.respond(c, http.StatusAccepted, h.backend.RefreshSidebar())
}

type renameRequest struct {
	Title string `json:"title"`
}

func (h *Handler) renameConversation(c *gin.Context) {
	var req renameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	h.respond(c, http.StatusAccepted, h.backend.RenameConversation(c.Param("id"), req.Title))
}

func (h *Handler) deleteConversation(c *gin.Context) {
	h.respond(c, http.StatusAccepted, h.backend.DeleteConversation(c.Param("id")))
}

func (h *Handler) deleteMessage(c *gin.Context) {
	h.respond(c, http.StatusAccepted, h.backend.DeleteMessage(c.Param("id")))
}

// respond answers an intent. Success carries the current state so the page can
// redraw without a second request.
func (h *Handler) respond(c *gin.Context, status int, err error) {
	if err != nil {
		h.Logger.Printf("%s %s failed: %v", c.Request.Method, c.FullPath(), err)
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(status, h.buildState(h.backend.Store().Snapshot()))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, sessions.ErrEmptyPrompt), errors.Is(err, sessions.ErrEmptyTitle):
		return http.StatusBadRequest
	case errors.Is(err, sessions.ErrNotConnected):
		return http.StatusServiceUnavailable
	}
	var te *sessions.TransportError
	if errors.As(err, &te) {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
