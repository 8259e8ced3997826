package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/zulandar/jobchat/internal/chat"
	"github.com/zulandar/jobchat/internal/messaging"
)

// registerRoutes sets up every REST and websocket route on the Gin router.
func registerRoutes(router *gin.Engine, svc *chat.Service, gw Gateway, auth *Authenticator) {
	router.GET("/healthz", handleHealth())

	optional := router.Group("/", auth.optionalAuth())
	optional.POST("/contacts", handleContacts(svc))
	optional.POST("/message", handlePostMessage(svc))
	optional.GET("/online", handleOnline(gw))
	optional.GET("/ws", handleWS(gw))

	authed := router.Group("/", auth.requireAuth())
	authed.GET("/history/:otherUserId", handleHistory(svc))
	authed.POST("/ongoing", handleOngoing(svc))
	authed.POST("/initiate", handleInitiate(svc))
	authed.POST("/read", handleMarkRead(svc))
	authed.GET("/unread", handleUnread(svc))
}

type userRequest struct {
	UserID string `json:"userId"`
}

type messageRequest struct {
	UserID     string `json:"userId"`
	ReceiverID string `json:"receiverId"`
	Message    string `json:"message"`
}

type initiateRequest struct {
	ReceiverID string `json:"receiverId"`
}

type readRequest struct {
	OtherUserID string `json:"otherUserId"`
}

// bind decodes the JSON body into v, reporting malformed bodies as
// validation errors. An empty body leaves v zero.
func bind(c *gin.Context, v any) bool {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(v); err != nil {
		fail(c, fmt.Errorf("api: %w: %v", messaging.ErrValidation, err))
		return false
	}
	return true
}

// actingUser reconciles a userId from the body with the authenticated
// identity. Either may be absent; if both are present they must agree.
func actingUser(c *gin.Context, claimed string) (string, error) {
	id := identity(c)
	switch {
	case id != "" && claimed != "" && id != claimed:
		return "", errForbidden
	case id != "":
		return id, nil
	case claimed != "":
		return claimed, nil
	}
	return "", fmt.Errorf("api: %w: userId is required", messaging.ErrValidation)
}

func handleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

func handleContacts(svc *chat.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req userRequest
		if !bind(c, &req) {
			return
		}
		user, err := actingUser(c, req.UserID)
		if err != nil {
			fail(c, err)
			return
		}
		contacts, err := svc.Contacts(c.Request.Context(), user)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": contacts})
	}
}

func handleHistory(svc *chat.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		msgs, err := svc.History(c.Request.Context(), identity(c), c.Param("otherUserId"))
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": msgs})
	}
}

func handlePostMessage(svc *chat.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req messageRequest
		if !bind(c, &req) {
			return
		}
		sender, err := actingUser(c, req.UserID)
		if err != nil {
			fail(c, err)
			return
		}
		msg, created, err := svc.PostMessage(c.Request.Context(), sender, req.ReceiverID, req.Message)
		if err != nil {
			fail(c, err)
			return
		}
		if !created {
			c.JSON(http.StatusOK, gin.H{"message": "Message already exists", "data": msg})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"message": "Message sent", "data": msg})
	}
}

func handleOngoing(svc *chat.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		partners, err := svc.Ongoing(c.Request.Context(), identity(c))
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": partners})
	}
}

func handleInitiate(svc *chat.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req initiateRequest
		if !bind(c, &req) {
			return
		}
		msg, created, err := svc.Initiate(c.Request.Context(), identity(c), req.ReceiverID)
		if err != nil {
			fail(c, err)
			return
		}
		if !created {
			c.JSON(http.StatusOK, gin.H{"message": "Chat already initiated", "data": msg})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"message": "Chat initiated", "data": msg})
	}
}

func handleMarkRead(svc *chat.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req readRequest
		if !bind(c, &req) {
			return
		}
		n, err := svc.MarkRead(c.Request.Context(), identity(c), req.OtherUserID)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"updated": n})
	}
}

func handleUnread(svc *chat.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		counts, err := svc.Unread(c.Request.Context(), identity(c))
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": counts})
	}
}

func handleOnline(gw Gateway) gin.HandlerFunc {
	return func(c *gin.Context) {
		users, err := gw.Online(c.Request.Context())
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": users})
	}
}

func handleWS(gw Gateway) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := gw.ServeWS(c.Writer, c.Request, identity(c)); err != nil {
			logrus.WithField("error", err).Debug("api: websocket upgrade failed")
		}
	}
}
