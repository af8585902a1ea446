package web

import (
	"errors"
	"net/http"
	"time"

	"horoscope_dispatcher/internal/app"
	"horoscope_dispatcher/internal/domain/apperr"

	"github.com/gin-gonic/gin"
)

type emailRequest struct {
	Email string `json:"email"`
}

type subscriberView struct {
	ID             int64  `json:"id"`
	Email          string `json:"email"`
	FirstName      string `json:"first_name,omitempty"`
	Sign           string `json:"sign"`
	Timezone       string `json:"timezone"`
	DeliveryMethod string `json:"delivery_method"`
	PartnerName    string `json:"partner_name,omitempty"`
	PartnerSign    string `json:"partner_sign,omitempty"`
}

func (s *Server) handleSignup(c *gin.Context) {
	var req app.SignupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "request body must be valid JSON"})
		return
	}

	res, err := s.deps.Subscriptions.Signup(c.Request.Context(), req)
	if err != nil {
		s.writeError(c, err)
		return
	}

	sub := res.Subscriber
	body := gin.H{
		"success": res.Send != nil && res.Send.Success(),
		"sign":    sub.Sign,
		"subscriber": subscriberView{
			ID:             sub.ID,
			Email:          sub.Email,
			FirstName:      sub.FirstName.String,
			Sign:           string(sub.Sign),
			Timezone:       sub.Timezone,
			DeliveryMethod: string(sub.Channel),
			PartnerName:    sub.PartnerName.String,
			PartnerSign:    string(sub.PartnerSign),
		},
		"send": res.Send,
	}
	if res.SendError != "" {
		body["send_error"] = res.SendError
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) handleRequest(c *gin.Context) {
	var req emailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "request body must be valid JSON"})
		return
	}

	res, err := s.deps.Subscriptions.RequestSend(c.Request.Context(), req.Email)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": res.Success(), "result": res})
}

func (s *Server) handleUnsubscribe(c *gin.Context) {
	var req emailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "request body must be valid JSON"})
		return
	}

	res, err := s.deps.Subscriptions.Unsubscribe(c.Request.Context(), req.Email)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "already_unsubscribed": res.AlreadyUnsubscribed})
}

func (s *Server) handleUnsubscribeLink(c *gin.Context) {
	var (
		res app.UnsubscribeResult
		err error
	)
	if token := c.Query("token"); token != "" {
		res, err = s.deps.Subscriptions.UnsubscribeByToken(c.Request.Context(), token)
	} else {
		res, err = s.deps.Subscriptions.UnsubscribeByEmailLink(c.Request.Context(), c.Query("email"))
	}

	if err != nil {
		status, msg := http.StatusInternalServerError, "Something went wrong. Please try again later."
		var verr *apperr.ValidationError
		switch {
		case errors.As(err, &verr):
			status, msg = http.StatusBadRequest, verr.Message
		case apperr.IsNotFound(err):
			status, msg = http.StatusNotFound, "This unsubscribe link is not valid."
		default:
			s.logger.WithError(err).Error("Unsubscribe link failed")
		}
		c.HTML(status, "unsubscribe", gin.H{"Title": "Unsubscribe failed", "Message": msg})
		return
	}

	msg := "You have been unsubscribed and will no longer receive daily readings."
	if res.AlreadyUnsubscribed {
		msg = "You are already unsubscribed."
	}
	c.HTML(http.StatusOK, "unsubscribe", gin.H{"Title": "Unsubscribed", "Message": msg})
}

func (s *Server) handleTick(c *gin.Context) {
	report, err := s.deps.Ticks.RunTick(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "report": report})
}

// writeError maps the error taxonomy onto status codes.
func (s *Server) writeError(c *gin.Context, err error) {
	var verr *apperr.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": verr.Error(), "field": verr.Field})
	case apperr.IsNotFound(err):
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": err.Error()})
	default:
		if already, ok := apperr.AsAlreadySent(err); ok {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"success":      false,
				"error":        "already sent today",
				"last_sent_at": already.LastSentAt.UTC().Format(time.RFC3339),
			})
			return
		}
		s.logger.WithError(err).WithField("path", c.FullPath()).Error("Request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "internal error"})
	}
}

const unsubscribePage = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>{{.Title}}</title></head>
<body style="font-family: Georgia, serif; max-width: 480px; margin: 64px auto; text-align: center;">
<h1>{{.Title}}</h1>
<p>{{.Message}}</p>
</body>
</html>`
