package settlement

import (
	"context"
	"net/http"
	"time"

	"ticketing-settlement/pkg/db/pagination"
	"ticketing-settlement/pkg/errutil"
	"ticketing-settlement/pkg/middleware"
	"ticketing-settlement/services/reauth"

	"github.com/gin-gonic/gin"
)

// Elevator issues elevation tokens.
type Elevator interface {
	Elevate(ctx context.Context, operatorID, credential string, scope reauth.Scope) (*reauth.Grant, error)
}

type Handler struct {
	svc      *Service
	elevator Elevator
}

func NewHandler(svc *Service, elevator Elevator) *Handler {
	return &Handler{svc: svc, elevator: elevator}
}

// Register mounts the settlement routes under /v1/settlement.
func (h *Handler) Register(r gin.IRouter) {
	g := r.Group("/v1/settlement", middleware.RequireOperator())

	g.POST("/reauth", h.elevate)

	g.GET("/events/payable", h.listPayableEvents)
	g.GET("/events/:id/settlement", h.getEventSettlement)
	g.GET("/events/:id/payout/preview", h.previewEventPayout)
	g.POST("/events/:id/payout", h.settleEventPayout)
	g.POST("/events/:id/settle-all", h.settleAll)

	g.GET("/organizers/:id/advance-balance", h.getAdvanceBalance)
	g.GET("/organizers/:id/advances", h.listAdvances)
	g.POST("/organizers/:id/advances", h.settleAdvance)
	g.PUT("/organizers/:id/trust", h.setTrust)

	g.GET("/payouts", h.listPayouts)
}

func operator(c *gin.Context) string {
	return middleware.GetOperator(c.Request.Context())
}

func bind(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err,
			errutil.WithDetails(errutil.Detail{Field: "body", Message: err.Error()})))
		return false
	}
	return true
}

var elevatableActions = map[string]bool{
	reauth.ActionSettlePayout:  true,
	reauth.ActionSettleAll:     true,
	reauth.ActionSettleAdvance: true,
	reauth.ActionSetTrust:      true,
}

type elevateRequest struct {
	Credential string `json:"credential" binding:"required"`
	Action     string `json:"action" binding:"required"`
	SubjectID  string `json:"subject_id" binding:"required"`
}

type elevateResponse struct {
	Token     string       `json:"elevation_token"`
	Scope     reauth.Scope `json:"scope"`
	ExpiresAt time.Time    `json:"expires_at"`
}

func (h *Handler) elevate(c *gin.Context) {
	var req elevateRequest
	if !bind(c, &req) {
		return
	}
	if !elevatableActions[req.Action] {
		_ = c.Error(errutil.BadRequest("unknown elevation action", nil,
			errutil.WithDetails(errutil.Detail{Field: "action", Message: req.Action})))
		return
	}

	grant, err := h.elevator.Elevate(c.Request.Context(), operator(c), req.Credential, reauth.Scope{
		Action:    req.Action,
		SubjectID: req.SubjectID,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, elevateResponse{Token: grant.Token, Scope: grant.Scope, ExpiresAt: grant.ExpiresAt})
}

func (h *Handler) listPayableEvents(c *gin.Context) {
	events, err := h.svc.ListPayableEvents(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func (h *Handler) getEventSettlement(c *gin.Context) {
	out, err := h.svc.GetEventSettlement(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) previewEventPayout(c *gin.Context) {
	out, err := h.svc.PreviewEventPayout(c.Request.Context(), c.Param("id"), c.Query("bank_account_id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) settleEventPayout(c *gin.Context) {
	var in SettleEventPayoutInput
	if !bind(c, &in) {
		return
	}
	in.EventID = c.Param("id")
	in.OperatorID = operator(c)

	payout, err := h.svc.SettleEventPayout(c.Request.Context(), in)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, payout)
}

func (h *Handler) settleAll(c *gin.Context) {
	var in SettleEventPayoutInput
	if !bind(c, &in) {
		return
	}
	in.EventID = c.Param("id")
	in.OperatorID = operator(c)

	out, err := h.svc.SettleAllForEvent(c.Request.Context(), in)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) getAdvanceBalance(c *gin.Context) {
	out, err := h.svc.GetAdvanceBalance(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) listAdvances(c *gin.Context) {
	out, err := h.svc.ListAdvances(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"advances": out})
}

func (h *Handler) settleAdvance(c *gin.Context) {
	var in SettleAdvanceInput
	if !bind(c, &in) {
		return
	}
	in.OrganizerID = c.Param("id")
	in.OperatorID = operator(c)

	out, err := h.svc.SettleAdvance(c.Request.Context(), in)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, out)
}

func (h *Handler) setTrust(c *gin.Context) {
	var in SetTrustInput
	if !bind(c, &in) {
		return
	}
	in.OrganizerID = c.Param("id")
	in.OperatorID = operator(c)

	out, err := h.svc.SetOrganizerTrust(c.Request.Context(), in)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, out)
}

type listPayoutsQuery struct {
	pagination.Pagination
	EventID       string `form:"event_id"`
	RecipientType string `form:"recipient_type"`
	RecipientID   string `form:"recipient_id"`
	Status        string `form:"status"`
}

func (h *Handler) listPayouts(c *gin.Context) {
	var q listPayoutsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		_ = c.Error(errutil.BadRequest("invalid query", err))
		return
	}

	page, err := h.svc.ListPayouts(c.Request.Context(), PayoutFilter{
		EventID:       q.EventID,
		RecipientType: q.RecipientType,
		RecipientID:   q.RecipientID,
		Status:        q.Status,
		Pagination:    q.Pagination,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, page)
}
