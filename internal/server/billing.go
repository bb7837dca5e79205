package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/pressplane/pressplane/internal/audit/domain"
	billingdomain "github.com/pressplane/pressplane/internal/billing/domain"
	"github.com/pressplane/pressplane/internal/config"
	plandomain "github.com/pressplane/pressplane/internal/plan/domain"
	"github.com/pressplane/pressplane/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Handler struct {
	log      *zap.Logger
	billing  billingdomain.Service
	audit    auditdomain.Service
	planRepo plandomain.Repository
	db       *gorm.DB
	holder   *config.BillingConfigHolder
}

type HandlerParams struct {
	fx.In

	Log      *zap.Logger
	Billing  billingdomain.Service
	Audit    auditdomain.Service
	PlanRepo plandomain.Repository
	DB       *gorm.DB
	Holder   *config.BillingConfigHolder
}

func NewHandler(p HandlerParams) *Handler {
	return &Handler{
		log:      p.Log.Named("server.billing"),
		billing:  p.Billing,
		audit:    p.Audit,
		planRepo: p.PlanRepo,
		db:       p.DB,
		holder:   p.Holder,
	}
}

func (h *Handler) Register(r gin.IRouter) {
	v1 := r.Group("/v1")

	v1.GET("/plans", h.listPlans)

	orgs := v1.Group("/orgs/:org_id")
	orgs.POST("/subscription", h.assignPlan)
	orgs.DELETE("/subscription", h.cancelSubscription)
	orgs.POST("/subscription/grace", h.enterGrace)
	orgs.GET("/plan", h.getActivePlan)
	orgs.GET("/subscriptions", h.getSubscriptions)
	orgs.GET("/audit-events", h.listAuditEvents)

	v1.PATCH("/subscriptions/:subscription_id/status", h.updateSubscriptionStatus)
}

type assignPlanRequest struct {
	PlanID string `json:"plan_id" binding:"required"`
}

func (h *Handler) assignPlan(c *gin.Context) {
	var req assignPlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, billingdomain.ErrInvalidPlan)
		return
	}

	result, err := h.billing.AssignPlan(c.Request.Context(), c.Param("org_id"), req.PlanID)
	if err != nil {
		respondError(c, err)
		return
	}

	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	c.JSON(status, result)
}

func (h *Handler) cancelSubscription(c *gin.Context) {
	if err := h.billing.CancelSubscription(c.Request.Context(), c.Param("org_id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type enterGraceRequest struct {
	// Pointer so an explicit zero is rejected rather than defaulted.
	Days *int `json:"days"`
}

func (h *Handler) enterGrace(c *gin.Context) {
	var req enterGraceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, billingdomain.ErrInvalidDays)
		return
	}

	days := 0
	if req.Days != nil {
		days = *req.Days
	} else if h.holder != nil {
		days = h.holder.Get().DefaultGraceDays
	}

	until, err := h.billing.EnterGrace(c.Request.Context(), c.Param("org_id"), days)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"grace_until": until.Format(time.RFC3339)})
}

type updateStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

func (h *Handler) updateSubscriptionStatus(c *gin.Context) {
	var req updateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, billingdomain.ErrInvalidSubscription)
		return
	}

	err := h.billing.UpdateSubscriptionStatus(c.Request.Context(), c.Param("subscription_id"), req.Status)
	if err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) getActivePlan(c *gin.Context) {
	active, err := h.billing.GetActivePlan(c.Request.Context(), c.Param("org_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if active == nil {
		// No active subscription is a normal answer for this resource.
		c.JSON(http.StatusNotFound, gin.H{"error": errorBody{
			Code:    "no_active_plan",
			Message: "organization has no active plan",
		}})
		return
	}
	c.JSON(http.StatusOK, active)
}

func (h *Handler) getSubscriptions(c *gin.Context) {
	subscriptions, err := h.billing.GetSubscriptions(c.Request.Context(), c.Param("org_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"subscriptions": subscriptions})
}

func (h *Handler) listPlans(c *gin.Context) {
	plans, err := h.planRepo.List(c.Request.Context(), h.db)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"plans": plans})
}

func (h *Handler) listAuditEvents(c *gin.Context) {
	req := auditdomain.ListRequest{
		Pagination: pagination.Pagination{
			PageSize:  parseIntDefault(c.Query("page_size"), 50),
			PageToken: c.Query("page_token"),
		},
		OrgID:  c.Param("org_id"),
		Action: strings.TrimSpace(c.Query("action")),
	}

	resp, err := h.audit.List(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
