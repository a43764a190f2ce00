package handler

import (
	"context"

	"github.com/bitfantasy/nimo-commerce/internal/commerce/entity"
	"github.com/bitfantasy/nimo-commerce/internal/commerce/repository"
	"github.com/bitfantasy/nimo-commerce/internal/commerce/service"
	"github.com/gin-gonic/gin"
)

// ReturnHandler 退货处理器
type ReturnHandler struct {
	svc *service.ReturnService
}

func NewReturnHandler(svc *service.ReturnService) *ReturnHandler {
	return &ReturnHandler{svc: svc}
}

// List 退货单列表
// GET /api/v1/commerce/returns?vendor_id=&customer_id=&vendor_order_id=&status=
func (h *ReturnHandler) List(c *gin.Context) {
	vendorID, ok := vendorParam(c, c.Query("vendor_id"))
	if !ok {
		return
	}
	p := pageOf(c)
	items, total, err := h.svc.List(c.Request.Context(), repository.ReturnFilter{
		VendorID:      vendorID,
		CustomerID:    entity.CustomerID(c.Query("customer_id")),
		VendorOrderID: entity.VendorOrderID(c.Query("vendor_order_id")),
		Status:        entity.ReturnStatus(c.Query("status")),
		Page:          p,
	})
	if err != nil {
		RespondError(c, err)
		return
	}
	listOK(c, p, items, total)
}

// Stats 按状态统计
// GET /api/v1/commerce/returns/stats?vendor_id=
func (h *ReturnHandler) Stats(c *gin.Context) {
	vendorID, ok := vendorParam(c, c.Query("vendor_id"))
	if !ok {
		return
	}
	stats, err := h.svc.Stats(c.Request.Context(), vendorID)
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, stats)
}

// Get GET /api/v1/commerce/returns/:id
func (h *ReturnHandler) Get(c *gin.Context) {
	rr, err := h.svc.Get(c.Request.Context(), entity.ReturnRequestID(c.Param("id")))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, rr)
}

// Logs GET /api/v1/commerce/returns/:id/logs
func (h *ReturnHandler) Logs(c *gin.Context) {
	logs, err := h.svc.StatusLogs(c.Request.Context(), entity.ReturnRequestID(c.Param("id")))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, logs)
}

// Create 申请退货
// POST /api/v1/commerce/returns
func (h *ReturnHandler) Create(c *gin.Context) {
	var req service.CreateReturnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	o, ok := op(c)
	if !ok {
		return
	}
	rr, err := h.svc.Create(c.Request.Context(), &req, o)
	if err != nil {
		RespondError(c, err)
		return
	}
	Created(c, rr)
}

type returnTransition func(ctx context.Context, id entity.ReturnRequestID, o service.Op) (*entity.ReturnRequest, error)

func (h *ReturnHandler) transition(fn returnTransition) gin.HandlerFunc {
	return func(c *gin.Context) {
		o, ok := op(c)
		if !ok {
			return
		}
		rr, err := fn(c.Request.Context(), entity.ReturnRequestID(c.Param("id")), o)
		if err != nil {
			RespondError(c, err)
			return
		}
		Success(c, rr)
	}
}

// Approve POST /api/v1/commerce/returns/:id/approve
func (h *ReturnHandler) Approve(c *gin.Context) { h.transition(h.svc.Approve)(c) }

// CompletePickup POST /api/v1/commerce/returns/:id/pickup-complete
func (h *ReturnHandler) CompletePickup(c *gin.Context) { h.transition(h.svc.CompletePickup)(c) }

// ShipBack 客户自行寄回
// POST /api/v1/commerce/returns/:id/ship-back
func (h *ReturnHandler) ShipBack(c *gin.Context) { h.transition(h.svc.ShipBack)(c) }

// CompleteRefund POST /api/v1/commerce/returns/:id/refund/complete
func (h *ReturnHandler) CompleteRefund(c *gin.Context) { h.transition(h.svc.CompleteRefund)(c) }

// ShipReplacement POST /api/v1/commerce/returns/:id/ship-replacement
func (h *ReturnHandler) ShipReplacement(c *gin.Context) { h.transition(h.svc.ShipReplacement)(c) }

// Complete POST /api/v1/commerce/returns/:id/complete
func (h *ReturnHandler) Complete(c *gin.Context) { h.transition(h.svc.Complete)(c) }

// Reject POST /api/v1/commerce/returns/:id/reject
func (h *ReturnHandler) Reject(c *gin.Context) {
	var req reasonRequest
	if !bindOptional(c, &req) {
		return
	}
	o, ok := op(c)
	if !ok {
		return
	}
	rr, err := h.svc.Reject(c.Request.Context(), entity.ReturnRequestID(c.Param("id")), req.Reason, o)
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, rr)
}

// Cancel POST /api/v1/commerce/returns/:id/cancel
func (h *ReturnHandler) Cancel(c *gin.Context) {
	var req reasonRequest
	if !bindOptional(c, &req) {
		return
	}
	o, ok := op(c)
	if !ok {
		return
	}
	rr, err := h.svc.Cancel(c.Request.Context(), entity.ReturnRequestID(c.Param("id")), req.Reason, o)
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, rr)
}

// SchedulePickup 预约取件
// POST /api/v1/commerce/returns/:id/schedule-pickup
func (h *ReturnHandler) SchedulePickup(c *gin.Context) {
	var req service.SchedulePickupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	o, ok := op(c)
	if !ok {
		return
	}
	rr, err := h.svc.SchedulePickup(c.Request.Context(), entity.ReturnRequestID(c.Param("id")), &req, o)
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, rr)
}

// Receive 仓库收货，退货数量回补库存
// POST /api/v1/commerce/returns/:id/receive
func (h *ReturnHandler) Receive(c *gin.Context) {
	var req reasonRequest
	if !bindOptional(c, &req) {
		return
	}
	o, ok := op(c)
	if !ok {
		return
	}
	rr, err := h.svc.Receive(c.Request.Context(), entity.ReturnRequestID(c.Param("id")), req.Notes, o)
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, rr)
}

// Inspect 质检
// POST /api/v1/commerce/returns/:id/inspect
func (h *ReturnHandler) Inspect(c *gin.Context) {
	var req service.InspectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	o, ok := op(c)
	if !ok {
		return
	}
	rr, err := h.svc.Inspect(c.Request.Context(), entity.ReturnRequestID(c.Param("id")), &req, o)
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, rr)
}

type refundRequest struct {
	Method string `json:"method" binding:"required"`
}

// Refund 发起退款
// POST /api/v1/commerce/returns/:id/refund
func (h *ReturnHandler) Refund(c *gin.Context) {
	var req refundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	o, ok := op(c)
	if !ok {
		return
	}
	rr, err := h.svc.InitiateRefund(c.Request.Context(), entity.ReturnRequestID(c.Param("id")), req.Method, o)
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, rr)
}
