package handler

import (
	"context"

	"github.com/bitfantasy/nimo-commerce/internal/commerce/entity"
	"github.com/bitfantasy/nimo-commerce/internal/commerce/repository"
	"github.com/bitfantasy/nimo-commerce/internal/commerce/service"
	"github.com/gin-gonic/gin"
)

// SettlementHandler 结算处理器
type SettlementHandler struct {
	svc    *service.SettlementService
	export *service.ExportService
}

func NewSettlementHandler(svc *service.SettlementService, export *service.ExportService) *SettlementHandler {
	return &SettlementHandler{svc: svc, export: export}
}

// List 结算单列表
// GET /api/v1/commerce/settlements?vendor_id=&status=&from=&to=
func (h *SettlementHandler) List(c *gin.Context) {
	vendorID, ok := vendorParam(c, c.Query("vendor_id"))
	if !ok {
		return
	}
	from, err := queryTime(c, "from")
	if err != nil {
		RespondError(c, err)
		return
	}
	to, err := queryTime(c, "to")
	if err != nil {
		RespondError(c, err)
		return
	}
	p := pageOf(c)
	items, total, err := h.svc.List(c.Request.Context(), repository.SettlementFilter{
		VendorID: vendorID,
		Status:   entity.SettlementStatus(c.Query("status")),
		From:     from,
		To:       to,
		Page:     p,
	})
	if err != nil {
		RespondError(c, err)
		return
	}
	listOK(c, p, items, total)
}

// Stats GET /api/v1/commerce/settlements/stats?vendor_id=
func (h *SettlementHandler) Stats(c *gin.Context) {
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

// Get GET /api/v1/commerce/settlements/:id
func (h *SettlementHandler) Get(c *gin.Context) {
	st, err := h.svc.Get(c.Request.Context(), entity.SettlementID(c.Param("id")))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, st)
}

// Orders 结算单关联的商家订单
// GET /api/v1/commerce/settlements/:id/orders
func (h *SettlementHandler) Orders(c *gin.Context) {
	orders, err := h.svc.Orders(c.Request.Context(), entity.SettlementID(c.Param("id")))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, orders)
}

// Export 下载结算对账单
// GET /api/v1/commerce/settlements/:id/export
func (h *SettlementHandler) Export(c *gin.Context) {
	f, filename, err := h.export.ExportStatement(c.Request.Context(), entity.SettlementID(c.Param("id")))
	if err != nil {
		RespondError(c, err)
		return
	}
	defer f.Close()

	writeExcel(c, filename, f)
}

// Generate 生成结算单
// POST /api/v1/commerce/settlements
func (h *SettlementHandler) Generate(c *gin.Context) {
	var req service.GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	o, ok := op(c)
	if !ok {
		return
	}
	st, err := h.svc.Generate(c.Request.Context(), &req, o)
	if err != nil {
		RespondError(c, err)
		return
	}
	Created(c, st)
}

// Recalculate 按扣减项重算草稿
// POST /api/v1/commerce/settlements/:id/recalculate
func (h *SettlementHandler) Recalculate(c *gin.Context) {
	var req service.Deductions
	if !bindOptional(c, &req) {
		return
	}
	o, ok := op(c)
	if !ok {
		return
	}
	st, err := h.svc.Recalculate(c.Request.Context(), entity.SettlementID(c.Param("id")), req, o)
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, st)
}

type settlementTransition func(ctx context.Context, id entity.SettlementID, o service.Op) (*entity.VendorSettlement, error)

func (h *SettlementHandler) transition(fn settlementTransition) gin.HandlerFunc {
	return func(c *gin.Context) {
		o, ok := op(c)
		if !ok {
			return
		}
		st, err := fn(c.Request.Context(), entity.SettlementID(c.Param("id")), o)
		if err != nil {
			RespondError(c, err)
			return
		}
		Success(c, st)
	}
}

// Submit POST /api/v1/commerce/settlements/:id/submit
func (h *SettlementHandler) Submit(c *gin.Context) { h.transition(h.svc.Submit)(c) }

// Approve POST /api/v1/commerce/settlements/:id/approve
func (h *SettlementHandler) Approve(c *gin.Context) { h.transition(h.svc.Approve)(c) }

// StartProcessing POST /api/v1/commerce/settlements/:id/process
func (h *SettlementHandler) StartProcessing(c *gin.Context) {
	h.transition(h.svc.StartProcessing)(c)
}

// Retry POST /api/v1/commerce/settlements/:id/retry
func (h *SettlementHandler) Retry(c *gin.Context) { h.transition(h.svc.Retry)(c) }

// Fail POST /api/v1/commerce/settlements/:id/fail
func (h *SettlementHandler) Fail(c *gin.Context) {
	var req reasonRequest
	if !bindOptional(c, &req) {
		return
	}
	o, ok := op(c)
	if !ok {
		return
	}
	st, err := h.svc.MarkFailed(c.Request.Context(), entity.SettlementID(c.Param("id")), req.Reason, o)
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, st)
}

// Cancel POST /api/v1/commerce/settlements/:id/cancel
func (h *SettlementHandler) Cancel(c *gin.Context) {
	var req reasonRequest
	if !bindOptional(c, &req) {
		return
	}
	o, ok := op(c)
	if !ok {
		return
	}
	st, err := h.svc.Cancel(c.Request.Context(), entity.SettlementID(c.Param("id")), req.Reason, o)
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, st)
}

// Pay 打款
// POST /api/v1/commerce/settlements/:id/pay
func (h *SettlementHandler) Pay(c *gin.Context) {
	var req service.PaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	o, ok := op(c)
	if !ok {
		return
	}
	st, err := h.svc.ProcessPayment(c.Request.Context(), entity.SettlementID(c.Param("id")), &req, o)
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, st)
}

// Ledger 商家账本（含当前余额）
// GET /api/v1/commerce/vendors/:id/ledger
func (h *SettlementHandler) Ledger(c *gin.Context) {
	vendorID, ok := vendorParam(c, c.Param("id"))
	if !ok {
		return
	}
	view, err := h.svc.Ledger(c.Request.Context(), vendorID, pageOf(c))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, view)
}

// Payouts 商家打款记录
// GET /api/v1/commerce/vendors/:id/payouts
func (h *SettlementHandler) Payouts(c *gin.Context) {
	vendorID, ok := vendorParam(c, c.Param("id"))
	if !ok {
		return
	}
	p := pageOf(c)
	items, total, err := h.svc.Payouts(c.Request.Context(), vendorID, p)
	if err != nil {
		RespondError(c, err)
		return
	}
	listOK(c, p, items, total)
}
