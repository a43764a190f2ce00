package handler

import (
	"context"

	"github.com/bitfantasy/nimo-commerce/internal/commerce/entity"
	"github.com/bitfantasy/nimo-commerce/internal/commerce/repository"
	"github.com/bitfantasy/nimo-commerce/internal/commerce/service"
	"github.com/gin-gonic/gin"
)

// POHandler 采购订单处理器
type POHandler struct {
	svc *service.ProcurementService
}

func NewPOHandler(svc *service.ProcurementService) *POHandler {
	return &POHandler{svc: svc}
}

// List 采购订单列表
// GET /api/v1/commerce/purchase-orders?vendor_id=&warehouse_id=&status=&search=
func (h *POHandler) List(c *gin.Context) {
	vendorID, ok := vendorParam(c, c.Query("vendor_id"))
	if !ok {
		return
	}
	p := pageOf(c)
	items, total, err := h.svc.List(c.Request.Context(), repository.POFilter{
		VendorID:    vendorID,
		WarehouseID: entity.WarehouseID(c.Query("warehouse_id")),
		Status:      entity.POStatus(c.Query("status")),
		Keyword:     c.Query("search"),
		Page:        p,
	})
	if err != nil {
		RespondError(c, err)
		return
	}
	listOK(c, p, items, total)
}

// Get 采购订单详情
// GET /api/v1/commerce/purchase-orders/:id
func (h *POHandler) Get(c *gin.Context) {
	po, err := h.svc.Get(c.Request.Context(), entity.PurchaseOrderID(c.Param("id")))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, po)
}

// Logs 状态变更记录
// GET /api/v1/commerce/purchase-orders/:id/logs
func (h *POHandler) Logs(c *gin.Context) {
	logs, err := h.svc.StatusLogs(c.Request.Context(), entity.PurchaseOrderID(c.Param("id")))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, logs)
}

// Create 创建采购订单
// POST /api/v1/commerce/purchase-orders
func (h *POHandler) Create(c *gin.Context) {
	var req service.CreatePORequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	o, ok := op(c)
	if !ok {
		return
	}
	po, err := h.svc.Create(c.Request.Context(), &req, o)
	if err != nil {
		RespondError(c, err)
		return
	}
	Created(c, po)
}

// Update 更新采购订单（草稿或已驳回）
// PUT /api/v1/commerce/purchase-orders/:id
func (h *POHandler) Update(c *gin.Context) {
	var req service.UpdatePORequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	o, ok := op(c)
	if !ok {
		return
	}
	po, err := h.svc.Update(c.Request.Context(), entity.PurchaseOrderID(c.Param("id")), &req, o)
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, po)
}

type poTransition func(ctx context.Context, id entity.PurchaseOrderID, o service.Op) (*entity.PurchaseOrder, error)

func (h *POHandler) transition(fn poTransition) gin.HandlerFunc {
	return func(c *gin.Context) {
		o, ok := op(c)
		if !ok {
			return
		}
		po, err := fn(c.Request.Context(), entity.PurchaseOrderID(c.Param("id")), o)
		if err != nil {
			RespondError(c, err)
			return
		}
		Success(c, po)
	}
}

// Submit POST /api/v1/commerce/purchase-orders/:id/submit
func (h *POHandler) Submit(c *gin.Context) { h.transition(h.svc.Submit)(c) }

// Approve POST /api/v1/commerce/purchase-orders/:id/approve
func (h *POHandler) Approve(c *gin.Context) { h.transition(h.svc.Approve)(c) }

// Send POST /api/v1/commerce/purchase-orders/:id/send
func (h *POHandler) Send(c *gin.Context) { h.transition(h.svc.Send)(c) }

// Confirm POST /api/v1/commerce/purchase-orders/:id/confirm
func (h *POHandler) Confirm(c *gin.Context) { h.transition(h.svc.Confirm)(c) }

// StartReceiving POST /api/v1/commerce/purchase-orders/:id/start-receiving
func (h *POHandler) StartReceiving(c *gin.Context) { h.transition(h.svc.StartReceiving)(c) }

// Complete POST /api/v1/commerce/purchase-orders/:id/complete
func (h *POHandler) Complete(c *gin.Context) { h.transition(h.svc.Complete)(c) }

// Reject 驳回
// POST /api/v1/commerce/purchase-orders/:id/reject
func (h *POHandler) Reject(c *gin.Context) {
	var req reasonRequest
	if !bindOptional(c, &req) {
		return
	}
	o, ok := op(c)
	if !ok {
		return
	}
	po, err := h.svc.Reject(c.Request.Context(), entity.PurchaseOrderID(c.Param("id")), req.Reason, o)
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, po)
}

// Cancel 取消
// POST /api/v1/commerce/purchase-orders/:id/cancel
func (h *POHandler) Cancel(c *gin.Context) {
	var req reasonRequest
	if !bindOptional(c, &req) {
		return
	}
	o, ok := op(c)
	if !ok {
		return
	}
	po, err := h.svc.Cancel(c.Request.Context(), entity.PurchaseOrderID(c.Param("id")), req.Reason, o)
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, po)
}

// Receive 收货入库；逐行结果总是返回，全部行失败时附带错误码
// POST /api/v1/commerce/purchase-orders/:id/receive
func (h *POHandler) Receive(c *gin.Context) {
	var req service.ReceiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	o, ok := op(c)
	if !ok {
		return
	}
	res, err := h.svc.Receive(c.Request.Context(), entity.PurchaseOrderID(c.Param("id")), &req, o)
	if err != nil {
		if res != nil {
			code := ErrorCode(err)
			c.JSON(code/100, Response{Code: code, Message: err.Error(), Data: res})
			return
		}
		RespondError(c, err)
		return
	}
	Success(c, res)
}
