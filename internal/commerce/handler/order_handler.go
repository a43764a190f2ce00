package handler

import (
	"context"
	"strconv"

	"github.com/bitfantasy/nimo-commerce/internal/commerce/entity"
	"github.com/bitfantasy/nimo-commerce/internal/commerce/repository"
	"github.com/bitfantasy/nimo-commerce/internal/commerce/service"
	"github.com/gin-gonic/gin"
)

// OrderHandler 销售订单与商家订单处理器
type OrderHandler struct {
	svc *service.OrderService
}

func NewOrderHandler(svc *service.OrderService) *OrderHandler {
	return &OrderHandler{svc: svc}
}

// List 主订单列表
// GET /api/v1/commerce/sales-orders?customer_id=&status=&payment_status=&search=
func (h *OrderHandler) List(c *gin.Context) {
	p := pageOf(c)
	items, total, err := h.svc.List(c.Request.Context(), repository.SalesOrderFilter{
		CustomerID:    entity.CustomerID(c.Query("customer_id")),
		Status:        entity.OrderStatus(c.Query("status")),
		PaymentStatus: entity.PaymentStatus(c.Query("payment_status")),
		Keyword:       c.Query("search"),
		Page:          p,
	})
	if err != nil {
		RespondError(c, err)
		return
	}
	listOK(c, p, items, total)
}

// Get 主订单详情（含商家订单）
// GET /api/v1/commerce/sales-orders/:id
func (h *OrderHandler) Get(c *gin.Context) {
	d, err := h.svc.Get(c.Request.Context(), entity.SalesOrderID(c.Param("id")))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, d)
}

// Logs GET /api/v1/commerce/sales-orders/:id/logs
func (h *OrderHandler) Logs(c *gin.Context) {
	logs, err := h.svc.StatusLogs(c.Request.Context(), entity.SalesOrderID(c.Param("id")))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, logs)
}

// Create 下单
// POST /api/v1/commerce/sales-orders
func (h *OrderHandler) Create(c *gin.Context) {
	var req service.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	o, ok := op(c)
	if !ok {
		return
	}
	d, err := h.svc.Create(c.Request.Context(), &req, o)
	if err != nil {
		RespondError(c, err)
		return
	}
	Created(c, d)
}

type soTransition func(ctx context.Context, id entity.SalesOrderID, o service.Op) (*entity.SalesOrder, error)

func (h *OrderHandler) transition(fn soTransition) gin.HandlerFunc {
	return func(c *gin.Context) {
		o, ok := op(c)
		if !ok {
			return
		}
		so, err := fn(c.Request.Context(), entity.SalesOrderID(c.Param("id")), o)
		if err != nil {
			RespondError(c, err)
			return
		}
		Success(c, so)
	}
}

// Confirm POST /api/v1/commerce/sales-orders/:id/confirm
func (h *OrderHandler) Confirm(c *gin.Context) { h.transition(h.svc.Confirm)(c) }

// Process POST /api/v1/commerce/sales-orders/:id/process
func (h *OrderHandler) Process(c *gin.Context) { h.transition(h.svc.Process)(c) }

// Pack POST /api/v1/commerce/sales-orders/:id/pack
func (h *OrderHandler) Pack(c *gin.Context) { h.transition(h.svc.Pack)(c) }

// MarkReady POST /api/v1/commerce/sales-orders/:id/ready
func (h *OrderHandler) MarkReady(c *gin.Context) { h.transition(h.svc.MarkReady)(c) }

// Complete POST /api/v1/commerce/sales-orders/:id/complete
func (h *OrderHandler) Complete(c *gin.Context) { h.transition(h.svc.Complete)(c) }

// Cancel 取消主订单及全部商家订单
// POST /api/v1/commerce/sales-orders/:id/cancel
func (h *OrderHandler) Cancel(c *gin.Context) {
	var req reasonRequest
	if !bindOptional(c, &req) {
		return
	}
	o, ok := op(c)
	if !ok {
		return
	}
	d, err := h.svc.Cancel(c.Request.Context(), entity.SalesOrderID(c.Param("id")), req.Reason, o)
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, d)
}

// Refund 标记主订单已退款
// POST /api/v1/commerce/sales-orders/:id/refund
func (h *OrderHandler) Refund(c *gin.Context) {
	var req reasonRequest
	if !bindOptional(c, &req) {
		return
	}
	o, ok := op(c)
	if !ok {
		return
	}
	so, err := h.svc.Refund(c.Request.Context(), entity.SalesOrderID(c.Param("id")), req.Reason, o)
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, so)
}

// AssignDelivery 指派配送员
// POST /api/v1/commerce/sales-orders/:id/assign-delivery
func (h *OrderHandler) AssignDelivery(c *gin.Context) {
	var req service.AssignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	o, ok := op(c)
	if !ok {
		return
	}
	da, err := h.svc.AssignDelivery(c.Request.Context(), entity.SalesOrderID(c.Param("id")), &req, o)
	if err != nil {
		RespondError(c, err)
		return
	}
	Created(c, da)
}

// ---- 商家订单 ----

// ListVendorOrders 商家订单列表
// GET /api/v1/commerce/vendor-orders?vendor_id=&sales_order_id=&status=&is_settled=
func (h *OrderHandler) ListVendorOrders(c *gin.Context) {
	vendorID, ok := vendorParam(c, c.Query("vendor_id"))
	if !ok {
		return
	}
	p := pageOf(c)
	f := repository.VendorOrderFilter{
		VendorID:     vendorID,
		SalesOrderID: entity.SalesOrderID(c.Query("sales_order_id")),
		Status:       entity.OrderStatus(c.Query("status")),
		Page:         p,
	}
	if v := c.Query("is_settled"); v != "" {
		settled, err := strconv.ParseBool(v)
		if err != nil {
			BadRequest(c, "参数错误: is_settled")
			return
		}
		f.IsSettled = &settled
	}
	items, total, err := h.svc.ListVendorOrders(c.Request.Context(), f)
	if err != nil {
		RespondError(c, err)
		return
	}
	listOK(c, p, items, total)
}

// GetVendorOrder GET /api/v1/commerce/vendor-orders/:id
func (h *OrderHandler) GetVendorOrder(c *gin.Context) {
	vo, err := h.svc.GetVendorOrder(c.Request.Context(), entity.VendorOrderID(c.Param("id")))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, vo)
}

// VendorOrderLogs GET /api/v1/commerce/vendor-orders/:id/logs
func (h *OrderHandler) VendorOrderLogs(c *gin.Context) {
	logs, err := h.svc.VendorOrderStatusLogs(c.Request.Context(), entity.VendorOrderID(c.Param("id")))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, logs)
}

type voTransition func(ctx context.Context, id entity.VendorOrderID, o service.Op) (*entity.VendorOrder, error)

func (h *OrderHandler) vendorTransition(fn voTransition) gin.HandlerFunc {
	return func(c *gin.Context) {
		o, ok := op(c)
		if !ok {
			return
		}
		vo, err := fn(c.Request.Context(), entity.VendorOrderID(c.Param("id")), o)
		if err != nil {
			RespondError(c, err)
			return
		}
		Success(c, vo)
	}
}

// ConfirmVendorOrder POST /api/v1/commerce/vendor-orders/:id/confirm
func (h *OrderHandler) ConfirmVendorOrder(c *gin.Context) {
	h.vendorTransition(h.svc.ConfirmVendorOrder)(c)
}

// ProcessVendorOrder POST /api/v1/commerce/vendor-orders/:id/process
func (h *OrderHandler) ProcessVendorOrder(c *gin.Context) {
	h.vendorTransition(h.svc.ProcessVendorOrder)(c)
}

// PackVendorOrder POST /api/v1/commerce/vendor-orders/:id/pack
func (h *OrderHandler) PackVendorOrder(c *gin.Context) {
	h.vendorTransition(h.svc.PackVendorOrder)(c)
}

// MarkVendorOrderReady POST /api/v1/commerce/vendor-orders/:id/ready
func (h *OrderHandler) MarkVendorOrderReady(c *gin.Context) {
	h.vendorTransition(h.svc.MarkVendorOrderReady)(c)
}

// ShipVendorOrder POST /api/v1/commerce/vendor-orders/:id/ship
func (h *OrderHandler) ShipVendorOrder(c *gin.Context) {
	h.vendorTransition(h.svc.ShipVendorOrder)(c)
}

// DeliverVendorOrder POST /api/v1/commerce/vendor-orders/:id/deliver
func (h *OrderHandler) DeliverVendorOrder(c *gin.Context) {
	h.vendorTransition(h.svc.DeliverVendorOrder)(c)
}

// CompleteVendorOrder POST /api/v1/commerce/vendor-orders/:id/complete
func (h *OrderHandler) CompleteVendorOrder(c *gin.Context) {
	h.vendorTransition(h.svc.CompleteVendorOrder)(c)
}

// RetryVendorOrder POST /api/v1/commerce/vendor-orders/:id/retry
func (h *OrderHandler) RetryVendorOrder(c *gin.Context) {
	h.vendorTransition(h.svc.RetryVendorOrder)(c)
}

// CancelVendorOrder 取消单个商家订单
// POST /api/v1/commerce/vendor-orders/:id/cancel
func (h *OrderHandler) CancelVendorOrder(c *gin.Context) {
	var req reasonRequest
	if !bindOptional(c, &req) {
		return
	}
	o, ok := op(c)
	if !ok {
		return
	}
	vo, err := h.svc.CancelVendorOrder(c.Request.Context(), entity.VendorOrderID(c.Param("id")), req.Reason, o)
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, vo)
}
