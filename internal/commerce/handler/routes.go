package handler

import (
	"github.com/bitfantasy/nimo-commerce/internal/middleware"
	"github.com/gin-gonic/gin"
)

// FinanceRole 审核与打款结算单所需角色
const FinanceRole = "finance"

// RegisterRoutes 注册 /commerce 路由；idem 挂在资金类接口上，可为 nil
func RegisterRoutes(rg *gin.RouterGroup, h *Handlers, idem gin.HandlerFunc) {
	if idem == nil {
		idem = func(c *gin.Context) { c.Next() }
	}
	finance := middleware.RequireRole(FinanceRole)

	commerce := rg.Group("/commerce")

	inventory := commerce.Group("/inventory")
	{
		inventory.GET("", h.Inventory.List)
		inventory.POST("", h.Inventory.Create)
		inventory.GET("/alerts", h.Inventory.Alerts)
		inventory.GET("/movements", h.Inventory.Movements)
		inventory.GET("/movements/export", h.Inventory.ExportMovements)
		inventory.POST("/import", h.Inventory.Import)
		inventory.GET("/:id", h.Inventory.Get)
		inventory.GET("/:id/movements", h.Inventory.Movements)
		inventory.POST("/:id/reserve", h.Inventory.Reserve)
		inventory.POST("/:id/unreserve", h.Inventory.Unreserve)
		inventory.POST("/:id/adjust", h.Inventory.Adjust)
		inventory.POST("/:id/transfer", h.Inventory.Transfer)
	}

	pos := commerce.Group("/purchase-orders")
	{
		pos.GET("", h.PO.List)
		pos.POST("", h.PO.Create)
		pos.GET("/:id", h.PO.Get)
		pos.PUT("/:id", h.PO.Update)
		pos.GET("/:id/logs", h.PO.Logs)
		pos.POST("/:id/submit", h.PO.Submit)
		pos.POST("/:id/approve", h.PO.Approve)
		pos.POST("/:id/reject", h.PO.Reject)
		pos.POST("/:id/send", h.PO.Send)
		pos.POST("/:id/confirm", h.PO.Confirm)
		pos.POST("/:id/start-receiving", h.PO.StartReceiving)
		pos.POST("/:id/receive", h.PO.Receive)
		pos.POST("/:id/complete", h.PO.Complete)
		pos.POST("/:id/cancel", h.PO.Cancel)
	}

	sos := commerce.Group("/sales-orders")
	{
		sos.GET("", h.Order.List)
		sos.POST("", h.Order.Create)
		sos.GET("/:id", h.Order.Get)
		sos.GET("/:id/logs", h.Order.Logs)
		sos.POST("/:id/confirm", h.Order.Confirm)
		sos.POST("/:id/process", h.Order.Process)
		sos.POST("/:id/pack", h.Order.Pack)
		sos.POST("/:id/ready", h.Order.MarkReady)
		sos.POST("/:id/complete", h.Order.Complete)
		sos.POST("/:id/cancel", h.Order.Cancel)
		sos.POST("/:id/refund", h.Order.Refund)
		sos.POST("/:id/assign-delivery", h.Order.AssignDelivery)
	}

	vos := commerce.Group("/vendor-orders")
	{
		vos.GET("", h.Order.ListVendorOrders)
		vos.GET("/:id", h.Order.GetVendorOrder)
		vos.GET("/:id/logs", h.Order.VendorOrderLogs)
		vos.POST("/:id/confirm", h.Order.ConfirmVendorOrder)
		vos.POST("/:id/process", h.Order.ProcessVendorOrder)
		vos.POST("/:id/pack", h.Order.PackVendorOrder)
		vos.POST("/:id/ready", h.Order.MarkVendorOrderReady)
		vos.POST("/:id/ship", h.Order.ShipVendorOrder)
		vos.POST("/:id/deliver", h.Order.DeliverVendorOrder)
		vos.POST("/:id/complete", h.Order.CompleteVendorOrder)
		vos.POST("/:id/retry", h.Order.RetryVendorOrder)
		vos.POST("/:id/cancel", h.Order.CancelVendorOrder)
	}

	agents := commerce.Group("/delivery-agents")
	{
		agents.POST("", h.Delivery.CreateAgent)
		agents.GET("/:id", h.Delivery.GetAgent)
	}

	deliveries := commerce.Group("/deliveries")
	{
		deliveries.GET("", h.Delivery.List)
		deliveries.GET("/mine", h.Delivery.Mine)
		deliveries.GET("/:id", h.Delivery.Get)
		deliveries.GET("/:id/logs", h.Delivery.Logs)
		deliveries.POST("/:id/accept", h.Delivery.Accept)
		deliveries.POST("/:id/reject", h.Delivery.Reject)
		deliveries.POST("/:id/pickup", h.Delivery.Pickup)
		deliveries.POST("/:id/in-transit", h.Delivery.InTransit)
		deliveries.POST("/:id/out-for-delivery", h.Delivery.OutForDelivery)
		deliveries.POST("/:id/complete", h.Delivery.Complete)
		deliveries.POST("/:id/fail", h.Delivery.Fail)
		deliveries.POST("/:id/collect-cod", idem, h.Delivery.CollectCOD)
		deliveries.POST("/:id/reassign", h.Delivery.Reassign)
		deliveries.POST("/:id/return", h.Delivery.Return)
		deliveries.POST("/:id/cancel", h.Delivery.Cancel)
		deliveries.GET("/:id/proofs", h.Delivery.Proofs)
		deliveries.POST("/:id/proofs", h.Delivery.UploadProof)
	}

	returns := commerce.Group("/returns")
	{
		returns.GET("", h.Return.List)
		returns.POST("", h.Return.Create)
		returns.GET("/stats", h.Return.Stats)
		returns.GET("/:id", h.Return.Get)
		returns.GET("/:id/logs", h.Return.Logs)
		returns.POST("/:id/approve", h.Return.Approve)
		returns.POST("/:id/reject", h.Return.Reject)
		returns.POST("/:id/schedule-pickup", h.Return.SchedulePickup)
		returns.POST("/:id/pickup-complete", h.Return.CompletePickup)
		returns.POST("/:id/ship-back", h.Return.ShipBack)
		returns.POST("/:id/receive", h.Return.Receive)
		returns.POST("/:id/inspect", h.Return.Inspect)
		returns.POST("/:id/refund", idem, h.Return.Refund)
		returns.POST("/:id/refund/complete", idem, h.Return.CompleteRefund)
		returns.POST("/:id/ship-replacement", h.Return.ShipReplacement)
		returns.POST("/:id/complete", h.Return.Complete)
		returns.POST("/:id/cancel", h.Return.Cancel)
	}

	settlements := commerce.Group("/settlements")
	{
		settlements.GET("", h.Settlement.List)
		settlements.POST("", h.Settlement.Generate)
		settlements.GET("/stats", h.Settlement.Stats)
		settlements.GET("/:id", h.Settlement.Get)
		settlements.GET("/:id/orders", h.Settlement.Orders)
		settlements.GET("/:id/export", h.Settlement.Export)
		settlements.POST("/:id/recalculate", h.Settlement.Recalculate)
		settlements.POST("/:id/submit", h.Settlement.Submit)
		settlements.POST("/:id/approve", finance, h.Settlement.Approve)
		settlements.POST("/:id/process", finance, h.Settlement.StartProcessing)
		settlements.POST("/:id/pay", finance, idem, h.Settlement.Pay)
		settlements.POST("/:id/fail", finance, h.Settlement.Fail)
		settlements.POST("/:id/retry", finance, h.Settlement.Retry)
		settlements.POST("/:id/cancel", h.Settlement.Cancel)
	}

	if h.Events != nil {
		commerce.GET("/events/stream", h.Events.Stream)
	}

	vendors := commerce.Group("/vendors")
	{
		vendors.GET("/:id/ledger", h.Settlement.Ledger)
		vendors.GET("/:id/payouts", h.Settlement.Payouts)
	}
}
