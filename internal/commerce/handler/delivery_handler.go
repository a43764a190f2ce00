package handler

import (
	"github.com/bitfantasy/nimo-commerce/internal/commerce/entity"
	"github.com/bitfantasy/nimo-commerce/internal/commerce/repository"
	"github.com/bitfantasy/nimo-commerce/internal/commerce/service"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// 凭证文件上限 10MB
const maxProofSize = 10 << 20

// DeliveryHandler 配送处理器
type DeliveryHandler struct {
	svc    *service.DeliveryService
	logger *zap.Logger
}

func NewDeliveryHandler(svc *service.DeliveryService, logger *zap.Logger) *DeliveryHandler {
	return &DeliveryHandler{svc: svc, logger: logger}
}

// CreateAgent 注册配送员
// POST /api/v1/commerce/delivery-agents
func (h *DeliveryHandler) CreateAgent(c *gin.Context) {
	var req service.CreateAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	o, ok := op(c)
	if !ok {
		return
	}
	a, err := h.svc.CreateAgent(c.Request.Context(), &req, o)
	if err != nil {
		RespondError(c, err)
		return
	}
	Created(c, a)
}

// GetAgent GET /api/v1/commerce/delivery-agents/:id
func (h *DeliveryHandler) GetAgent(c *gin.Context) {
	a, err := h.svc.GetAgent(c.Request.Context(), entity.DeliveryAgentID(c.Param("id")))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, a)
}

// List 配送任务列表
// GET /api/v1/commerce/deliveries?agent_id=&sales_order_id=&status=
func (h *DeliveryHandler) List(c *gin.Context) {
	p := pageOf(c)
	items, total, err := h.svc.List(c.Request.Context(), repository.AssignmentFilter{
		AgentID:      entity.DeliveryAgentID(c.Query("agent_id")),
		SalesOrderID: entity.SalesOrderID(c.Query("sales_order_id")),
		Status:       entity.DeliveryStatus(c.Query("status")),
		Page:         p,
	})
	if err != nil {
		RespondError(c, err)
		return
	}
	listOK(c, p, items, total)
}

// Mine 当前配送员的任务
// GET /api/v1/commerce/deliveries/mine?status=
func (h *DeliveryHandler) Mine(c *gin.Context) {
	p := pageOf(c)
	items, total, err := h.svc.MyDeliveries(c.Request.Context(), GetUserID(c), entity.DeliveryStatus(c.Query("status")), p)
	if err != nil {
		RespondError(c, err)
		return
	}
	listOK(c, p, items, total)
}

// Get GET /api/v1/commerce/deliveries/:id
func (h *DeliveryHandler) Get(c *gin.Context) {
	d, err := h.svc.Get(c.Request.Context(), entity.DeliveryAssignmentID(c.Param("id")))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, d)
}

// Logs GET /api/v1/commerce/deliveries/:id/logs
func (h *DeliveryHandler) Logs(c *gin.Context) {
	logs, err := h.svc.StatusLogs(c.Request.Context(), entity.DeliveryAssignmentID(c.Param("id")))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, logs)
}

func (h *DeliveryHandler) id(c *gin.Context) entity.DeliveryAssignmentID {
	return entity.DeliveryAssignmentID(c.Param("id"))
}

func (h *DeliveryHandler) respond(c *gin.Context, d *entity.DeliveryAssignment, err error) {
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, d)
}

// Accept POST /api/v1/commerce/deliveries/:id/accept
func (h *DeliveryHandler) Accept(c *gin.Context) {
	o, ok := op(c)
	if !ok {
		return
	}
	d, err := h.svc.Accept(c.Request.Context(), h.id(c), o)
	h.respond(c, d, err)
}

// Reject 配送员拒单
// POST /api/v1/commerce/deliveries/:id/reject
func (h *DeliveryHandler) Reject(c *gin.Context) {
	var req reasonRequest
	if !bindOptional(c, &req) {
		return
	}
	o, ok := op(c)
	if !ok {
		return
	}
	d, err := h.svc.Reject(c.Request.Context(), h.id(c), req.Notes, o)
	h.respond(c, d, err)
}

type locationFn func(c *gin.Context, loc *service.Location, o service.Op) (*entity.DeliveryAssignment, error)

// withLocation 位置上报类操作，请求体可为空
func (h *DeliveryHandler) withLocation(fn locationFn) gin.HandlerFunc {
	return func(c *gin.Context) {
		var loc service.Location
		if !bindOptional(c, &loc) {
			return
		}
		o, ok := op(c)
		if !ok {
			return
		}
		var ptr *service.Location
		if loc.Latitude != nil && loc.Longitude != nil {
			ptr = &loc
		}
		d, err := fn(c, ptr, o)
		h.respond(c, d, err)
	}
}

// Pickup POST /api/v1/commerce/deliveries/:id/pickup
func (h *DeliveryHandler) Pickup(c *gin.Context) {
	h.withLocation(func(c *gin.Context, loc *service.Location, o service.Op) (*entity.DeliveryAssignment, error) {
		return h.svc.Pickup(c.Request.Context(), h.id(c), loc, o)
	})(c)
}

// InTransit POST /api/v1/commerce/deliveries/:id/in-transit
func (h *DeliveryHandler) InTransit(c *gin.Context) {
	h.withLocation(func(c *gin.Context, loc *service.Location, o service.Op) (*entity.DeliveryAssignment, error) {
		return h.svc.InTransit(c.Request.Context(), h.id(c), loc, o)
	})(c)
}

// OutForDelivery POST /api/v1/commerce/deliveries/:id/out-for-delivery
func (h *DeliveryHandler) OutForDelivery(c *gin.Context) {
	h.withLocation(func(c *gin.Context, loc *service.Location, o service.Op) (*entity.DeliveryAssignment, error) {
		return h.svc.OutForDelivery(c.Request.Context(), h.id(c), loc, o)
	})(c)
}

// Complete 送达签收
// POST /api/v1/commerce/deliveries/:id/complete
func (h *DeliveryHandler) Complete(c *gin.Context) {
	var req service.CompleteRequest
	if !bindOptional(c, &req) {
		return
	}
	o, ok := op(c)
	if !ok {
		return
	}
	d, err := h.svc.Complete(c.Request.Context(), h.id(c), &req, o)
	h.respond(c, d, err)
}

type failRequest struct {
	Reason   string            `json:"reason"`
	Location *service.Location `json:"location"`
}

// Fail 投递失败
// POST /api/v1/commerce/deliveries/:id/fail
func (h *DeliveryHandler) Fail(c *gin.Context) {
	var req failRequest
	if !bindOptional(c, &req) {
		return
	}
	o, ok := op(c)
	if !ok {
		return
	}
	d, err := h.svc.Fail(c.Request.Context(), h.id(c), req.Reason, req.Location, o)
	h.respond(c, d, err)
}

type collectRequest struct {
	Amount decimal.Decimal `json:"amount" binding:"required"`
}

// CollectCOD 收取货到付款
// POST /api/v1/commerce/deliveries/:id/collect-cod
func (h *DeliveryHandler) CollectCOD(c *gin.Context) {
	var req collectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	o, ok := op(c)
	if !ok {
		return
	}
	d, err := h.svc.CollectCOD(c.Request.Context(), h.id(c), req.Amount, o)
	h.respond(c, d, err)
}

type reassignRequest struct {
	AgentID entity.DeliveryAgentID `json:"agent_id" binding:"required"`
}

// Reassign 改派
// POST /api/v1/commerce/deliveries/:id/reassign
func (h *DeliveryHandler) Reassign(c *gin.Context) {
	var req reassignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	o, ok := op(c)
	if !ok {
		return
	}
	d, err := h.svc.Reassign(c.Request.Context(), h.id(c), req.AgentID, o)
	h.respond(c, d, err)
}

// Return 退回发货地
// POST /api/v1/commerce/deliveries/:id/return
func (h *DeliveryHandler) Return(c *gin.Context) {
	var req reasonRequest
	if !bindOptional(c, &req) {
		return
	}
	o, ok := op(c)
	if !ok {
		return
	}
	d, err := h.svc.Return(c.Request.Context(), h.id(c), req.Notes, o)
	h.respond(c, d, err)
}

// Cancel POST /api/v1/commerce/deliveries/:id/cancel
func (h *DeliveryHandler) Cancel(c *gin.Context) {
	var req reasonRequest
	if !bindOptional(c, &req) {
		return
	}
	o, ok := op(c)
	if !ok {
		return
	}
	d, err := h.svc.Cancel(c.Request.Context(), h.id(c), req.Reason, o)
	h.respond(c, d, err)
}

// UploadProof 上传签收凭证（multipart: file, proof_type, recipient_name）
// POST /api/v1/commerce/deliveries/:id/proofs
func (h *DeliveryHandler) UploadProof(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		BadRequest(c, "请上传凭证文件")
		return
	}
	defer file.Close()

	if header.Size > maxProofSize {
		h.logger.Warn("proof file too large",
			zap.String("assignment_id", c.Param("id")),
			zap.Int64("size", header.Size))
		BadRequest(c, "文件过大")
		return
	}
	o, ok := op(c)
	if !ok {
		return
	}
	proof, err := h.svc.AddProof(c.Request.Context(), h.id(c), &service.ProofUpload{
		ProofType:     c.PostForm("proof_type"),
		RecipientName: c.PostForm("recipient_name"),
		FileName:      header.Filename,
		ContentType:   header.Header.Get("Content-Type"),
		Size:          header.Size,
		Body:          file,
	}, o)
	if err != nil {
		RespondError(c, err)
		return
	}
	Created(c, proof)
}

// Proofs GET /api/v1/commerce/deliveries/:id/proofs
func (h *DeliveryHandler) Proofs(c *gin.Context) {
	views, err := h.svc.Proofs(c.Request.Context(), h.id(c))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, views)
}
