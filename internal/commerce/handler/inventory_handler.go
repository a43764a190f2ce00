package handler

import (
	"context"
	"net/url"

	"github.com/bitfantasy/nimo-commerce/internal/commerce/entity"
	"github.com/bitfantasy/nimo-commerce/internal/commerce/repository"
	"github.com/bitfantasy/nimo-commerce/internal/commerce/service"
	"github.com/gin-gonic/gin"
	"github.com/xuri/excelize/v2"
)

// InventoryHandler 库存处理器
type InventoryHandler struct {
	svc    *service.InventoryService
	export *service.ExportService
}

func NewInventoryHandler(svc *service.InventoryService, export *service.ExportService) *InventoryHandler {
	return &InventoryHandler{svc: svc, export: export}
}

// List 库存列表
// GET /api/v1/commerce/inventory?vendor_id=&warehouse_id=&product_id=&stock_status=&search=
func (h *InventoryHandler) List(c *gin.Context) {
	vendorID, ok := vendorParam(c, c.Query("vendor_id"))
	if !ok {
		return
	}
	p := pageOf(c)
	items, total, err := h.svc.List(c.Request.Context(), repository.InventoryFilter{
		VendorID:    vendorID,
		WarehouseID: entity.WarehouseID(c.Query("warehouse_id")),
		ProductID:   entity.ProductID(c.Query("product_id")),
		StockStatus: entity.StockStatus(c.Query("stock_status")),
		Keyword:     c.Query("search"),
		Page:        p,
	})
	if err != nil {
		RespondError(c, err)
		return
	}
	listOK(c, p, items, total)
}

// Get 库存详情
// GET /api/v1/commerce/inventory/:id
func (h *InventoryHandler) Get(c *gin.Context) {
	rec, err := h.svc.Get(c.Request.Context(), entity.InventoryID(c.Param("id")))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, rec)
}

// Alerts 低库存与缺货记录
// GET /api/v1/commerce/inventory/alerts?vendor_id=
func (h *InventoryHandler) Alerts(c *gin.Context) {
	vendorID, ok := vendorParam(c, c.Query("vendor_id"))
	if !ok {
		return
	}
	items, err := h.svc.Alerts(c.Request.Context(), vendorID)
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, items)
}

// Create 创建库存记录
// POST /api/v1/commerce/inventory
func (h *InventoryHandler) Create(c *gin.Context) {
	var req service.CreateRecordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	o, ok := op(c)
	if !ok {
		return
	}
	rec, err := h.svc.CreateRecord(c.Request.Context(), &req, o)
	if err != nil {
		RespondError(c, err)
		return
	}
	Created(c, rec)
}

type reserveRequest struct {
	Quantity int `json:"quantity" binding:"required,gt=0"`
	service.Ref
}

// Reserve 预留库存
// POST /api/v1/commerce/inventory/:id/reserve
func (h *InventoryHandler) Reserve(c *gin.Context) {
	h.reserve(c, h.svc.Reserve)
}

// Unreserve 释放预留
// POST /api/v1/commerce/inventory/:id/unreserve
func (h *InventoryHandler) Unreserve(c *gin.Context) {
	h.reserve(c, h.svc.Unreserve)
}

func (h *InventoryHandler) reserve(c *gin.Context, fn func(ctx context.Context, id entity.InventoryID, qty int, ref service.Ref, o service.Op) (*entity.InventoryRecord, error)) {
	var req reserveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	o, ok := op(c)
	if !ok {
		return
	}
	if req.Type == "" {
		req.Type = entity.RefManual
	}
	rec, err := fn(c.Request.Context(), entity.InventoryID(c.Param("id")), req.Quantity, req.Ref, o)
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, rec)
}

// Adjust 盘点调整、报损、丢失
// POST /api/v1/commerce/inventory/:id/adjust
func (h *InventoryHandler) Adjust(c *gin.Context) {
	var req service.AdjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	o, ok := op(c)
	if !ok {
		return
	}
	rec, err := h.svc.Adjust(c.Request.Context(), entity.InventoryID(c.Param("id")), &req, o)
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, rec)
}

// Transfer 调拨到其他仓库
// POST /api/v1/commerce/inventory/:id/transfer
func (h *InventoryHandler) Transfer(c *gin.Context) {
	var req service.TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	o, ok := op(c)
	if !ok {
		return
	}
	res, err := h.svc.Transfer(c.Request.Context(), entity.InventoryID(c.Param("id")), &req, o)
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, res)
}

func (h *InventoryHandler) movementFilter(c *gin.Context) (repository.MovementFilter, bool) {
	vendorID, ok := vendorParam(c, c.Query("vendor_id"))
	if !ok {
		return repository.MovementFilter{}, false
	}
	from, err := queryTime(c, "from")
	if err != nil {
		RespondError(c, err)
		return repository.MovementFilter{}, false
	}
	to, err := queryTime(c, "to")
	if err != nil {
		RespondError(c, err)
		return repository.MovementFilter{}, false
	}
	return repository.MovementFilter{
		InventoryID:   entity.InventoryID(c.Param("id")),
		VendorID:      vendorID,
		MovementType:  entity.MovementType(c.Query("movement_type")),
		ReferenceType: c.Query("reference_type"),
		ReferenceID:   c.Query("reference_id"),
		From:          from,
		To:            to,
		Page:          pageOf(c),
	}, true
}

// Movements 库存移动记录
// GET /api/v1/commerce/inventory/:id/movements
// GET /api/v1/commerce/inventory/movements?vendor_id=&movement_type=&from=&to=
func (h *InventoryHandler) Movements(c *gin.Context) {
	f, ok := h.movementFilter(c)
	if !ok {
		return
	}
	items, total, err := h.svc.ListMovements(c.Request.Context(), f)
	if err != nil {
		RespondError(c, err)
		return
	}
	listOK(c, f.Page, items, total)
}

// ExportMovements 导出库存移动记录
// GET /api/v1/commerce/inventory/movements/export
func (h *InventoryHandler) ExportMovements(c *gin.Context) {
	f, ok := h.movementFilter(c)
	if !ok {
		return
	}
	file, filename, err := h.export.ExportMovements(c.Request.Context(), f)
	if err != nil {
		RespondError(c, err)
		return
	}
	defer file.Close()

	writeExcel(c, filename, file)
}

// Import CSV 批量入库，encoding 可选 utf-8/gbk/auto
// POST /api/v1/commerce/inventory/import
func (h *InventoryHandler) Import(c *gin.Context) {
	file, _, err := c.Request.FormFile("file")
	if err != nil {
		BadRequest(c, "请上传CSV文件")
		return
	}
	defer file.Close()

	o, ok := op(c)
	if !ok {
		return
	}
	result, err := h.export.ImportCSV(c.Request.Context(), file, c.PostForm("encoding"), o)
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, result)
}

func writeExcel(c *gin.Context, filename string, f *excelize.File) {
	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", "attachment; filename=\""+url.PathEscape(filename)+"\"")
	c.Header("Content-Transfer-Encoding", "binary")

	if err := f.Write(c.Writer); err != nil {
		InternalError(c, "write excel: "+err.Error())
	}
}
