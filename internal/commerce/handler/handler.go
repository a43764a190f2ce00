package handler

import (
	"errors"
	"strconv"
	"time"

	"github.com/bitfantasy/nimo-commerce/internal/commerce/entity"
	"github.com/bitfantasy/nimo-commerce/internal/commerce/repository"
	"github.com/bitfantasy/nimo-commerce/internal/commerce/service"
	"github.com/bitfantasy/nimo-commerce/internal/middleware"
	"github.com/bitfantasy/nimo-commerce/internal/shared/apperr"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handlers 电商核心处理器集合
type Handlers struct {
	Inventory  *InventoryHandler
	PO         *POHandler
	Order      *OrderHandler
	Delivery   *DeliveryHandler
	Return     *ReturnHandler
	Settlement *SettlementHandler
	// Events 可选，未配置事件中心时不注册推送路由
	Events *EventsHandler
}

// NewHandlers 创建处理器集合
func NewHandlers(svc *service.Services, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		Inventory:  NewInventoryHandler(svc.Inventory, svc.Export),
		PO:         NewPOHandler(svc.Procurement),
		Order:      NewOrderHandler(svc.Order),
		Delivery:   NewDeliveryHandler(svc.Delivery, logger),
		Return:     NewReturnHandler(svc.Return),
		Settlement: NewSettlementHandler(svc.Settlement, svc.Export),
	}
}

// === 响应辅助函数 ===

type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

type ListResponse struct {
	Items      interface{} `json:"items"`
	Pagination *Pagination `json:"pagination"`
}

type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(200, Response{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

func Created(c *gin.Context, data interface{}) {
	c.JSON(201, Response{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

func Error(c *gin.Context, code int, message string) {
	statusCode := code / 100
	if statusCode < 100 || statusCode > 599 {
		statusCode = 500
	}
	c.JSON(statusCode, Response{
		Code:    code,
		Message: message,
	})
}

func BadRequest(c *gin.Context, message string) {
	Error(c, 40000, message)
}

func Unauthorized(c *gin.Context, message string) {
	Error(c, 40100, message)
}

func NotFound(c *gin.Context, message string) {
	Error(c, 40400, message)
}

func InternalError(c *gin.Context, message string) {
	Error(c, 50000, message)
}

// 错误类别 → 业务码，HTTP 状态取业务码前三位
var kindCodes = map[apperr.Kind]int{
	apperr.KindValidation:            40000,
	apperr.KindPermissionDenied:      40300,
	apperr.KindNotFound:              40400,
	apperr.KindConflict:              40900,
	apperr.KindInvalidTransition:     40901,
	apperr.KindInsufficientInventory: 40902,
	apperr.KindBusinessLogic:         42200,
}

// ErrorCode 错误对应的业务码
func ErrorCode(err error) int {
	if code, ok := kindCodes[apperr.KindOf(err)]; ok {
		return code
	}
	return 50000
}

// RespondError 按错误类别输出错误响应；内部错误不透出细节
func RespondError(c *gin.Context, err error) {
	code := ErrorCode(err)
	if code == 50000 {
		_ = c.Error(err)
		InternalError(c, "服务器内部错误")
		return
	}
	msg := err.Error()
	var ae *apperr.Error
	if errors.As(err, &ae) && ae.Message != "" {
		msg = ae.Message
	}
	Error(c, code, msg)
}

func GetUserID(c *gin.Context) string {
	userID, _ := c.Get(middleware.CtxUserID)
	if id, ok := userID.(string); ok {
		return id
	}
	return ""
}

// vendorParam 商家账号只能查询本商家：未指定时取令牌中的商家，指定其他商家返回 403
func vendorParam(c *gin.Context, requested string) (entity.VendorID, bool) {
	scope := middleware.VendorScope(c)
	if scope == "" {
		return entity.VendorID(requested), true
	}
	if requested != "" && requested != scope {
		Error(c, 40320, "只能访问本商家数据")
		return "", false
	}
	return entity.VendorID(scope), true
}

// op 当前请求的操作上下文；未认证时返回 false 并已写出 401
func op(c *gin.Context) (service.Op, bool) {
	userID := GetUserID(c)
	if userID == "" {
		Unauthorized(c, "未登录")
		return service.Op{}, false
	}
	return service.Op{Actor: userID, At: time.Now()}, true
}

func GetPagination(c *gin.Context) (page, pageSize int) {
	page = 1
	pageSize = 20

	if p := c.Query("page"); p != "" {
		if v, err := strconv.Atoi(p); err == nil && v > 0 {
			page = v
		}
	}

	if ps := c.Query("page_size"); ps != "" {
		if v, err := strconv.Atoi(ps); err == nil && v > 0 && v <= 100 {
			pageSize = v
		}
	}

	return page, pageSize
}

func pageOf(c *gin.Context) repository.Page {
	page, size := GetPagination(c)
	return repository.Page{Page: page, PageSize: size}
}

func listOK(c *gin.Context, p repository.Page, items interface{}, total int64) {
	totalPages := int(total) / p.PageSize
	if int(total)%p.PageSize > 0 {
		totalPages++
	}
	Success(c, ListResponse{
		Items: items,
		Pagination: &Pagination{
			Page:       p.Page,
			PageSize:   p.PageSize,
			Total:      int(total),
			TotalPages: totalPages,
		},
	})
}

// queryTime 解析 RFC3339 或 YYYY-MM-DD 查询参数
func queryTime(c *gin.Context, key string) (*time.Time, error) {
	v := c.Query(key)
	if v == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return nil, apperr.Validation("invalid %s: %s", key, v)
	}
	return &t, nil
}

// reasonRequest 取消、驳回等只带原因的请求体
type reasonRequest struct {
	Reason string `json:"reason"`
	Notes  string `json:"notes"`
}

// bindOptional 允许空请求体
func bindOptional(c *gin.Context, obj interface{}) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(obj); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return false
	}
	return true
}
