package entity

// 实体ID类型：跨聚合只通过ID引用，由仓库解析
type (
	VendorID             string
	WarehouseID          string
	ProductID            string
	CustomerID           string
	InventoryID          string
	PurchaseOrderID      string
	POItemID             string
	SalesOrderID         string
	SalesOrderItemID     string
	VendorOrderID        string
	VendorOrderItemID    string
	DeliveryAgentID      string
	DeliveryAssignmentID string
	ReturnRequestID      string
	ReturnItemID         string
	SettlementID         string
	PayoutID             string
)
