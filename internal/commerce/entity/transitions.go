package entity

import "github.com/bitfantasy/nimo-commerce/internal/shared/fsm"

// 采购订单事件
const (
	POSubmit         fsm.Event = "submit"
	POApprove        fsm.Event = "approve"
	POReject         fsm.Event = "reject"
	POSend           fsm.Event = "send"
	POConfirm        fsm.Event = "confirm"
	POStartReceiving fsm.Event = "start_receiving"
	POReceivePartial fsm.Event = "receive_partial"
	POReceiveAll     fsm.Event = "receive_all"
	POComplete       fsm.Event = "complete"
	POCancel         fsm.Event = "cancel"
	POReturn         fsm.Event = "return"
)

// POTransitions 采购订单流转表
var POTransitions = fsm.New("purchase_order",
	fsm.Edge[POStatus]{From: []POStatus{POStatusDraft, POStatusRejected}, Event: POSubmit, To: POStatusPendingApproval},
	fsm.Edge[POStatus]{From: []POStatus{POStatusPendingApproval}, Event: POApprove, To: POStatusApproved},
	fsm.Edge[POStatus]{From: []POStatus{POStatusPendingApproval}, Event: POReject, To: POStatusRejected},
	fsm.Edge[POStatus]{From: []POStatus{POStatusApproved}, Event: POSend, To: POStatusSent},
	fsm.Edge[POStatus]{From: []POStatus{POStatusSent}, Event: POConfirm, To: POStatusConfirmed},
	fsm.Edge[POStatus]{From: []POStatus{POStatusConfirmed}, Event: POStartReceiving, To: POStatusReceiving},
	fsm.Edge[POStatus]{From: []POStatus{POStatusConfirmed, POStatusReceiving, POStatusPartialReceived}, Event: POReceivePartial, To: POStatusPartialReceived},
	fsm.Edge[POStatus]{From: []POStatus{POStatusConfirmed, POStatusReceiving, POStatusPartialReceived}, Event: POReceiveAll, To: POStatusReceived},
	fsm.Edge[POStatus]{From: []POStatus{POStatusReceived}, Event: POComplete, To: POStatusComplete},
	fsm.Edge[POStatus]{From: []POStatus{POStatusDraft, POStatusPendingApproval, POStatusApproved, POStatusSent}, Event: POCancel, To: POStatusCancelled},
	fsm.Edge[POStatus]{From: []POStatus{POStatusReceived, POStatusPartialReceived}, Event: POReturn, To: POStatusReturned},
)

// 订单事件（主订单与商家订单共用事件名，流转表各自独立）
const (
	OrderConfirm       fsm.Event = "confirm"
	OrderProcess       fsm.Event = "process"
	OrderPack          fsm.Event = "pack"
	OrderReady         fsm.Event = "ready"
	OrderShip          fsm.Event = "ship"
	OrderDispatch      fsm.Event = "dispatch"
	OrderUndispatch    fsm.Event = "undispatch"
	OrderDeliver       fsm.Event = "deliver"
	OrderFailDelivery  fsm.Event = "fail_delivery"
	OrderRetryDispatch fsm.Event = "retry_dispatch"
	OrderRedispatch    fsm.Event = "redispatch"
	OrderCancel        fsm.Event = "cancel"
	OrderComplete      fsm.Event = "complete"
	OrderRefund        fsm.Event = "refund"
)

// VendorOrderTransitions 商家订单流转表
var VendorOrderTransitions = fsm.New("vendor_order",
	fsm.Edge[OrderStatus]{From: []OrderStatus{OrderPending}, Event: OrderConfirm, To: OrderConfirmed},
	fsm.Edge[OrderStatus]{From: []OrderStatus{OrderConfirmed}, Event: OrderProcess, To: OrderProcessing},
	fsm.Edge[OrderStatus]{From: []OrderStatus{OrderProcessing}, Event: OrderPack, To: OrderPacked},
	fsm.Edge[OrderStatus]{From: []OrderStatus{OrderPacked}, Event: OrderReady, To: OrderReadyForPickup},
	fsm.Edge[OrderStatus]{From: []OrderStatus{OrderPacked, OrderReadyForPickup}, Event: OrderShip, To: OrderShipped},
	fsm.Edge[OrderStatus]{From: []OrderStatus{OrderShipped}, Event: OrderDeliver, To: OrderDelivered},
	fsm.Edge[OrderStatus]{From: []OrderStatus{OrderShipped}, Event: OrderFailDelivery, To: OrderDeliveryFailed},
	fsm.Edge[OrderStatus]{From: []OrderStatus{OrderDeliveryFailed}, Event: OrderRetryDispatch, To: OrderPacked},
	fsm.Edge[OrderStatus]{From: []OrderStatus{OrderPending, OrderConfirmed}, Event: OrderCancel, To: OrderCancelled},
	fsm.Edge[OrderStatus]{From: []OrderStatus{OrderDelivered}, Event: OrderComplete, To: OrderCompleted},
)

// SalesOrderTransitions 主订单流转表
var SalesOrderTransitions = fsm.New("sales_order",
	fsm.Edge[OrderStatus]{From: []OrderStatus{OrderPending}, Event: OrderConfirm, To: OrderConfirmed},
	fsm.Edge[OrderStatus]{From: []OrderStatus{OrderConfirmed}, Event: OrderProcess, To: OrderProcessing},
	fsm.Edge[OrderStatus]{From: []OrderStatus{OrderProcessing}, Event: OrderPack, To: OrderPacked},
	fsm.Edge[OrderStatus]{From: []OrderStatus{OrderPacked}, Event: OrderReady, To: OrderReadyForPickup},
	fsm.Edge[OrderStatus]{From: []OrderStatus{OrderPacked, OrderReadyForPickup}, Event: OrderDispatch, To: OrderOutForDelivery},
	fsm.Edge[OrderStatus]{From: []OrderStatus{OrderOutForDelivery}, Event: OrderUndispatch, To: OrderReadyForPickup},
	fsm.Edge[OrderStatus]{From: []OrderStatus{OrderOutForDelivery}, Event: OrderDeliver, To: OrderDelivered},
	fsm.Edge[OrderStatus]{From: []OrderStatus{OrderOutForDelivery}, Event: OrderFailDelivery, To: OrderDeliveryFailed},
	fsm.Edge[OrderStatus]{From: []OrderStatus{OrderDeliveryFailed}, Event: OrderRedispatch, To: OrderOutForDelivery},
	fsm.Edge[OrderStatus]{From: []OrderStatus{OrderPending, OrderConfirmed}, Event: OrderCancel, To: OrderCancelled},
	fsm.Edge[OrderStatus]{From: []OrderStatus{OrderDelivered}, Event: OrderComplete, To: OrderCompleted},
	fsm.Edge[OrderStatus]{From: []OrderStatus{OrderDelivered, OrderCompleted}, Event: OrderRefund, To: OrderRefunded},
)

// 配送事件
const (
	DeliveryAccept           fsm.Event = "accept"
	DeliveryReject           fsm.Event = "reject"
	DeliveryPickup           fsm.Event = "pickup"
	DeliveryToInTransit      fsm.Event = "in_transit"
	DeliveryToOutForDelivery fsm.Event = "out_for_delivery"
	DeliveryComplete         fsm.Event = "complete"
	DeliveryFail             fsm.Event = "fail"
	DeliveryReturn           fsm.Event = "return"
	DeliveryReassign         fsm.Event = "reassign"
	DeliveryCancel           fsm.Event = "cancel"
)

// DeliveryTransitions 配送任务流转表
var DeliveryTransitions = fsm.New("delivery_assignment",
	fsm.Edge[DeliveryStatus]{From: []DeliveryStatus{DeliveryAssigned}, Event: DeliveryAccept, To: DeliveryAccepted},
	fsm.Edge[DeliveryStatus]{From: []DeliveryStatus{DeliveryAssigned}, Event: DeliveryReject, To: DeliveryCancelled},
	fsm.Edge[DeliveryStatus]{From: []DeliveryStatus{DeliveryAccepted}, Event: DeliveryPickup, To: DeliveryPickedUp},
	fsm.Edge[DeliveryStatus]{From: []DeliveryStatus{DeliveryPickedUp}, Event: DeliveryToInTransit, To: DeliveryInTransit},
	fsm.Edge[DeliveryStatus]{From: []DeliveryStatus{DeliveryPickedUp, DeliveryInTransit}, Event: DeliveryToOutForDelivery, To: DeliveryOutForDelivery},
	fsm.Edge[DeliveryStatus]{From: []DeliveryStatus{DeliveryInTransit, DeliveryOutForDelivery}, Event: DeliveryComplete, To: DeliveryDelivered},
	fsm.Edge[DeliveryStatus]{From: []DeliveryStatus{DeliveryAssigned, DeliveryAccepted, DeliveryPickedUp, DeliveryInTransit, DeliveryOutForDelivery}, Event: DeliveryFail, To: DeliveryFailed},
	fsm.Edge[DeliveryStatus]{From: []DeliveryStatus{DeliveryFailed}, Event: DeliveryReturn, To: DeliveryReturned},
	fsm.Edge[DeliveryStatus]{From: []DeliveryStatus{DeliveryAssigned, DeliveryAccepted, DeliveryFailed}, Event: DeliveryReassign, To: DeliveryAssigned},
	fsm.Edge[DeliveryStatus]{From: []DeliveryStatus{DeliveryAssigned, DeliveryAccepted}, Event: DeliveryCancel, To: DeliveryCancelled},
)

// 退货事件
const (
	ReturnApprove         fsm.Event = "approve"
	ReturnReject          fsm.Event = "reject"
	ReturnSchedulePickup  fsm.Event = "schedule_pickup"
	ReturnCompletePickup  fsm.Event = "complete_pickup"
	ReturnShipBack        fsm.Event = "ship_back"
	ReturnReceive         fsm.Event = "receive"
	ReturnStartInspection fsm.Event = "start_inspection"
	ReturnPass            fsm.Event = "pass"
	ReturnFail            fsm.Event = "fail"
	ReturnInitiateRefund  fsm.Event = "initiate_refund"
	ReturnCompleteRefund  fsm.Event = "complete_refund"
	ReturnShipReplacement fsm.Event = "ship_replacement"
	ReturnComplete        fsm.Event = "complete"
	ReturnCancel          fsm.Event = "cancel"
)

// ReturnTransitions 退货单流转表
var ReturnTransitions = fsm.New("return_request",
	fsm.Edge[ReturnStatus]{From: []ReturnStatus{ReturnRequested}, Event: ReturnApprove, To: ReturnApproved},
	fsm.Edge[ReturnStatus]{From: []ReturnStatus{ReturnRequested}, Event: ReturnReject, To: ReturnRejected},
	fsm.Edge[ReturnStatus]{From: []ReturnStatus{ReturnApproved}, Event: ReturnSchedulePickup, To: ReturnPickupScheduled},
	fsm.Edge[ReturnStatus]{From: []ReturnStatus{ReturnPickupScheduled}, Event: ReturnCompletePickup, To: ReturnPickupCompleted},
	fsm.Edge[ReturnStatus]{From: []ReturnStatus{ReturnPickupCompleted}, Event: ReturnShipBack, To: ReturnInTransit},
	fsm.Edge[ReturnStatus]{From: []ReturnStatus{ReturnPickupCompleted, ReturnInTransit}, Event: ReturnReceive, To: ReturnReceived},
	fsm.Edge[ReturnStatus]{From: []ReturnStatus{ReturnReceived}, Event: ReturnStartInspection, To: ReturnInspecting},
	fsm.Edge[ReturnStatus]{From: []ReturnStatus{ReturnInspecting}, Event: ReturnPass, To: ReturnInspectionPassed},
	fsm.Edge[ReturnStatus]{From: []ReturnStatus{ReturnInspecting}, Event: ReturnFail, To: ReturnInspectionFailed},
	fsm.Edge[ReturnStatus]{From: []ReturnStatus{ReturnInspectionPassed}, Event: ReturnInitiateRefund, To: ReturnRefundInitiated},
	fsm.Edge[ReturnStatus]{From: []ReturnStatus{ReturnRefundInitiated}, Event: ReturnCompleteRefund, To: ReturnRefundCompleted},
	fsm.Edge[ReturnStatus]{From: []ReturnStatus{ReturnInspectionPassed}, Event: ReturnShipReplacement, To: ReturnReplacementShipped},
	fsm.Edge[ReturnStatus]{From: []ReturnStatus{ReturnRefundCompleted, ReturnReplacementShipped, ReturnInspectionFailed}, Event: ReturnComplete, To: ReturnCompleted},
	fsm.Edge[ReturnStatus]{From: []ReturnStatus{ReturnRequested, ReturnApproved, ReturnPickupScheduled}, Event: ReturnCancel, To: ReturnCancelled},
)

// 结算事件
const (
	SettlementSubmit  fsm.Event = "submit"
	SettlementApprove fsm.Event = "approve"
	SettlementProcess fsm.Event = "process"
	SettlementPay     fsm.Event = "pay"
	SettlementFail    fsm.Event = "fail"
	SettlementRetry   fsm.Event = "retry"
	SettlementCancel  fsm.Event = "cancel"
)

// SettlementTransitions 结算单流转表
var SettlementTransitions = fsm.New("settlement",
	fsm.Edge[SettlementStatus]{From: []SettlementStatus{SettlementDraft}, Event: SettlementSubmit, To: SettlementPending},
	fsm.Edge[SettlementStatus]{From: []SettlementStatus{SettlementDraft, SettlementPending}, Event: SettlementApprove, To: SettlementApproved},
	fsm.Edge[SettlementStatus]{From: []SettlementStatus{SettlementApproved}, Event: SettlementProcess, To: SettlementProcessing},
	fsm.Edge[SettlementStatus]{From: []SettlementStatus{SettlementApproved, SettlementProcessing}, Event: SettlementPay, To: SettlementPaid},
	fsm.Edge[SettlementStatus]{From: []SettlementStatus{SettlementProcessing}, Event: SettlementFail, To: SettlementFailed},
	fsm.Edge[SettlementStatus]{From: []SettlementStatus{SettlementFailed}, Event: SettlementRetry, To: SettlementApproved},
	fsm.Edge[SettlementStatus]{From: []SettlementStatus{SettlementDraft, SettlementPending, SettlementApproved}, Event: SettlementCancel, To: SettlementCancelled},
)
