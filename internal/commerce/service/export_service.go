package service

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/bitfantasy/nimo-commerce/internal/commerce/entity"
	"github.com/bitfantasy/nimo-commerce/internal/commerce/repository"
	"github.com/bitfantasy/nimo-commerce/internal/shared/apperr"
	"github.com/bitfantasy/nimo-commerce/internal/shared/idgen"
	"github.com/bitfantasy/nimo-commerce/internal/shared/money"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"
)

// ExportService 报表导出与库存批量导入
type ExportService struct {
	base
	inventory  *InventoryService
	settlement *SettlementService
}

func NewExportService(b base, inventory *InventoryService, settlement *SettlementService) *ExportService {
	return &ExportService{base: b, inventory: inventory, settlement: settlement}
}

// 导出单次最多读取的移动记录
const maxExportRows = 10000

func headerStyle(f *excelize.File) int {
	style, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Size: 11},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#D9E1F2"}},
		Border: []excelize.Border{
			{Type: "bottom", Color: "000000", Style: 1},
		},
	})
	return style
}

func writeHeader(f *excelize.File, sheet string, row int, headers []string, style int) {
	for i, h := range headers {
		col, _ := excelize.ColumnNumberToName(i + 1)
		cell := fmt.Sprintf("%s%d", col, row)
		f.SetCellValue(sheet, cell, h)
		f.SetCellStyle(sheet, cell, cell, style)
	}
}

func setWidths(f *excelize.File, sheet string, widths []float64) {
	for i, w := range widths {
		col, _ := excelize.ColumnNumberToName(i + 1)
		f.SetColWidth(sheet, col, col, w)
	}
}

var statementOrderHeaders = []string{
	"Order Number", "Delivered At", "Items", "Subtotal", "Discount", "Tax",
	"Shipping", "Total", "Commission Rate", "Commission", "Vendor Earning",
}

// ExportStatement 导出结算对账单：汇总页 + 订单明细页
func (s *ExportService) ExportStatement(ctx context.Context, id entity.SettlementID) (*excelize.File, string, error) {
	st, err := s.settlement.Get(ctx, id)
	if err != nil {
		return nil, "", err
	}
	vendor, err := s.repos.Vendor.FindByID(ctx, st.VendorID)
	if err != nil {
		return nil, "", err
	}
	orders, err := s.repos.Order.FindBySettlement(ctx, st.ID)
	if err != nil {
		return nil, "", fmt.Errorf("list settlement orders: %w", err)
	}

	f := excelize.NewFile()
	summary := "Summary"
	f.SetSheetName("Sheet1", summary)
	bold := headerStyle(f)

	rows := [][2]any{
		{"Settlement Number", st.SettlementNumber},
		{"Vendor", vendor.StoreName},
		{"Period", fmt.Sprintf("%s ~ %s", st.PeriodStart.Format("2006-01-02"), st.PeriodEnd.Format("2006-01-02"))},
		{"Status", string(st.Status)},
		{"Total Orders", st.TotalOrders},
		{"Total Items", st.TotalItems},
		{"Gross Amount", st.GrossAmount.StringFixed(2)},
		{"Commission Rate (%)", st.CommissionRate.StringFixed(2)},
		{"Commission", st.CommissionAmount.StringFixed(2)},
		{"Refunds", st.RefundAmount.StringFixed(2)},
		{"Chargebacks", st.ChargebackAmount.StringFixed(2)},
		{"Fees", st.FeeAmount.StringFixed(2)},
		{"Adjustments", st.AdjustmentAmount.StringFixed(2)},
		{"Tax on Commission", st.TaxOnCommission.StringFixed(2)},
		{"TDS", st.TDSAmount.StringFixed(2)},
		{"Net Payable", st.NetPayable.StringFixed(2)},
		{"Net Paid", st.NetPaid.StringFixed(2)},
	}
	for i, r := range rows {
		row := i + 1
		f.SetCellValue(summary, fmt.Sprintf("A%d", row), r[0])
		f.SetCellStyle(summary, fmt.Sprintf("A%d", row), fmt.Sprintf("A%d", row), bold)
		f.SetCellValue(summary, fmt.Sprintf("B%d", row), r[1])
	}
	setWidths(f, summary, []float64{22, 30})

	detail := "Orders"
	f.NewSheet(detail)
	writeHeader(f, detail, 1, statementOrderHeaders, bold)
	for i, vo := range orders {
		row := i + 2
		items := 0
		for _, it := range vo.Items {
			items += it.QuantityDelivered
		}
		delivered := ""
		if vo.DeliveredAt != nil {
			delivered = vo.DeliveredAt.Format("2006-01-02 15:04")
		}
		values := []any{
			vo.OrderNumber, delivered, items,
			vo.Subtotal.StringFixed(2), vo.DiscountAmount.StringFixed(2), vo.TaxAmount.StringFixed(2),
			vo.ShippingAmount.StringFixed(2), vo.TotalAmount.StringFixed(2), vo.CommissionRate.StringFixed(2),
			vo.CommissionAmount.StringFixed(2), vo.VendorEarning.StringFixed(2),
		}
		for c, v := range values {
			col, _ := excelize.ColumnNumberToName(c + 1)
			f.SetCellValue(detail, fmt.Sprintf("%s%d", col, row), v)
		}
	}
	setWidths(f, detail, []float64{28, 18, 8, 12, 12, 12, 12, 12, 14, 12, 14})

	filename := fmt.Sprintf("Settlement_%s.xlsx", st.SettlementNumber)
	return f, filename, nil
}

var movementExportHeaders = []string{
	"Time", "Inventory ID", "Product ID", "Warehouse ID", "Type",
	"Quantity", "Before", "After", "Reserved Change", "Reference Type", "Reference ID", "Notes", "Operator",
}

// ExportMovements 导出库存移动记录
func (s *ExportService) ExportMovements(ctx context.Context, f repository.MovementFilter) (*excelize.File, string, error) {
	f.Page = repository.Page{Page: 1, PageSize: maxExportRows}
	moves, total, err := s.inventory.ListMovements(ctx, f)
	if err != nil {
		return nil, "", fmt.Errorf("list movements: %w", err)
	}
	if total > maxExportRows {
		s.log.Warn("movement export truncated",
			zap.Int64("total", total),
			zap.Int("exported", maxExportRows))
	}

	x := excelize.NewFile()
	sheet := "Movements"
	x.SetSheetName("Sheet1", sheet)
	writeHeader(x, sheet, 1, movementExportHeaders, headerStyle(x))
	for i, m := range moves {
		row := i + 2
		values := []any{
			m.CreatedAt.Format("2006-01-02 15:04:05"), string(m.InventoryID), string(m.ProductID), string(m.WarehouseID),
			string(m.MovementType), m.Quantity, m.QuantityBefore, m.QuantityAfter, m.ReservedChange,
			m.ReferenceType, m.ReferenceID, m.Notes, m.CreatedBy,
		}
		for c, v := range values {
			col, _ := excelize.ColumnNumberToName(c + 1)
			x.SetCellValue(sheet, fmt.Sprintf("%s%d", col, row), v)
		}
	}
	setWidths(x, sheet, []float64{20, 38, 38, 38, 12, 10, 10, 10, 14, 20, 38, 30, 38})

	name := "all"
	if f.InventoryID != "" {
		name = string(f.InventoryID)
	} else if f.VendorID != "" {
		name = string(f.VendorID)
	}
	return x, fmt.Sprintf("Movements_%s.xlsx", name), nil
}

// ImportResult 导入结果
type ImportResult struct {
	BatchID string               `json:"batch_id"`
	Success int                  `json:"success"`
	Failed  int                  `json:"failed"`
	Errors  []RowError           `json:"errors,omitempty"`
	Records []entity.InventoryID `json:"records,omitempty"`
}

// RowError 行级错误，Line 为文件行号
type RowError struct {
	Line    int    `json:"line"`
	Message string `json:"message"`
}

// 导入列：表头名（大小写不敏感）
var importColumns = []string{
	"product_id", "variant_id", "warehouse_id", "vendor_id", "batch_number",
	"product_name", "sku", "quantity", "buy_price", "sell_price", "mrp", "low_stock_threshold",
}

// decodeCSV 识别编码：非 UTF-8 内容按 GBK 解码
func decodeCSV(r io.Reader, encoding string) (io.Reader, error) {
	switch strings.ToLower(encoding) {
	case "gbk", "gb18030":
		return transform.NewReader(r, simplifiedchinese.GBK.NewDecoder()), nil
	case "utf-8", "utf8":
		return r, nil
	case "", "auto":
	default:
		return nil, apperr.Validation("unsupported encoding %q", encoding)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read import file: %w", err)
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if utf8.Valid(data) {
		return bytes.NewReader(data), nil
	}
	return transform.NewReader(bytes.NewReader(data), simplifiedchinese.GBK.NewDecoder()), nil
}

type importRow map[string]string

func (r importRow) int(name string) (int, bool, error) {
	v := strings.TrimSpace(r[name])
	if v == "" {
		return 0, false, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %q is not an integer", name, v)
	}
	return n, true, nil
}

func (r importRow) record() (*CreateRecordRequest, error) {
	req := &CreateRecordRequest{
		ProductID:   entity.ProductID(r["product_id"]),
		VariantID:   r["variant_id"],
		WarehouseID: entity.WarehouseID(r["warehouse_id"]),
		VendorID:    entity.VendorID(r["vendor_id"]),
		BatchNumber: r["batch_number"],
		ProductName: r["product_name"],
		SKU:         r["sku"],
		InwardType:  entity.RefImport,
	}
	qty, _, err := r.int("quantity")
	if err != nil {
		return nil, err
	}
	req.Quantity = qty
	if n, ok, err := r.int("low_stock_threshold"); err != nil {
		return nil, err
	} else if ok {
		req.LowStockThreshold = &n
	}
	prices := []struct {
		name string
		set  func(string) error
	}{
		{"buy_price", func(v string) (err error) { req.BuyPrice, err = money.Parse(v); return }},
		{"sell_price", func(v string) (err error) { req.SellPrice, err = money.Parse(v); return }},
		{"mrp", func(v string) (err error) { req.MRP, err = money.Parse(v); return }},
	}
	for _, p := range prices {
		v := strings.TrimSpace(r[p.name])
		if v == "" {
			continue
		}
		if err := p.set(v); err != nil {
			return nil, fmt.Errorf("%s: %w", p.name, err)
		}
	}
	return req, nil
}

// ImportCSV 批量导入库存：新记录按初始数量建档，已有记录按数量追加入库
// 每行独立事务，失败行记入结果继续处理
func (s *ExportService) ImportCSV(ctx context.Context, r io.Reader, encoding string, op Op) (*ImportResult, error) {
	if err := op.check(); err != nil {
		return nil, err
	}
	decoded, err := decodeCSV(r, encoding)
	if err != nil {
		return nil, err
	}
	reader := csv.NewReader(bufio.NewReader(decoded))
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, apperr.Validation("import file is empty")
	}
	if err != nil {
		return nil, apperr.Validation("invalid csv header: %v", err)
	}
	index := make(map[string]int, len(header))
	for i, h := range header {
		index[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	for _, required := range []string{"product_id", "warehouse_id", "vendor_id"} {
		if _, ok := index[required]; !ok {
			return nil, apperr.Validation("missing required column %s", required)
		}
	}

	result := &ImportResult{BatchID: idgen.Code("IMP", op.At)}
	line := 1
	for {
		fields, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, RowError{Line: line, Message: err.Error()})
			continue
		}
		row := make(importRow, len(importColumns))
		for _, c := range importColumns {
			if i, ok := index[c]; ok && i < len(fields) {
				row[c] = strings.TrimSpace(fields[i])
			}
		}
		id, err := s.importRow(ctx, row, result.BatchID, op)
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, RowError{Line: line, Message: err.Error()})
			continue
		}
		result.Success++
		result.Records = append(result.Records, id)
	}

	s.log.Info("inventory import finished",
		zap.String("batch_id", result.BatchID),
		zap.Int("success", result.Success),
		zap.Int("failed", result.Failed))
	return result, nil
}

func (s *ExportService) importRow(ctx context.Context, row importRow, batchID string, op Op) (entity.InventoryID, error) {
	req, err := row.record()
	if err != nil {
		return "", apperr.Validation("%v", err)
	}
	key := entity.InventoryKey{
		ProductID:   req.ProductID,
		VariantID:   req.VariantID,
		WarehouseID: req.WarehouseID,
		VendorID:    req.VendorID,
		BatchNumber: req.BatchNumber,
	}
	existing, err := s.repos.Inventory.FindByKey(ctx, key)
	if err != nil && apperr.KindOf(err) != apperr.KindNotFound {
		return "", err
	}
	if existing == nil {
		rec, err := s.inventory.CreateRecord(ctx, req, op)
		if err != nil {
			return "", err
		}
		return rec.ID, nil
	}
	if req.Quantity <= 0 {
		return existing.ID, nil
	}
	rec, err := s.inventory.ReceiveInward(ctx, &InwardRequest{
		Key:         key,
		Quantity:    req.Quantity,
		ProductName: req.ProductName,
		SKU:         req.SKU,
		BuyPrice:    req.BuyPrice,
		InwardType:  entity.RefImport,
		Source:      Ref{Type: entity.RefImport, ID: batchID, Notes: "csv import"},
		Movement:    entity.MovementInward,
	}, op)
	if err != nil {
		return "", err
	}
	return rec.ID, nil
}
