package service

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/bitfantasy/nimo-commerce/internal/commerce/entity"
	"github.com/bitfantasy/nimo-commerce/internal/commerce/repository"
	"github.com/bitfantasy/nimo-commerce/internal/commerce/testutil"
	"github.com/bitfantasy/nimo-commerce/internal/shared/apperr"
	"golang.org/x/text/encoding/simplifiedchinese"
)

func TestDecodeCSV(t *testing.T) {
	const text = "product_name\n乌龙茶\n"
	gbk, err := simplifiedchinese.GBK.NewEncoder().Bytes([]byte(text))
	if err != nil {
		t.Fatalf("encode gbk: %v", err)
	}

	tests := []struct {
		name     string
		input    []byte
		encoding string
	}{
		{"explicit gbk", gbk, "GBK"},
		{"auto gbk", gbk, ""},
		{"auto utf8 with bom", append([]byte("\xef\xbb\xbf"), text...), "auto"},
		{"explicit utf8", []byte(text), "utf-8"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := decodeCSV(bytes.NewReader(tt.input), tt.encoding)
			mustNoErr(t, err)
			got, err := io.ReadAll(r)
			mustNoErr(t, err)
			if string(got) != text {
				t.Fatalf("decoded %q, want %q", got, text)
			}
		})
	}

	_, err = decodeCSV(strings.NewReader(text), "latin1")
	requireKind(t, err, apperr.KindValidation)
}

func TestExport_ImportCSV(t *testing.T) {
	env := setupServices(t)
	w, v := env.warehouse.ID, env.vendor.ID

	csv := "\ufeffProduct_ID,warehouse_id,vendor_id,product_name,quantity,sell_price\n" +
		fmt.Sprintf("prod-a,%s,%s,Tea,10,120.00\n", w, v) +
		fmt.Sprintf("prod-b,%s,%s,Rice,abc,80\n", w, v) +
		fmt.Sprintf("prod-a,%s,%s,Tea,5,\n", w, v) +
		fmt.Sprintf("prod-c,%s,%s,Salt,2,1.2.3\n", w, v)

	res, err := env.svc.Export.ImportCSV(env.ctx, strings.NewReader(csv), "", admin)
	mustNoErr(t, err)
	if res.Success != 2 || res.Failed != 2 {
		t.Fatalf("success=%d failed=%d errors=%+v", res.Success, res.Failed, res.Errors)
	}
	if res.Errors[0].Line != 3 || res.Errors[1].Line != 5 {
		t.Errorf("error lines = %+v", res.Errors)
	}
	if res.Records[0] != res.Records[1] {
		t.Fatalf("second row should append to the same record: %v", res.Records)
	}

	rec, err := env.svc.Inventory.Get(env.ctx, res.Records[0])
	mustNoErr(t, err)
	if rec.Quantity != 15 || !rec.SellPrice.Equal(dec("120.00")) {
		t.Fatalf("record quantity=%d sell_price=%s", rec.Quantity, rec.SellPrice)
	}
	moves, _, err := env.svc.Inventory.ListMovements(env.ctx, repository.MovementFilter{
		ReferenceType: entity.RefImport,
		ReferenceID:   res.BatchID,
	})
	mustNoErr(t, err)
	if len(moves) != 1 || moves[0].Quantity != 5 {
		t.Fatalf("import movements = %+v", moves)
	}

	_, err = env.svc.Export.ImportCSV(env.ctx, strings.NewReader("product_id,quantity\np,1\n"), "", admin)
	requireKind(t, err, apperr.KindValidation)
	_, err = env.svc.Export.ImportCSV(env.ctx, strings.NewReader(""), "", admin)
	requireKind(t, err, apperr.KindValidation)
}

func TestExport_Statement(t *testing.T) {
	env := setupServices(t)
	rec := testutil.SeedInventory(t, env.db, env.vendor.ID, env.warehouse.ID, "Tea 250g", 10, "120.00")
	vo := env.delivered(t, rec, 2)

	st, err := env.svc.Settlement.Generate(env.ctx, todayPeriod(env.vendor.ID), admin)
	mustNoErr(t, err)

	f, name, err := env.svc.Export.ExportStatement(env.ctx, st.ID)
	mustNoErr(t, err)
	defer f.Close()
	if name != "Settlement_"+st.SettlementNumber+".xlsx" {
		t.Errorf("filename = %q", name)
	}

	summary, err := f.GetRows("Summary")
	mustNoErr(t, err)
	found := false
	for _, row := range summary {
		if len(row) == 2 && row[0] == "Net Payable" {
			found = true
			if row[1] != st.NetPayable.StringFixed(2) {
				t.Errorf("net payable cell = %q, want %s", row[1], st.NetPayable.StringFixed(2))
			}
		}
	}
	if !found {
		t.Error("summary sheet has no Net Payable row")
	}

	orders, err := f.GetRows("Orders")
	mustNoErr(t, err)
	if len(orders) != 2 || orders[1][0] != vo.OrderNumber || orders[1][2] != "2" {
		t.Fatalf("orders sheet = %v", orders)
	}

	_, _, err = env.svc.Export.ExportStatement(env.ctx, "missing")
	requireKind(t, err, apperr.KindNotFound)
}

func TestExport_Movements(t *testing.T) {
	env := setupServices(t)
	rec := testutil.SeedInventory(t, env.db, env.vendor.ID, env.warehouse.ID, "Tea 250g", 10, "120.00")
	_, err := env.svc.Inventory.Reserve(env.ctx, rec.ID, 2, Ref{Type: entity.RefManual}, admin)
	mustNoErr(t, err)

	f, name, err := env.svc.Export.ExportMovements(env.ctx, repository.MovementFilter{InventoryID: rec.ID})
	mustNoErr(t, err)
	defer f.Close()
	if name != fmt.Sprintf("Movements_%s.xlsx", rec.ID) {
		t.Errorf("filename = %q", name)
	}
	rows, err := f.GetRows("Movements")
	mustNoErr(t, err)
	if len(rows) < 2 || rows[0][0] != "Time" {
		t.Fatalf("movement rows = %v", rows)
	}
}
