package export

import (
	"bytes"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/odyssey-erp/pettycash/internal/pettycash"
)

const (
	summarySheet  = "summary"
	cashSheet     = "cash"
	voucherSheet  = "vouchers"
	invoiceSheet  = "invoices"
	dateLayout    = "2006-01-02"
	statementHead = "Petty Cash Fund Statement"
)

var titleCaser = cases.Title(language.English)

// StatementFilename names the statement download of a fund.
func StatementFilename(fund pettycash.Fund, at time.Time) string {
	return fmt.Sprintf("petty-cash-%s-%s.xlsx", fund.Code, at.Format("20060102"))
}

// BuildStatementXLSX renders a fund statement workbook.
func BuildStatementXLSX(st pettycash.Statement, generatedAt time.Time) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}
	for _, sheet := range []string{cashSheet, voucherSheet, invoiceSheet} {
		if _, err := f.NewSheet(sheet); err != nil {
			return nil, err
		}
	}

	fund := st.Fund
	summary := [][]any{
		{statementHead},
		{},
		{"Fund", titleCaser.String(fund.Name)},
		{"Code", fund.Code},
		{"Custodian", fund.CustodianID},
		{"State", titleCaser.String(string(fund.State))},
		{"Amount", fund.Amount.StringFixed(2)},
		{"Balance", fund.Balance.StringFixed(2)},
		{"Currency", fund.Currency},
		{"Generated", generatedAt.Format(time.RFC3339)},
	}
	if err := writeRows(f, summarySheet, summary); err != nil {
		return nil, err
	}

	cash := [][]any{{"Date", "Entry", "Description", "Debit", "Credit", "Balance"}}
	for _, mv := range st.CashMovements() {
		cash = append(cash, []any{
			mv.Move.Date.Format(dateLayout),
			mv.Move.Name,
			mv.Line.Name,
			mv.Line.Debit.StringFixed(2),
			mv.Line.Credit.StringFixed(2),
			mv.Balance.StringFixed(2),
		})
	}
	if err := writeRows(f, cashSheet, cash); err != nil {
		return nil, err
	}

	vouchers := [][]any{{"Number", "Date", "Description", "Expense Account", "Amount", "Reconciled"}}
	for _, v := range st.Vouchers {
		reconciled := "no"
		if v.Reconciled {
			reconciled = "yes"
		}
		vouchers = append(vouchers, []any{
			v.Number,
			v.Date.Format(dateLayout),
			v.Description,
			v.ExpenseAccountID,
			v.Amount.StringFixed(2),
			reconciled,
		})
	}
	if err := writeRows(f, voucherSheet, vouchers); err != nil {
		return nil, err
	}

	invoices := [][]any{{"Number", "Date", "Partner", "State", "Total"}}
	for _, inv := range st.Invoices {
		invoices = append(invoices, []any{
			inv.Number,
			inv.InvoiceDate.Format(dateLayout),
			inv.PartnerID,
			inv.State,
			inv.AmountTotal.StringFixed(2),
		})
	}
	if err := writeRows(f, invoiceSheet, invoices); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeRows(f *excelize.File, sheet string, rows [][]any) error {
	for i, row := range rows {
		if len(row) == 0 {
			continue
		}
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return err
		}
	}
	return nil
}
