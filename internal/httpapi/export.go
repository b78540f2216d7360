package httpapi

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/JohanSebastianOlayaReyes/EstancoPro-sub000/internal/domain"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

func (a *API) writeBalanceWorkbook(w http.ResponseWriter, balance domain.SessionBalance) {
	var buf bytes.Buffer
	if err := balanceWorkbook(balance, &buf); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "cash-session-"+balance.Session.ID+".xlsx"))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// balanceWorkbook renders a session summary sheet and a movements sheet.
func balanceWorkbook(balance domain.SessionBalance, buf *bytes.Buffer) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	summary := f.GetSheetName(f.GetActiveSheetIndex())
	if err := f.SetSheetName(summary, "Summary"); err != nil {
		return err
	}
	summary = "Summary"

	closedAt := ""
	if balance.Session.ClosedAt != nil {
		closedAt = balance.Session.ClosedAt.Format(time.RFC3339)
	}
	rows := [][]any{
		{"Session", balance.Session.ID},
		{"Opened at", balance.Session.OpenedAt.Format(time.RFC3339)},
		{"Closed at", closedAt},
		{"Opening amount", balance.OpeningAmount.InexactFloat64()},
		{"Expected amount", balance.ExpectedAmount.InexactFloat64()},
		{"Actual amount", balance.ActualAmount.InexactFloat64()},
		{"Difference", balance.Difference.InexactFloat64()},
	}
	for i, row := range rows {
		if err := setRow(f, summary, i+1, row); err != nil {
			return err
		}
	}
	if err := f.SetColWidth(summary, "A", "B", 24); err != nil {
		return err
	}

	const movementsSheet = "Movements"
	if _, err := f.NewSheet(movementsSheet); err != nil {
		return err
	}
	if err := setRow(f, movementsSheet, 1, []any{"ID", "Type", "Amount", "Reason", "Related", "Created at"}); err != nil {
		return err
	}
	for i, m := range balance.Movements {
		related := m.RelatedID
		if m.RelatedEntity != "" && m.RelatedID != "" {
			related = m.RelatedEntity + " " + m.RelatedID
		}
		row := []any{m.ID, string(m.Type), m.Amount.InexactFloat64(), m.Reason, related, m.CreatedAt.Format(time.RFC3339)}
		if err := setRow(f, movementsSheet, i+2, row); err != nil {
			return err
		}
	}
	if err := f.SetColWidth(movementsSheet, "A", "F", 20); err != nil {
		return err
	}

	return f.Write(buf)
}

func setRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	return f.SetSheetRow(sheet, cell, &values)
}
