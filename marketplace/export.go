package marketplace

import (
	"github.com/mmdatafocus/cargo_backend/models"
	"github.com/mmdatafocus/cargo_backend/utils"
	"github.com/xuri/excelize/v2"
)

const quotationSheet = "Quotations"

var quotationHeadings = []string{
	"QuotationId", "Forwarder", "Price", "Currency", "TransitDays",
	"ValidUntil", "Carrier", "ServiceLevel", "Status", "ReceivedAt",
}

// QuotationWorkbook renders the request's quotations, cheapest first, as one sheet.
// Callers close the returned file.
func QuotationWorkbook(request *models.Request) (workbook *excelize.File, err error) {
	f := excelize.NewFile()
	defer func() {
		if err != nil {
			f.Close()
		}
	}()
	if err := f.SetSheetName("Sheet1", quotationSheet); err != nil {
		return nil, err
	}
	if err := writeQuotationSheet(f, quotationSheet, request); err != nil {
		return nil, err
	}
	return f, nil
}

func writeQuotationSheet(f *excelize.File, sheet string, request *models.Request) error {
	set := func(col, row int, v interface{}) error {
		cell, err := excelize.CoordinatesToCellName(col, row)
		if err != nil {
			return err
		}
		return f.SetCellValue(sheet, cell, v)
	}

	for i, h := range quotationHeadings {
		if err := set(i+1, 1, h); err != nil {
			return err
		}
	}

	for i, q := range request.Quotations {
		validUntil := ""
		if q.ValidUntil != nil {
			validUntil = q.ValidUntil.Format("2006-01-02")
		}
		forwarder := q.ForwarderName
		if forwarder == "" {
			forwarder = q.ForwarderId
		}
		values := []interface{}{
			q.QuotationId,
			forwarder,
			q.Price.InexactFloat64(),
			q.Currency,
			utils.DereferencePtr(q.TransitDays),
			validUntil,
			q.Carrier,
			q.ServiceLevel,
			string(q.Status),
			q.ReceivedAt.Format("2006-01-02 15:04:05"),
		}
		for col, v := range values {
			if err := set(col+1, i+2, v); err != nil {
				return err
			}
		}
	}

	footer := len(request.Quotations) + 3
	if err := set(1, footer, "RequestId"); err != nil {
		return err
	}
	return set(2, footer, request.RequestId)
}
