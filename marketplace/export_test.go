package marketplace

import (
	"testing"

	"github.com/mmdatafocus/cargo_backend/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestWriteQuotationSheetReportsMissingSheet(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()

	request := &models.Request{
		RequestId:  "OMG-7-REQ-01",
		Quotations: []models.Quotation{{QuotationId: "Q-1", ForwarderId: "fw-1", Price: decimal.NewFromInt(10)}},
	}
	require.Error(t, writeQuotationSheet(f, "NoSuchSheet", request))
}

func TestQuotationWorkbookFooter(t *testing.T) {
	f, err := QuotationWorkbook(&models.Request{RequestId: "OMG-7-REQ-01"})
	require.NoError(t, err)
	defer f.Close()

	label, err := f.GetCellValue(quotationSheet, "A3")
	require.NoError(t, err)
	require.Equal(t, "RequestId", label)
	id, err := f.GetCellValue(quotationSheet, "B3")
	require.NoError(t, err)
	require.Equal(t, "OMG-7-REQ-01", id)
}
