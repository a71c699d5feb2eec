package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"testing"

	"github.com/nimasrn/cod-ledger/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReportService_DailyReport(t *testing.T) {
	f := newFixture(t)
	dayOfTwoOrders(t, f)
	svc := NewReportService(f.payments, f.recs, f.reports)
	ctx := context.Background()

	report, err := svc.DailyReport(ctx, courier(7), 7, testDate)
	require.NoError(t, err)
	assert.Len(t, report.Transactions, 2)
	assert.Equal(t, 2, report.Summary.Count)
	assert.True(t, d("55").Equal(report.Summary.TotalCollections))
	assert.True(t, d("6.5").Equal(report.Summary.TotalChange))
	assert.True(t, d("48.5").Equal(report.Summary.Net))
	require.NotNil(t, report.Reconciliation)
	assert.True(t, report.Reconciliation.ClosingBalance.Equal(report.Summary.Net))

	empty, err := svc.DailyReport(ctx, admin(), 7, "2025-03-13")
	require.NoError(t, err)
	assert.Empty(t, empty.Transactions)
	assert.Nil(t, empty.Reconciliation)
	assert.Zero(t, empty.Summary.Count)

	_, err = svc.DailyReport(ctx, courier(8), 7, testDate)
	assert.ErrorIs(t, err, model.ErrForbidden)

	_, err = svc.DailyReport(ctx, admin(), 7, "March 14")
	assert.ErrorIs(t, err, model.ErrInvalidRequest)
}

func TestReportService_RangeExport(t *testing.T) {
	f := newFixture(t)
	dayOfTwoOrders(t, f)
	f.givenOrder(1003, 8, "10.00")
	f.collect(t, 8, 1003, "10.00")
	svc := NewReportService(f.payments, f.recs, f.reports)
	ctx := context.Background()

	export, err := svc.RangeExport(ctx, admin(), "2025-03-01", "2025-03-31", nil)
	require.NoError(t, err)
	assert.Len(t, export.Rows, 3)
	assert.True(t, d("65").Equal(export.Summary.TotalCollections))

	agent := int64(7)
	export, err = svc.RangeExport(ctx, admin(), testDate, testDate, &agent)
	require.NoError(t, err)
	assert.Len(t, export.Rows, 2)

	_, err = svc.RangeExport(ctx, courier(7), testDate, testDate, nil)
	assert.ErrorIs(t, err, model.ErrForbidden)

	_, err = svc.RangeExport(ctx, admin(), "2025-03-31", "2025-03-01", nil)
	assert.ErrorIs(t, err, model.ErrInvalidRequest)

	_, err = svc.RangeExport(ctx, admin(), "2024-01-01", "2025-03-01", nil)
	assert.ErrorIs(t, err, model.ErrInvalidRequest)

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, export))
	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4)
	assert.Equal(t, "order_id", records[0][0])
	assert.Equal(t, "7", records[1][1])
	assert.Equal(t, "TOTAL", records[3][0])
	assert.Equal(t, "55.00", records[3][4])
	assert.Equal(t, "48.50", records[3][9])
}
