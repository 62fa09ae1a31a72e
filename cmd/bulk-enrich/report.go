package main

import (
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/callinsights/hub/internal/service"
)

const (
	resultsSheet = "Results"
	summarySheet = "Summary"
)

// writeReport stores one row per call plus a summary sheet.
func writeReport(path string, req service.BulkRequest, result *service.BulkResult) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", resultsSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	header := []any{"call_id", "job_id", "status", "cached", "error"}
	if err := f.SetSheetRow(resultsSheet, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for i, item := range result.Items {
		jobID := ""
		if item.JobID != nil {
			jobID = item.JobID.String()
		}

		row := []any{item.CallID.String(), jobID, string(item.Status), item.Cached, item.Error}

		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}

		if err := f.SetSheetRow(resultsSheet, cell, &row); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	if _, err := f.NewSheet(summarySheet); err != nil {
		return fmt.Errorf("create summary sheet: %w", err)
	}

	summary := [][]any{
		{"job_type", string(req.JobType)},
		{"force_regenerate", req.ForceRegenerate},
		{"calls", len(result.Items)},
		{"accepted", result.Accepted},
		{"cached", result.Cached},
		{"failed", result.Failed},
		{"cancelled", result.Cancelled},
		{"generated_at", time.Now().UTC().Format(time.RFC3339)},
	}

	for i, row := range summary {
		if err := f.SetSheetRow(summarySheet, fmt.Sprintf("A%d", i+1), &row); err != nil {
			return fmt.Errorf("write summary: %w", err)
		}
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save report: %w", err)
	}

	return nil
}
