// Package domain defines the data-quality heuristics contract.
package domain

import "context"

// FlagReport summarizes one pass of the flagging heuristics. Flagged
// counts measurements that received at least one new flag; the per-rule
// counters can exceed it when one measurement trips both rules.
type FlagReport struct {
	Scanned     int `json:"scanned"`
	Flagged     int `json:"flagged"`
	LowAccuracy int `json:"low_accuracy"`
	Outliers    int `json:"outliers"`
}

// ApprovalReport summarizes one auto-approval pass.
type ApprovalReport struct {
	Scanned  int `json:"scanned"`
	Approved int `json:"approved"`
}

// Service runs the quality heuristics over pending measurements. Flags
// never block a measurement; they only inform review.
type Service interface {
	FlagSuspiciousReadings(ctx context.Context) (FlagReport, error)
	AutoApproveQualified(ctx context.Context) (ApprovalReport, error)
}
