package onboarding

import (
	"context"
	"fmt"
	"strings"

	"ledger-engine/internal/pkg/apperrors"
)

type RiskRating string

const (
	RiskLow    RiskRating = "LOW"
	RiskMedium RiskRating = "MEDIUM"
	RiskHigh   RiskRating = "HIGH"
)

func ParseRiskRating(s string) (RiskRating, error) {
	switch r := RiskRating(strings.ToUpper(strings.TrimSpace(s))); r {
	case RiskLow, RiskMedium, RiskHigh:
		return r, nil
	}
	return "", fmt.Errorf("%w: unknown risk rating %q", apperrors.ErrInvalidArgument, s)
}

type CreditReport struct {
	Score  int    `json:"score"`
	Bureau string `json:"bureau,omitempty"`
}

type RiskAssessment struct {
	Rating  RiskRating `json:"rating"`
	Factors []string   `json:"factors,omitempty"`
}

type CreditBureau interface {
	Check(ctx context.Context, customerID int64) (CreditReport, error)
}

type RiskEngine interface {
	Check(ctx context.Context, customerID int64) (RiskAssessment, error)
}

type CreditBureauFunc func(ctx context.Context, customerID int64) (CreditReport, error)

func (f CreditBureauFunc) Check(ctx context.Context, customerID int64) (CreditReport, error) {
	return f(ctx, customerID)
}

type RiskEngineFunc func(ctx context.Context, customerID int64) (RiskAssessment, error)

func (f RiskEngineFunc) Check(ctx context.Context, customerID int64) (RiskAssessment, error) {
	return f(ctx, customerID)
}

// StaticCreditBureau reports the same score for every customer.
type StaticCreditBureau struct {
	Score int
}

func (b StaticCreditBureau) Check(ctx context.Context, _ int64) (CreditReport, error) {
	if err := ctx.Err(); err != nil {
		return CreditReport{}, err
	}
	return CreditReport{Score: b.Score, Bureau: "static"}, nil
}

// StaticRiskEngine rates every customer the same.
type StaticRiskEngine struct {
	Rating RiskRating
}

func (e StaticRiskEngine) Check(ctx context.Context, _ int64) (RiskAssessment, error) {
	if err := ctx.Err(); err != nil {
		return RiskAssessment{}, err
	}
	return RiskAssessment{Rating: e.Rating}, nil
}
