package repositories

import (
	"context"

	domain "github.com/kapitalwerk/contract-api/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// SubjectRepository reads investor profiles.
type SubjectRepository interface {
	FindSubject(ctx context.Context, subjectID string) (domain.Subject, error)
}

// InvestmentRepository reads investments and records their generated contract document.
type InvestmentRepository interface {
	FindInvestment(ctx context.Context, investmentID string) (domain.Investment, error)
	RecordDocument(ctx context.Context, investmentID string, pointer domain.DocumentPointer) error
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
