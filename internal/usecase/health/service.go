package health

import "context"

// Status represents the aggregated health status.
type Status string

const (
	// Healthy indicates all checks pass.
	Healthy Status = "ok"
	// Degraded indicates the backend answers but an auxiliary check fails.
	Degraded Status = "degraded"
	// Unhealthy indicates the backend does not answer.
	Unhealthy Status = "error"
)

// CheckResult represents an individual check outcome.
type CheckResult string

const (
	// CheckOK indicates a passing check.
	CheckOK CheckResult = "ok"
	// CheckError indicates a failing check.
	CheckError CheckResult = "error"
)

// Report aggregates check results.
type Report struct {
	Status Status                 `json:"status"`
	Checks map[string]CheckResult `json:"checks"`
}

// Service coordinates health checks against the provider under test.
type Service struct {
	provider ProviderPinger
	lister   CollectionLister
}

// New creates a Service. lister can be nil.
func New(provider ProviderPinger, lister CollectionLister) *Service {
	return &Service{provider: provider, lister: lister}
}

// Check runs all checks.
func (s *Service) Check(ctx context.Context) Report {
	checks := make(map[string]CheckResult)

	status := Healthy
	if err := s.provider.Ping(ctx); err != nil {
		checks["provider"] = CheckError
		status = Unhealthy
	} else {
		checks["provider"] = CheckOK
	}

	if s.lister != nil {
		if _, err := s.lister.ListCollections(ctx); err != nil {
			checks["collections"] = CheckError
			if status == Healthy {
				status = Degraded
			}
		} else {
			checks["collections"] = CheckOK
		}
	}

	return Report{Status: status, Checks: checks}
}
