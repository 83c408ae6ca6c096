package jobs

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/astroline/destinyai/internal/models"
	"github.com/astroline/destinyai/internal/prompt"
)

var (
	ErrUnknownJobType = errors.New("unknown job type")
	ErrInvalidSpec    = errors.New("invalid job parameters")
)

// Spec is one kind of report job together with its own parameters. The set
// of variants is closed: only this package can implement it.
type Spec interface {
	Type() models.JobType
	Template() prompt.Template
	// Title is used when the model output carries no usable title.
	Title() string
	// EstimatedTime is a client-facing hint in seconds.
	EstimatedTime() int
	isSpec()
}

type AnnualForecast struct {
	TargetYear int
}

type LifeReading struct{}

type CompatibilityReading struct {
	PartnerChartID uuid.UUID
}

func (AnnualForecast) Type() models.JobType       { return models.JobTypeAnnualForecast }
func (LifeReading) Type() models.JobType          { return models.JobTypeLifeReading }
func (CompatibilityReading) Type() models.JobType { return models.JobTypeCompatibility }

func (AnnualForecast) Template() prompt.Template       { return prompt.AnnualForecast }
func (LifeReading) Template() prompt.Template          { return prompt.LifeReading }
func (CompatibilityReading) Template() prompt.Template { return prompt.Compatibility }

func (s AnnualForecast) Title() string     { return fmt.Sprintf("Annual Forecast %d", s.TargetYear) }
func (LifeReading) Title() string          { return "Life Reading" }
func (CompatibilityReading) Title() string { return "Compatibility Reading" }

func (AnnualForecast) EstimatedTime() int       { return 90 }
func (LifeReading) EstimatedTime() int          { return 120 }
func (CompatibilityReading) EstimatedTime() int { return 120 }

func (AnnualForecast) isSpec()       {}
func (LifeReading) isSpec()          {}
func (CompatibilityReading) isSpec() {}

const (
	minTargetYear = 1900
	maxTargetYear = 2200
)

// DecodeSpec maps a stored job type and its metadata onto a Spec variant.
// It is the only place job type strings are interpreted.
func DecodeSpec(t models.JobType, meta models.JobMetadata) (Spec, error) {
	var s Spec
	switch t {
	case models.JobTypeAnnualForecast:
		s = AnnualForecast{TargetYear: meta.TargetYear}
	case models.JobTypeLifeReading:
		s = LifeReading{}
	case models.JobTypeCompatibility:
		var partner uuid.UUID
		if meta.PartnerChartID != nil {
			partner = *meta.PartnerChartID
		}
		s = CompatibilityReading{PartnerChartID: partner}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownJobType, t)
	}
	if err := Validate(s); err != nil {
		return nil, err
	}
	return s, nil
}

func Validate(s Spec) error {
	switch v := s.(type) {
	case AnnualForecast:
		if v.TargetYear < minTargetYear || v.TargetYear > maxTargetYear {
			return fmt.Errorf("%w: target_year must be between %d and %d", ErrInvalidSpec, minTargetYear, maxTargetYear)
		}
	case LifeReading:
	case CompatibilityReading:
		if v.PartnerChartID == uuid.Nil {
			return fmt.Errorf("%w: partner_chart_id is required", ErrInvalidSpec)
		}
	default:
		return fmt.Errorf("%w: %T", ErrUnknownJobType, s)
	}
	return nil
}

// EncodeSpec writes the variant's parameters into job metadata.
func EncodeSpec(s Spec, meta *models.JobMetadata) {
	meta.TargetYear = 0
	meta.PartnerChartID = nil
	switch v := s.(type) {
	case AnnualForecast:
		meta.TargetYear = v.TargetYear
	case LifeReading:
	case CompatibilityReading:
		id := v.PartnerChartID
		meta.PartnerChartID = &id
	}
	meta.EstimatedTime = s.EstimatedTime()
}

// NewJob builds a pending job for spec.
func NewJob(chartID uuid.UUID, s Spec, tier models.Tier, maxAttempts int) (*models.Job, error) {
	if err := Validate(s); err != nil {
		return nil, err
	}
	job := &models.Job{
		ID:          uuid.New(),
		ChartID:     chartID,
		JobType:     s.Type(),
		Status:      models.JobStatusPending,
		MaxAttempts: maxAttempts,
		Metadata: models.JobMetadata{
			Stage:            models.StageQueued,
			SubscriptionTier: tier,
		},
	}
	EncodeSpec(s, &job.Metadata)
	return job, nil
}
