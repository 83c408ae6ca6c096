package jobs

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astroline/destinyai/internal/models"
)

func TestDecodeSpec(t *testing.T) {
	partner := uuid.New()

	tests := []struct {
		name    string
		jobType models.JobType
		meta    models.JobMetadata
		want    Spec
		wantErr error
	}{
		{"annual", models.JobTypeAnnualForecast, models.JobMetadata{TargetYear: 2026}, AnnualForecast{TargetYear: 2026}, nil},
		{"annual without year", models.JobTypeAnnualForecast, models.JobMetadata{}, nil, ErrInvalidSpec},
		{"life", models.JobTypeLifeReading, models.JobMetadata{TargetYear: 2026}, LifeReading{}, nil},
		{"compatibility", models.JobTypeCompatibility, models.JobMetadata{PartnerChartID: &partner}, CompatibilityReading{PartnerChartID: partner}, nil},
		{"compatibility without partner", models.JobTypeCompatibility, models.JobMetadata{}, nil, ErrInvalidSpec},
		{"unknown", "tarot", models.JobMetadata{}, nil, ErrUnknownJobType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeSpec(tt.jobType, tt.meta)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.jobType, got.Type())
		})
	}
}

func TestNewJob_EncodesVariant(t *testing.T) {
	chartID, partner := uuid.New(), uuid.New()

	job, err := NewJob(chartID, CompatibilityReading{PartnerChartID: partner}, models.TierBasic, 3)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, job.Status)
	assert.Equal(t, models.JobTypeCompatibility, job.JobType)
	assert.Equal(t, models.StageQueued, job.Metadata.Stage)
	assert.Equal(t, models.TierBasic, job.Metadata.SubscriptionTier)
	assert.Equal(t, 120, job.Metadata.EstimatedTime)
	assert.Zero(t, job.Metadata.TargetYear)

	spec, err := DecodeSpec(job.JobType, job.Metadata)
	require.NoError(t, err)
	assert.Equal(t, CompatibilityReading{PartnerChartID: partner}, spec)

	_, err = NewJob(chartID, AnnualForecast{TargetYear: 1200}, models.TierFree, 3)
	assert.ErrorIs(t, err, ErrInvalidSpec)
}

func TestSpec_Templates(t *testing.T) {
	assert.Equal(t, "annual_forecast", AnnualForecast{}.Template().Name)
	assert.Equal(t, "life_reading", LifeReading{}.Template().Name)
	assert.Equal(t, "compatibility", CompatibilityReading{}.Template().Name)
	assert.Equal(t, "Annual Forecast 2027", AnnualForecast{TargetYear: 2027}.Title())
}
