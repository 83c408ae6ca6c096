package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astroline/destinyai/internal/api/handlers"
	"github.com/astroline/destinyai/internal/audit"
	"github.com/astroline/destinyai/internal/auth"
	"github.com/astroline/destinyai/internal/config"
	"github.com/astroline/destinyai/internal/jobs"
	"github.com/astroline/destinyai/internal/llm"
	"github.com/astroline/destinyai/internal/models"
	"github.com/astroline/destinyai/internal/qa"
	"github.com/astroline/destinyai/internal/quota"
	"github.com/astroline/destinyai/internal/report"
)

type fakeQA struct {
	askErr  error
	gotAsk  qa.AskRequest
	gotHist qa.HistoryRequest
}

func (f *fakeQA) Ask(_ context.Context, req qa.AskRequest) (*qa.AskResponse, error) {
	f.gotAsk = req
	if f.askErr != nil {
		return nil, f.askErr
	}
	return &qa.AskResponse{
		Answer:         "Spring [1].",
		Citations:      nil,
		FollowUps:      []string{},
		ConversationID: uuid.New(),
		QuotaUsed:      qa.QuotaUsed{Used: 1, Limit: 5, Remaining: 4},
	}, nil
}

func (f *fakeQA) History(_ context.Context, req qa.HistoryRequest) (*qa.HistoryResponse, error) {
	f.gotHist = req
	return &qa.HistoryResponse{Conversations: []models.Conversation{}}, nil
}

type fakeJobs struct {
	jobs map[uuid.UUID]*models.Job
}

func (f *fakeJobs) Create(_ context.Context, job *models.Job) error {
	f.jobs[job.ID] = job
	return nil
}

func (f *fakeJobs) Get(_ context.Context, id uuid.UUID) (*models.Job, error) {
	j, ok := f.jobs[id]
	if !ok {
		return nil, jobs.ErrNotFound
	}
	return j, nil
}

type fakeWaker struct {
	woken []uuid.UUID
	err   error
}

func (f *fakeWaker) EnqueueJobWake(_ context.Context, id uuid.UUID) error {
	f.woken = append(f.woken, id)
	return f.err
}

type fakeExtra struct {
	got int
}

func (f *fakeExtra) AddExtraQuestions(_ context.Context, _ *uuid.UUID, _ uuid.UUID, tier models.Tier, n int) (quota.Status, error) {
	f.got = n
	return quota.Status{Tier: tier, Extra: n, Limit: tier.QuestionLimit()}, nil
}

type fakeUsage struct {
	from, to time.Time
}

func (f *fakeUsage) Summary(_ context.Context, from, to time.Time) ([]audit.UsageSummary, error) {
	f.from, f.to = from, to
	return []audit.UsageSummary{{Operation: "generate_text", Provider: "openai", Model: "gpt-4o-mini", TotalCalls: 3}}, nil
}

type env struct {
	qa    *fakeQA
	jobs  *fakeJobs
	waker *fakeWaker
	extra *fakeExtra
	usage *fakeUsage
	h     http.Handler
}

func newEnv(t *testing.T) *env {
	t.Helper()
	cfg := &config.Config{
		Server: config.ServerConfig{AllowedOrigins: []string{"*"}, RateLimitRPS: 1000, RateLimitBurst: 1000},
		Auth:   config.AuthConfig{JWTSecret: "secret", ServiceKey: "svc-key", APIKeyHeader: "X-API-Key"},
		Worker: config.WorkerConfig{MaxAttempts: 3},
	}
	e := &env{
		qa:    &fakeQA{},
		jobs:  &fakeJobs{jobs: map[uuid.UUID]*models.Job{}},
		waker: &fakeWaker{},
		extra: &fakeExtra{},
		usage: &fakeUsage{},
	}
	checks := map[string]handlers.Pinger{
		"database": handlers.PingFunc(func(context.Context) error { return nil }),
	}
	e.h = NewRouter(cfg, Deps{
		QA:     e.qa,
		Jobs:   e.jobs,
		Waker:  e.waker,
		Quota:  e.extra,
		Usage:  e.usage,
		Checks: checks,
	}).Setup()
	return e
}

func (e *env) do(method, path, body string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	e := newEnv(t)
	assert.Equal(t, http.StatusOK, e.do(http.MethodGet, "/healthz", "").Code)
	rec := e.do(http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"database":"ok"`)
	assert.Equal(t, http.StatusOK, e.do(http.MethodGet, "/metrics", "").Code)
}

func TestAskQuestion(t *testing.T) {
	e := newEnv(t)
	reportID := uuid.New()

	rec := e.do(http.MethodPost, "/api/v1/reports/"+reportID.String()+"/questions",
		`{"question":"When should I move?","subscription_tier":"basic"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Spring [1].", resp["answer"])
	assert.Contains(t, resp, "conversationId")
	assert.Contains(t, resp, "quotaUsed")

	assert.Equal(t, reportID, e.qa.gotAsk.ReportID)
	assert.Equal(t, models.TierBasic, e.qa.gotAsk.Tier)
	assert.Nil(t, e.qa.gotAsk.UserID)
}

func TestAskQuestion_DefaultsToFreeTier(t *testing.T) {
	e := newEnv(t)
	rec := e.do(http.MethodPost, "/api/v1/reports/"+uuid.NewString()+"/questions", `{"question":"hi"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.TierFree, e.qa.gotAsk.Tier)
}

func bearer(t *testing.T, userID uuid.UUID, tier models.Tier) string {
	t.Helper()
	claims := auth.Claims{
		Tier: tier,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)
	return "Bearer " + token
}

func TestAskQuestion_SignedInUserCannotChooseTier(t *testing.T) {
	e := newEnv(t)
	userID := uuid.New()
	path := "/api/v1/reports/" + uuid.NewString() + "/questions"
	body := `{"question":"hi","subscription_tier":"vip"}`

	rec := e.do(http.MethodPost, path, body, "Authorization", bearer(t, userID, ""))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NotNil(t, e.qa.gotAsk.UserID)
	assert.Equal(t, userID, *e.qa.gotAsk.UserID)
	assert.Equal(t, models.TierFree, e.qa.gotAsk.Tier)

	rec = e.do(http.MethodPost, path, body, "Authorization", bearer(t, userID, models.TierBasic))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, models.TierBasic, e.qa.gotAsk.Tier)

	rec = e.do(http.MethodGet, "/api/v1/reports/"+uuid.NewString()+"/conversations?tier=vip", "", "Authorization", bearer(t, userID, ""))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, models.TierFree, e.qa.gotHist.Tier)
}

func TestAskQuestion_RequestErrors(t *testing.T) {
	e := newEnv(t)
	tests := []struct {
		name string
		path string
		body string
	}{
		{"bad report id", "/api/v1/reports/nope/questions", `{"question":"hi"}`},
		{"missing question", "/api/v1/reports/" + uuid.NewString() + "/questions", `{}`},
		{"question too long", "/api/v1/reports/" + uuid.NewString() + "/questions", `{"question":"` + strings.Repeat("a", 501) + `"}`},
		{"bad tier", "/api/v1/reports/" + uuid.NewString() + "/questions", `{"question":"hi","subscription_tier":"gold"}`},
		{"unknown field", "/api/v1/reports/" + uuid.NewString() + "/questions", `{"question":"hi","user_id":"x"}`},
		{"not json", "/api/v1/reports/" + uuid.NewString() + "/questions", `question=hi`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, http.StatusBadRequest, e.do(http.MethodPost, tt.path, tt.body).Code)
		})
	}
}

func TestAskQuestion_ServiceErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid", fmt.Errorf("%w: question is required", qa.ErrInvalidRequest), http.StatusBadRequest},
		{"report missing", fmt.Errorf("load report: %w", report.ErrNotFound), http.StatusNotFound},
		{"quota", &quota.QuotaError{Status: quota.Status{Tier: models.TierFree, Used: 5, Limit: 5}}, http.StatusTooManyRequests},
		{"upstream", &llm.UpstreamError{Op: "generate_text", Attempts: 3, Err: errors.New("503")}, http.StatusBadGateway},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"other", errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			e.qa.askErr = tt.err
			rec := e.do(http.MethodPost, "/api/v1/reports/"+uuid.NewString()+"/questions", `{"question":"hi"}`)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestAskQuestion_QuotaBody(t *testing.T) {
	e := newEnv(t)
	e.qa.askErr = &quota.QuotaError{Status: quota.Status{Tier: models.TierFree, Used: 5, Limit: 5}}
	rec := e.do(http.MethodPost, "/api/v1/reports/"+uuid.NewString()+"/questions", `{"question":"hi"}`)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	var body struct {
		Error       string       `json:"error"`
		QuotaUsed   qa.QuotaUsed `json:"quotaUsed"`
		UpgradeHint string       `json:"upgradeHint"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "quota_exceeded", body.Error)
	assert.Equal(t, qa.QuotaUsed{Used: 5, Limit: 5, Remaining: 0}, body.QuotaUsed)
	assert.Contains(t, body.UpgradeHint, "basic")
}

func TestHistory(t *testing.T) {
	e := newEnv(t)
	reportID := uuid.New()
	rec := e.do(http.MethodGet, "/api/v1/reports/"+reportID.String()+"/conversations?tier=premium&limit=20", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, qa.HistoryRequest{ReportID: reportID, Tier: models.TierPremium, Limit: 20}, e.qa.gotHist)

	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodGet, "/api/v1/reports/"+reportID.String()+"/conversations?limit=51", "").Code)
	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodGet, "/api/v1/reports/"+reportID.String()+"/conversations?limit=x", "").Code)
}

func TestJobs_CreateAndGet(t *testing.T) {
	e := newEnv(t)
	chartID := uuid.New()

	rec := e.do(http.MethodPost, "/api/v1/jobs",
		`{"chart_id":"`+chartID.String()+`","job_type":"annual_forecast","target_year":2027,"subscription_tier":"premium"}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var accepted struct {
		JobID         uuid.UUID `json:"job_id"`
		Status        string    `json:"status"`
		EstimatedTime int       `json:"estimated_time"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &accepted))
	assert.Equal(t, "pending", accepted.Status)
	assert.Positive(t, accepted.EstimatedTime)
	assert.Equal(t, []uuid.UUID{accepted.JobID}, e.waker.woken)

	job := e.jobs.jobs[accepted.JobID]
	require.NotNil(t, job)
	assert.Equal(t, chartID, job.ChartID)
	assert.Equal(t, 2027, job.Metadata.TargetYear)
	assert.Equal(t, models.TierPremium, job.Metadata.SubscriptionTier)
	assert.Equal(t, 3, job.MaxAttempts)

	rec = e.do(http.MethodGet, "/api/v1/jobs/"+accepted.JobID.String(), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"pending"`)

	assert.Equal(t, http.StatusNotFound, e.do(http.MethodGet, "/api/v1/jobs/"+uuid.NewString(), "").Code)
}

func TestJobs_WakeFailureStillAccepts(t *testing.T) {
	e := newEnv(t)
	e.waker.err = errors.New("redis down")
	rec := e.do(http.MethodPost, "/api/v1/jobs", `{"chart_id":"`+uuid.NewString()+`","job_type":"life_reading"}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Len(t, e.jobs.jobs, 1)
}

func TestJobs_CreateRejectsInvalid(t *testing.T) {
	e := newEnv(t)
	chart := uuid.NewString()
	for _, body := range []string{
		`{"job_type":"life_reading"}`,
		`{"chart_id":"` + chart + `","job_type":"tarot"}`,
		`{"chart_id":"` + chart + `","job_type":"annual_forecast"}`,
		`{"chart_id":"` + chart + `","job_type":"annual_forecast","target_year":1800}`,
		`{"chart_id":"` + chart + `","job_type":"compatibility"}`,
	} {
		assert.Equal(t, http.StatusBadRequest, e.do(http.MethodPost, "/api/v1/jobs", body).Code, body)
	}
	assert.Empty(t, e.jobs.jobs)
}

func TestExtraQuestions_RequiresServiceKey(t *testing.T) {
	e := newEnv(t)
	body := `{"report_id":"` + uuid.NewString() + `","count":10}`

	assert.Equal(t, http.StatusUnauthorized, e.do(http.MethodPost, "/api/v1/usage/extra-questions", body).Code)
	assert.Equal(t, http.StatusUnauthorized, e.do(http.MethodPost, "/api/v1/usage/extra-questions", body, "X-API-Key", "wrong").Code)

	rec := e.do(http.MethodPost, "/api/v1/usage/extra-questions", body, "X-API-Key", "svc-key")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 10, e.extra.got)

	bad := `{"report_id":"` + uuid.NewString() + `","count":0}`
	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodPost, "/api/v1/usage/extra-questions", bad, "X-API-Key", "svc-key").Code)
}

func TestLLMUsage(t *testing.T) {
	e := newEnv(t)

	assert.Equal(t, http.StatusUnauthorized, e.do(http.MethodGet, "/api/v1/usage/llm", "").Code)

	rec := e.do(http.MethodGet, "/api/v1/usage/llm?from=2026-01-01T00:00:00Z&to=2026-02-01T00:00:00Z", "", "X-API-Key", "svc-key")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), e.usage.from)
	assert.Equal(t, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), e.usage.to)
	assert.Contains(t, rec.Body.String(), `"total_calls":3`)

	rec = e.do(http.MethodGet, "/api/v1/usage/llm", "", "X-API-Key", "svc-key")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.InDelta(t, (30 * 24 * time.Hour).Seconds(), e.usage.to.Sub(e.usage.from).Seconds(), 1)

	for _, q := range []string{"?from=yesterday", "?from=2026-02-01T00:00:00Z&to=2026-01-01T00:00:00Z"} {
		assert.Equal(t, http.StatusBadRequest, e.do(http.MethodGet, "/api/v1/usage/llm"+q, "", "X-API-Key", "svc-key").Code, q)
	}
}

func TestInvalidBearerTokenRejected(t *testing.T) {
	e := newEnv(t)
	rec := e.do(http.MethodPost, "/api/v1/reports/"+uuid.NewString()+"/questions", `{"question":"hi"}`,
		"Authorization", "Bearer not-a-token")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
