package qa

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/astroline/destinyai/internal/audit"
	"github.com/astroline/destinyai/internal/conversation"
	"github.com/astroline/destinyai/internal/memory"
	"github.com/astroline/destinyai/internal/metrics"
	"github.com/astroline/destinyai/internal/models"
	"github.com/astroline/destinyai/internal/quota"
	"github.com/astroline/destinyai/internal/rag"
	"github.com/astroline/destinyai/internal/vectorstore"
)

// ErrInvalidRequest marks caller mistakes; handlers map it to 400.
var ErrInvalidRequest = errors.New("invalid request")

// NoContextAnswer is returned when no report passage is relevant enough to
// ground an answer. It still counts as a question.
const NoContextAnswer = "I couldn't find anything in your report that speaks to this question. " +
	"Try asking about a theme the report covers, such as career, relationships or a particular period."

const (
	MaxQuestionRunes    = 500
	DefaultHistoryLimit = 10
	MaxHistoryLimit     = 50
)

type ReportReader interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Report, error)
}

// Screener is satisfied by *guardrails.Pipeline.
type Screener interface {
	Screen(ctx context.Context, text string) error
}

type QuotaManager interface {
	Check(ctx context.Context, userID *uuid.UUID, reportID uuid.UUID, tier models.Tier) (quota.Status, error)
	Consume(ctx context.Context, userID *uuid.UUID, reportID uuid.UUID, tier models.Tier) (quota.Status, error)
}

type Conversations interface {
	GetOrCreate(ctx context.Context, userID *uuid.UUID, reportID uuid.UUID, tier models.Tier) (*models.Conversation, error)
	AddMessages(ctx context.Context, conv *models.Conversation, msgs ...models.Message) error
	ListForReport(ctx context.Context, reportID uuid.UUID, userID *uuid.UUID, tier models.Tier, limit int) ([]models.Conversation, error)
}

type Retriever interface {
	SearchContextChunks(ctx context.Context, reportID uuid.UUID, query string, limit int, threshold float64) ([]vectorstore.SearchResult, error)
}

type AnswerGenerator interface {
	Answer(ctx context.Context, req rag.AnswerRequest) (*rag.Answer, error)
}

type Deps struct {
	Reports       ReportReader
	Screen        Screener // optional
	Quota         QuotaManager
	Conversations Conversations
	Retriever     Retriever
	Generator     AnswerGenerator
}

// Options tune retrieval. PromptTokens caps the passages and history sent
// with each question; zero disables the cap.
type Options struct {
	ContextLimit        int
	SearchLimit         int
	SimilarityThreshold float64
	PromptTokens        int
}

type Service struct {
	deps   Deps
	opts   Options
	budget *memory.ContextBudget
	now    func() time.Time
	log    *slog.Logger
}

func NewService(deps Deps, opts Options) *Service {
	if opts.ContextLimit <= 0 {
		opts.ContextLimit = 10
	}
	if opts.SearchLimit <= 0 {
		opts.SearchLimit = 5
	}
	s := &Service{deps: deps, opts: opts, now: time.Now, log: slog.Default()}
	if opts.PromptTokens > 0 {
		s.budget = memory.NewContextBudget(opts.PromptTokens)
	}
	return s
}

type AskRequest struct {
	ReportID uuid.UUID
	UserID   *uuid.UUID
	Tier     models.Tier
	Question string
}

type QuotaUsed struct {
	Used      int `json:"used"`
	Limit     int `json:"limit"`
	Remaining int `json:"remaining"`
}

type AskResponse struct {
	Answer         string         `json:"answer"`
	Citations      []rag.Citation `json:"citations"`
	FollowUps      []string       `json:"followUps"`
	ConversationID uuid.UUID      `json:"conversationId"`
	QuotaUsed      QuotaUsed      `json:"quotaUsed"`
	UpgradeHint    string         `json:"upgradeHint,omitempty"`
}

// Ask answers a question about a report. Quota is checked before any work
// and consumed only once an answer exists; a *quota.QuotaError means the
// caller is out of questions.
func (s *Service) Ask(ctx context.Context, req AskRequest) (resp *AskResponse, err error) {
	outcome := "error"
	defer func() { metrics.QARequests.WithLabelValues(string(req.Tier), outcome).Inc() }()

	question, err := validateAsk(req)
	if err != nil {
		outcome = "rejected"
		return nil, err
	}
	if s.deps.Screen != nil {
		if err := s.deps.Screen.Screen(ctx, question); err != nil {
			outcome = "rejected"
			return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
	}

	rep, err := s.deps.Reports.Get(ctx, req.ReportID)
	if err != nil {
		return nil, fmt.Errorf("load report: %w", err)
	}

	st, err := s.deps.Quota.Check(ctx, req.UserID, req.ReportID, req.Tier)
	if err != nil {
		return nil, err
	}
	if !st.HasQuota {
		outcome = "quota_exceeded"
		return nil, &quota.QuotaError{Status: st}
	}

	conv, err := s.deps.Conversations.GetOrCreate(ctx, req.UserID, req.ReportID, req.Tier)
	if err != nil {
		return nil, err
	}

	results, err := s.deps.Retriever.SearchContextChunks(ctx, req.ReportID, question, s.opts.SearchLimit, s.opts.SimilarityThreshold)
	if err != nil {
		return nil, fmt.Errorf("retrieve context: %w", err)
	}
	results = rag.ExtractContextChunks(rag.ValidateSearchResults(results), s.opts.SearchLimit)
	history := conversation.TrimMessages(conv.Messages, s.opts.ContextLimit)
	if s.budget != nil {
		fitted := s.budget.Fit(results, history)
		if fitted.Truncated {
			s.log.Debug("question context trimmed to budget", "report_id", req.ReportID, "tokens", fitted.Tokens)
		}
		results, history = fitted.Results, fitted.History
	}

	resp = &AskResponse{
		Citations:      rag.FormatCitations(results),
		FollowUps:      []string{},
		ConversationID: conv.ID,
	}
	if len(results) == 0 {
		resp.Answer = NoContextAnswer
		outcome = "no_context"
	} else {
		genCtx := audit.WithSubject(ctx, "report", req.ReportID.String())
		ans, err := s.deps.Generator.Answer(genCtx, rag.AnswerRequest{
			ReportTitle: rep.Title,
			Question:    question,
			Context:     results,
			History:     history,
		})
		if err != nil {
			return nil, err
		}
		resp.Answer = ans.Text
		if len(ans.FollowUps) > 0 {
			resp.FollowUps = ans.FollowUps
		}
		outcome = "answered"
	}

	consumed, err := s.deps.Quota.Consume(ctx, req.UserID, req.ReportID, req.Tier)
	switch {
	case errors.As(err, new(*quota.QuotaError)):
		outcome = "quota_exceeded"
		return nil, err
	case err != nil:
		// The answer is already paid for; report the usage it should have recorded.
		s.log.Error("record question usage failed", "report_id", req.ReportID, "tier", req.Tier, "error", err)
		consumed = st.AfterQuestion()
	}
	st = consumed
	resp.QuotaUsed = QuotaUsed{Used: st.Used, Limit: st.Limit, Remaining: st.Remaining}
	resp.UpgradeHint = st.UpgradeHint()

	now := s.now().UTC()
	turn := []models.Message{
		{Role: models.RoleUser, Content: question, Timestamp: now},
		{Role: models.RoleAssistant, Content: resp.Answer, Timestamp: now, Sources: sourceRefs(results)},
	}
	if err := s.deps.Conversations.AddMessages(ctx, conv, turn...); err != nil {
		s.log.Error("persist conversation turn failed", "conversation_id", conv.ID, "report_id", req.ReportID, "error", err)
	}
	return resp, nil
}

func validateAsk(req AskRequest) (string, error) {
	if req.ReportID == uuid.Nil {
		return "", fmt.Errorf("%w: report_id is required", ErrInvalidRequest)
	}
	if !req.Tier.Valid() {
		return "", fmt.Errorf("%w: unknown subscription tier %q", ErrInvalidRequest, req.Tier)
	}
	q := strings.TrimSpace(req.Question)
	if q == "" {
		return "", fmt.Errorf("%w: question is required", ErrInvalidRequest)
	}
	if utf8.RuneCountInString(q) > MaxQuestionRunes {
		return "", fmt.Errorf("%w: question exceeds %d characters", ErrInvalidRequest, MaxQuestionRunes)
	}
	return q, nil
}

func sourceRefs(results []vectorstore.SearchResult) []models.SourceRef {
	if len(results) == 0 {
		return nil
	}
	refs := make([]models.SourceRef, len(results))
	for i, r := range results {
		refs[i] = models.SourceRef{
			ChunkID:    r.ChunkID,
			ChunkIndex: r.ChunkIndex,
			Section:    r.Metadata.Section,
			Similarity: r.Similarity,
		}
	}
	return refs
}

type HistoryRequest struct {
	ReportID uuid.UUID
	UserID   *uuid.UUID
	Tier     models.Tier
	Limit    int // 0 means DefaultHistoryLimit
}

type HistoryResponse struct {
	Conversations []models.Conversation `json:"conversations"`
	RetentionDays *int                  `json:"retention_days"` // null for unbounded tiers
	Message       string                `json:"message,omitempty"`
}

// History lists the caller's conversations for a report within the tier's
// retention window.
func (s *Service) History(ctx context.Context, req HistoryRequest) (*HistoryResponse, error) {
	if req.ReportID == uuid.Nil {
		return nil, fmt.Errorf("%w: report_id is required", ErrInvalidRequest)
	}
	if !req.Tier.Valid() {
		return nil, fmt.Errorf("%w: unknown subscription tier %q", ErrInvalidRequest, req.Tier)
	}
	limit := req.Limit
	if limit == 0 {
		limit = DefaultHistoryLimit
	}
	if limit < 1 || limit > MaxHistoryLimit {
		return nil, fmt.Errorf("%w: limit must be between 1 and %d", ErrInvalidRequest, MaxHistoryLimit)
	}

	convs, err := s.deps.Conversations.ListForReport(ctx, req.ReportID, req.UserID, req.Tier, limit)
	if err != nil {
		return nil, err
	}
	if convs == nil {
		convs = []models.Conversation{}
	}

	resp := &HistoryResponse{Conversations: convs}
	if !req.Tier.Unbounded() {
		days := req.Tier.RetentionDays()
		resp.RetentionDays = &days
		resp.Message = fmt.Sprintf("Conversations are kept for %d days on the %s plan. Upgrade to keep your history longer.", days, req.Tier)
	}
	return resp, nil
}
