package models

import (
	"fmt"
	"math"
	"time"
)

type Tier string

const (
	TierFree    Tier = "free"
	TierBasic   Tier = "basic"
	TierPremium Tier = "premium"
	TierVIP     Tier = "vip"
)

// UnlimitedQuestions stands in for the VIP allowance.
const UnlimitedQuestions = math.MaxInt32

// RetentionForever is the retention_until stamp used for VIP conversations.
var RetentionForever = time.Date(9999, time.December, 31, 0, 0, 0, 0, time.UTC)

var (
	retentionDays = map[Tier]int{
		TierFree:    30,
		TierBasic:   90,
		TierPremium: 365,
	}
	questionLimits = map[Tier]int{
		TierFree:    5,
		TierBasic:   30,
		TierPremium: 100,
		TierVIP:     UnlimitedQuestions,
	}
)

func ParseTier(s string) (Tier, error) {
	t := Tier(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown subscription tier %q", s)
	}
	return t, nil
}

func (t Tier) Valid() bool {
	switch t {
	case TierFree, TierBasic, TierPremium, TierVIP:
		return true
	}
	return false
}

// Unbounded reports whether history and questions are not capped for the tier.
func (t Tier) Unbounded() bool { return t == TierVIP }

// RetentionDays is how long conversations stay queryable. VIP returns -1.
func (t Tier) RetentionDays() int {
	if t.Unbounded() {
		return -1
	}
	if d, ok := retentionDays[t]; ok {
		return d
	}
	return retentionDays[TierFree]
}

// RetentionUntil returns the retention stamp for a conversation created at now.
func (t Tier) RetentionUntil(now time.Time) time.Time {
	if t.Unbounded() {
		return RetentionForever
	}
	return now.AddDate(0, 0, t.RetentionDays())
}

// QuestionLimit is the per-period question allowance for the tier.
func (t Tier) QuestionLimit() int {
	if l, ok := questionLimits[t]; ok {
		return l
	}
	return questionLimits[TierFree]
}

// Next returns the tier a user would upgrade to, or "" for VIP.
func (t Tier) Next() Tier {
	switch t {
	case TierFree:
		return TierBasic
	case TierBasic:
		return TierPremium
	case TierPremium:
		return TierVIP
	}
	return ""
}
