package enrich

import "github.com/sells-group/saleslist/internal/model"

// NoDataReason explains why an attempt found nothing.
type NoDataReason string

const (
	ReasonRegistryNotFound        NoDataReason = "gbiz_not_found"
	ReasonAINoFieldResult         NoDataReason = "ai_no_field_result"
	ReasonNoOfficialSite          NoDataReason = "no_official_site"
	ReasonNameVariantInsufficient NoDataReason = "name_variant_insufficient"
	ReasonPrivateOrUndisclosed    NoDataReason = "private_or_undisclosed"
	ReasonRetryExhausted          NoDataReason = "retry_exhausted"
)

var reasonStrategies = map[NoDataReason]model.RetryStrategy{
	ReasonRegistryNotFound:        model.RetryStrategyRelaxPrefecture,
	ReasonAINoFieldResult:         model.RetryStrategyOfficialSiteFocused,
	ReasonNoOfficialSite:          model.RetryStrategyEnglishNameSearch,
	ReasonNameVariantInsufficient: model.RetryStrategyNameVariantExpansion,
	ReasonPrivateOrUndisclosed:    model.RetryStrategyNone,
	ReasonRetryExhausted:          model.RetryStrategyNone,
}

var reasonMessages = map[NoDataReason]string{
	ReasonRegistryNotFound:        "gBizINFOに候補が存在しませんでした",
	ReasonAINoFieldResult:         "AI応答はあったが、補完可能なフィールドが見つかりませんでした",
	ReasonNoOfficialSite:          "公式サイトが見つかりませんでした",
	ReasonNameVariantInsufficient: "表記揺れが不足しており、gBizINFOで見つかりませんでした",
	ReasonPrivateOrUndisclosed:    "非公開または個人事業主の可能性があります",
	ReasonRetryExhausted:          "再探索条件を満たさず、探索を終了しました",
}

// Known reports whether r is in the reason table.
func (r NoDataReason) Known() bool {
	_, ok := reasonStrategies[r]
	return ok
}

// Strategy returns the retry strategy recorded for reason. Unknown reasons
// get "none".
func (r NoDataReason) Strategy() model.RetryStrategy {
	if s, ok := reasonStrategies[r]; ok {
		return s
	}
	return model.RetryStrategyNone
}

// Message returns the operator-facing explanation.
func (r NoDataReason) Message() string {
	if m, ok := reasonMessages[r]; ok {
		return m
	}
	return "理由不明"
}

// Signals are the observations an attempt collected before giving up.
type Signals struct {
	// RegistryNotFound: the corporate registry had no hit for the name.
	RegistryNotFound bool
	// RegistryRetryNotFound: a second registry lookup with name variants
	// also missed.
	RegistryRetryNotFound bool
	// RegistryFound: some registry lookup succeeded.
	RegistryFound bool
	// NameCandidates are official names the AI suggested.
	NameCandidates  []string
	AIAttempted     bool
	AIFieldsEmpty   bool
	HasOfficialSite bool
}

// Classify picks the first matching reason, most specific first.
func Classify(s Signals) NoDataReason {
	bothMissed := s.RegistryNotFound && s.RegistryRetryNotFound
	switch {
	case bothMissed && len(s.NameCandidates) > 0:
		return ReasonNameVariantInsufficient
	case bothMissed && s.AIAttempted && s.AIFieldsEmpty:
		return ReasonAINoFieldResult
	case !s.HasOfficialSite && s.AIAttempted:
		return ReasonNoOfficialSite
	case s.RegistryNotFound && (len(s.NameCandidates) == 0 || s.RegistryRetryNotFound) && s.AIAttempted && s.AIFieldsEmpty:
		return ReasonPrivateOrUndisclosed
	case s.RegistryNotFound && !s.RegistryFound:
		return ReasonRegistryNotFound
	default:
		return ReasonRetryExhausted
	}
}
