package catalog

import "strings"

// UseCase is the recommendation key describing what the startup builds.
type UseCase string

const (
	UseCaseSaaSPlatform  UseCase = "saas_platform"
	UseCaseEcommerce     UseCase = "ecommerce"
	UseCaseWebApp        UseCase = "web_app"
	UseCaseDataAnalytics UseCase = "data_analytics"
	UseCaseDataPipeline  UseCase = "data_pipeline"
	UseCaseMobileApp     UseCase = "mobile_app"
	UseCaseRealTimeApp   UseCase = "real_time_app"
	UseCaseStartupMVP    UseCase = "startup_mvp"
)

// UseCases lists every supported use case.
var UseCases = []UseCase{
	UseCaseSaaSPlatform,
	UseCaseEcommerce,
	UseCaseWebApp,
	UseCaseDataAnalytics,
	UseCaseDataPipeline,
	UseCaseMobileApp,
	UseCaseRealTimeApp,
	UseCaseStartupMVP,
}

// Valid reports whether u is a supported use case.
func (u UseCase) Valid() bool {
	for _, known := range UseCases {
		if u == known {
			return true
		}
	}
	return false
}

var useCaseAliases = map[string]UseCase{
	"saas":       UseCaseSaaSPlatform,
	"e_commerce": UseCaseEcommerce,
	"shop":       UseCaseEcommerce,
	"web":        UseCaseWebApp,
	"webapp":     UseCaseWebApp,
	"analytics":  UseCaseDataAnalytics,
	"pipeline":   UseCaseDataPipeline,
	"etl":        UseCaseDataPipeline,
	"mobile":     UseCaseMobileApp,
	"realtime":   UseCaseRealTimeApp,
	"real_time":  UseCaseRealTimeApp,
	"mvp":        UseCaseStartupMVP,
}

// ParseUseCase normalises a use-case name. Unknown names map to startup_mvp.
func ParseUseCase(s string) UseCase {
	n := normalise(s)
	if u := UseCase(n); u.Valid() {
		return u
	}
	if u, ok := useCaseAliases[n]; ok {
		return u
	}
	return UseCaseStartupMVP
}

// Stage is the company maturity used to tune a bundle.
type Stage string

const (
	StageIdea       Stage = "idea"
	StageStartup    Stage = "startup"
	StageGrowth     Stage = "growth"
	StageEnterprise Stage = "enterprise"
)

// Stages lists every supported stage.
var Stages = []Stage{StageIdea, StageStartup, StageGrowth, StageEnterprise}

// Valid reports whether s is a supported stage.
func (s Stage) Valid() bool {
	switch s {
	case StageIdea, StageStartup, StageGrowth, StageEnterprise:
		return true
	}
	return false
}

// ParseStage normalises a stage name. Unknown names map to startup.
func ParseStage(s string) Stage {
	n := normalise(s)
	switch n {
	case "pre_seed", "preseed", "prototype":
		return StageIdea
	case "seed", "mvp", "early":
		return StageStartup
	case "scale", "scaleup", "series_a", "series_b":
		return StageGrowth
	}
	if st := Stage(n); st.Valid() {
		return st
	}
	return StageStartup
}

// Preference is the requested cloud.
type Preference string

const (
	PreferenceAWS Preference = "aws"
	PreferenceGCP Preference = "gcp"
	PreferenceAny Preference = "any"
)

// Preferences lists every supported preference.
var Preferences = []Preference{PreferenceAWS, PreferenceGCP, PreferenceAny}

// Valid reports whether p is a supported preference.
func (p Preference) Valid() bool {
	return p == PreferenceAWS || p == PreferenceGCP || p == PreferenceAny
}

// ParsePreference normalises a preference. Unknown values map to any.
func ParsePreference(s string) Preference {
	switch n := normalise(s); n {
	case "amazon":
		return PreferenceAWS
	case "google", "google_cloud":
		return PreferenceGCP
	default:
		if p := Preference(n); p.Valid() {
			return p
		}
	}
	return PreferenceAny
}

func normalise(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer("-", "_", " ", "_").Replace(s)
}

// classifierRules are checked in order; the first rule with a matching
// keyword decides the use case.
var classifierRules = []struct {
	useCase  UseCase
	keywords []string
}{
	{UseCaseDataPipeline, []string{"pipeline", "etl", "ingest", "stream processing", "batch job"}},
	{UseCaseDataAnalytics, []string{"analytics", "dashboard", "warehouse", "reporting", "business intelligence", "insights"}},
	{UseCaseRealTimeApp, []string{"real-time", "realtime", "real time", "chat", "websocket", "iot", "live updates"}},
	{UseCaseMobileApp, []string{"mobile", "ios", "android", "app store"}},
	{UseCaseEcommerce, []string{"ecommerce", "e-commerce", "online store", "shop", "checkout", "marketplace"}},
	{UseCaseSaaSPlatform, []string{"saas", "subscription", "multi-tenant", "b2b"}},
	{UseCaseWebApp, []string{"website", "web app", "webapp", "web application", "portal"}},
}

// Classify maps a free-text description of a product to a use case.
// Descriptions that match no rule classify as startup_mvp.
func Classify(description string) UseCase {
	text := strings.ToLower(description)
	for _, rule := range classifierRules {
		for _, kw := range rule.keywords {
			if strings.Contains(text, kw) {
				return rule.useCase
			}
		}
	}
	return UseCaseStartupMVP
}
