package risk

import (
	"fmt"
)

// Level buckets a score.
type Level string

const (
	LevelLow      Level = "low"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

// Action is what the caller should do with the connection.
type Action string

const (
	ActionAllow        Action = "ALLOW"
	ActionMFARequired  Action = "MFA_REQUIRED"
	ActionAdminWarning Action = "ADMIN_WARNING"
	ActionAdminBlocked Action = "ADMIN_BLOCKED"
)

// Factor names, listed in evaluation order.
const (
	FactorVPN                = "vpn_detected"
	FactorProxy              = "proxy_detected"
	FactorTor                = "tor_detected"
	FactorHosting            = "hosting_detected"
	FactorTimezoneMismatch   = "timezone_mismatch"
	FactorTimezoneConsistent = "timezone_consistent"
	FactorLanguageMismatch   = "language_mismatch"
	FactorLanguageConsistent = "language_consistent"
)

const (
	baseline = 50
	minScore = 0
	maxScore = 100

	maxWeight = 50
)

// ClientEnvironment is what the browser reports about itself.
type ClientEnvironment struct {
	Timezone  string `json:"timezone"`
	Language  string `json:"language"`
	Platform  string `json:"platform,omitempty"`
	Screen    string `json:"screen,omitempty"`
	UserAgent string `json:"userAgent,omitempty"`
}

// IPIntelligence is the oracle's view of the source address.
type IPIntelligence struct {
	CountryCode  string `json:"countryCode"`
	ISP          string `json:"isp,omitempty"`
	ASN          string `json:"asn,omitempty"`
	Organization string `json:"organization,omitempty"`
	VPN          bool   `json:"vpnDetected"`
	Proxy        bool   `json:"proxyDetected"`
	Tor          bool   `json:"torDetected"`
	Hosting      bool   `json:"hostingDetected"`
}

// Signal is the full input to a risk assessment. A nil Intel means the oracle
// could not be consulted.
type Signal struct {
	Client ClientEnvironment
	Intel  *IPIntelligence
}

// Assessment is recomputed on every request and never cached.
type Assessment struct {
	Score            int      `json:"riskScore"`
	Level            Level    `json:"riskLevel"`
	Factors          []string `json:"riskFactors"`
	Action           Action   `json:"actionTaken"`
	ConnectionMasked bool     `json:"connectionMasked"`
	Degraded         bool     `json:"degraded,omitempty"`
}

// Weights are the score deltas per factor. Negative values lower risk.
type Weights struct {
	VPN                int `mapstructure:"vpn"`
	Proxy              int `mapstructure:"proxy"`
	Tor                int `mapstructure:"tor"`
	Hosting            int `mapstructure:"hosting"`
	TimezoneMismatch   int `mapstructure:"timezone_mismatch"`
	TimezoneConsistent int `mapstructure:"timezone_consistent"`
	LanguageMismatch   int `mapstructure:"language_mismatch"`
	LanguageConsistent int `mapstructure:"language_consistent"`
}

// DefaultWeights returns the production weights.
func DefaultWeights() Weights {
	return Weights{
		VPN:                15,
		Proxy:              15,
		Tor:                30,
		Hosting:            10,
		TimezoneMismatch:   10,
		TimezoneConsistent: -20,
		LanguageMismatch:   5,
		LanguageConsistent: -10,
	}
}

// Validate keeps every weight inside [-50, 50].
func (w Weights) Validate() error {
	for name, v := range map[string]int{
		"vpn":                 w.VPN,
		"proxy":               w.Proxy,
		"tor":                 w.Tor,
		"hosting":             w.Hosting,
		"timezone_mismatch":   w.TimezoneMismatch,
		"timezone_consistent": w.TimezoneConsistent,
		"language_mismatch":   w.LanguageMismatch,
		"language_consistent": w.LanguageConsistent,
	} {
		if v < -maxWeight || v > maxWeight {
			return fmt.Errorf("risk weight %s=%d out of range [-%d, %d]", name, v, maxWeight, maxWeight)
		}
	}
	return nil
}

// Engine scores connection signals. It holds no mutable state.
type Engine struct {
	weights Weights
	locales *Locales
}

// NewEngine validates weights and builds an engine over the built-in locale tables.
func NewEngine(w Weights) (*Engine, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return &Engine{weights: w, locales: DefaultLocales()}, nil
}

// Assess scores sig. It never fails; unknown inputs contribute nothing.
func (e *Engine) Assess(sig Signal, isAdminAccess bool) Assessment {
	score := baseline
	factors := make([]string, 0, 4)
	apply := func(name string, delta int) {
		if delta == 0 {
			return
		}
		score += delta
		factors = append(factors, name)
	}

	intel := sig.Intel
	if intel != nil {
		if intel.VPN {
			apply(FactorVPN, e.weights.VPN)
		}
		if intel.Proxy {
			apply(FactorProxy, e.weights.Proxy)
		}
		if intel.Tor {
			apply(FactorTor, e.weights.Tor)
		}
		if intel.Hosting {
			apply(FactorHosting, e.weights.Hosting)
		}
		country := intel.CountryCode
		switch e.locales.TimezoneMatch(country, sig.Client.Timezone) {
		case MatchMismatch:
			apply(FactorTimezoneMismatch, e.weights.TimezoneMismatch)
		case MatchConsistent:
			apply(FactorTimezoneConsistent, e.weights.TimezoneConsistent)
		}
		switch e.locales.LanguageMatch(country, sig.Client.Language) {
		case MatchMismatch:
			apply(FactorLanguageMismatch, e.weights.LanguageMismatch)
		case MatchConsistent:
			apply(FactorLanguageConsistent, e.weights.LanguageConsistent)
		}
	}

	score = clamp(score)
	level := levelFor(score)
	masked := intel != nil && (intel.VPN || intel.Proxy || intel.Tor)
	tor := intel != nil && intel.Tor

	return Assessment{
		Score:            score,
		Level:            level,
		Factors:          factors,
		Action:           decide(isAdminAccess, tor, masked, level),
		ConnectionMasked: masked,
		Degraded:         intel == nil,
	}
}

func decide(isAdmin, tor, masked bool, level Level) Action {
	switch {
	case !isAdmin:
		return ActionAllow
	case tor:
		return ActionAdminBlocked
	case level == LevelCritical:
		return ActionAdminBlocked
	case masked:
		return ActionAdminWarning
	case level == LevelHigh:
		return ActionMFARequired
	default:
		return ActionAllow
	}
}

func levelFor(score int) Level {
	switch {
	case score < 25:
		return LevelLow
	case score < 50:
		return LevelMedium
	case score < 75:
		return LevelHigh
	default:
		return LevelCritical
	}
}

func clamp(score int) int {
	if score < minScore {
		return minScore
	}
	if score > maxScore {
		return maxScore
	}
	return score
}
