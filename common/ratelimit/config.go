package ratelimit

// TierConfig defines run-start limits for each tier
type TierConfig struct {
	Tier          RunTier
	Limit         int64  // Run starts allowed per window
	WindowSeconds int    // Time window in seconds
	Description   string // Human-readable description
}

// Default tier configurations
var DefaultTierConfigs = map[RunTier]TierConfig{
	TierLight: {
		Tier:          TierLight,
		Limit:         120,
		WindowSeconds: 60,
		Description:   "Step-by-step runs and runs of up to 10 residues - 120 starts/minute",
	},
	TierStandard: {
		Tier:          TierStandard,
		Limit:         20,
		WindowSeconds: 60,
		Description:   "Runs of 11-100 residues - 20 starts/minute",
	},
	TierHeavy: {
		Tier:          TierHeavy,
		Limit:         5,
		WindowSeconds: 60,
		Description:   "Runs of more than 100 residues - 5 starts/minute",
	},
}

// GlobalConfig contains service-wide request limits
type GlobalConfig struct {
	Limit         int64 // Total requests per window (all owners)
	WindowSeconds int   // Time window
}

// DefaultGlobalConfig is used when no limit is configured
var DefaultGlobalConfig = GlobalConfig{
	Limit:         600,
	WindowSeconds: 60,
}

// GetLimitForTier returns the limit for a given tier
func GetLimitForTier(tier RunTier) int64 {
	if config, exists := DefaultTierConfigs[tier]; exists {
		return config.Limit
	}
	// Fallback to most restrictive tier
	return DefaultTierConfigs[TierHeavy].Limit
}

// GetWindowForTier returns the time window for a given tier
func GetWindowForTier(tier RunTier) int {
	if config, exists := DefaultTierConfigs[tier]; exists {
		return config.WindowSeconds
	}
	return DefaultTierConfigs[TierHeavy].WindowSeconds
}

// GetAllTiers returns all configured tiers
func GetAllTiers() []TierConfig {
	return []TierConfig{
		DefaultTierConfigs[TierLight],
		DefaultTierConfigs[TierStandard],
		DefaultTierConfigs[TierHeavy],
	}
}
