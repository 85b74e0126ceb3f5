package ratelimit

// RunTier is the rate limit tier of a run start
type RunTier string

const (
	TierLight    RunTier = "light"
	TierStandard RunTier = "standard"
	TierHeavy    RunTier = "heavy"
)

const (
	lightMaxRecords    = 10
	standardMaxRecords = 100
)

// RunProfile describes the size of a run about to start
type RunProfile struct {
	Tier    RunTier
	Records int
	Stepped bool
}

// InspectRun picks the tier of a run over records Staged residues.
// A stepped run drives the primitive once per request, so it is always light.
func InspectRun(records int, stepped bool) RunProfile {
	p := RunProfile{Tier: TierLight, Records: records, Stepped: stepped}
	switch {
	case stepped || records <= lightMaxRecords:
	case records <= standardMaxRecords:
		p.Tier = TierStandard
	default:
		p.Tier = TierHeavy
	}
	return p
}
