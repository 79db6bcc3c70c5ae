package dissolve

const (
	ServiceName   = "dissolve"
	TrialLogLimit = 10_000
	// seeds the starting configuration independently of the move streams
	generateStream = 0x636f6e666967
	mdStream       = 0x6d64
)
