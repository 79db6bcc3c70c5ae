package dissolve

var (
	Debug        = false // verbose per-rank logging and the trial outcome summary
	DetailedLog  = false // keep individual trial records (up to TrialLogLimit)
	SkipMetrics  = false // do not publish pass results to prometheus
	TraceToStdio = false // export spans to stderr regardless of the config
)
