package models

// Problem is a complete unfolding problem: a response matrix describing the
// detector smearing, the measured spectrum, and the regularization strength.
type Problem struct {
	Response [][]float64 `json:"response"` // rows = observed bin, columns = true bin
	Measured []float64   `json:"measured"` // observed counts, length = rows of Response
	Lam      float64     `json:"lam"`      // Tikhonov smoothing weight, 0 disables
}

// SolveSpec selects a backend and its sampling budget for one unfolding run.
type SolveSpec struct {
	Backend      string  `json:"backend"`                // "sa", "hybrid" or "quantum"
	NumReads     int     `json:"numReads,omitempty"`     // sampler restarts (sa, quantum)
	NumToys      int     `json:"numToys,omitempty"`      // toy ensemble size, default 1
	NumCores     int     `json:"numCores,omitempty"`     // toy worker override, default NumCPU-2
	Seed         *int64  `json:"seed,omitempty"`         // nominal solve seed (sa only)
	TimeLimitSec float64 `json:"timeLimitSec,omitempty"` // hybrid solver budget
}

// UnfoldResult is the decoded solution plus its statistical uncertainty.
// Covariance and Correlation are present only when NumToys > 1.
type UnfoldResult struct {
	Solution    []float64   `json:"solution"`              // unfolded counts per true bin
	StatError   []float64   `json:"statError"`             // per-bin uncertainty
	Covariance  [][]float64 `json:"covariance,omitempty"`  // toy ensemble covariance
	Correlation [][]float64 `json:"correlation,omitempty"` // toy ensemble correlation
	Energy      float64     `json:"energy"`                // objective value of the best sample
	Backend     string      `json:"backend"`
	Bins        int         `json:"bins"`
	Reads       int         `json:"reads"`
	NumToys     int         `json:"numToys"`
	SolveMs     float64     `json:"solveMs"` // wall time of the nominal solve
}

// Job lifecycle states for asynchronous unfolding runs.
const (
	JobQueued  = "queued"
	JobRunning = "running"
	JobDone    = "done"
	JobFailed  = "failed"
)

// Job tracks one asynchronous unfolding request through the queue.
type Job struct {
	ID          string        `json:"id"`
	Status      string        `json:"status"`
	Backend     string        `json:"backend"`
	Bins        int           `json:"bins"`
	NumReads    int           `json:"numReads,omitempty"`
	NumToys     int           `json:"numToys"`
	Seed        *int64        `json:"seed,omitempty"`
	Lam         float64       `json:"lam"`
	SubmittedAt string        `json:"submittedAt"`
	StartedAt   string        `json:"startedAt,omitempty"`
	FinishedAt  string        `json:"finishedAt,omitempty"`
	Error       string        `json:"error,omitempty"`
	Result      *UnfoldResult `json:"result,omitempty"`
}

// SweepPoint is one scanned regularization strength with its score.
type SweepPoint struct {
	Lam    float64 `json:"lam"`
	Chi2   float64 `json:"chi2"`   // agreement with the reference truth
	Energy float64 `json:"energy"` // best sample energy at this lam
}
