// Package checkpoint persists completed sampler stages as versioned,
// hash-validated JSON artifacts and rebuilds run state from them. Writes
// are atomic (temp file, then rename), so readers never observe a
// mid-write stage.
package checkpoint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/adalundhe/tremor/core/smc"
)

type SnapshotVersion int

const SnapshotV1 SnapshotVersion = 1

// logFloat marshals log-densities that may be −Inf, which encoding/json
// rejects as bare numbers.
type logFloat float64

func (f logFloat) MarshalJSON() ([]byte, error) {
	v := float64(f)
	if math.IsInf(v, -1) {
		return []byte(`"-Inf"`), nil
	}
	if math.IsInf(v, 1) {
		return []byte(`"+Inf"`), nil
	}
	return json.Marshal(v)
}

func (f *logFloat) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case `"-Inf"`:
		*f = logFloat(math.Inf(-1))
		return nil
	case `"+Inf"`:
		*f = logFloat(math.Inf(1))
		return nil
	}
	v, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return err
	}
	*f = logFloat(v)
	return nil
}

// ParticleSnapshot is one particle's persisted state.
type ParticleSnapshot struct {
	Params   []float64 `json:"params"`
	LogPrior logFloat  `json:"log_prior"`
	LogLik   logFloat  `json:"log_lik"`
	Weight   float64   `json:"weight"`
}

// Snapshot is the durable form of one completed stage.
type Snapshot struct {
	Version     SnapshotVersion    `json:"version"`
	RunID       string             `json:"run_id"`
	Index       int                `json:"index"`
	Beta        float64            `json:"beta"`
	Scale       float64            `json:"scale"`
	Steps       int                `json:"steps"`
	Acceptance  float64            `json:"acceptance"`
	ESS         float64            `json:"ess"`
	DurationMS  int64              `json:"duration_ms"`
	Names       []string           `json:"names"`
	Cov         [][]float64        `json:"cov,omitempty"`
	Particles   []ParticleSnapshot `json:"particles"`
	CreatedAt   time.Time          `json:"created_at"`
	ContentHash string             `json:"content_hash"`
}

// FromStage converts a completed stage for persistence.
func FromStage(runID string, names []string, s *smc.Stage) *Snapshot {
	snap := &Snapshot{
		Version:    SnapshotV1,
		RunID:      runID,
		Index:      s.Index,
		Beta:       s.Beta,
		Scale:      s.Scale,
		Steps:      s.Steps,
		Acceptance: s.Acceptance,
		ESS:        s.ESS,
		DurationMS: s.Duration.Milliseconds(),
		Names:      names,
		CreatedAt:  time.Now(),
	}

	if s.Cov != nil {
		d := s.Cov.SymmetricDim()
		snap.Cov = make([][]float64, d)
		for i := 0; i < d; i++ {
			snap.Cov[i] = make([]float64, d)
			for j := 0; j < d; j++ {
				snap.Cov[i][j] = s.Cov.At(i, j)
			}
		}
	}

	snap.Particles = make([]ParticleSnapshot, len(s.Population.Particles()))
	for i, p := range s.Population.Particles() {
		params := make([]float64, len(p.Params))
		copy(params, p.Params)
		snap.Particles[i] = ParticleSnapshot{
			Params:   params,
			LogPrior: logFloat(p.LogPrior),
			LogLik:   logFloat(p.LogLik),
			Weight:   p.Weight,
		}
	}
	return snap
}

// ToStage rebuilds the in-memory stage for resume.
func (s *Snapshot) ToStage() *smc.Stage {
	particles := make([]*smc.Particle, len(s.Particles))
	for i, ps := range s.Particles {
		params := make([]float64, len(ps.Params))
		copy(params, ps.Params)
		particles[i] = &smc.Particle{
			Params:   params,
			LogPrior: float64(ps.LogPrior),
			LogLik:   float64(ps.LogLik),
			Weight:   ps.Weight,
		}
	}

	stage := &smc.Stage{
		Index:      s.Index,
		Beta:       s.Beta,
		Population: smc.NewPopulation(particles),
		Scale:      s.Scale,
		Steps:      s.Steps,
		Acceptance: s.Acceptance,
		ESS:        s.ESS,
		Duration:   time.Duration(s.DurationMS) * time.Millisecond,
	}

	if len(s.Cov) > 0 {
		d := len(s.Cov)
		cov := mat.NewSymDense(d, nil)
		for i := 0; i < d; i++ {
			for j := i; j < d; j++ {
				cov.SetSym(i, j, s.Cov[i][j])
			}
		}
		stage.Cov = cov
	}
	return stage
}

// ComputeHash hashes the stage content, excluding the hash field itself
// and the write timestamp.
func (s *Snapshot) ComputeHash() string {
	hashData := struct {
		Version    SnapshotVersion    `json:"version"`
		RunID      string             `json:"run_id"`
		Index      int                `json:"index"`
		Beta       float64            `json:"beta"`
		Scale      float64            `json:"scale"`
		Steps      int                `json:"steps"`
		Acceptance float64            `json:"acceptance"`
		ESS        float64            `json:"ess"`
		Names      []string           `json:"names"`
		Cov        [][]float64        `json:"cov"`
		Particles  []ParticleSnapshot `json:"particles"`
	}{s.Version, s.RunID, s.Index, s.Beta, s.Scale, s.Steps, s.Acceptance, s.ESS, s.Names, s.Cov, s.Particles}

	data, _ := json.Marshal(hashData)
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// Finalize stamps the content hash before writing.
func (s *Snapshot) Finalize() {
	s.ContentHash = s.ComputeHash()
}

// Validate checks version and content integrity.
func (s *Snapshot) Validate() error {
	if s.Version != SnapshotV1 {
		return fmt.Errorf("unsupported snapshot version %d", s.Version)
	}
	if s.ContentHash == "" {
		return fmt.Errorf("missing content hash")
	}
	if computed := s.ComputeHash(); computed != s.ContentHash {
		return fmt.Errorf("content hash mismatch")
	}
	if len(s.Particles) == 0 {
		return fmt.Errorf("empty particle population")
	}
	return nil
}
