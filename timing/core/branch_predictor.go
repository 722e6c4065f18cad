package core

// BranchPredictorConfig holds configuration for the branch predictor.
type BranchPredictorConfig struct {
	// BHTSize is the number of entries in the Branch History Table.
	// Must be a power of 2. Default is 4096.
	BHTSize uint32 `json:"bht_size"`
	// BTBSize is the number of entries in the Branch Target Buffer.
	// Must be a power of 2. Default is 512.
	BTBSize uint32 `json:"btb_size"`
}

// DefaultBranchPredictorConfig returns a default configuration.
func DefaultBranchPredictorConfig() BranchPredictorConfig {
	return BranchPredictorConfig{
		BHTSize: 4096,
		BTBSize: 512,
	}
}

// BranchPredictorStats holds statistics for the branch predictor.
type BranchPredictorStats struct {
	// Predictions is the total number of direction predictions made.
	Predictions uint64
	// Correct is the number of correct predictions.
	Correct uint64
	// Mispredictions is the number of incorrect predictions.
	Mispredictions uint64
	// BTBHits is the number of BTB hits.
	BTBHits uint64
	// BTBMisses is the number of BTB misses.
	BTBMisses uint64
	// TargetMispredictions counts indirect branches whose target was not
	// the one in the BTB.
	TargetMispredictions uint64
}

// Accuracy returns the prediction accuracy as a percentage.
func (s BranchPredictorStats) Accuracy() float64 {
	if s.Predictions == 0 {
		return 0
	}
	return float64(s.Correct) / float64(s.Predictions) * 100
}

// MispredictionRate returns the misprediction rate as a percentage.
func (s BranchPredictorStats) MispredictionRate() float64 {
	if s.Predictions == 0 {
		return 0
	}
	return float64(s.Mispredictions) / float64(s.Predictions) * 100
}

// BTBHitRate returns the BTB hit rate as a percentage.
func (s BranchPredictorStats) BTBHitRate() float64 {
	total := s.BTBHits + s.BTBMisses
	if total == 0 {
		return 0
	}
	return float64(s.BTBHits) / float64(total) * 100
}

// Prediction represents a branch prediction result.
type Prediction struct {
	// Taken indicates whether the branch is predicted to be taken.
	Taken bool
	// Target is the predicted target address (if known from BTB).
	Target uint64
	// TargetKnown indicates whether the target address is known.
	TargetKnown bool
}

// BranchPredictor implements a 2-bit saturating counter (bimodal) predictor
// with a Branch Target Buffer (BTB).
type BranchPredictor struct {
	// Branch History Table (BHT) - 2-bit saturating counters
	// States: 0=Strongly Not Taken, 1=Weakly Not Taken,
	//         2=Weakly Taken, 3=Strongly Taken
	bht []uint8

	// Branch Target Buffer (BTB)
	// Maps branch address to target address
	btb      []btbEntry
	btbValid []bool

	// Configuration
	bhtSize uint32
	btbSize uint32

	// Statistics
	stats BranchPredictorStats
}

// btbEntry represents an entry in the Branch Target Buffer.
type btbEntry struct {
	rip    uint64 // Address of the branch instruction
	target uint64
}

// NewBranchPredictor creates a new branch predictor with the given configuration.
func NewBranchPredictor(config BranchPredictorConfig) *BranchPredictor {
	bhtSize := config.BHTSize
	btbSize := config.BTBSize

	// Default sizes if not specified
	defaults := DefaultBranchPredictorConfig()
	if bhtSize == 0 {
		bhtSize = defaults.BHTSize
	}
	if btbSize == 0 {
		btbSize = defaults.BTBSize
	}

	bp := &BranchPredictor{
		bht:      make([]uint8, bhtSize),
		btb:      make([]btbEntry, btbSize),
		btbValid: make([]bool, btbSize),
		bhtSize:  bhtSize,
		btbSize:  btbSize,
	}

	// Initialize BHT with weakly taken (2) - biased towards taken
	for i := range bp.bht {
		bp.bht[i] = 2
	}

	return bp
}

// bhtIndex computes the BHT index for a given RIP. x86 instructions are
// byte aligned, so every address bit takes part.
func (bp *BranchPredictor) bhtIndex(rip uint64) uint32 {
	return uint32(rip & uint64(bp.bhtSize-1))
}

// btbIndex computes the BTB index for a given RIP.
func (bp *BranchPredictor) btbIndex(rip uint64) uint32 {
	return uint32(rip & uint64(bp.btbSize-1))
}

// Predict makes a branch prediction for the branch at rip.
func (bp *BranchPredictor) Predict(rip uint64) Prediction {
	pred := Prediction{}

	// Look up BHT for taken/not-taken prediction
	bhtIdx := bp.bhtIndex(rip)
	counter := bp.bht[bhtIdx]
	pred.Taken = counter >= 2 // Taken if counter is 2 or 3

	// Look up BTB for target address
	btbIdx := bp.btbIndex(rip)
	if bp.btbValid[btbIdx] && bp.btb[btbIdx].rip == rip {
		pred.Target = bp.btb[btbIdx].target
		pred.TargetKnown = true
		bp.stats.BTBHits++
	} else {
		bp.stats.BTBMisses++
	}

	bp.stats.Predictions++
	return pred
}

// Update updates the predictor with the actual branch outcome.
func (bp *BranchPredictor) Update(rip uint64, taken bool, target uint64) {
	// Update BHT
	bhtIdx := bp.bhtIndex(rip)
	counter := bp.bht[bhtIdx]

	// Check if prediction was correct
	predicted := counter >= 2
	if predicted == taken {
		bp.stats.Correct++
	} else {
		bp.stats.Mispredictions++
	}

	// Update 2-bit saturating counter
	if taken {
		if counter < 3 {
			bp.bht[bhtIdx] = counter + 1
		}
	} else {
		if counter > 0 {
			bp.bht[bhtIdx] = counter - 1
		}
	}

	// Update BTB if branch was taken
	if taken {
		btbIdx := bp.btbIndex(rip)
		bp.btb[btbIdx] = btbEntry{
			rip:    rip,
			target: target,
		}
		bp.btbValid[btbIdx] = true
	}
}

// Outcome is the resolved behavior of one executed branch.
type Outcome struct {
	RIP    uint64
	Taken  bool
	Target uint64

	// Indirect branches take their target from a register or memory, so a
	// taken indirect branch also needs the right BTB target.
	Indirect bool
}

// Resolve predicts the branch, trains the predictor with the outcome and
// reports whether the prediction was wrong.
func (bp *BranchPredictor) Resolve(o Outcome) bool {
	pred := bp.Predict(o.RIP)

	mispredicted := pred.Taken != o.Taken
	if o.Indirect && o.Taken && (!pred.TargetKnown || pred.Target != o.Target) {
		bp.stats.TargetMispredictions++
		mispredicted = true
	}

	bp.Update(o.RIP, o.Taken, o.Target)
	return mispredicted
}

// Stats returns the branch predictor statistics.
func (bp *BranchPredictor) Stats() BranchPredictorStats {
	return bp.stats
}

// Reset clears all predictor state and statistics.
func (bp *BranchPredictor) Reset() {
	// Reset BHT to weakly taken
	for i := range bp.bht {
		bp.bht[i] = 2
	}

	// Clear BTB
	for i := range bp.btbValid {
		bp.btbValid[i] = false
	}

	// Clear statistics
	bp.stats = BranchPredictorStats{}
}
