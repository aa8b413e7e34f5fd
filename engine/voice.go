package engine

import "github.com/chewxy/math32"

type envState uint8

const (
	envAttack envState = iota
	envDecay
	envSustain
	envRelease
)

// envelope levels below attackFloor are treated as silence; releaseFloor is
// where a releasing voice is freed back to the pool.
const (
	attackFloor  = 1e-3
	releaseFloor = 1e-4
)

// voice is one sounding note. All of its envelope coefficients are computed
// up front when the voice is triggered or released, so the render path is
// just multiplications.
type voice struct {
	active bool
	pitch  int
	gen    uint32
	seq    int64

	startSample int64
	state       envState
	level       float32
	velocity    float32
	sustain     float32

	attackRatio  float32
	decayRatio   float32
	releaseRatio float32

	releasePending bool
	releaseAt      int64 // engine sample time at which a deferred release fires

	vs VoiceState
}

// expRatio returns the per-sample multiplier that takes a level from "from"
// to "to" in n samples.
func expRatio(from, to float32, n int) float32 {
	if n <= 0 {
		return 0
	}
	return math32.Exp(math32.Log(to/from) / float32(n))
}

func (v *voice) trigger(pitch int, velocity float32, gen uint32, seq, now int64, cfg *samplesConfig) {
	if velocity < attackFloor {
		velocity = attackFloor
	}
	*v = voice{
		active:      true,
		pitch:       pitch,
		gen:         gen,
		seq:         seq,
		startSample: now,
		state:       envAttack,
		level:       attackFloor,
		velocity:    velocity,
		sustain:     velocity * cfg.sustainLevel,
		attackRatio: expRatio(attackFloor, velocity, cfg.attack),
		releaseAt:   -1,
	}
	if v.sustain < releaseFloor {
		v.sustain = releaseFloor
	}
	v.decayRatio = expRatio(velocity, v.sustain, cfg.decay)
}

// beginRelease snapshots the current envelope level and starts an
// exponential ramp to silence from there, avoiding a click no matter which
// envelope segment the voice was in.
func (v *voice) beginRelease(releaseSamples int) {
	v.releasePending = false
	if v.state == envRelease {
		return
	}
	if v.level <= releaseFloor {
		v.active = false
		return
	}
	v.state = envRelease
	v.releaseRatio = expRatio(v.level, releaseFloor, releaseSamples)
}

// stop silences the voice immediately, with no release tail.
func (v *voice) stop() {
	v.active = false
	v.level = 0
}

// applyEnvelope multiplies dst by the envelope, advancing the envelope state
// sample by sample. blockStart is the engine sample time of dst[0], used for
// deferred releases. Returns false once the voice has fully decayed.
func (v *voice) applyEnvelope(dst []float32, blockStart int64, releaseSamples int) bool {
	for i := range dst {
		if v.releasePending && blockStart+int64(i) >= v.releaseAt {
			v.beginRelease(releaseSamples)
			if !v.active {
				zeroTail(dst[i:])
				return false
			}
		}
		switch v.state {
		case envAttack:
			v.level *= v.attackRatio
			if v.level >= v.velocity {
				v.level = v.velocity
				v.state = envDecay
			}
		case envDecay:
			v.level *= v.decayRatio
			if v.level <= v.sustain {
				v.level = v.sustain
				v.state = envSustain
			}
		case envSustain:
			// held until release
		case envRelease:
			v.level *= v.releaseRatio
			if v.level <= releaseFloor {
				v.stop()
				zeroTail(dst[i:])
				return false
			}
		}
		dst[i] *= v.level
	}
	return true
}

func zeroTail(dst []float32) {
	for i := range dst {
		dst[i] = 0
	}
}
