package rules

import (
	"gonum.org/v1/gonum/spatial/r3"

	"cancerimmune.bio/internal/sim/model"
)

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

// OncoproteinScale maps a target's oncoprotein into [0,1] between threshold and saturation.
func OncoproteinScale(p model.AttackParams, oncoprotein float64) float64 {
	diff := p.OncoproteinSaturation - p.OncoproteinThreshold
	if diff <= 0 {
		if oncoprotein >= p.OncoproteinSaturation {
			return 1
		}
		return 0
	}
	return clamp01((oncoprotein - p.OncoproteinThreshold) / diff)
}

// DistanceScale is 1 at or inside the minimum attachment distance and 0 at the maximum.
func DistanceScale(p model.AttackParams, distance float64) float64 {
	diff := p.MaxAttachmentDistance - p.MinAttachmentDistance
	if diff <= 0 {
		if distance <= p.MaxAttachmentDistance {
			return 1
		}
		return 0
	}
	return clamp01((p.MaxAttachmentDistance - distance) / diff)
}

// AttachmentProbability is the per-step docking probability; values above 1 mean certain attachment.
func AttachmentProbability(p model.AttackParams, oncoprotein, distance, dt float64) float64 {
	if distance > p.MaxAttachmentDistance {
		return 0
	}
	return p.AttachmentRate * OncoproteinScale(p, oncoprotein) * DistanceScale(p, distance) * dt
}

// AttemptAttachment tries to dock attacker onto target and reports whether the
// pair is attached afterwards.
func AttemptAttachment(env model.Env, attacker, target *model.Cell, dt float64) bool {
	if target == attacker || target.Dead() {
		return false
	}
	p := attacker.Type.Attack
	if target.Oncoprotein <= p.OncoproteinThreshold {
		return false
	}
	distance := r3.Norm(r3.Sub(target.Pos, attacker.Pos))
	if distance > p.MaxAttachmentDistance {
		return false
	}
	prob := AttachmentProbability(p, target.Oncoprotein, distance, dt)
	if prob <= 0 {
		return false
	}
	if env.Uniform() >= prob {
		return false
	}
	env.Attach(attacker, target)
	partner, ok := env.Partner(attacker)
	return ok && partner == target
}

// CheckNeighborsForAttachment scans nearby cells and returns the first one docked onto.
func CheckNeighborsForAttachment(env model.Env, attacker *model.Cell, dt float64) *model.Cell {
	for _, c := range env.Neighbors(attacker) {
		if c == attacker {
			continue
		}
		if AttemptAttachment(env, attacker, c, dt) {
			return c
		}
	}
	return nil
}

// AttemptApoptosis reports whether this step's kill draw succeeds against target.
// A protected (PDL1 0) target always survives; surviving a successful draw
// confirms the protected state and never reverts it.
func AttemptApoptosis(env model.Env, attacker, target *model.Cell, dt float64) bool {
	p := attacker.Type.Attack
	if target.Oncoprotein < p.OncoproteinThreshold {
		return false
	}
	scale := OncoproteinScale(p, target.Oncoprotein)
	if env.Uniform() >= p.KillRate*scale*dt {
		return false
	}
	if target.PDL1 != model.PDL1Killable {
		target.PDL1 = model.PDL1Protected
		return false
	}
	return true
}

// TriggerApoptosis starts apoptosis on target unless it is already dead.
func TriggerApoptosis(env model.Env, target *model.Cell) bool {
	if target.Dead() {
		return false
	}
	return env.StartDeath(target, model.DeathApoptosis)
}
