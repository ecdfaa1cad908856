package model

type Capability uint8

const (
	CapPhenotype Capability = 1 << iota
	CapCustomRule
	CapMotility
	CapContact
)

type PhenotypeUpdater interface {
	UpdatePhenotype(env Env, c *Cell, dt float64)
}

type CustomRuler interface {
	CustomRule(env Env, c *Cell, dt float64)
}

type MotilityBiaser interface {
	UpdateMigrationBias(env Env, c *Cell, dt float64)
}

// ContactHandler runs once per attached pair per side.
type ContactHandler interface {
	Contact(env Env, actingOn, attachedTo *Cell, dt float64)
}

func CapabilitiesOf(b any) Capability {
	var caps Capability
	if b == nil {
		return caps
	}
	if _, ok := b.(PhenotypeUpdater); ok {
		caps |= CapPhenotype
	}
	if _, ok := b.(CustomRuler); ok {
		caps |= CapCustomRule
	}
	if _, ok := b.(MotilityBiaser); ok {
		caps |= CapMotility
	}
	if _, ok := b.(ContactHandler); ok {
		caps |= CapContact
	}
	return caps
}
