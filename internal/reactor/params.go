// Package reactor specializes the composite hierarchy into a reactor model:
// the framework parameter set, construction from a blueprint, lookups by
// lattice position and the fuel management moves built on the structural
// primitives.
package reactor

import (
	"reactorstate/internal/param"
)

const (
	ParamPower          = "power"
	ParamFlux           = "flux"
	ParamTemperature    = "temperature"
	ParamBurnup         = "burnup"
	ParamHeavyMetalMass = "heavyMetalMass"
	ParamDischargeCycle = "dischargeCycle"
	ParamScratchTally   = "scratchTally"
)

// DefaultDefinitions are the parameters every reactor model carries.
// Solvers register their own on top.
func DefaultDefinitions() []param.Definition {
	zero := param.Float(0)
	return []param.Definition{
		{Name: ParamPower, Type: param.TypeFloat, Rule: param.RuleSum, Persist: true, Units: "W", Description: "thermal power"},
		{Name: ParamFlux, Type: param.TypeFloat, Rule: param.RuleMax, Persist: true, Units: "n/cm^2/s", Description: "peak total flux"},
		{Name: ParamTemperature, Type: param.TypeFloat, Rule: param.RuleMean, Persist: true, Default: &zero, Units: "C"},
		{Name: ParamBurnup, Type: param.TypeFloat, Rule: param.RuleMean, Persist: true, Units: "%FIMA"},
		{Name: ParamHeavyMetalMass, Type: param.TypeFloat, Rule: param.RuleSum, Persist: true, Units: "g"},
		{Name: ParamDischargeCycle, Type: param.TypeInt, Persist: true, Description: "cycle in which the object left the core"},
		{Name: ParamScratchTally, Type: param.TypeFloat, Rule: param.RuleSum, Description: "solver scratch space, never persisted"},
	}
}

// NewRegistry returns a registry holding the defaults followed by extra.
func NewRegistry(extra ...param.Definition) (*param.Registry, error) {
	reg := param.NewRegistry()
	if err := reg.RegisterAll(DefaultDefinitions()...); err != nil {
		return nil, err
	}
	if err := reg.RegisterAll(extra...); err != nil {
		return nil, err
	}
	return reg, nil
}
