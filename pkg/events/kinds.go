// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package events

// Level is an event severity. Ordering is significant.
type Level uint8

// Levels
const (
	LevelNone Level = iota
	LevelInfo
	LevelWarning
	LevelCritical
	LevelFatal
)

func (l Level) String() string {
	switch l {
	case LevelNone:
		return "NONE"
	case LevelInfo:
		return "INFO"
	case LevelWarning:
		return "WARNING"
	case LevelCritical:
		return "CRITICAL"
	case LevelFatal:
		return "FATAL"
	}
	return "UNKNOWN"
}

// Kind identifies one slot of the event table
type Kind uint16

// Event kinds
const (
	CellVoltageStale Kind = iota
	CellVoltageHighSoft
	CellVoltageHighHard
	CellVoltageLowSoft
	CellVoltageLowHard

	TemperatureStale
	TemperatureHighSoft
	TemperatureHighHard
	TemperatureLowSoft
	TemperatureLowHard

	CurrentStale
	ChargeCurrentSoft
	ChargeCurrentHard
	DischargeCurrentSoft
	DischargeCurrentHard

	ContactorSenseStale
	NegContactorStuckClosed
	NegContactorStuckOpen
	PosContactorStuckClosed
	PosContactorStuckOpen
	PrechargeTimeout
	SelfTestTimeout

	ModuleCRCFailure
	ModuleReadFailure
	HostLinkCRCFailure

	CalibrationFailed
	Uncalibrated
	TickOverrun

	KindCount
)

// Definition describes how a kind is leveled and escalated.
type Definition struct {
	Name  string
	Level Level
	// Repeating kinds bump their count on every raise, not only on the
	// clear-to-active edge.
	Repeating bool
	// CountLeeway is the number of occurrences a WARNING kind tolerates
	// before escalating to FATAL. 0 disables count escalation.
	CountLeeway uint16
	// TimeLeeway is how many deciseconds a CRITICAL kind may stay active
	// before escalating to FATAL. 0 disables time escalation.
	TimeLeeway uint32
}

// DefaultDefinitions returns the built-in event table. Leeways are
// overridden from configuration.
func DefaultDefinitions() [KindCount]Definition {
	return [KindCount]Definition{
		CellVoltageStale:    {Name: "cell_voltage_stale", Level: LevelCritical, TimeLeeway: 100},
		CellVoltageHighSoft: {Name: "cell_voltage_high_soft", Level: LevelWarning},
		CellVoltageHighHard: {Name: "cell_voltage_high_hard", Level: LevelCritical, TimeLeeway: 50},
		CellVoltageLowSoft:  {Name: "cell_voltage_low_soft", Level: LevelWarning},
		CellVoltageLowHard:  {Name: "cell_voltage_low_hard", Level: LevelCritical, TimeLeeway: 50},

		TemperatureStale:    {Name: "temperature_stale", Level: LevelCritical, TimeLeeway: 300},
		TemperatureHighSoft: {Name: "temperature_high_soft", Level: LevelWarning},
		TemperatureHighHard: {Name: "temperature_high_hard", Level: LevelCritical, TimeLeeway: 100},
		TemperatureLowSoft:  {Name: "temperature_low_soft", Level: LevelWarning},
		TemperatureLowHard:  {Name: "temperature_low_hard", Level: LevelCritical, TimeLeeway: 100},

		CurrentStale:         {Name: "current_stale", Level: LevelCritical, TimeLeeway: 50},
		ChargeCurrentSoft:    {Name: "charge_current_soft", Level: LevelWarning},
		ChargeCurrentHard:    {Name: "charge_current_hard", Level: LevelCritical, TimeLeeway: 20},
		DischargeCurrentSoft: {Name: "discharge_current_soft", Level: LevelWarning},
		DischargeCurrentHard: {Name: "discharge_current_hard", Level: LevelCritical, TimeLeeway: 20},

		ContactorSenseStale:     {Name: "contactor_sense_stale", Level: LevelCritical, TimeLeeway: 100},
		NegContactorStuckClosed: {Name: "neg_contactor_stuck_closed", Level: LevelCritical, TimeLeeway: 600},
		NegContactorStuckOpen:   {Name: "neg_contactor_stuck_open", Level: LevelCritical, TimeLeeway: 600},
		PosContactorStuckClosed: {Name: "pos_contactor_stuck_closed", Level: LevelCritical, TimeLeeway: 600},
		PosContactorStuckOpen:   {Name: "pos_contactor_stuck_open", Level: LevelCritical, TimeLeeway: 600},
		PrechargeTimeout:        {Name: "precharge_timeout", Level: LevelWarning, CountLeeway: 5},
		SelfTestTimeout:         {Name: "self_test_timeout", Level: LevelWarning, CountLeeway: 5},

		ModuleCRCFailure:   {Name: "module_crc_failure", Level: LevelInfo, Repeating: true},
		ModuleReadFailure:  {Name: "module_read_failure", Level: LevelInfo, Repeating: true},
		HostLinkCRCFailure: {Name: "hostlink_crc_failure", Level: LevelInfo, Repeating: true},

		CalibrationFailed: {Name: "calibration_failed", Level: LevelWarning, CountLeeway: 3},
		Uncalibrated:      {Name: "uncalibrated", Level: LevelInfo},
		TickOverrun:       {Name: "tick_overrun", Level: LevelInfo, Repeating: true},
	}
}

// KindByName looks up a kind from its definition name
func KindByName(defs *[KindCount]Definition, name string) (Kind, bool) {
	for k := range defs {
		if defs[k].Name == name {
			return Kind(k), true
		}
	}
	return 0, false
}
