// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package model defines the shared snapshot written by sensors and read by
// every decision component.
//
// Each field is written by exactly one component per tick phase; the model
// carries no locks. Every measured value travels with the millisecond
// timestamp of its last update, where 0 means never populated.
package model

// Cell voltage sentinels. A stored 0 means no data has arrived yet.
const (
	CellNotMeasured  int16 = -1
	CellMeasuredZero int16 = 1
)

// ContactorRequest is the one-shot request consumed by the contactor machine
type ContactorRequest uint8

// Contactor requests
const (
	RequestNull ContactorRequest = iota
	RequestClose
	RequestOpen
	RequestForceOpen
	RequestCalibrate
)

func (r ContactorRequest) String() string {
	switch r {
	case RequestNull:
		return "NULL"
	case RequestClose:
		return "CLOSE"
	case RequestOpen:
		return "OPEN"
	case RequestForceOpen:
		return "FORCE_OPEN"
	case RequestCalibrate:
		return "CALIBRATE"
	}
	return "UNKNOWN"
}

// ContactorSense holds the voltages used to judge contactor positions.
// PosSenseMV is the output positive terminal against battery negative;
// NegSenseMV is battery positive against the output negative terminal.
type ContactorSense struct {
	BatteryMV  int32
	OutputMV   int32
	PosSenseMV int32
	NegSenseMV int32
	Timestamp  int64
}

// AnalogSample is one uncalibrated read of the analog front end
type AnalogSample struct {
	CurrentMA  int32
	BatteryMV  int32
	OutputMV   int32
	PosSenseMV int32
	NegSenseMV int32
}

// Model is the shared snapshot.
type Model struct {
	Layout *Layout

	// Cell telemetry, indexed by dense cell index
	CellVoltages   [MaxCells]int16
	CellVoltagesTs int64

	CellMinMV    int16
	CellMaxMV    int16
	CellTotalMV  int32
	CellMinIndex int
	CellMaxIndex int
	CellStatsTs  int64

	// Module temperatures in deci-degrees Celsius
	ModuleTemps   [MaxModules]int16
	ModuleTempsOK [MaxModules]bool
	TempMinDC     int16
	TempMaxDC     int16
	TempsTs       int64

	// Calibrated pack current, positive when charging
	PackCurrentMA int32
	PackCurrentTs int64

	// Uncalibrated sensor readings, stamped with their calibrated
	// counterparts
	RawCurrentMA int32
	RawBatteryMV int32

	Contactor ContactorSense

	// Decision and actuation outputs
	ContactorRequest ContactorRequest
	EnableCurrent    bool
	BalanceMask      Mask
	BalancingActive  bool
	ChargeLimitMA    int32
	DischargeLimitMA int32
	SocPermille      int32
	SocTs            int64

	// Host-writable operating switches
	BalancingEnabled     bool
	PowerRequested       bool
	CalibrationRequested bool
}

// New creates an empty model over a layout
func New(layout *Layout) *Model {
	return &Model{Layout: layout}
}

// CellCount returns the number of populated cells
func (m *Model) CellCount() int {
	if m.Layout == nil {
		return 0
	}
	return m.Layout.CellCount()
}

// CellPresent reports whether dense index i refers to a populated cell
func (m *Model) CellPresent(i int) bool {
	return i >= 0 && i < m.CellCount()
}

// StoreCellVoltage records a measured cell voltage, mapping a true 0 mV
// reading to CellMeasuredZero so it cannot be confused with no data
func (m *Model) StoreCellVoltage(i int, mv int16) {
	if !m.CellPresent(i) {
		return
	}
	if mv == 0 {
		mv = CellMeasuredZero
	}
	m.CellVoltages[i] = mv
}

// MarkCellNotMeasured records that a cell could not be read this cycle
func (m *Model) MarkCellNotMeasured(i int) {
	if !m.CellPresent(i) {
		return
	}
	m.CellVoltages[i] = CellNotMeasured
}

// CellHasReading reports whether cell i holds a real measurement
func (m *Model) CellHasReading(i int) bool {
	return m.CellPresent(i) && m.CellVoltages[i] > 0
}

// CellReading returns the voltage of cell i, converting the measured-zero
// sentinel back to 0. ok is false for absent or unmeasured cells.
func (m *Model) CellReading(i int) (mv int16, ok bool) {
	if !m.CellHasReading(i) {
		return 0, false
	}
	mv = m.CellVoltages[i]
	if mv == CellMeasuredZero {
		mv = 0
	}
	return mv, true
}

// Aggregate recomputes min/max/total cell voltage over present cells that
// hold a real reading. The aggregate timestamp only moves when at least one
// cell qualifies. Returns the number of cells aggregated.
func (m *Model) Aggregate(now int64) int {
	n := 0
	var total int32
	var lo, hi int16
	loIdx, hiIdx := 0, 0
	for i := 0; i < m.CellCount(); i++ {
		mv, ok := m.CellReading(i)
		if !ok {
			continue
		}
		if n == 0 || mv < lo {
			lo, loIdx = mv, i
		}
		if n == 0 || mv > hi {
			hi, hiIdx = mv, i
		}
		total += int32(mv)
		n++
	}
	if n == 0 {
		return 0
	}
	m.CellMinMV, m.CellMaxMV, m.CellTotalMV = lo, hi, total
	m.CellMinIndex, m.CellMaxIndex = loIdx, hiIdx
	m.CellStatsTs = now
	return n
}

// AggregateTemps recomputes the temperature extremes over modules that
// reported a valid reading
func (m *Model) AggregateTemps() int {
	n := 0
	for i := 0; i < MaxModules; i++ {
		if !m.ModuleTempsOK[i] {
			continue
		}
		t := m.ModuleTemps[i]
		if n == 0 || t < m.TempMinDC {
			m.TempMinDC = t
		}
		if n == 0 || t > m.TempMaxDC {
			m.TempMaxDC = t
		}
		n++
	}
	return n
}

// Fresh reports whether a timestamp is populated and no older than maxAgeMs
func Fresh(ts, now, maxAgeMs int64) bool {
	return ts != 0 && now-ts <= maxAgeMs
}

// Populated reports whether a timestamp was ever written
func Populated(ts int64) bool {
	return ts != 0
}
