package domain

import "time"

// CellRef identifies a single cell across all batteries of the bank.
type CellRef struct {
	Battery string
	Cell    string
}

func (c CellRef) String() string {
	if c.Battery == "" && c.Cell == "" {
		return ""
	}
	return c.Battery + "_" + c.Cell
}

// SourceChargeLimits are the limits a BMS publishes by itself. They are only
// read when the engine does not compute its own charge parameters.
type SourceChargeLimits struct {
	MaxChargeCurrent    float64
	MaxDischargeCurrent float64
	MaxChargeVoltage    float64
	ChargeMode          string
}

// BatterySourceReading is one snapshot of one BMS, built fresh every tick.
type BatterySourceReading struct {
	Name   string
	Source string

	Voltage float64
	Current float64
	Power   float64

	Soc               *float64
	Capacity          *float64
	InstalledCapacity float64
	ConsumedAmphours  *float64
	TimeToGo          *float64

	Temperature        float64
	MinCellTemperature *float64
	MaxCellTemperature *float64

	MinCellVoltage float64
	MinCellId      CellRef
	MaxCellVoltage float64
	MaxCellId      CellRef
	VoltagesSum    float64

	NrOfCellsPerBattery          int
	NrOfModulesOnline            int
	NrOfModulesOffline           int
	NrOfModulesBlockingCharge    int
	NrOfModulesBlockingDischarge int

	Alarms       Alarms
	CellVoltages []float64
	Limits       *SourceChargeLimits

	AllowToCharge    *int
	AllowToDischarge *int
	AllowToBalance   *int

	ShuntOverridden bool
}

// ShuntOverride is an independently measured voltage/current pair for a battery.
type ShuntOverride struct {
	Voltage float64
	Current float64
}

// Apply replaces voltage, current and power of the reading.
func (s ShuntOverride) Apply(r *BatterySourceReading) {
	r.Voltage = s.Voltage
	r.Current = s.Current
	r.Power = s.Voltage * s.Current
	r.ShuntOverridden = true
}

// CellVoltage is a single cell voltage tagged with its identity.
type CellVoltage struct {
	Cell    CellRef
	Voltage float64
}

// AggregateReading is the virtual battery built from all sources.
type AggregateReading struct {
	Batteries int

	Voltage     float64
	Current     float64
	Power       float64
	Temperature float64
	VoltagesSum float64

	Soc               *float64
	Capacity          *float64
	InstalledCapacity float64
	ConsumedAmphours  *float64
	TimeToGo          *float64

	MinCellTemperature *float64
	MaxCellTemperature *float64

	MinCellVoltage float64
	MinCellId      CellRef
	MaxCellVoltage float64
	MaxCellId      CellRef

	NrOfCellsPerBattery          int
	NrOfModulesOnline            int
	NrOfModulesOffline           int
	NrOfModulesBlockingCharge    int
	NrOfModulesBlockingDischarge int

	Alarms Alarms

	AllowToCharge    *int
	AllowToDischarge *int
	AllowToBalance   *int

	// per battery: sum of cell voltages minus the excess of every cell above
	// the max cell voltage
	ReducedChargeVoltages []float64
	SourceLimits          []SourceChargeLimits
	CellVoltages          []CellVoltage

	ExternalCurrent bool
}

// CellSpread is the difference between the highest and the lowest cell.
func (a AggregateReading) CellSpread() float64 {
	return a.MaxCellVoltage - a.MinCellVoltage
}

// ControlOutput is the contract published to chargers and inverters.
type ControlOutput struct {
	MaxChargeVoltage    float64
	MaxChargeCurrent    float64
	MaxDischargeCurrent float64
	AllowToCharge       *int
	AllowToDischarge    *int
	AllowToBalance      *int
}

// SameLimits compares the three numeric limits.
func (o ControlOutput) SameLimits(other ControlOutput) bool {
	return o.MaxChargeVoltage == other.MaxChargeVoltage &&
		o.MaxChargeCurrent == other.MaxChargeCurrent &&
		o.MaxDischargeCurrent == other.MaxDischargeCurrent
}

type TickResult struct {
	Time      time.Time
	Aggregate AggregateReading
	Output    ControlOutput
	State     EngineState
}
