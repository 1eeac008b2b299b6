package service

import (
	"fmt"
	"math"

	"github.com/berfenger/aggbatt2mqtt/internal/core/domain"
	"github.com/berfenger/aggbatt2mqtt/internal/core/port"
	"go.uber.org/zap"
)

type BatterySource struct {
	Name   string
	Source string
	// optional shunt measuring this battery alone
	Shunt string
}

// ExternalCurrentSources replace the total BMS current by the current
// measured by the inverter, the solar chargers and the shunts.
type ExternalCurrentSources struct {
	Multi              string
	MPPTs              []string
	BatteryShunts      []string
	DCLoadShunts       []string
	InvertShunts       bool
	IgnoreShuntAbsence bool
}

type Aggregator struct {
	Batteries           []BatterySource
	CellsPerBattery     int
	OwnSoC              bool
	OwnChargeParameters bool
	ReadCellVoltages    bool
	MaxCellVoltage      float64
	External            *ExternalCurrentSources
	Cache               port.ReadCache
	Logger              *zap.Logger

	multiConnected bool
}

// Read builds the virtual battery from the cache. Any missing required value
// aborts the whole read with a domain.ReadError.
func (a *Aggregator) Read() (domain.AggregateReading, error) {
	readings := make([]domain.BatterySourceReading, 0, len(a.Batteries))
	for _, b := range a.Batteries {
		r, err := a.ReadSource(b)
		if err != nil {
			return domain.AggregateReading{}, err
		}
		readings = append(readings, r)
	}

	agg, err := a.Aggregate(readings)
	if err != nil {
		return domain.AggregateReading{}, err
	}

	if a.External != nil {
		if err := a.applyExternalCurrent(&agg); err != nil {
			return domain.AggregateReading{}, err
		}
	}
	return agg, nil
}

func (a *Aggregator) ReadSource(b BatterySource) (domain.BatterySourceReading, error) {
	r := newSourceReader(a.Cache, b.Name, b.Source)
	reading := domain.BatterySourceReading{
		Name:   b.Name,
		Source: b.Source,
	}

	r.step = "read V, I, P"
	reading.Voltage = r.float("/Dc/0/Voltage")
	reading.Current = r.float("/Dc/0/Current")
	reading.Power = r.float("/Dc/0/Power")

	r.step = "read capacity, SoC, time to go"
	reading.InstalledCapacity = r.float("/InstalledCapacity")
	if a.OwnSoC {
		reading.Soc = r.optionalFloat("/Soc")
	} else {
		soc := r.float("/Soc")
		capacity := r.float("/Capacity")
		consumed := r.float("/ConsumedAmphours")
		reading.Soc, reading.Capacity, reading.ConsumedAmphours = &soc, &capacity, &consumed
		reading.TimeToGo = r.optionalFloat("/TimeToGo")
	}

	r.step = "read temperatures"
	reading.Temperature = r.float("/Dc/0/Temperature")
	reading.MaxCellTemperature = r.optionalFloat("/System/MaxCellTemperature")
	reading.MinCellTemperature = r.optionalFloat("/System/MinCellTemperature")

	r.step = "read max and min cell voltages and voltage sum"
	reading.MaxCellVoltage = r.float("/System/MaxCellVoltage")
	reading.MaxCellId = domain.CellRef{Battery: b.Name, Cell: r.text("/System/MaxVoltageCellId")}
	reading.MinCellVoltage = r.float("/System/MinCellVoltage")
	reading.MinCellId = domain.CellRef{Battery: b.Name, Cell: r.text("/System/MinVoltageCellId")}
	reading.VoltagesSum = r.float("/Voltages/Sum")

	r.step = "read battery state"
	reading.NrOfCellsPerBattery = r.integer("/System/NrOfCellsPerBattery")
	reading.NrOfModulesOnline = r.integer("/System/NrOfModulesOnline")
	reading.NrOfModulesOffline = r.integer("/System/NrOfModulesOffline")
	reading.NrOfModulesBlockingCharge = r.integer("/System/NrOfModulesBlockingCharge")
	reading.NrOfModulesBlockingDischarge = r.integer("/System/NrOfModulesBlockingDischarge")

	if a.OwnChargeParameters || a.ReadCellVoltages {
		r.step = "read cell voltages"
		reading.CellVoltages = make([]float64, a.CellsPerBattery)
		for i := range reading.CellVoltages {
			reading.CellVoltages[i] = r.float(cellPath(i))
		}
	}

	r.step = "read alarms"
	for al := domain.Alarm(0); al < domain.AlarmCount; al++ {
		reading.Alarms[al] = r.optionalInt(al.Path())
	}

	if !a.OwnChargeParameters {
		r.step = "read charge parameters"
		reading.Limits = &domain.SourceChargeLimits{
			MaxChargeCurrent:    r.float("/Info/MaxChargeCurrent"),
			MaxDischargeCurrent: r.float("/Info/MaxDischargeCurrent"),
			MaxChargeVoltage:    r.float("/Info/MaxChargeVoltage"),
			ChargeMode:          r.optionalText("/Info/ChargeMode"),
		}
	}

	r.step = "read allow to"
	reading.AllowToCharge = r.optionalInt("/Io/AllowToCharge")
	reading.AllowToDischarge = r.optionalInt("/Io/AllowToDischarge")
	reading.AllowToBalance = r.optionalInt("/Io/AllowToBalance")

	if r.err != nil {
		return reading, r.err
	}

	if b.Shunt != "" {
		a.applyShunt(b, &reading)
	}
	return reading, nil
}

func (a *Aggregator) applyShunt(b BatterySource, reading *domain.BatterySourceReading) {
	r := newSourceReader(a.Cache, b.Name, b.Shunt)
	voltage := r.optionalFloat("/Dc/0/Voltage")
	current := r.optionalFloat("/Dc/0/Current")
	if voltage == nil || current == nil {
		a.Logger.Debug("shunt value unavailable, using BMS values",
			zap.String("battery", b.Name), zap.String("shunt", b.Shunt))
		return
	}
	domain.ShuntOverride{Voltage: *voltage, Current: *current}.Apply(reading)
}

// Aggregate reduces the readings of all batteries to the virtual battery.
func (a *Aggregator) Aggregate(readings []domain.BatterySourceReading) (domain.AggregateReading, error) {
	if len(readings) == 0 {
		return domain.AggregateReading{}, domain.ConfigError{Reason: "no batteries configured"}
	}

	agg := domain.AggregateReading{
		Batteries:           len(readings),
		NrOfCellsPerBattery: readings[0].NrOfCellsPerBattery,
	}
	n := float64(len(readings))

	var (
		socSum, ttgSum, capacity, consumed float64
		missingSoc, missingCapacity        bool
		missingTTG                         bool
		maxIdx, minIdx                     int
	)

	for i, r := range readings {
		if r.NrOfCellsPerBattery != a.CellsPerBattery {
			return domain.AggregateReading{}, domain.ConfigError{
				Reason: fmt.Sprintf("battery %s reports %d cells, expected %d", r.Name, r.NrOfCellsPerBattery, a.CellsPerBattery),
			}
		}

		agg.Voltage += r.Voltage
		agg.Current += r.Current
		agg.Power += r.Power
		agg.Temperature += r.Temperature
		agg.VoltagesSum += r.VoltagesSum
		agg.InstalledCapacity += r.InstalledCapacity

		if r.Capacity != nil && r.ConsumedAmphours != nil {
			capacity += *r.Capacity
			consumed += *r.ConsumedAmphours
		} else {
			missingCapacity = true
		}
		if r.Soc != nil {
			socSum += *r.Soc * r.InstalledCapacity
		} else {
			missingSoc = true
		}
		if r.TimeToGo != nil {
			ttgSum += *r.TimeToGo * r.InstalledCapacity
		} else {
			missingTTG = true
		}

		agg.MaxCellTemperature = maxOptional(agg.MaxCellTemperature, r.MaxCellTemperature)
		agg.MinCellTemperature = minOptional(agg.MinCellTemperature, r.MinCellTemperature)

		if r.MaxCellVoltage > readings[maxIdx].MaxCellVoltage {
			maxIdx = i
		}
		if r.MinCellVoltage < readings[minIdx].MinCellVoltage {
			minIdx = i
		}

		agg.NrOfModulesOnline += r.NrOfModulesOnline
		agg.NrOfModulesOffline += r.NrOfModulesOffline
		agg.NrOfModulesBlockingCharge += r.NrOfModulesBlockingCharge
		agg.NrOfModulesBlockingDischarge += r.NrOfModulesBlockingDischarge

		agg.Alarms = agg.Alarms.Worst(r.Alarms)

		agg.AllowToCharge = minOptionalInt(agg.AllowToCharge, r.AllowToCharge)
		agg.AllowToDischarge = minOptionalInt(agg.AllowToDischarge, r.AllowToDischarge)
		agg.AllowToBalance = minOptionalInt(agg.AllowToBalance, r.AllowToBalance)

		if r.CellVoltages != nil {
			overvoltage := 0.0
			for j, v := range r.CellVoltages {
				if v > a.MaxCellVoltage {
					overvoltage += v - a.MaxCellVoltage
				}
				agg.CellVoltages = append(agg.CellVoltages, domain.CellVoltage{
					Cell:    domain.CellRef{Battery: r.Name, Cell: fmt.Sprintf("Cell%d", j+1)},
					Voltage: v,
				})
			}
			agg.ReducedChargeVoltages = append(agg.ReducedChargeVoltages, r.VoltagesSum-overvoltage)
		}
		if r.Limits != nil {
			agg.SourceLimits = append(agg.SourceLimits, *r.Limits)
		}
	}

	agg.Voltage /= n
	agg.Temperature /= n
	agg.VoltagesSum /= n

	agg.MaxCellVoltage = readings[maxIdx].MaxCellVoltage
	agg.MaxCellId = readings[maxIdx].MaxCellId
	agg.MinCellVoltage = readings[minIdx].MinCellVoltage
	agg.MinCellId = readings[minIdx].MinCellId

	// capacity weighted, replaced later when the charge is counted locally
	if !missingSoc && agg.InstalledCapacity > 0 {
		soc := socSum / agg.InstalledCapacity
		agg.Soc = &soc
		if !missingTTG {
			ttg := ttgSum / agg.InstalledCapacity
			agg.TimeToGo = &ttg
		}
	}
	if !missingCapacity {
		agg.Capacity = &capacity
		agg.ConsumedAmphours = &consumed
	}

	return agg, nil
}

func (a *Aggregator) applyExternalCurrent(agg *domain.AggregateReading) error {
	current, ok := a.inverterCurrent()

	shunts, err := a.shuntCurrent()
	if err != nil {
		a.Logger.Error("error during shunt polling", zap.Error(err))
		if !a.External.IgnoreShuntAbsence {
			return err
		}
		ok = false
	}

	if !ok {
		a.Logger.Error("external current reading error, using BMS current and power instead")
		return nil
	}

	if a.External.InvertShunts {
		current -= shunts
	} else {
		current += shunts
	}
	agg.Current = current
	agg.Power = agg.Voltage * current
	agg.ExternalCurrent = true
	return nil
}

// inverterCurrent sums the DC current of the Multi (only when connected) and
// of every MPPT.
func (a *Aggregator) inverterCurrent() (float64, bool) {
	var total float64
	ext := a.External

	if ext.Multi != "" {
		r := newSourceReader(a.Cache, ext.Multi, ext.Multi)
		connected := r.optionalFloat("/Connected")
		if connected == nil {
			a.Logger.Debug("multi connection state unavailable", zap.String("source", ext.Multi))
			return 0, false
		}
		if *connected > 0 {
			current := r.optionalFloat("/Dc/0/Current")
			if current == nil {
				a.Logger.Debug("multi current unavailable", zap.String("source", ext.Multi))
				return 0, false
			}
			total = *current
			if !a.multiConnected {
				a.Logger.Info("multi is connected", zap.String("source", ext.Multi))
			}
			a.multiConnected = true
		} else {
			if a.multiConnected {
				a.Logger.Info("multi is not connected", zap.String("source", ext.Multi))
			}
			a.multiConnected = false
		}
	}

	for _, mppt := range ext.MPPTs {
		current := newSourceReader(a.Cache, mppt, mppt).optionalFloat("/Dc/0/Current")
		if current == nil {
			a.Logger.Debug("MPPT current unavailable", zap.String("source", mppt))
			return 0, false
		}
		total += *current
	}
	return total, true
}

// shuntCurrent adds battery shunts and subtracts DC load shunts.
func (a *Aggregator) shuntCurrent() (float64, error) {
	var total float64
	read := func(source string) (float64, error) {
		r := newSourceReader(a.Cache, source, source)
		r.step = "read shunt current"
		v := r.float("/Dc/0/Current")
		return v, r.err
	}
	for _, s := range a.External.BatteryShunts {
		v, err := read(s)
		if err != nil {
			return 0, err
		}
		total += v
	}
	for _, s := range a.External.DCLoadShunts {
		v, err := read(s)
		if err != nil {
			return 0, err
		}
		total -= v
	}
	return total, nil
}

func (a *Aggregator) MultiConnected() bool {
	return a.multiConnected
}

func maxOptional(acc, v *float64) *float64 {
	if v == nil {
		return acc
	}
	if acc == nil || *v > *acc {
		x := *v
		return &x
	}
	return acc
}

func minOptional(acc, v *float64) *float64 {
	if v == nil {
		return acc
	}
	if acc == nil || *v < *acc {
		x := *v
		return &x
	}
	return acc
}

func minOptionalInt(acc, v *int) *int {
	if v == nil {
		return acc
	}
	if acc == nil || *v < *acc {
		x := *v
		return &x
	}
	return acc
}

func roundTo(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}
