package service

import (
	"errors"
	"fmt"

	"github.com/berfenger/aggbatt2mqtt/internal/core/domain"
	"go.uber.org/zap"
)

const (
	MIN_CELL_V  = 1.9
	MAX_CELL_V  = 2.5
	BALANCING_V = 2.45
	CELLS       = 22
)

type cacheWrite struct {
	source string
	path   string
	value  any
}

type memoryCache struct {
	values map[string]map[string]any
	writes []cacheWrite
}

func newMemoryCache() *memoryCache {
	return &memoryCache{values: map[string]map[string]any{}}
}

func (c *memoryCache) Get(source, path string) (any, bool) {
	v, ok := c.values[source][path]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

func (c *memoryCache) Set(source, path string, value any) error {
	c.put(source, path, value)
	c.writes = append(c.writes, cacheWrite{source: source, path: path, value: value})
	return nil
}

func (c *memoryCache) put(source, path string, value any) {
	if c.values[source] == nil {
		c.values[source] = map[string]any{}
	}
	c.values[source][path] = value
}

func (c *memoryCache) delete(source, path string) {
	delete(c.values[source], path)
}

// putBattery fills every path a BMS publishes. The highest cell is the last
// one, the lowest the first one.
func (c *memoryCache) putBattery(source string, cells []float64, current, soc, installed float64) {
	sum, lo, hi := 0.0, cells[0], cells[0]
	for i, v := range cells {
		sum += v
		lo = min(lo, v)
		hi = max(hi, v)
		c.put(source, cellPath(i), v)
	}
	c.put(source, "/Dc/0/Voltage", sum)
	c.put(source, "/Dc/0/Current", current)
	c.put(source, "/Dc/0/Power", sum*current)
	c.put(source, "/Dc/0/Temperature", 20.0)
	c.put(source, "/InstalledCapacity", installed)
	c.put(source, "/Soc", soc)
	c.put(source, "/Capacity", installed*soc/100)
	c.put(source, "/ConsumedAmphours", installed-installed*soc/100)
	c.put(source, "/TimeToGo", nil)
	c.put(source, "/System/MaxCellTemperature", 21.0)
	c.put(source, "/System/MinCellTemperature", 19.0)
	c.put(source, "/System/MaxCellVoltage", hi)
	c.put(source, "/System/MaxVoltageCellId", fmt.Sprintf("C%d", len(cells)))
	c.put(source, "/System/MinCellVoltage", lo)
	c.put(source, "/System/MinVoltageCellId", "C1")
	c.put(source, "/Voltages/Sum", sum)
	c.put(source, "/System/NrOfCellsPerBattery", len(cells))
	c.put(source, "/System/NrOfModulesOnline", 1)
	c.put(source, "/System/NrOfModulesOffline", 0)
	c.put(source, "/System/NrOfModulesBlockingCharge", 0)
	c.put(source, "/System/NrOfModulesBlockingDischarge", 0)
	for al := domain.Alarm(0); al < domain.AlarmCount; al++ {
		c.put(source, al.Path(), 0)
	}
	c.put(source, "/Info/MaxChargeCurrent", 100.0)
	c.put(source, "/Info/MaxDischargeCurrent", 150.0)
	c.put(source, "/Info/MaxChargeVoltage", sum)
	c.put(source, "/Info/ChargeMode", "Bulk")
	c.put(source, "/Io/AllowToCharge", 1)
	c.put(source, "/Io/AllowToDischarge", 1)
	c.put(source, "/Io/AllowToBalance", 1)
}

// uniformCells returns CELLS cells at v, the last one at top.
func uniformCells(v, top float64) []float64 {
	cells := make([]float64, CELLS)
	for i := range cells {
		cells[i] = v
	}
	cells[CELLS-1] = top
	return cells
}

type memoryPersistence struct {
	charge     *float64
	day        *int
	chargeSave int
	daySave    int
	failLoad   bool
}

func (p *memoryPersistence) LoadCharge() (float64, error) {
	if p.failLoad {
		return 0, errors.New("disk unreadable")
	}
	if p.charge == nil {
		return 0, domain.ErrNotStored
	}
	return *p.charge, nil
}

func (p *memoryPersistence) SaveCharge(charge float64) error {
	p.charge = &charge
	p.chargeSave++
	return nil
}

func (p *memoryPersistence) LoadLastBalancingDay() (int, error) {
	if p.day == nil {
		return 0, domain.ErrNotStored
	}
	return *p.day, nil
}

func (p *memoryPersistence) SaveLastBalancingDay(day int) error {
	p.day = &day
	p.daySave++
	return nil
}

type recordingPublisher struct {
	results []domain.TickResult
}

func (p *recordingPublisher) Publish(result domain.TickResult) error {
	p.results = append(p.results, result)
	return nil
}

func testSettings(batteries ...string) Settings {
	s := Settings{
		NrOfBatteries:           len(batteries),
		CellsPerBattery:         CELLS,
		BalancingVoltage:        BALANCING_V,
		BalancingRepetitionDays: 10,
		ChargeVoltageList:       []float64{2.45, 2.45, 2.42, 2.40, 2.40, 2.35, 2.35, 2.35, 2.40, 2.42, 2.45, 2.45},
		MaxCellVoltage:          MAX_CELL_V,
		MinCellVoltage:          MIN_CELL_V,
		MinCellHysteresis:       0.3,
		CellDiffMax:             0.015,
		BatteryEfficiency:       0.98,
		ChargeSavePrecision:     0.0025,
		MaxChargeCurrent:        300,
		MaxDischargeCurrent:     200,
		OwnSoC:                  true,
		OwnChargeParameters:     true,
		ZeroSoC:                 true,
		MaxCellVoltageSoCFull:   2.45,
		MinCellVoltageSoCEmpty:  1.95,
		ReadTrials:              10,
		SettingsSource:          "settings/0",
	}
	for _, b := range batteries {
		s.Batteries = append(s.Batteries, BatterySource{Name: b, Source: "battery/" + b})
	}
	return s
}

func testLogger() *zap.Logger {
	return zap.Must(zap.NewDevelopment())
}
