package service

import (
	"testing"

	"github.com/berfenger/aggbatt2mqtt/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAggregator(cache *memoryCache, batteries ...string) *Aggregator {
	a := &Aggregator{
		CellsPerBattery:     CELLS,
		OwnSoC:              true,
		OwnChargeParameters: true,
		MaxCellVoltage:      MAX_CELL_V,
		Cache:               cache,
		Logger:              testLogger(),
	}
	for _, b := range batteries {
		a.Batteries = append(a.Batteries, BatterySource{Name: b, Source: "battery/" + b})
	}
	return a
}

func threeBatteries() *memoryCache {
	cache := newMemoryCache()
	cache.putBattery("battery/BAT1", uniformCells(2.30, 2.33), 10, 50, 200)
	cache.putBattery("battery/BAT2", uniformCells(2.28, 2.36), -4, 60, 200)
	cache.putBattery("battery/BAT3", uniformCells(2.25, 2.31), 2, 70, 100)
	return cache
}

func TestAggregateSumsAndAverages(t *testing.T) {

	require := require.New(t)
	assert := assert.New(t)

	agg, err := newTestAggregator(threeBatteries(), "BAT1", "BAT2", "BAT3").Read()
	require.NoError(err)

	assert.Equal(3, agg.Batteries)
	assert.InDelta(8.0, agg.Current, 1e-9)
	assert.InDelta(500.0, agg.InstalledCapacity, 1e-9)
	assert.InDelta((21*2.30+2.33+21*2.28+2.36+21*2.25+2.31)/3, agg.Voltage, 1e-9)
	assert.InDelta(20.0, agg.Temperature, 1e-9)
	assert.Equal(CELLS, agg.NrOfCellsPerBattery)
	assert.Equal(3, agg.NrOfModulesOnline)

	assert.Equal(2.36, agg.MaxCellVoltage)
	assert.Equal("BAT2_C22", agg.MaxCellId.String())
	assert.Equal(2.25, agg.MinCellVoltage)
	assert.Equal("BAT3_C1", agg.MinCellId.String())
	assert.InDelta(0.11, agg.CellSpread(), 1e-9)

	require.NotNil(agg.Soc)
	assert.InDelta((50*200+60*200+70*100)/500.0, *agg.Soc, 1e-9)
	assert.Nil(agg.TimeToGo, "no battery reports time to go")

	require.NotNil(agg.MaxCellTemperature)
	assert.Equal(21.0, *agg.MaxCellTemperature)

	// cell voltages are read in own charge parameters mode
	assert.Len(agg.CellVoltages, 3*CELLS)
	assert.Equal("BAT1_Cell1", agg.CellVoltages[0].Cell.String())
	assert.Len(agg.ReducedChargeVoltages, 3)
}

func TestAggregateIsCommutative(t *testing.T) {

	require := require.New(t)
	assert := assert.New(t)

	cache := threeBatteries()
	forward, err := newTestAggregator(cache, "BAT1", "BAT2", "BAT3").Read()
	require.NoError(err)
	backward, err := newTestAggregator(cache, "BAT3", "BAT1", "BAT2").Read()
	require.NoError(err)

	assert.InDelta(forward.Voltage, backward.Voltage, 1e-9)
	assert.InDelta(forward.Current, backward.Current, 1e-9)
	assert.InDelta(forward.Power, backward.Power, 1e-9)
	assert.InDelta(forward.InstalledCapacity, backward.InstalledCapacity, 1e-9)
	assert.InDelta(*forward.Soc, *backward.Soc, 1e-9)
	assert.Equal(forward.MaxCellVoltage, backward.MaxCellVoltage)
	assert.Equal(forward.MaxCellId, backward.MaxCellId)
	assert.Equal(forward.MinCellVoltage, backward.MinCellVoltage)
	assert.Equal(forward.MinCellId, backward.MinCellId)
	assert.Equal(forward.Alarms, backward.Alarms)
	assert.Equal(forward.NrOfModulesOnline, backward.NrOfModulesOnline)
}

func TestAggregateNullVoltageAbortsRead(t *testing.T) {

	require := require.New(t)
	assert := assert.New(t)

	cache := threeBatteries()
	cache.delete("battery/BAT2", "/Dc/0/Voltage")

	_, err := newTestAggregator(cache, "BAT1", "BAT2", "BAT3").Read()
	require.Error(err)

	var readErr domain.ReadError
	require.ErrorAs(err, &readErr)
	assert.Equal("BAT2", readErr.Battery)
	assert.Equal("read V, I, P", readErr.Step)
	assert.Equal("/Dc/0/Voltage", readErr.Path)
}

func TestAggregateCellCountMismatchIsConfigError(t *testing.T) {

	require := require.New(t)

	cache := threeBatteries()
	cache.put("battery/BAT3", "/System/NrOfCellsPerBattery", 16)

	_, err := newTestAggregator(cache, "BAT1", "BAT2", "BAT3").Read()
	require.Error(err)
	require.True(domain.IsConfigError(err))
	require.False(domain.IsReadError(err))
}

func TestAggregateWorstAlarmWins(t *testing.T) {

	require := require.New(t)
	assert := assert.New(t)

	cache := threeBatteries()
	cache.put("battery/BAT1", domain.AlarmHighVoltage.Path(), 1)
	cache.put("battery/BAT2", domain.AlarmHighVoltage.Path(), 2)
	cache.delete("battery/BAT3", domain.AlarmHighVoltage.Path())
	cache.delete("battery/BAT1", domain.AlarmBmsCable.Path())
	cache.delete("battery/BAT2", domain.AlarmBmsCable.Path())
	cache.delete("battery/BAT3", domain.AlarmBmsCable.Path())

	agg, err := newTestAggregator(cache, "BAT1", "BAT2", "BAT3").Read()
	require.NoError(err)

	require.NotNil(agg.Alarms[domain.AlarmHighVoltage])
	assert.Equal(2, *agg.Alarms[domain.AlarmHighVoltage])
	assert.Nil(agg.Alarms[domain.AlarmBmsCable], "alarm missing on every battery")
	require.NotNil(agg.Alarms[domain.AlarmLowVoltage])
	assert.Equal(0, *agg.Alarms[domain.AlarmLowVoltage])
}

func TestAggregateAllowToIsMostRestrictive(t *testing.T) {

	require := require.New(t)
	assert := assert.New(t)

	cache := threeBatteries()
	cache.put("battery/BAT2", "/Io/AllowToCharge", 0)
	cache.delete("battery/BAT3", "/Io/AllowToBalance")

	agg, err := newTestAggregator(cache, "BAT1", "BAT2", "BAT3").Read()
	require.NoError(err)

	assert.Equal(0, *agg.AllowToCharge)
	assert.Equal(1, *agg.AllowToDischarge)
	assert.Equal(1, *agg.AllowToBalance)
}

func TestAggregateReducedChargeVoltage(t *testing.T) {

	require := require.New(t)
	assert := assert.New(t)

	cache := newMemoryCache()
	cache.putBattery("battery/BAT1", uniformCells(2.40, 2.52), 20, 90, 200)
	cache.putBattery("battery/BAT2", uniformCells(2.40, 2.45), 20, 90, 200)

	agg, err := newTestAggregator(cache, "BAT1", "BAT2").Read()
	require.NoError(err)

	require.Len(agg.ReducedChargeVoltages, 2)
	assert.InDelta(21*2.40+2.52-0.02, agg.ReducedChargeVoltages[0], 1e-9, "excess removed per cell")
	assert.InDelta(21*2.40+2.45, agg.ReducedChargeVoltages[1], 1e-9)
}

func TestShuntOverride(t *testing.T) {

	require := require.New(t)
	assert := assert.New(t)

	cache := threeBatteries()
	cache.put("battery/278", "/Dc/0/Voltage", 51.2)
	cache.put("battery/278", "/Dc/0/Current", 12.5)

	a := newTestAggregator(cache, "BAT1", "BAT2", "BAT3")
	a.Batteries[0].Shunt = "battery/278"
	a.Batteries[1].Shunt = "battery/277" // not on the bus

	r, err := a.ReadSource(a.Batteries[0])
	require.NoError(err)
	assert.True(r.ShuntOverridden)
	assert.Equal(51.2, r.Voltage)
	assert.Equal(12.5, r.Current)
	assert.InDelta(51.2*12.5, r.Power, 1e-9)

	r, err = a.ReadSource(a.Batteries[1])
	require.NoError(err, "missing shunt falls back to BMS values")
	assert.False(r.ShuntOverridden)
	assert.Equal(-4.0, r.Current)

	// only one of the two values present
	cache.put("battery/277", "/Dc/0/Current", 3.0)
	r, err = a.ReadSource(a.Batteries[1])
	require.NoError(err)
	assert.False(r.ShuntOverridden)
}

func externalCache() *memoryCache {
	cache := threeBatteries()
	cache.put("vebus/276", "/Connected", 1)
	cache.put("vebus/276", "/Dc/0/Current", 30.0)
	cache.put("solarcharger/279", "/Dc/0/Current", 15.0)
	cache.put("solarcharger/280", "/Dc/0/Current", 5.0)
	cache.put("battery/281", "/Dc/0/Current", 4.0)
	cache.put("dcload/282", "/Dc/0/Current", 1.5)
	return cache
}

func externalAggregator(cache *memoryCache) *Aggregator {
	a := newTestAggregator(cache, "BAT1", "BAT2", "BAT3")
	a.External = &ExternalCurrentSources{
		Multi:         "vebus/276",
		MPPTs:         []string{"solarcharger/279", "solarcharger/280"},
		BatteryShunts: []string{"battery/281"},
		DCLoadShunts:  []string{"dcload/282"},
	}
	return a
}

func TestExternalCurrent(t *testing.T) {

	require := require.New(t)
	assert := assert.New(t)

	cache := externalCache()
	a := externalAggregator(cache)

	agg, err := a.Read()
	require.NoError(err)
	assert.True(agg.ExternalCurrent)
	assert.InDelta(30+15+5+(4-1.5), agg.Current, 1e-9)
	assert.InDelta(agg.Voltage*agg.Current, agg.Power, 1e-9)
	assert.True(a.MultiConnected())

	a.External.InvertShunts = true
	agg, err = a.Read()
	require.NoError(err)
	assert.InDelta(30+15+5-(4-1.5), agg.Current, 1e-9)

	// multi switched off: only MPPTs and shunts
	cache.put("vebus/276", "/Connected", 0)
	a.External.InvertShunts = false
	agg, err = a.Read()
	require.NoError(err)
	assert.InDelta(15+5+(4-1.5), agg.Current, 1e-9)
	assert.False(a.MultiConnected())
}

func TestExternalCurrentFallsBackToBMS(t *testing.T) {

	require := require.New(t)
	assert := assert.New(t)

	cache := externalCache()
	cache.delete("solarcharger/280", "/Dc/0/Current")
	a := externalAggregator(cache)

	agg, err := a.Read()
	require.NoError(err)
	assert.False(agg.ExternalCurrent)
	assert.InDelta(8.0, agg.Current, 1e-9, "sum of BMS currents")
}

func TestExternalCurrentMissingShunt(t *testing.T) {

	require := require.New(t)
	assert := assert.New(t)

	cache := externalCache()
	cache.delete("dcload/282", "/Dc/0/Current")
	a := externalAggregator(cache)

	_, err := a.Read()
	require.Error(err)
	assert.True(domain.IsReadError(err), "a missing shunt counts as read failure")

	a.External.IgnoreShuntAbsence = true
	agg, err := a.Read()
	require.NoError(err)
	assert.False(agg.ExternalCurrent)
	assert.InDelta(8.0, agg.Current, 1e-9)
}

func TestOptionalCellVoltages(t *testing.T) {

	require := require.New(t)
	assert := assert.New(t)

	cache := threeBatteries()
	cache.delete("battery/BAT1", cellPath(4))

	a := newTestAggregator(cache, "BAT1", "BAT2", "BAT3")
	a.OwnChargeParameters = false

	agg, err := a.Read()
	require.NoError(err, "cell voltages are not needed")
	assert.Empty(agg.CellVoltages)
	assert.Len(agg.SourceLimits, 3)

	a.ReadCellVoltages = true
	_, err = a.Read()
	require.Error(err)
	assert.True(domain.IsReadError(err))
}
