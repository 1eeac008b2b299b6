package domain

type Alarm int

const (
	AlarmLowVoltage Alarm = iota
	AlarmHighVoltage
	AlarmLowCellVoltage
	AlarmLowSoc
	AlarmHighChargeCurrent
	AlarmHighDischargeCurrent
	AlarmCellImbalance
	AlarmInternalFailure
	AlarmHighChargeTemperature
	AlarmLowChargeTemperature
	AlarmHighTemperature
	AlarmLowTemperature
	AlarmBmsCable
	AlarmCount
)

var alarmNames = [AlarmCount]string{
	"LowVoltage",
	"HighVoltage",
	"LowCellVoltage",
	"LowSoc",
	"HighChargeCurrent",
	"HighDischargeCurrent",
	"CellImbalance",
	"InternalFailure",
	"HighChargeTemperature",
	"LowChargeTemperature",
	"HighTemperature",
	"LowTemperature",
	"BmsCable",
}

func (a Alarm) String() string {
	return alarmNames[a]
}

func (a Alarm) Path() string {
	return "/Alarms/" + alarmNames[a]
}

// Alarms holds one ordinal severity per alarm (0 = ok). nil means the source
// did not report the alarm.
type Alarms [AlarmCount]*int

// Worst merges other into a keeping the highest severity of every alarm.
// Unreported alarms never override reported ones.
func (a Alarms) Worst(other Alarms) Alarms {
	for i := range a {
		if other[i] == nil {
			continue
		}
		if a[i] == nil || *other[i] > *a[i] {
			v := *other[i]
			a[i] = &v
		}
	}
	return a
}
