package gx_modbus

import "fmt"

func CreateTestGXModbusReader() (GXModbusReader, error) {
	return &TestGXModbusReader{
		VEBus: DCReading{Voltage: 52.4, Current: -18.3},
		SolarChargers: map[uint8]DCReading{
			226: {Voltage: 52.5, Current: 12.1},
			225: {Voltage: 52.5, Current: 7.4},
		},
	}, nil
}

type TestGXModbusReader struct {
	VEBus         DCReading
	SolarChargers map[uint8]DCReading
	Fail          bool
}

func (reader *TestGXModbusReader) Open() error {
	return nil
}

func (reader *TestGXModbusReader) Close() error {
	return nil
}

func (reader *TestGXModbusReader) ReadVEBus() (*DCReading, error) {
	if reader.Fail {
		return nil, fmt.Errorf("vebus unreachable")
	}
	r := reader.VEBus
	return &r, nil
}

func (reader *TestGXModbusReader) ReadSolarCharger(unitId uint8) (*DCReading, error) {
	r, ok := reader.SolarChargers[unitId]
	if !ok || reader.Fail {
		return nil, fmt.Errorf("no solar charger at unit %d", unitId)
	}
	return &r, nil
}
