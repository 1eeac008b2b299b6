package gx_modbus

import (
	"errors"
	"fmt"
	"time"

	"github.com/simonvetter/modbus"
	log "github.com/sirupsen/logrus"
)

// Register addresses of the Victron GX Modbus-TCP map.
const (
	REG_VEBUS_DC_VOLTAGE        uint16 = 26
	REG_VEBUS_DC_CURRENT        uint16 = 27
	REG_SOLARCHARGER_DC_VOLTAGE uint16 = 771
	REG_SOLARCHARGER_DC_CURRENT uint16 = 772
)

// DCReading is the battery side of a charger or inverter. Current is
// positive when charging the battery.
type DCReading struct {
	Voltage float64
	Current float64
}

type GXModbusReader interface {
	Open() error
	Close() error
	ReadVEBus() (*DCReading, error)
	ReadSolarCharger(unitId uint8) (*DCReading, error)
}

type gxModbusReader struct {
	ModbusClient
	vebusUnitId uint8
}

func CreateGXModbusReader(ip string, port uint, vebusUnitId uint8, timeout time.Duration,
	logger *log.Logger, instrumentation *ModbusInstrument) (GXModbusReader, error) {
	client, err := modbus.NewClient(&modbus.ClientConfiguration{
		URL:     fmt.Sprintf("tcp://%s:%d", ip, port),
		Timeout: timeout,
	})
	if err != nil {
		return nil, err
	}

	// instrumentation
	var inst []ModbusInstrument
	if logger != nil {
		logInst := traceLoggerInstrumentation(logger.WithField("target", "gx").WithField("vebus", vebusUnitId))
		inst = append(inst, *logInst)
	}
	if instrumentation != nil {
		inst = append(inst, *instrumentation)
	}

	return &gxModbusReader{
		ModbusClient: ModbusClient{
			client:     client,
			instrument: inst,
		},
		vebusUnitId: vebusUnitId,
	}, nil
}

func (reader *gxModbusReader) Open() error {
	return reader.client.Open()
}

func (reader *gxModbusReader) Close() error {
	return reader.client.Close()
}

func (reader *gxModbusReader) ReadVEBus() (*DCReading, error) {
	regs, err := reader.readRegisters(reader.vebusUnitId, REG_VEBUS_DC_VOLTAGE, 2)
	if err != nil {
		return nil, err
	}
	return DecodeDC(regs)
}

func (reader *gxModbusReader) ReadSolarCharger(unitId uint8) (*DCReading, error) {
	regs, err := reader.readRegisters(unitId, REG_SOLARCHARGER_DC_VOLTAGE, 2)
	if err != nil {
		return nil, err
	}
	return DecodeDC(regs)
}

// DecodeDC decodes a voltage (uint16, scale 100) followed by a current
// (int16, scale 10).
func DecodeDC(regs []uint16) (*DCReading, error) {
	if len(regs) < 2 {
		return nil, errors.New("short register read")
	}
	return &DCReading{
		Voltage: float64(regs[0]) / 100,
		Current: float64(int16(regs[1])) / 10,
	}, nil
}
