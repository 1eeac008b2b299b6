package gx_modbus

import (
	"time"

	"github.com/simonvetter/modbus"
	log "github.com/sirupsen/logrus"
)

type ModbusClient struct {
	client     *modbus.ModbusClient
	instrument []ModbusInstrument
}

type ModbusInstrument struct {
	RecordTime func(fnName string, readTime time.Duration)
}

func (reader ModbusClient) readRegisters(unitId uint8, addr uint16, quantity uint16) ([]uint16, error) {
	defer RecordTimer("ReadRegisters", reader.instrument)()
	if err := reader.client.SetUnitId(unitId); err != nil {
		return nil, err
	}
	return reader.client.ReadRegisters(addr, quantity, modbus.HOLDING_REGISTER)
}

func RecordTimer(name string, instrument []ModbusInstrument) func() {
	if instrument == nil {
		return func() {}
	}

	start := time.Now()
	return func() {
		duration := time.Since(start)
		for i := range instrument {
			instrument[i].RecordTime(name, duration)
		}
	}
}

func traceLoggerInstrumentation(logger *log.Entry) *ModbusInstrument {
	return &ModbusInstrument{
		RecordTime: func(fnName string, readTime time.Duration) {
			logger.Tracef("modbus [%s]: %d millis", fnName, readTime.Milliseconds())
		},
	}
}
