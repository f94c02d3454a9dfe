package dsmr

import (
	"sync"

	"github.com/sigurn/crc16"
)

var (
	crcTable     *crc16.Table
	crcTableOnce sync.Once
)

// Table returns the shared CRC16 lookup table, building it on first use.
// DSMR uses CRC16/ARC: polynomial 0x8005 reflected (0xA001), initial value 0.
func Table() *crc16.Table {
	crcTableOnce.Do(func() {
		crcTable = crc16.MakeTable(crc16.CRC16_ARC)
	})
	return crcTable
}

// CRC16 computes the telegram checksum over data.
func CRC16(data []byte) uint16 {
	return crc16.Checksum(data, Table())
}
