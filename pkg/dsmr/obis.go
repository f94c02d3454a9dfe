package dsmr

import (
	"fmt"
	"regexp"
	"strings"
)

// ObjectID identifies one measurement kind inside a telegram (an OBIS code).
type ObjectID int

const (
	P1MessageTimestamp ObjectID = iota
	EquipmentIdentifier
	ElectricityUsage
	ElectricityDelivery
	ElectricityUsedTariff1
	ElectricityUsedTariff2
	ElectricityDeliveredTariff1
	ElectricityDeliveredTariff2
	VoltageL1
	VoltageL2
	VoltageL3
	CurrentL1
	CurrentL2
	CurrentL3
	ActivePowerL1Positive
	ActivePowerL2Positive
	ActivePowerL3Positive
	ActivePowerL1Negative
	ActivePowerL2Negative
	ActivePowerL3Negative
	VersionInformation
	TariffIndicator
	PowerFailures
	LongPowerFailures
	BreakerState
	GasEquipmentIdentifier
	GasDelivered

	objectIDCount
)

type objectInfo struct {
	name    string
	code    string // <a>.<b>.<c> part of the OBIS code
	pattern *regexp.Regexp
}

// Lines look like "1-0:1.8.1(123456.789*kWh)". The medium/channel prefix
// varies between meters, so it is matched as <digit>-<digit>.
func obisPattern(code string) *regexp.Regexp {
	return regexp.MustCompile(`(?m)^\d-\d:` + regexp.QuoteMeta(code) + `((?:\([^)\r\n]*\))+)\r?$`)
}

func object(name, code string) objectInfo {
	return objectInfo{name: name, code: code, pattern: obisPattern(code)}
}

var catalog = [objectIDCount]objectInfo{
	P1MessageTimestamp:          object("P1_MESSAGE_TIMESTAMP", "1.0.0"),
	EquipmentIdentifier:         object("EQUIPMENT_IDENTIFIER", "96.1.1"),
	ElectricityUsage:            object("ELECTRICITY_USAGE", "1.7.0"),
	ElectricityDelivery:         object("ELECTRICITY_DELIVERY", "2.7.0"),
	ElectricityUsedTariff1:      object("ELECTRICITY_USED_TARIFF_1", "1.8.1"),
	ElectricityUsedTariff2:      object("ELECTRICITY_USED_TARIFF_2", "1.8.2"),
	ElectricityDeliveredTariff1: object("ELECTRICITY_DELIVERED_TARIFF_1", "2.8.1"),
	ElectricityDeliveredTariff2: object("ELECTRICITY_DELIVERED_TARIFF_2", "2.8.2"),
	VoltageL1:                   object("VOLTAGE_L1", "32.7.0"),
	VoltageL2:                   object("VOLTAGE_L2", "52.7.0"),
	VoltageL3:                   object("VOLTAGE_L3", "72.7.0"),
	CurrentL1:                   object("CURRENT_L1", "31.7.0"),
	CurrentL2:                   object("CURRENT_L2", "51.7.0"),
	CurrentL3:                   object("CURRENT_L3", "71.7.0"),
	ActivePowerL1Positive:       object("ACTIVE_POWER_L1_POSITIVE", "21.7.0"),
	ActivePowerL2Positive:       object("ACTIVE_POWER_L2_POSITIVE", "41.7.0"),
	ActivePowerL3Positive:       object("ACTIVE_POWER_L3_POSITIVE", "61.7.0"),
	ActivePowerL1Negative:       object("ACTIVE_POWER_L1_NEGATIVE", "22.7.0"),
	ActivePowerL2Negative:       object("ACTIVE_POWER_L2_NEGATIVE", "42.7.0"),
	ActivePowerL3Negative:       object("ACTIVE_POWER_L3_NEGATIVE", "62.7.0"),
	VersionInformation:          object("VERSION_INFORMATION", "0.2.8"),
	TariffIndicator:             object("TARIFF_INDICATOR", "96.14.0"),
	PowerFailures:               object("POWER_FAILURES", "96.7.21"),
	LongPowerFailures:           object("LONG_POWER_FAILURES", "96.7.9"),
	BreakerState:                object("BREAKER_STATE", "96.3.10"),
	GasEquipmentIdentifier:      object("GAS_EQUIPMENT_IDENTIFIER", "96.1.0"),
	GasDelivered:                object("GAS_DELIVERED", "24.2.1"),
}

// ObjectIDs returns every known identifier in catalog order.
func ObjectIDs() []ObjectID {
	ids := make([]ObjectID, 0, objectIDCount)
	for id := ObjectID(0); id < objectIDCount; id++ {
		ids = append(ids, id)
	}
	return ids
}

func (id ObjectID) valid() bool {
	return id >= 0 && id < objectIDCount
}

func (id ObjectID) String() string {
	if !id.valid() {
		return fmt.Sprintf("ObjectID(%d)", int(id))
	}
	return catalog[id].name
}

// Code returns the <a>.<b>.<c> part of the OBIS code.
func (id ObjectID) Code() string {
	if !id.valid() {
		return ""
	}
	return catalog[id].code
}

// ParseObjectID looks up an identifier by name, case-insensitively.
func ParseObjectID(name string) (ObjectID, bool) {
	for id := ObjectID(0); id < objectIDCount; id++ {
		if strings.EqualFold(catalog[id].name, name) {
			return id, true
		}
	}
	return 0, false
}
