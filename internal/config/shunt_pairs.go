package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ParseShuntBatteryPairs parses "278:BAT1, 277:BAT2" into shunt VRM
// instance -> battery name. Valid pairs are returned together with the
// joined errors of the invalid ones.
func ParseShuntBatteryPairs(raw string) (map[int]string, error) {
	pairs := map[int]string{}
	var errs []error
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		key, battery, found := strings.Cut(item, ":")
		if !found {
			errs = append(errs, fmt.Errorf("missing colon in %q", item))
			continue
		}
		instance, err := strconv.Atoi(strings.TrimSpace(key))
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid shunt instance in %q", item))
			continue
		}
		battery = strings.TrimSpace(battery)
		if battery == "" {
			errs = append(errs, fmt.Errorf("empty battery in %q", item))
			continue
		}
		pairs[instance] = battery
	}
	return pairs, errors.Join(errs...)
}

// BatteryShunts maps every paired battery name to the bus source of its shunt.
func (cfg *Config) BatteryShunts() (map[string]string, error) {
	pairs, err := ParseShuntBatteryPairs(cfg.ShuntPairs)
	if err != nil {
		return nil, err
	}
	shunts := make(map[string]string, len(pairs))
	for instance, battery := range pairs {
		shunts[battery] = fmt.Sprintf(cfg.Bus.ShuntSourceFormat, instance)
	}
	return shunts, nil
}
