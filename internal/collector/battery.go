package collector

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// sysfsRoot is overridden in tests.
var sysfsRoot = "/sys"

// ErrNoBattery is returned by SysfsBattery on machines without a battery.
var ErrNoBattery = errors.New("no battery found")

// Battery status codes, numbered like the platform battery broadcast.
const (
	StatusUnknown     = 1
	StatusCharging    = 2
	StatusDischarging = 3
	StatusNotCharging = 4
	StatusFull        = 5
)

// BatteryReading is the last known battery state as reported by the system.
// Level and Scale are -1 when absent; Temperature is in tenths of a degree.
type BatteryReading struct {
	Level       int
	Scale       int
	Status      int
	Temperature int
}

// BatteryReader performs a passive read of the current battery state.
type BatteryReader interface {
	ReadBattery(ctx context.Context) (BatteryReading, error)
}

// LevelPercent converts level/scale into a percentage. It returns
// UnknownLevel when scale is not positive or the level is missing.
func LevelPercent(level, scale int) int {
	if scale <= 0 || level < 0 {
		return UnknownLevel
	}
	pct := int(math.Round(float64(level) * 100 / float64(scale)))
	if pct > 100 {
		pct = 100
	}
	return pct
}

// ChargingStateFromStatus maps a raw status code to a charging state.
func ChargingStateFromStatus(status int) ChargingState {
	switch status {
	case StatusCharging:
		return Charging
	case StatusDischarging:
		return Discharging
	case StatusFull:
		return Full
	case StatusNotCharging:
		return NotCharging
	default:
		return Unknown
	}
}

// TemperatureCelsius scales a tenths-of-degree reading. Non-positive readings
// are treated as absent.
func TemperatureCelsius(tenths int) *float64 {
	if tenths <= 0 {
		return nil
	}
	t := float64(tenths) / 10
	return &t
}

// BatterySampleFromReading builds the sample persisted for a reading taken at
// nowMs.
func BatterySampleFromReading(r BatteryReading, nowMs int64) BatterySample {
	return BatterySample{
		ID:            fmt.Sprintf("battery-%d", nowMs),
		Timestamp:     nowMs,
		LevelPercent:  LevelPercent(r.Level, r.Scale),
		ChargingState: ChargingStateFromStatus(r.Status),
		Temperature:   TemperatureCelsius(r.Temperature),
	}
}

// SysfsBattery reads the first BAT* power supply under /sys/class/power_supply.
type SysfsBattery struct{}

func (SysfsBattery) ReadBattery(ctx context.Context) (BatteryReading, error) {
	matches, err := filepath.Glob(filepath.Join(sysfsRoot, "class/power_supply/BAT*"))
	if err != nil {
		return BatteryReading{}, fmt.Errorf("glob battery: %w", err)
	}
	if len(matches) == 0 {
		return BatteryReading{}, ErrNoBattery
	}

	data, err := os.ReadFile(filepath.Join(matches[0], "uevent"))
	if err != nil {
		return BatteryReading{}, fmt.Errorf("read uevent: %w", err)
	}
	props := parseUevent(string(data))

	r := BatteryReading{Level: -1, Scale: -1, Status: statusFromSysfs(props["POWER_SUPPLY_STATUS"])}
	if v, err := strconv.Atoi(props["POWER_SUPPLY_CAPACITY"]); err == nil {
		r.Level, r.Scale = v, 100
	} else {
		// Older firmware only reports charge or energy counters.
		now, full := props["POWER_SUPPLY_CHARGE_NOW"], props["POWER_SUPPLY_CHARGE_FULL"]
		if now == "" {
			now, full = props["POWER_SUPPLY_ENERGY_NOW"], props["POWER_SUPPLY_ENERGY_FULL"]
		}
		n, errN := strconv.ParseInt(now, 10, 64)
		f, errF := strconv.ParseInt(full, 10, 64)
		if errN == nil && errF == nil {
			// Scale down to keep the ratio in int range.
			r.Level, r.Scale = int(n/1000), int(f/1000)
		}
	}
	if v, err := strconv.Atoi(props["POWER_SUPPLY_TEMP"]); err == nil {
		r.Temperature = v
	}

	// Some firmware reports "Discharging" at full capacity while on AC power.
	if r.Status == StatusDischarging && r.Scale > 0 && LevelPercent(r.Level, r.Scale) >= 100 && isACOnline() {
		r.Status = StatusFull
	}
	return r, nil
}

func statusFromSysfs(s string) int {
	switch s {
	case "Charging":
		return StatusCharging
	case "Discharging":
		return StatusDischarging
	case "Not charging":
		return StatusNotCharging
	case "Full":
		return StatusFull
	default:
		return StatusUnknown
	}
}

// isACOnline checks if any AC adapter is online.
func isACOnline() bool {
	matches, err := filepath.Glob(filepath.Join(sysfsRoot, "class/power_supply/AC*/online"))
	if err != nil {
		return false
	}
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err == nil && strings.TrimSpace(string(data)) == "1" {
			return true
		}
	}
	return false
}

func parseUevent(data string) map[string]string {
	props := make(map[string]string)
	for _, line := range strings.Split(data, "\n") {
		if k, v, ok := strings.Cut(line, "="); ok {
			props[k] = v
		}
	}
	return props
}
