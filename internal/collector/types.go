package collector

// Session is a closed interval during which one application was in the
// foreground. Timestamps are epoch milliseconds.
type Session struct {
	ID                string   `json:"id" db:"id"`
	PackageName       string   `json:"packageName" db:"packageName"`
	AppLabel          string   `json:"appLabel" db:"appLabel"`
	StartTimestamp    int64    `json:"startTimestamp" db:"startTimestamp"`
	EndTimestamp      int64    `json:"endTimestamp" db:"endTimestamp"`
	DurationMs        int64    `json:"durationMs" db:"durationMs"`
	StartBatteryPct   *int     `json:"startBatteryPct" db:"startBatteryPct"`
	EndBatteryPct     *int     `json:"endBatteryPct" db:"endBatteryPct"`
	LocationLatitude  *float64 `json:"locationLatitude" db:"locationLatitude"`
	LocationLongitude *float64 `json:"locationLongitude" db:"locationLongitude"`
	MetadataJSON      *string  `json:"metadataJson,omitempty" db:"metadataJson"`
	Notes             *string  `json:"notes,omitempty" db:"notes"`
}

// DeviceEvent is a single broadcast-style device state change.
type DeviceEvent struct {
	ID          string  `json:"id" db:"id"`
	Type        string  `json:"type" db:"type"`
	Timestamp   int64   `json:"timestamp" db:"timestamp"`
	DetailsJSON *string `json:"detailsJson,omitempty" db:"detailsJson"`
}

// ChargingState is the normalized battery charging status.
type ChargingState string

const (
	Charging    ChargingState = "CHARGING"
	Discharging ChargingState = "DISCHARGING"
	Full        ChargingState = "FULL"
	NotCharging ChargingState = "NOT_CHARGING"
	Unknown     ChargingState = "UNKNOWN"
)

// UnknownLevel marks a battery level that could not be derived.
const UnknownLevel = -1

// BatterySample holds a point-in-time battery snapshot.
type BatterySample struct {
	ID            string        `json:"id" db:"id"`
	Timestamp     int64         `json:"timestamp" db:"timestamp"`
	LevelPercent  int           `json:"levelPercent" db:"levelPercent"`
	ChargingState ChargingState `json:"chargingState" db:"chargingState"`
	Temperature   *float64      `json:"temperature" db:"temperature"`
}

// AnalysisReport is a summary computed over a fixed time window.
type AnalysisReport struct {
	ID           string `json:"id" db:"id"`
	RangeStartTs int64  `json:"rangeStartTs" db:"rangeStartTs"`
	RangeEndTs   int64  `json:"rangeEndTs" db:"rangeEndTs"`
	CreatedTs    int64  `json:"createdTs" db:"createdTs"`
	ReportType   string `json:"reportType" db:"reportType"`
	MetricsJSON  string `json:"metricsJson" db:"metricsJson"`
}
