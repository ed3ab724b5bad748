// Package export writes collected data to JSON and CSV files.
package export

import (
	"bufio"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/cptspacemanspiff/activity-tracker/internal/collector"
	"github.com/cptspacemanspiff/activity-tracker/internal/prefs"
)

// AnonymousLabel replaces app labels in anonymized exports.
const AnonymousLabel = "App"

// CSVHeader is the fixed header row of a sessions CSV export.
const CSVHeader = "id,packageName,appLabel,startTimestamp,endTimestamp,durationMs,startBatteryPct,endBatteryPct,locationLatitude,locationLongitude"

// Data is the JSON export document.
type Data struct {
	ExportTimestamp int64           `json:"exportTimestamp"`
	StartTimestamp  int64           `json:"startTimestamp"`
	EndTimestamp    int64           `json:"endTimestamp"`
	Sessions        []Session       `json:"sessions"`
	BatterySamples  []BatterySample `json:"batterySamples"`
	DeviceEvents    []DeviceEvent   `json:"deviceEvents"`
}

type Session struct {
	ID                string   `json:"id"`
	PackageName       string   `json:"packageName"`
	AppLabel          string   `json:"appLabel"`
	StartTimestamp    int64    `json:"startTimestamp"`
	EndTimestamp      int64    `json:"endTimestamp"`
	DurationMs        int64    `json:"durationMs"`
	StartBatteryPct   *int     `json:"startBatteryPct"`
	EndBatteryPct     *int     `json:"endBatteryPct"`
	LocationLatitude  *float64 `json:"locationLatitude"`
	LocationLongitude *float64 `json:"locationLongitude"`
}

type BatterySample struct {
	ID            string   `json:"id"`
	Timestamp     int64    `json:"timestamp"`
	LevelPercent  int      `json:"levelPercent"`
	ChargingState string   `json:"chargingState"`
	Temperature   *float64 `json:"temperature"`
}

type DeviceEvent struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

// AnonymizePackageName returns a stable pseudonym for a package name.
func AnonymizePackageName(packageName string) string {
	h := fnv.New32a()
	h.Write([]byte(packageName))
	return "app." + strconv.FormatUint(uint64(h.Sum32()), 16)
}

func exportSession(s collector.Session, anonymize bool) Session {
	out := Session{
		ID:                s.ID,
		PackageName:       s.PackageName,
		AppLabel:          s.AppLabel,
		StartTimestamp:    s.StartTimestamp,
		EndTimestamp:      s.EndTimestamp,
		DurationMs:        s.DurationMs,
		StartBatteryPct:   s.StartBatteryPct,
		EndBatteryPct:     s.EndBatteryPct,
		LocationLatitude:  s.LocationLatitude,
		LocationLongitude: s.LocationLongitude,
	}
	if anonymize {
		out.PackageName = AnonymizePackageName(s.PackageName)
		out.ID = collector.SessionID(out.PackageName, s.StartTimestamp)
		out.AppLabel = AnonymousLabel
		out.LocationLatitude = nil
		out.LocationLongitude = nil
	}
	return out
}

// BuildExportData assembles the JSON export document.
func BuildExportData(sessions []collector.Session, samples []collector.BatterySample, events []collector.DeviceEvent,
	start, end, exportedAt int64, anonymize bool) Data {
	d := Data{
		ExportTimestamp: exportedAt,
		StartTimestamp:  start,
		EndTimestamp:    end,
		Sessions:        make([]Session, 0, len(sessions)),
		BatterySamples:  make([]BatterySample, 0, len(samples)),
		DeviceEvents:    make([]DeviceEvent, 0, len(events)),
	}
	for _, s := range sessions {
		d.Sessions = append(d.Sessions, exportSession(s, anonymize))
	}
	for _, s := range samples {
		d.BatterySamples = append(d.BatterySamples, BatterySample{
			ID:            s.ID,
			Timestamp:     s.Timestamp,
			LevelPercent:  s.LevelPercent,
			ChargingState: string(s.ChargingState),
			Temperature:   s.Temperature,
		})
	}
	for _, e := range events {
		d.DeviceEvents = append(d.DeviceEvents, DeviceEvent{ID: e.ID, Type: e.Type, Timestamp: e.Timestamp})
	}
	return d
}

// WriteJSON writes d as indented JSON.
func WriteJSON(w io.Writer, d Data) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "    ")
	return enc.Encode(d)
}

// WriteSessionsCSV writes the header and one row per session. The label is
// always quoted; absent values are empty fields.
func WriteSessionsCSV(w io.Writer, sessions []collector.Session, anonymize bool) error {
	bw := bufio.NewWriter(w)
	bw.WriteString(CSVHeader)
	bw.WriteByte('\n')
	for _, cs := range sessions {
		s := exportSession(cs, anonymize)
		fields := []string{
			s.ID,
			s.PackageName,
			`"` + strings.ReplaceAll(s.AppLabel, `"`, `""`) + `"`,
			strconv.FormatInt(s.StartTimestamp, 10),
			strconv.FormatInt(s.EndTimestamp, 10),
			strconv.FormatInt(s.DurationMs, 10),
			optInt(s.StartBatteryPct),
			optInt(s.EndBatteryPct),
			optFloat(s.LocationLatitude),
			optFloat(s.LocationLongitude),
		}
		bw.WriteString(strings.Join(fields, ","))
		bw.WriteByte('\n')
	}
	return bw.Flush()
}

func optInt(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

func optFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

// RangeFor returns the [start, end] window for an auto-export range.
func RangeFor(r prefs.ExportTimeRange, now time.Time) (int64, int64) {
	end := now.UnixMilli()
	if r == prefs.RangeAll {
		return 0, end
	}
	return end - (24 * time.Hour).Milliseconds(), end
}

// Filename returns the export file name for a timestamp and extension.
func Filename(t time.Time, ext string) string {
	return fmt.Sprintf("activity_export_%s.%s", t.Format("20060102_150405"), ext)
}
