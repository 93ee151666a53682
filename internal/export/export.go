// Package export renders a time range of Store data as CSV, JSON, or
// KML for the `piwardrive export` CLI command (spec.md §6). No CSV or
// KML library appears anywhere in the retrieved corpus -- every example
// repo that produces structured output does so with encoding/json
// directly, so CSV and KML are rendered the same way, against
// encoding/csv and a minimal encoding/xml document respectively.
package export

import (
	"encoding/csv"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"

	"github.com/piwardrive/piwardrive/internal/domain"
)

// Format is one of the three formats spec.md §6 names.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
	FormatKML  Format = "kml"
)

// Health writes health records in the requested format. csv and json
// both operate on HealthRecord; kml is only meaningful for positioned
// data and is rejected here.
func Health(w io.Writer, format Format, records []domain.HealthRecord) error {
	switch format {
	case FormatJSON:
		return json.NewEncoder(w).Encode(records)
	case FormatCSV:
		return healthCSV(w, records)
	default:
		return domain.ValidationError("format %q is not supported for health export", format)
	}
}

func healthCSV(w io.Writer, records []domain.HealthRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"id", "timestamp", "cpu_temp_celsius", "cpu_percent", "mem_percent", "disk_percent"}); err != nil {
		return err
	}
	for _, r := range records {
		row := []string{
			strconv.FormatInt(r.ID, 10),
			r.Timestamp.UTC().Format("2006-01-02T15:04:05.999999999Z07:00"),
			floatPtr(r.CPUTempCelsius),
			floatPtr(r.CPUPercent),
			floatPtr(r.MemPercent),
			floatPtr(r.DiskPercent),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func floatPtr(f *float64) string {
	if f == nil {
		return ""
	}
	return strconv.FormatFloat(*f, 'f', -1, 64)
}

// Track writes a GPS track in the requested format. kml and json both
// apply; csv is rejected as a deliberately unsupported combination (no
// testable property requires it).
func Track(w io.Writer, format Format, points []domain.GpsTrackPoint) error {
	switch format {
	case FormatJSON:
		return json.NewEncoder(w).Encode(points)
	case FormatKML:
		return trackKML(w, points)
	default:
		return domain.ValidationError("format %q is not supported for track export", format)
	}
}

type kmlCoordinate struct {
	Lon, Lat float64
}

type kmlDocument struct {
	XMLName xml.Name `xml:"kml"`
	XMLNS   string   `xml:"xmlns,attr"`
	Placemark struct {
		Name        string `xml:"name"`
		LineString  struct {
			Coordinates string `xml:"coordinates"`
		} `xml:"LineString"`
	} `xml:"Document>Placemark"`
}

func trackKML(w io.Writer, points []domain.GpsTrackPoint) error {
	doc := kmlDocument{XMLNS: "http://www.opengis.net/kml/2.2"}
	doc.Placemark.Name = "piwardrive-track"
	coords := ""
	for i, p := range points {
		if i > 0 {
			coords += " "
		}
		coords += fmt.Sprintf("%f,%f,0", p.Lon, p.Lat)
	}
	doc.Placemark.LineString.Coordinates = coords

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	return enc.Encode(doc)
}
