package parser

import (
	"encoding/xml"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/andermartinezdonate/usgs-quake-stream/internal/geo"
	"github.com/andermartinezdonate/usgs-quake-stream/internal/model"
)

// QuakeML 1.2 containers. Reflection-based unmarshalling handles the
// namespace-qualified elements as long as the local names match, so the
// structs only name local element names. The raw inner XML of each event is
// captured for dead-letter reporting.
type quakemlDocument struct {
	EventParameters quakemlEventParameters `xml:"eventParameters"`
}

type quakemlEventParameters struct {
	Events []quakemlEvent `xml:"event"`
}

type quakemlEvent struct {
	PublicID             string `xml:"publicID,attr"`
	PreferredOriginID    string `xml:"preferredOriginID"`
	PreferredMagnitudeID string `xml:"preferredMagnitudeID"`
	Description          struct {
		Text string `xml:"text"`
	} `xml:"description"`
	Origins      []quakemlOrigin     `xml:"origin"`
	Magnitudes   []quakemlMagnitude  `xml:"magnitude"`
	CreationInfo quakemlCreationInfo `xml:"creationInfo"`
	Raw          string              `xml:",innerxml"`
}

type quakemlOrigin struct {
	PublicID         string          `xml:"publicID,attr"`
	Time             quakemlTime     `xml:"time"`
	Latitude         quakemlQuantity `xml:"latitude"`
	Longitude        quakemlQuantity `xml:"longitude"`
	Depth            quakemlQuantity `xml:"depth"` // metres
	EvaluationMode   string          `xml:"evaluationMode"`
	EvaluationStatus string          `xml:"evaluationStatus"`
	Quality          struct {
		UsedPhaseCount *int     `xml:"usedPhaseCount"`
		AzimuthalGap   *float64 `xml:"azimuthalGap"`
	} `xml:"quality"`
}

type quakemlMagnitude struct {
	PublicID     string          `xml:"publicID,attr"`
	Mag          quakemlQuantity `xml:"mag"`
	Type         string          `xml:"type"`
	StationCount *int            `xml:"stationCount"`
}

type quakemlQuantity struct {
	Value       *float64 `xml:"value"`
	Uncertainty *float64 `xml:"uncertainty"`
}

type quakemlTime struct {
	Value       string   `xml:"value"`
	Uncertainty *float64 `xml:"uncertainty"`
}

type quakemlCreationInfo struct {
	AgencyID string `xml:"agencyID"`
	Author   string `xml:"author"`
	Time     string `xml:"creationTime"`
}

// magnitude-type preference for agencies (e.g. ISC) that publish no
// preferredMagnitudeID: moment magnitudes over body/local/duration, then
// anything else.
var magTypeRank = map[string]int{
	"mw": 0, "mww": 1, "mb": 2, "ml": 3, "md": 4,
}

// ParseQuakeML parses a QuakeML 1.2 document. Each event resolves its
// preferred origin and magnitude per the QuakeML reference rules and fails
// independently of its siblings.
func ParseQuakeML(src string, raw []byte, fetchedAt time.Time) ([]Record, []*ParseError) {
	var doc quakemlDocument
	if err := xml.Unmarshal(raw, &doc); err != nil {
		return nil, []*ParseError{{Kind: MalformedPayload, Detail: err.Error(), Raw: raw}}
	}

	var records []Record
	var errs []*ParseError
	for i := range doc.EventParameters.Events {
		e := &doc.EventParameters.Events[i]
		ev, perr := parseQuakeMLEvent(src, e, fetchedAt)
		if perr != nil {
			errs = append(errs, perr)
			continue
		}
		records = append(records, Record{Event: ev, Raw: []byte(e.Raw)})
	}
	return records, errs
}

func parseQuakeMLEvent(src string, e *quakemlEvent, fetchedAt time.Time) (model.NormalizedEvent, *ParseError) {
	id := stripQuakeMLEventID(e.PublicID)

	fail := func(detail string) (model.NormalizedEvent, *ParseError) {
		return model.NormalizedEvent{}, &ParseError{
			Kind:          MalformedEvent,
			SourceEventID: id,
			Detail:        detail,
			Raw:           []byte(e.Raw),
		}
	}

	if id == "" {
		return fail("event has no publicID")
	}

	origin := preferredOrigin(e)
	if origin == nil {
		return fail("event has no origin")
	}
	mag := preferredMagnitude(e)
	if mag == nil || mag.Mag.Value == nil {
		return fail("event has no magnitude value")
	}

	if origin.Latitude.Value == nil || origin.Longitude.Value == nil {
		return fail("origin is missing latitude/longitude")
	}
	if origin.Depth.Value == nil {
		return fail("origin is missing depth")
	}
	if origin.Time.Value == "" {
		return fail("origin is missing time")
	}
	originTime, err := parseISOTime(origin.Time.Value)
	if err != nil {
		return fail(fmt.Sprintf("bad origin time: %v", err))
	}

	magType := strings.ToLower(mag.Type)
	if magType == "" {
		magType = "ml"
	}

	status := model.StatusAutomatic
	switch origin.EvaluationMode {
	case "manual":
		status = model.StatusManual
	case "automatic":
		status = model.StatusAutomatic
	}
	switch origin.EvaluationStatus {
	case "reviewed", "confirmed", "final":
		status = model.StatusReviewed
	}

	var place, region *string
	if e.Description.Text != "" {
		place = &e.Description.Text
		region = &e.Description.Text
	}

	var author *string
	if e.CreationInfo.AgencyID != "" {
		author = &e.CreationInfo.AgencyID
	} else if e.CreationInfo.Author != "" {
		author = &e.CreationInfo.Author
	}

	var updatedAt *time.Time
	if e.CreationInfo.Time != "" {
		if t, err := parseISOTime(e.CreationInfo.Time); err == nil {
			updatedAt = &t
		}
	}

	var depthErrKm *float64
	if origin.Depth.Uncertainty != nil {
		v := *origin.Depth.Uncertainty / 1000.0
		depthErrKm = &v
	}

	ev := model.NormalizedEvent{
		EventUID:       model.EventUID(src, id),
		Source:         src,
		SourceEventID:  id,
		OriginTimeUTC:  originTime,
		Latitude:       *origin.Latitude.Value,
		Longitude:      geo.NormalizeLon(*origin.Longitude.Value),
		DepthKm:        *origin.Depth.Value / 1000.0, // QuakeML reports metres
		MagnitudeValue: *mag.Mag.Value,
		MagnitudeType:  magType,
		Place:          place,
		Region:         region,
		DepthErrorKm:   depthErrKm,
		MagError:       mag.Mag.Uncertainty,
		TimeErrorSec:   origin.Time.Uncertainty,
		Status:         status,
		NumPhases:      origin.Quality.UsedPhaseCount,
		AzimuthalGap:   origin.Quality.AzimuthalGap,
		Author:         author,
		FetchedAt:      fetchedAt,
		UpdatedAt:      updatedAt,
	}
	return ev, nil
}

// preferredOrigin resolves preferredOriginID, falling back to the first
// origin in document order.
func preferredOrigin(e *quakemlEvent) *quakemlOrigin {
	if e.PreferredOriginID != "" {
		for i := range e.Origins {
			if e.Origins[i].PublicID == e.PreferredOriginID {
				return &e.Origins[i]
			}
		}
	}
	if len(e.Origins) > 0 {
		return &e.Origins[0]
	}
	return nil
}

// preferredMagnitude resolves preferredMagnitudeID. Without one, magnitudes
// are ranked by type preference (mw > mww > mb > ml > md > other), then
// station count descending, then document order.
func preferredMagnitude(e *quakemlEvent) *quakemlMagnitude {
	if e.PreferredMagnitudeID != "" {
		for i := range e.Magnitudes {
			if e.Magnitudes[i].PublicID == e.PreferredMagnitudeID {
				return &e.Magnitudes[i]
			}
		}
	}
	if len(e.Magnitudes) == 0 {
		return nil
	}

	idx := make([]int, len(e.Magnitudes))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		ma, mb := &e.Magnitudes[idx[a]], &e.Magnitudes[idx[b]]
		ra, rb := typeRank(ma.Type), typeRank(mb.Type)
		if ra != rb {
			return ra < rb
		}
		return stationCount(ma) > stationCount(mb)
	})
	return &e.Magnitudes[idx[0]]
}

func typeRank(t string) int {
	if r, ok := magTypeRank[strings.ToLower(t)]; ok {
		return r
	}
	return len(magTypeRank)
}

func stationCount(m *quakemlMagnitude) int {
	if m.StationCount == nil {
		return -1
	}
	return *m.StationCount
}

// stripQuakeMLEventID reduces a publicID URN to the agency's bare event id:
// scheme prefixes are dropped, then the value after the last "=" (ISC's
// "evid=" style) or "/" (path style) wins.
func stripQuakeMLEventID(publicID string) string {
	s := publicID
	for _, prefix := range []string{"smi:", "quakeml:"} {
		s = strings.TrimPrefix(s, prefix)
	}
	if i := strings.LastIndex(s, "="); i >= 0 {
		return s[i+1:]
	}
	if i := strings.LastIndex(s, "/"); i >= 0 {
		return s[i+1:]
	}
	return s
}
