package schedule

import (
	"fmt"
	"math"
	"time"
)

// SolarEvent names an astronomical event observable from a fixed point.
type SolarEvent string

const (
	EventDawnAstronomical SolarEvent = "dawn_astronomical"
	EventDawnNautical     SolarEvent = "dawn_nautical"
	EventDawnCivil        SolarEvent = "dawn_civil"
	EventSunrise          SolarEvent = "sunrise"
	EventSolarNoon        SolarEvent = "solar_noon"
	EventSunset           SolarEvent = "sunset"
	EventDuskCivil        SolarEvent = "dusk_civil"
	EventDuskNautical     SolarEvent = "dusk_nautical"
	EventDuskAstronomical SolarEvent = "dusk_astronomical"
)

// Zenith angles (degrees) for the horizon crossings. The official value
// includes atmospheric refraction and the apparent solar radius.
const (
	zenithOfficial     = 90.0 + 50.0/60.0
	zenithCivil        = 96.0
	zenithNautical     = 102.0
	zenithAstronomical = 108.0
)

// How many consecutive UTC dates to scan for an occurrence. Every event
// occurs at least once per year at any latitude where it occurs at all,
// so a year plus slack is enough.
const solarScanDays = 368

type solarParams struct {
	zenithDeg float64
	rising    bool
	noon      bool
}

var solarEvents = map[SolarEvent]solarParams{
	EventDawnAstronomical: {zenithDeg: zenithAstronomical, rising: true},
	EventDawnNautical:     {zenithDeg: zenithNautical, rising: true},
	EventDawnCivil:        {zenithDeg: zenithCivil, rising: true},
	EventSunrise:          {zenithDeg: zenithOfficial, rising: true},
	EventSolarNoon:        {noon: true},
	EventSunset:           {zenithDeg: zenithOfficial},
	EventDuskCivil:        {zenithDeg: zenithCivil},
	EventDuskNautical:     {zenithDeg: zenithNautical},
	EventDuskAstronomical: {zenithDeg: zenithAstronomical},
}

// Solar fires at an astronomical event (sunrise, sunset, the twilight
// dawns and dusks, or solar noon) as seen from a fixed point on Earth.
//
// Event times come from the NOAA solar position formulas, accurate to a
// couple of minutes. During polar day or night a crossing event may not
// occur for months; evaluation then reports ErrNoOccurrence and callers
// re-check daily until the sun returns.
type Solar struct {
	Event     SolarEvent
	Latitude  float64 // degrees, north positive
	Longitude float64 // degrees, east positive
}

func (s Solar) Kind() Kind { return KindSolar }

func (s Solar) Validate() error {
	if _, ok := solarEvents[s.Event]; !ok {
		return fmt.Errorf("%w: unknown solar event %q", ErrInvalid, string(s.Event))
	}
	if s.Latitude < -90 || s.Latitude > 90 {
		return fmt.Errorf("%w: latitude %v out of range [-90, 90]", ErrInvalid, s.Latitude)
	}
	if s.Longitude < -180 || s.Longitude > 180 {
		return fmt.Errorf("%w: longitude %v out of range [-180, 180]", ErrInvalid, s.Longitude)
	}
	return nil
}

func (s Solar) IsDue(lastRun, now time.Time) (Due, error) {
	ref := lastRun
	if ref.IsZero() {
		ref = now
	}
	next, err := s.next(ref)
	if err != nil {
		return Due{}, err
	}
	if !next.After(now) {
		wait := NeverCheck
		if following, err := s.next(now); err == nil {
			wait = following.Sub(now)
		}
		return Due{Fire: true, Wait: wait}, nil
	}
	return Due{Wait: next.Sub(now)}, nil
}

func (s Solar) String() string {
	return fmt.Sprintf("%s at (%.4f, %.4f)", string(s.Event), s.Latitude, s.Longitude)
}

// next returns the first occurrence of the event strictly after the given
// instant. The scan starts one UTC date early because high longitudes can
// shift an occurrence onto the neighboring UTC date.
func (s Solar) next(after time.Time) (time.Time, error) {
	ev, ok := solarEvents[s.Event]
	if !ok {
		return time.Time{}, fmt.Errorf("%w: unknown solar event %q", ErrInvalid, string(s.Event))
	}
	start := after.UTC().AddDate(0, 0, -1)
	for i := 0; i < solarScanDays; i++ {
		d := start.AddDate(0, 0, i)
		t, ok := s.occurrence(d.Year(), d.Month(), d.Day(), ev)
		if ok && t.After(after) {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %s at (%.4f, %.4f)",
		ErrNoOccurrence, string(s.Event), s.Latitude, s.Longitude)
}

// occurrence computes the event time on one UTC date using the NOAA solar
// position formulas (fractional year, equation of time, declination, hour
// angle). ok is false when the sun does not cross the event's zenith on
// that date (polar day or night).
func (s Solar) occurrence(year int, month time.Month, day int, ev solarParams) (time.Time, bool) {
	midnight := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	doy := float64(midnight.YearDay())

	// Fractional year at local solar noon, radians.
	g := 2 * math.Pi / 365 * (doy - 1)

	// Equation of time, minutes.
	eqtime := 229.18 * (0.000075 +
		0.001868*math.Cos(g) - 0.032077*math.Sin(g) -
		0.014615*math.Cos(2*g) - 0.040849*math.Sin(2*g))

	// Solar declination, radians.
	decl := 0.006918 -
		0.399912*math.Cos(g) + 0.070257*math.Sin(g) -
		0.006758*math.Cos(2*g) + 0.000907*math.Sin(2*g) -
		0.002697*math.Cos(3*g) + 0.00148*math.Sin(3*g)

	if ev.noon {
		minutes := 720 - 4*s.Longitude - eqtime
		return midnight.Add(time.Duration(minutes * float64(time.Minute))), true
	}

	lat := s.Latitude * math.Pi / 180
	zen := ev.zenithDeg * math.Pi / 180
	cosHA := math.Cos(zen)/(math.Cos(lat)*math.Cos(decl)) - math.Tan(lat)*math.Tan(decl)
	if cosHA < -1 || cosHA > 1 || math.IsNaN(cosHA) {
		return time.Time{}, false
	}
	haDeg := math.Acos(cosHA) * 180 / math.Pi

	var minutes float64
	if ev.rising {
		minutes = 720 - 4*(s.Longitude+haDeg) - eqtime
	} else {
		minutes = 720 - 4*(s.Longitude-haDeg) - eqtime
	}
	return midnight.Add(time.Duration(minutes * float64(time.Minute))), true
}
