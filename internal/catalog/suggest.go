package catalog

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/ukydev/vahan-live/internal/models"
)

var (
	ErrMissingStops = errors.New("please provide both startStopId and endStopId")
	ErrSameStop     = errors.New("start and end stops cannot be the same")
)

// minutesPerStop is the surface travel estimate between adjacent stops.
const minutesPerStop = 12

// RouteTypeVia marks a two-leg suggestion.
const RouteTypeVia = "via"

// Leg is one ride on a single route.
type Leg struct {
	RouteID       string `json:"routeId"`
	RouteName     string `json:"routeName"`
	RouteColor    string `json:"routeColor"`
	RouteType     string `json:"routeType"`
	StartStop     string `json:"startStop,omitempty"`
	EndStop       string `json:"endStop,omitempty"`
	StopsCount    int    `json:"stopsCount"`
	EstimatedTime int    `json:"estimatedTime"`
}

// Suggestion is a direct route or a two-leg transfer.
type Suggestion struct {
	Leg
	IsDirect bool  `json:"isDirect,omitempty"`
	Legs     []Leg `json:"legs,omitempty"`
}

// Plan is the response to a route suggestion request.
type Plan struct {
	Message          string       `json:"message"`
	SuggestedRoutes  []Suggestion `json:"suggestedRoutes"`
	BestRoute        *Suggestion  `json:"bestRoute,omitempty"`
	RequiresTransfer bool         `json:"requiresTransfer,omitempty"`
}

// Suggest finds direct routes containing both stops, falling back to two-leg
// routes through a shared stop.
func (c *Catalog) Suggest(startStopID, endStopID string) (Plan, error) {
	if startStopID == "" || endStopID == "" {
		return Plan{}, ErrMissingStops
	}
	if startStopID == endStopID {
		return Plan{}, ErrSameStop
	}

	direct := c.direct(startStopID, endStopID)
	if len(direct) > 0 {
		best := direct[0]
		return Plan{
			Message:         fmt.Sprintf("Found %d route(s)", len(direct)),
			SuggestedRoutes: direct,
			BestRoute:       &best,
		}, nil
	}

	via := c.via(startStopID, endStopID)
	if len(via) > 0 {
		return Plan{
			Message:          "No direct routes found. Suggested 2-leg (via) routes:",
			SuggestedRoutes:  via,
			RequiresTransfer: true,
		}, nil
	}
	return Plan{
		Message:          "No direct routes found. Consider multi-route journey.",
		SuggestedRoutes:  []Suggestion{},
		RequiresTransfer: true,
	}, nil
}

func (c *Catalog) direct(start, end string) []Suggestion {
	var out []Suggestion
	for i := range c.routes {
		r := &c.routes[i]
		si, ei := r.StopIndex(start), r.StopIndex(end)
		if si < 0 || ei < 0 {
			continue
		}
		out = append(out, Suggestion{Leg: leg(r, si, ei), IsDirect: true})
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.RouteType != b.RouteType {
			return a.RouteType == string(models.KindSurface)
		}
		if a.RouteType == string(models.KindSurface) {
			return a.StopsCount < b.StopsCount
		}
		return a.EstimatedTime < b.EstimatedTime
	})
	return out
}

func (c *Catalog) via(start, end string) []Suggestion {
	var out []Suggestion
	for i := range c.routes {
		first := &c.routes[i]
		si := first.StopIndex(start)
		if si < 0 {
			continue
		}
		for j := range c.routes {
			second := &c.routes[j]
			ei := second.StopIndex(end)
			if ei < 0 || first.ID == second.ID {
				continue
			}
			for ti, transfer := range first.Stops {
				tj := second.StopIndex(transfer.ID)
				if tj < 0 {
					continue
				}
				a, b := leg(first, si, ti), leg(second, tj, ei)
				out = append(out, Suggestion{
					Leg: Leg{
						RouteID:       first.ID + "+" + second.ID,
						RouteName:     first.Name + " → " + second.Name,
						RouteColor:    first.Color,
						RouteType:     RouteTypeVia,
						StopsCount:    a.StopsCount + b.StopsCount,
						EstimatedTime: a.EstimatedTime + b.EstimatedTime,
					},
					Legs: []Leg{a, b},
				})
			}
		}
	}
	return out
}

func leg(r *models.Route, from, to int) Leg {
	stops := to - from
	if stops < 0 {
		stops = -stops
	}
	return Leg{
		RouteID:       r.ID,
		RouteName:     r.Name,
		RouteColor:    r.Color,
		RouteType:     string(r.Kind),
		StartStop:     r.Stops[from].Name,
		EndStop:       r.Stops[to].Name,
		StopsCount:    stops,
		EstimatedTime: estimateMinutes(r, stops),
	}
}

func estimateMinutes(r *models.Route, stops int) int {
	if r.Kind == models.KindAir {
		return int(durationHours(r.Schedule.Duration) * 60)
	}
	return stops * minutesPerStop
}

// durationHours reads the leading number of a duration like "2.5 hours".
func durationHours(s string) float64 {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return 0
	}
	h, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0
	}
	return h
}
