package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/NERVsystems/pottypal/pkg/geo"
	"github.com/NERVsystems/pottypal/pkg/places"
	"github.com/NERVsystems/pottypal/pkg/region"
	"github.com/NERVsystems/pottypal/pkg/session"
)

// Event types read by -watch. A line without a type is a region.
const (
	eventRegion   = "region"
	eventPosition = "position"
	eventRefresh  = "refresh"
	eventCategory = "category"
	eventOpenNow  = "open_now"
	eventSort     = "sort"
)

// settleWait bounds how long -watch waits for the last region after stdin
// closes.
const settleWait = 30 * time.Second

type watchEvent struct {
	Type     string        `json:"type"`
	Region   *geo.Region   `json:"region,omitempty"`
	Position *geo.Location `json:"position,omitempty"`
	Category string        `json:"category,omitempty"`
	On       bool          `json:"on,omitempty"`
	Sort     string        `json:"sort,omitempty"`
}

type placeLine struct {
	Name     string             `json:"name"`
	Type     string             `json:"type,omitempty"`
	OpenNow  bool               `json:"open_now"`
	Rating   float64            `json:"rating,omitempty"`
	Walking  *places.TravelInfo `json:"walking,omitempty"`
	Driving  *places.TravelInfo `json:"driving,omitempty"`
	Location geo.Location       `json:"location"`
}

type watchLine struct {
	Event  string      `json:"event"`
	Count  int         `json:"count"`
	Places []placeLine `json:"places,omitempty"`
}

// watcher prints the visible place list every time the session's region
// controller reports a change.
type watcher struct {
	svc     *session.Service
	logger  *slog.Logger
	settled chan struct{}

	mu  sync.Mutex
	enc *json.Encoder
}

func newWatcher(out io.Writer, logger *slog.Logger) *watcher {
	return &watcher{
		logger:  logger.With("component", "watch"),
		settled: make(chan struct{}, 1),
		enc:     json.NewEncoder(out),
	}
}

func (w *watcher) hooks() region.Hooks {
	return region.Hooks{
		OnPlaces: func([]places.Place) {
			if w.svc != nil {
				w.emit("places", w.svc.Visible(context.Background()))
			}
		},
		OnNoNewResults: func() {
			w.emit("no_new_results", nil)
		},
		OnSettled: func() {
			select {
			case w.settled <- struct{}{}:
			default:
			}
		},
	}
}

func (w *watcher) emit(event string, list []places.Place) {
	line := watchLine{Event: event, Count: len(list)}
	for _, p := range list {
		pl := placeLine{
			Name:     p.Name(),
			Type:     p.PrimaryType,
			OpenNow:  p.OpenNow(),
			Rating:   p.Rating,
			Location: p.Location,
		}
		if p.DistanceInfo != nil {
			walking, driving := p.DistanceInfo.Walking, p.DistanceInfo.Driving
			pl.Walking, pl.Driving = &walking, &driving
		}
		line.Places = append(line.Places, pl)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.enc.Encode(line); err != nil {
		w.logger.Error("writing output", "error", err)
	}
}

// run applies events from r until it is exhausted or ctx is done. If a
// region was scheduled, it then waits for the latest one to settle.
func (w *watcher) run(ctx context.Context, r io.Reader) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				scanErr <- nil
				return
			}
		}
		scanErr <- sc.Err()
	}()

	pending := false
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				if err := <-scanErr; err != nil {
					return fmt.Errorf("reading events: %w", err)
				}
				if pending {
					w.waitSettled(ctx)
				}
				return nil
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			isRegion, err := w.apply(ctx, line)
			if err != nil {
				w.logger.Warn("skipping event", "error", err, "line", line)
				continue
			}
			pending = pending || isRegion
		}
	}
}

func (w *watcher) waitSettled(ctx context.Context) {
	select {
	case <-w.settled:
	case <-ctx.Done():
	case <-time.After(settleWait):
		w.logger.Warn("last region did not settle", "waited", settleWait)
	}
}

// apply handles one event line and reports whether it scheduled a region
// decision.
func (w *watcher) apply(ctx context.Context, line string) (bool, error) {
	var ev watchEvent
	if err := json.Unmarshal([]byte(line), &ev); err != nil {
		return false, fmt.Errorf("decoding event: %w", err)
	}

	switch ev.Type {
	case "", eventRegion:
		r := ev.Region
		if r == nil {
			// A bare viewport line.
			r = new(geo.Region)
			if err := json.Unmarshal([]byte(line), r); err != nil {
				return false, fmt.Errorf("decoding region: %w", err)
			}
		}
		if err := geo.ValidateCoords(r.Latitude, r.Longitude); err != nil {
			return false, err
		}
		if r.LongitudeDelta <= 0 {
			return false, fmt.Errorf("region needs a positive longitudeDelta")
		}
		select {
		case <-w.settled:
		default:
		}
		w.svc.OnRegionSettled(*r)
		return true, nil

	case eventPosition:
		if ev.Position == nil {
			return false, fmt.Errorf("position event without a position")
		}
		if err := geo.ValidateCoords(ev.Position.Latitude, ev.Position.Longitude); err != nil {
			return false, err
		}
		w.svc.UpdatePosition(ctx, *ev.Position)

	case eventRefresh:
		if ev.Region == nil {
			return false, fmt.Errorf("refresh event without a region")
		}
		w.svc.Refresh(ctx, *ev.Region)

	case eventCategory:
		c, ok := places.ParseCategory(strings.ToLower(ev.Category))
		if !ok {
			return false, fmt.Errorf("unknown category %q", ev.Category)
		}
		w.svc.ToggleCategory(c)
		w.emit("places", w.svc.Visible(ctx))

	case eventOpenNow:
		w.svc.SetOpenNowOnly(ev.On)
		w.emit("places", w.svc.Visible(ctx))

	case eventSort:
		order := places.SortOrder(strings.ToLower(ev.Sort))
		if order != places.SortDistance && order != places.SortPopularity {
			return false, fmt.Errorf("unknown sort order %q", ev.Sort)
		}
		w.svc.SetSortOrder(order)
		w.emit("places", w.svc.Visible(ctx))

	default:
		return false, fmt.Errorf("unknown event type %q", ev.Type)
	}
	return false, nil
}
