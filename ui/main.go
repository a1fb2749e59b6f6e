// Package ui draws a Guide's trains and segments in the terminal, and changes their speed from the keyboard.
//
// Keys: 1-9 select a train, + and - (or up and down) change its speed, q quits.
package ui

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gizak/termui/v3"
	"github.com/gizak/termui/v3/widgets"
	"go.uber.org/zap"
	. "nyiyui.ca/hato/junkan"
	"nyiyui.ca/hato/junkan/tal"
	"nyiyui.ca/hato/junkan/tal/layout"
)

const frame = 100 * time.Millisecond

var colorStyles = map[Color]termui.Color{
	Green:  termui.ColorGreen,
	Purple: termui.ColorMagenta,
	Red:    termui.ColorRed,
	Blue:   termui.ColorBlue,
}

// Main draws g until q is pressed or ctx is done.
// It owns the terminal meanwhile, so logs should go elsewhere.
func Main(ctx context.Context, g *tal.Guide) error {
	err := termui.Init()
	if err != nil {
		return fmt.Errorf("termui init: %s", err)
	}
	defer termui.Close()

	v := newView(g)
	v.draw()
	events := termui.PollEvents()
	tick := time.NewTicker(frame)
	defer tick.Stop()
	for {
		select {
		case e := <-events:
			if e.Type != termui.KeyboardEvent {
				continue
			}
			if v.handleKey(e.ID) {
				return nil
			}
			v.draw()
		case <-tick.C:
			v.draw()
		case <-ctx.Done():
			return nil
		}
	}
}

type view struct {
	g        *tal.Guide
	observer *tal.Observer
	selected TrainID
	msg      string

	trains   *widgets.Table
	segments *widgets.Paragraph
	status   *widgets.Paragraph
}

func newView(g *tal.Guide) *view {
	v := &view{
		g:        g,
		observer: tal.NewObserver(g),
		trains:   widgets.NewTable(),
		segments: widgets.NewParagraph(),
		status:   widgets.NewParagraph(),
	}
	v.trains.Title = "trains"
	v.trains.RowSeparator = false
	v.trains.SetRect(0, 0, 80, 3+g.Len())
	v.segments.Title = "segments"
	v.segments.SetRect(0, 3+g.Len(), 80, 6+g.Len())
	v.status.SetRect(0, 6+g.Len(), 80, 9+g.Len())
	return v
}

// handleKey acts on a key, and returns whether to quit.
func (v *view) handleKey(id string) bool {
	switch id {
	case "q", "<C-c>":
		return true
	case "+", "=", "<Up>":
		v.change(v.g.Increment)
	case "-", "<Down>":
		v.change(v.g.Decrement)
	default:
		n, err := strconv.Atoi(id)
		if err != nil || n < 1 || n > v.g.Len() {
			return false
		}
		v.selected = TrainID(n - 1)
		v.msg = fmt.Sprintf("selected train %d", n-1)
	}
	return false
}

func (v *view) change(f func(TrainID) (int, error)) {
	vel, err := f(v.selected)
	if err != nil {
		zap.S().Errorf("ui: %s", err)
		v.msg = err.Error()
		return
	}
	v.msg = fmt.Sprintf("train %d: velocity %d", int(v.selected), vel)
}

func (v *view) draw() {
	gs := v.g.Snapshot()
	positions := v.observer.Poll()
	v.trains.Rows = trainRows(gs, positions, v.selected)
	v.trains.RowStyles = map[int]termui.Style{}
	for i, tv := range gs.Trains {
		style := termui.NewStyle(colorStyles[tv.Color])
		if tv.ID == v.selected {
			style.Modifier = termui.ModifierBold
		}
		v.trains.RowStyles[i+1] = style
	}
	v.segments.Text = segmentLine(gs.Occupancy)
	v.status.Text = v.msg
	termui.Render(v.trains, v.segments, v.status)
}

func trainRows(gs tal.GuideSnapshot, positions []SegmentID, selected TrainID) [][]string {
	rows := [][]string{{"", "id", "color", "at", "velocity", "lap", "laps", "state"}}
	for i, tv := range gs.Trains {
		mark := ""
		if tv.ID == selected {
			mark = ">"
		}
		state := tv.State.String()
		if tv.Err != "" {
			state += ": " + tv.Err
		}
		rows = append(rows, []string{
			mark,
			strconv.Itoa(int(tv.ID)),
			tv.Color.String(),
			positions[i].String(),
			strconv.Itoa(tv.Velocity),
			strconv.Itoa(tv.LapVelocity),
			strconv.Itoa(tv.Laps),
			state,
		})
	}
	return rows
}

// segmentLine shows each segment's holder, · if free, and ! if poisoned.
func segmentLine(occ []layout.Occupant) string {
	b := new(strings.Builder)
	for i, o := range occ {
		if i != 0 {
			b.WriteString(" ")
		}
		fmt.Fprintf(b, "%s:", o.Segment)
		switch {
		case o.Poisoned:
			b.WriteString("!")
		case o.Held:
			fmt.Fprintf(b, "%d", int(o.Holder))
		default:
			b.WriteString("·")
		}
	}
	return b.String()
}
