package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"nyiyui.ca/hato/junkan/config"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	out := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs(append(args, "--log-level", "error"))
	err := cmd.Execute()
	return out.String(), err
}

func TestCheck(t *testing.T) {
	out, err := execute(t, "check")
	if err != nil {
		t.Fatalf("check: %s\n%s", err, out)
	}
	for _, want := range []string{
		"13 segments, velocity 1 to 6",
		"train 0: green at 2: green[L1 L2 L3 L4]",
		"train 3: blue at 4: blue[L12 L13 L11 hold[L4 L6 L10]→[L4 L6 L10]]",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output lacks %q:\n%s", want, out)
		}
	}
}

func TestCheckJSON(t *testing.T) {
	out, err := execute(t, "check", "--json")
	if err != nil {
		t.Fatalf("check: %s\n%s", err, out)
	}
	var trains []checkTrain
	if err := json.Unmarshal([]byte(out), &trains); err != nil {
		t.Fatalf("unmarshal: %s\n%s", err, out)
	}
	if len(trains) != 4 {
		t.Fatalf("%d trains", len(trains))
	}
	got := make([]string, len(trains[2].Segments))
	for i, id := range trains[2].Segments {
		got[i] = id.String()
	}
	if diff := cmp.Diff([]string{"L8", "L9", "L10", "L5"}, got); diff != "" {
		t.Fatalf("diff: %s", diff)
	}
}

func TestCheckInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("bounds:\n  min: 0\n  max: 6\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := execute(t, "check", "--config", path); err == nil {
		t.Fatal("no error")
	}
}

func TestAudit(t *testing.T) {
	res, err := audit(context.Background(), config.Default(), 3)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]int{3, 3, 3, 3}, res.Laps); diff != "" {
		t.Fatalf("laps: %s", diff)
	}
	// traversal time per segment is 5/v: 2 for green, 1 for the rest
	if diff := cmp.Diff([]int{24, 12, 12, 18}, res.Time); diff != "" {
		t.Fatalf("time: %s", diff)
	}
	if len(res.Violations) != 0 {
		t.Fatalf("violations: %v", res.Violations)
	}
	// acquired, entered, released for each of 4+4+4+6 segments a lap, plus any waiting
	if res.Events < 3*3*18 {
		t.Fatalf("%d events", res.Events)
	}
}

func TestAuditCmd(t *testing.T) {
	out, err := execute(t, "audit", "--laps", "2")
	if err != nil {
		t.Fatalf("audit: %s\n%s", err, out)
	}
	if !strings.Contains(out, "train 3: 2 laps in 12s") {
		t.Fatalf("output:\n%s", out)
	}
}

func TestAuditLapsInvalid(t *testing.T) {
	for _, laps := range []string{"0", "-1"} {
		_, err := execute(t, "audit", "--laps="+laps)
		if err == nil {
			t.Fatalf("--laps %s: no error", laps)
		}
		if !strings.Contains(err.Error(), "at least 1") {
			t.Fatalf("--laps %s: %s", laps, err)
		}
	}
}
