package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"

	"github.com/mathhub/mathhub/internal/workflow"
)

func TestParseBBoxFlag(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    [4]float64
		wantNil bool
		wantErr bool
	}{
		{name: "empty", in: "", wantNil: true},
		{name: "list", in: "[10, 20, 110, 220]", want: [4]float64{10, 20, 110, 220}},
		{name: "xywh", in: `{"x": 10, "y": 20, "width": 100, "height": 200}`, want: [4]float64{10, 20, 110, 220}},
		{name: "not json", in: "10,20", wantErr: true},
		{name: "not a box", in: `"box"`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := parseBBoxFlag(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseBBoxFlag(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if tt.wantNil {
				if b != nil {
					t.Errorf("expected nil bbox, got %+v", b)
				}
				return
			}
			got := [4]float64{b.X1, b.Y1, b.X2, b.Y2}
			if got != tt.want {
				t.Errorf("parseBBoxFlag(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestRunOptions(t *testing.T) {
	base := workflow.DefaultOptions()

	t.Run("unset flags keep config", func(t *testing.T) {
		cmd := &cobra.Command{Use: "run"}
		initRunFlags(cmd)
		if got := runOptions(cmd, base); got != base {
			t.Errorf("runOptions() = %+v, want %+v", got, base)
		}
	})

	t.Run("set flags override", func(t *testing.T) {
		cmd := &cobra.Command{Use: "run"}
		initRunFlags(cmd)
		if err := cmd.ParseFlags([]string{"--max-pages", "5", "--source-type", "csat", "--source-category", "past_exam"}); err != nil {
			t.Fatal(err)
		}
		got := runOptions(cmd, base)
		if got.MaxPages != 5 || got.SourceType != "csat" || got.SourceCategory != "past_exam" {
			t.Errorf("unexpected options: %+v", got)
		}
		if got.MaxProblems != base.MaxProblems {
			t.Errorf("max problems changed: %d", got.MaxProblems)
		}
	})
}

func TestReadJSONObject(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "status.json")
	if err := os.WriteFile(good, []byte(`{"status": "completed"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	bad := filepath.Join(dir, "list.json")
	if err := os.WriteFile(bad, []byte(`[1, 2]`), 0o644); err != nil {
		t.Fatal(err)
	}

	obj, err := readJSONObject(good)
	if err != nil || obj["status"] != "completed" {
		t.Errorf("readJSONObject() = %v, %v", obj, err)
	}
	if _, err := readJSONObject(bad); err == nil {
		t.Error("expected error for non-object JSON")
	}
	if obj, err := readJSONObject(""); obj != nil || err != nil {
		t.Errorf("empty path = %v, %v, want nil, nil", obj, err)
	}
}
