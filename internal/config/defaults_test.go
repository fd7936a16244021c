package config

import (
	"errors"
	"strings"
	"testing"
)

func TestDefaultEntries(t *testing.T) {
	entries := DefaultEntries()

	if len(entries) == 0 {
		t.Fatal("DefaultEntries() returned empty slice")
	}

	requiredKeys := []string{
		"mathpix.app_id",
		"mathpix.app_key",
		"gemini.api_key",
		"gemini.model",
		"gemini.fallback_model",
		"storage.bucket",
		"database.url",
		"poller.max_polls",
		"workflow.curriculum_code",
		"workflow.max_problems",
	}

	keys := make(map[string]bool)
	for _, e := range entries {
		if keys[e.Key] {
			t.Errorf("duplicate key %s", e.Key)
		}
		keys[e.Key] = true
		if e.Description == "" {
			t.Errorf("key %s has no description", e.Key)
		}
		if e.Key != strings.ToLower(e.Key) {
			t.Errorf("key %s is not lower case", e.Key)
		}
	}

	for _, key := range requiredKeys {
		if !keys[key] {
			t.Errorf("DefaultEntries() missing required key: %s", key)
		}
	}
}

func TestGetDefault(t *testing.T) {
	t.Run("existing_key", func(t *testing.T) {
		entry := GetDefault("gemini.fallback_model")
		if entry == nil {
			t.Fatal("GetDefault() returned nil for existing key")
		}
		if entry.Value != "gemini-2.5-flash" {
			t.Errorf("GetDefault() Value = %v, want %q", entry.Value, "gemini-2.5-flash")
		}
	})

	t.Run("key_is_normalized", func(t *testing.T) {
		if GetDefault("  Workflow.Max_Pages ") == nil {
			t.Error("GetDefault() did not normalize key")
		}
	})

	t.Run("non_existent_key", func(t *testing.T) {
		entry := GetDefault("does.not.exist")
		if entry != nil {
			t.Errorf("GetDefault() = %v, want nil for non-existent key", entry)
		}
	})
}

func TestLookupDefault(t *testing.T) {
	entry, err := LookupDefault("workflow.max_problems")
	if err != nil {
		t.Fatalf("LookupDefault() error = %v", err)
	}
	if entry.Value != 200 {
		t.Errorf("LookupDefault() Value = %v, want 200", entry.Value)
	}

	if _, err := LookupDefault("nope"); !errors.Is(err, ErrNoDefault) {
		t.Errorf("LookupDefault() error = %v, want ErrNoDefault", err)
	}
}
