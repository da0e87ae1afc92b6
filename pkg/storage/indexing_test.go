package storage

import (
	"fmt"
	"reflect"
	"testing"
)

func TestIndexAddSource(t *testing.T) {
	idx := NewIndex()

	if err := idx.AddSource("ir_data", []string{"ir_front_left", "ir_front_right"}); err != nil {
		t.Fatalf("Failed to add source: %v", err)
	}

	// Adding the same source again merges features
	if err := idx.AddSource("ir_data", []string{"ir_back_left"}); err != nil {
		t.Fatalf("Failed to add source again: %v", err)
	}

	if idx.SourceCount() != 1 {
		t.Errorf("Expected 1 source, got %d", idx.SourceCount())
	}

	info, ok := idx.GetSource("ir_data")
	if !ok {
		t.Fatal("Source not found")
	}
	want := []string{"ir_back_left", "ir_front_left", "ir_front_right"}
	if !reflect.DeepEqual(info.Features, want) {
		t.Errorf("Expected features %v, got %v", want, info.Features)
	}

	if err := idx.AddSource("", nil); err == nil {
		t.Error("Expected error for empty source name")
	}
}

func TestIndexFindSources(t *testing.T) {
	idx := NewIndex()

	idx.AddSource("ir_data", []string{"ir_front_left", "session"})
	idx.AddSource("mpu_data", []string{"gyro_x_angle", "session"})
	idx.AddSource("system_data", []string{"cpu_utilization"})

	found := idx.FindSources([]string{"session"})
	if !reflect.DeepEqual(found, []string{"ir_data", "mpu_data"}) {
		t.Errorf("Expected ir_data and mpu_data, got %v", found)
	}

	found = idx.FindSources([]string{"session", "gyro_x_angle"})
	if !reflect.DeepEqual(found, []string{"mpu_data"}) {
		t.Errorf("Expected mpu_data, got %v", found)
	}

	if found = idx.FindSources([]string{"missing"}); len(found) != 0 {
		t.Errorf("Expected no sources, got %v", found)
	}

	if found = idx.FindSources(nil); len(found) != 3 {
		t.Errorf("Expected all 3 sources, got %v", found)
	}
}

func TestIndexUpdateTimeRange(t *testing.T) {
	idx := NewIndex()
	idx.AddSource("cpu", []string{"usage"})

	if err := idx.UpdateTimeRange("cpu", 1000, 2000, 2); err != nil {
		t.Fatalf("Failed to update time range: %v", err)
	}

	meta := idx.sources["cpu"]
	if meta.MinTime != 1000 || meta.MaxTime != 2000 {
		t.Errorf("Expected [1000, 2000], got [%d, %d]", meta.MinTime, meta.MaxTime)
	}

	if err := idx.UpdateTimeRange("cpu", 500, 1500, 3); err != nil {
		t.Fatalf("Failed to update time range: %v", err)
	}
	if meta.MinTime != 500 || meta.MaxTime != 2000 {
		t.Errorf("Expected [500, 2000], got [%d, %d]", meta.MinTime, meta.MaxTime)
	}
	if meta.Samples != 5 {
		t.Errorf("Expected 5 samples, got %d", meta.Samples)
	}

	if err := idx.UpdateTimeRange("missing", 0, 1, 1); err == nil {
		t.Error("Expected error for unknown source")
	}
}

func TestIndexSerializeRoundTrip(t *testing.T) {
	idx := NewIndex()
	idx.AddSource("ir_data", []string{"ir_front_left", "ir_front_right"})
	idx.AddSource("mpu_data", []string{"gyro_x_angle"})
	idx.UpdateTimeRange("ir_data", -5, 50, 7)

	data, err := idx.Serialize()
	if err != nil {
		t.Fatalf("Failed to serialize index: %v", err)
	}

	restored := NewIndex()
	if err := restored.Deserialize(data); err != nil {
		t.Fatalf("Failed to deserialize index: %v", err)
	}

	if !reflect.DeepEqual(idx.Sources(), restored.Sources()) {
		t.Errorf("Round trip mismatch:\n%+v\n%+v", idx.Sources(), restored.Sources())
	}
	if got := restored.FindSources([]string{"gyro_x_angle"}); !reflect.DeepEqual(got, []string{"mpu_data"}) {
		t.Errorf("Feature index not rebuilt, got %v", got)
	}
}

func TestIndexDeserializeTruncated(t *testing.T) {
	idx := NewIndex()
	idx.AddSource("ir_data", []string{"ir_front_left"})

	data, err := idx.Serialize()
	if err != nil {
		t.Fatalf("Failed to serialize index: %v", err)
	}

	if err := NewIndex().Deserialize(data[:len(data)-3]); err == nil {
		t.Error("Expected error on truncated index")
	}
}

func BenchmarkIndexFindSources(b *testing.B) {
	idx := NewIndex()
	for i := 0; i < 1000; i++ {
		idx.AddSource(fmt.Sprintf("source_%d", i), []string{"x", "y", fmt.Sprintf("f_%d", i%10)})
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		idx.FindSources([]string{"x", "f_3"})
	}
}
