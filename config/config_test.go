package config

import (
	"testing"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown job", func(c *Config) { c.Job = "predicting" }},
		{"zero batch size", func(c *Config) { c.BatchSize = 0 }},
		{"crop exceeds resize", func(c *Config) { c.ImageCropSize = c.ImageResizeSize + 1 }},
		{"zero epochs", func(c *Config) { c.NumEpochs = 0 }},
		{"zero patience", func(c *Config) { c.EarlyStoppingPatience = 0 }},
		{"negative lr", func(c *Config) { c.LearningRate = -1 }},
		{"smoothing out of range", func(c *Config) { c.LabelSmoothingEps = 1 }},
		{"zero log freq", func(c *Config) { c.LogFreq = 0 }},
	}

	for _, tt := range tests {
		cfg := Default()
		tt.mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", tt.name)
		}
	}
}

func TestExperimentName(t *testing.T) {
	cfg := Default()
	cfg.Task = "classification"
	cfg.TaskDataset = "cifar10"
	cfg.ModelType = "resnet"
	cfg.AugmentationType = "mixup"

	got := cfg.ExperimentName()
	want := "CLASSIFICATION - CIFAR10 / RESNET / MIXUP"
	if got != want {
		t.Errorf("ExperimentName() = %q, want %q", got, want)
	}
}
