package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Profile describes how the OCR engine and the generative model are loaded.
// Quantization and device placement are decided when the serving backend
// loads its weights; they are carried here so deployments are described in
// one file and reported by the health endpoint.
type Profile struct {
	Lang         string            `yaml:"lang" json:"lang"`
	OCRVersion   string            `yaml:"ocr_version" json:"ocr_version"`
	UseGPU       bool              `yaml:"use_gpu" json:"use_gpu"`
	Quantization Quantization      `yaml:"quantization" json:"quantization"`
	DeviceMap    map[string]string `yaml:"device_map" json:"device_map,omitempty"`
	MaxNewTokens int               `yaml:"max_new_tokens" json:"max_new_tokens"`
}

// Quantization holds the 4-bit weight loading settings.
type Quantization struct {
	LoadIn4Bit   bool   `yaml:"load_in_4bit" json:"load_in_4bit"`
	DoubleQuant  bool   `yaml:"double_quant" json:"double_quant"`
	QuantType    string `yaml:"quant_type" json:"quant_type"`
	ComputeDType string `yaml:"compute_dtype" json:"compute_dtype"`
	CPUOffload   bool   `yaml:"cpu_offload" json:"cpu_offload"`
}

// DefaultProfile returns the settings the receipt model was published with.
func DefaultProfile() Profile {
	return Profile{
		Lang:       "en",
		OCRVersion: "PP-OCRv4",
		UseGPU:     false,
		Quantization: Quantization{
			LoadIn4Bit:   true,
			DoubleQuant:  true,
			QuantType:    "nf4",
			ComputeDType: "bfloat16",
			CPUOffload:   true,
		},
		DeviceMap: map[string]string{
			"model.embed_tokens": "0",
			"model.layers":       "0",
			"model.norm":         "0",
			"lm_head":            "0",
		},
		MaxNewTokens: 512,
	}
}

// LoadProfile reads a YAML profile. Fields missing from the file keep their
// defaults.
func LoadProfile(path string) (Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, fmt.Errorf("failed to read profile: %w", err)
	}

	profile := DefaultProfile()
	var overlay Profile
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return Profile{}, fmt.Errorf("failed to parse profile: %w", err)
	}
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return Profile{}, fmt.Errorf("failed to parse profile: %w", err)
	}
	// A device map in the file replaces the default one instead of merging
	if overlay.DeviceMap != nil {
		profile.DeviceMap = overlay.DeviceMap
	}

	if profile.MaxNewTokens <= 0 {
		return Profile{}, fmt.Errorf("max_new_tokens must be positive, got %d", profile.MaxNewTokens)
	}
	return profile, nil
}

// CPUOnly reports whether every weight shard is placed on the CPU.
func (p Profile) CPUOnly() bool {
	if len(p.DeviceMap) == 0 {
		return false
	}
	for _, device := range p.DeviceMap {
		if !strings.EqualFold(strings.TrimSpace(device), "cpu") {
			return false
		}
	}
	return true
}
