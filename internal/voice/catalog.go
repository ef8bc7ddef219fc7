// Package voice provides the read-only catalog of named voices: the embedded
// preset set served by fixed-voice backends and the file-backed reference
// samples used by cloning backends.
package voice

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/book-expert/logger"
)

// Family groups voices by the kind of backend able to use them.
type Family string

const (
	// FamilyPreset voices are built into a fixed-voice backend.
	FamilyPreset Family = "preset"
	// FamilyCloning voices are reference samples for cloning backends.
	FamilyCloning Family = "cloning"
)

const (
	// DefaultID is the synthetic entry every family exposes.
	DefaultID = "default"
	// DefaultPreset is substituted when a preset voice is unknown.
	DefaultPreset = "af_heart"

	defaultStyle = "default"
	neutral      = "neutral"
)

//go:embed presets.json
var presetsJSON []byte

// Entry is one catalog record.
type Entry struct {
	ID          string
	Name        string
	Description string
	Gender      string
	Accent      string
	Style       string
	Family      Family
	// SamplePath is the resolved reference file for cloning voices.
	SamplePath string
	// HasSample is computed at listing time.
	HasSample bool
}

// Catalog is loaded once and never mutated afterwards, so it is safe for
// concurrent readers.
type Catalog struct {
	presets     map[string]Entry
	presetOrder []string
	samples     map[string]Entry
	sampleOrder []string
	samplesDir  string
	log         *logger.Logger
}

type presetFile struct {
	Voices []struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		Gender      string `json:"gender"`
		Accent      string `json:"accent"`
		Description string `json:"description"`
	} `json:"voices"`
}

// NewCatalog builds the catalog from the embedded presets and the manifest in
// samplesDir. A missing or invalid manifest leaves the cloning family empty.
func NewCatalog(samplesDir string, log *logger.Logger) (*Catalog, error) {
	catalog := &Catalog{
		presets:     make(map[string]Entry),
		presetOrder: nil,
		samples:     make(map[string]Entry),
		sampleOrder: nil,
		samplesDir:  samplesDir,
		log:         log,
	}

	err := catalog.loadPresets()
	if err != nil {
		return nil, err
	}

	catalog.loadManifest()

	return catalog, nil
}

func (c *Catalog) loadPresets() error {
	var file presetFile

	err := json.Unmarshal(presetsJSON, &file)
	if err != nil {
		return fmt.Errorf("failed to parse embedded preset voices: %w", err)
	}

	for _, preset := range file.Voices {
		c.presets[preset.ID] = Entry{
			ID:          preset.ID,
			Name:        preset.Name,
			Description: preset.Description,
			Gender:      preset.Gender,
			Accent:      preset.Accent,
			Style:       defaultStyle,
			Family:      FamilyPreset,
			SamplePath:  "",
			HasSample:   false,
		}
		c.presetOrder = append(c.presetOrder, preset.ID)
	}

	return nil
}

func (c *Catalog) loadManifest() {
	if c.samplesDir == "" {
		c.log.Warn("No voice samples directory configured; cloning voices disabled")

		return
	}

	manifestPath := filepath.Join(c.samplesDir, ManifestFileName)

	data, err := os.ReadFile(manifestPath)
	if err != nil {
		c.log.Warn("Voice library not found at %s: %v", manifestPath, err)

		return
	}

	manifest, err := parseManifest(data)
	if err != nil {
		c.log.Error("Failed to load voice library %s: %v", manifestPath, err)

		return
	}

	for _, record := range manifest.Voices {
		if _, duplicate := c.samples[record.ID]; duplicate {
			c.log.Warn("Duplicate voice id %q in %s; keeping the first entry", record.ID, manifestPath)

			continue
		}

		c.samples[record.ID] = Entry{
			ID:          record.ID,
			Name:        valueOr(record.Name, record.ID),
			Description: record.Description,
			Gender:      valueOr(record.Gender, "unknown"),
			Accent:      "",
			Style:       valueOr(record.Style, "general"),
			Family:      FamilyCloning,
			SamplePath:  filepath.Join(c.samplesDir, record.File),
			HasSample:   false,
		}
		c.sampleOrder = append(c.sampleOrder, record.ID)
	}

	c.log.Info("Loaded %d voices from library %s", len(c.samples), manifestPath)
}

// SamplesDir returns the directory the manifest was read from.
func (c *Catalog) SamplesDir() string {
	return c.samplesDir
}

// Preset looks up a built-in voice.
func (c *Catalog) Preset(id string) (Entry, bool) {
	entry, ok := c.presets[id]

	return entry, ok
}

// Sample looks up a file-backed voice.
func (c *Catalog) Sample(id string) (Entry, bool) {
	entry, ok := c.samples[id]

	return entry, ok
}

// SamplePath returns the reference file for a cloning voice when the voice is
// known and its file exists.
func (c *Catalog) SamplePath(id string) (string, bool) {
	entry, ok := c.samples[id]
	if !ok {
		return "", false
	}

	if !fileExists(entry.SamplePath) {
		c.log.Warn("Voice sample file not found: %s", entry.SamplePath)

		return "", false
	}

	return entry.SamplePath, true
}

// Count returns the number of named voices, excluding the synthetic defaults.
func (c *Catalog) Count() int {
	return len(c.presets) + len(c.samples)
}

// List returns the entries of the requested families, each family led by its
// synthetic default entry. With no families given, all are listed.
func (c *Catalog) List(families ...Family) []Entry {
	if len(families) == 0 {
		families = []Family{FamilyPreset, FamilyCloning}
	}

	var entries []Entry

	for _, family := range families {
		entries = append(entries, defaultEntry(family))

		switch family {
		case FamilyPreset:
			for _, id := range c.presetOrder {
				entries = append(entries, c.presets[id])
			}
		case FamilyCloning:
			for _, id := range c.sampleOrder {
				entry := c.samples[id]
				entry.HasSample = fileExists(entry.SamplePath)
				entries = append(entries, entry)
			}
		}
	}

	return entries
}

func defaultEntry(family Family) Entry {
	description := "Default preset voice (" + DefaultPreset + ")"
	if family == FamilyCloning {
		description = "Default cloning-backend voice (no cloning)"
	}

	return Entry{
		ID:          DefaultID,
		Name:        "Default",
		Description: description,
		Gender:      neutral,
		Accent:      "",
		Style:       defaultStyle,
		Family:      family,
		SamplePath:  "",
		HasSample:   false,
	}
}

func valueOr(value, fallback string) string {
	if value == "" {
		return fallback
	}

	return value
}

func fileExists(path string) bool {
	info, err := os.Stat(path)

	return err == nil && !info.IsDir()
}
