// Package catalog serves the static reference text shown next to a diagnosis.
package catalog

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/example/leafscan/internal/pipeline"
)

//go:embed diseases.yaml
var embeddedDiseases []byte

// Indicator is the traffic-light color attached to a record.
type Indicator string

const (
	IndicatorGreen  Indicator = "green"
	IndicatorOrange Indicator = "orange"
	IndicatorRed    Indicator = "red"
)

// Record describes one label.
type Record struct {
	Label      string    `yaml:"label" json:"label"`
	Type       string    `yaml:"type" json:"type"`
	Indicator  Indicator `yaml:"indicator" json:"indicator"`
	Symptoms   []string  `yaml:"symptoms" json:"symptoms"`
	Causes     []string  `yaml:"causes" json:"causes"`
	Management []string  `yaml:"management" json:"management"`
}

const noInformation = "No information available"

// Unknown is returned for labels the catalog does not describe.
func Unknown(label string) Record {
	return Record{
		Label:      label,
		Type:       "Unknown",
		Indicator:  IndicatorGreen,
		Symptoms:   []string{noInformation},
		Causes:     []string{noInformation},
		Management: []string{noInformation},
	}
}

// KindInvalidFile is used for uploads refused before the pipeline runs.
const KindInvalidFile pipeline.Kind = "invalid_file"

// Guidance is what a user sees after a rejection.
type Guidance struct {
	Message string `json:"message"`
	Advice  string `json:"advice"`
}

var guidance = map[pipeline.Kind]Guidance{
	KindInvalidFile: {
		Message: "Invalid file type. Please upload a valid image.",
		Advice:  "Supported formats are PNG, JPG and JPEG.",
	},
	pipeline.KindDecode: {
		Message: pipeline.MsgUnreadable,
		Advice:  "Please upload a valid PNG or JPEG image.",
	},
	pipeline.KindDarkness: {
		Message: pipeline.MsgTooDark,
		Advice:  "Ensure the image has enough light and clear details.",
	},
	pipeline.KindPlantAbsence: {
		Message: pipeline.MsgNotPlant,
		Advice:  "Please upload a clear image of rice or sugarcane leaves.",
	},
	pipeline.KindLowConfidence: {
		Message: pipeline.MsgNoMatch,
		Advice:  "Please upload a valid image of rice or sugarcane.",
	},
}

// Catalog is an immutable label index.
type Catalog struct {
	order   []string
	records map[string]Record
}

// Load parses the embedded catalog.
func Load() (*Catalog, error) {
	return Parse(embeddedDiseases)
}

// Parse builds a catalog from YAML with a top level diseases list.
func Parse(data []byte) (*Catalog, error) {
	var doc struct {
		Diseases []Record `yaml:"diseases"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("catalog: parse: %w", err)
	}

	c := &Catalog{records: make(map[string]Record, len(doc.Diseases))}
	for _, r := range doc.Diseases {
		if r.Label == "" {
			return nil, fmt.Errorf("catalog: record without label")
		}
		if _, dup := c.records[r.Label]; dup {
			return nil, fmt.Errorf("catalog: duplicate label %q", r.Label)
		}
		if r.Indicator == "" {
			r.Indicator = IndicatorGreen
		}
		c.order = append(c.order, r.Label)
		c.records[r.Label] = r
	}
	return c, nil
}

// Lookup returns the record for label, or Unknown(label) with ok false.
func (c *Catalog) Lookup(label string) (Record, bool) {
	r, ok := c.records[label]
	if !ok {
		return Unknown(label), false
	}
	return r, true
}

// Labels lists the described labels in file order.
func (c *Catalog) Labels() []string {
	return append([]string(nil), c.order...)
}

// Records lists every record in file order.
func (c *Catalog) Records() []Record {
	out := make([]Record, 0, len(c.order))
	for _, l := range c.order {
		out = append(out, c.records[l])
	}
	return out
}

// Missing returns the labels not described by the catalog.
func (c *Catalog) Missing(labels []string) []string {
	var missing []string
	for _, l := range labels {
		if _, ok := c.records[l]; !ok {
			missing = append(missing, l)
		}
	}
	return missing
}

// Rejection returns the user guidance for a rejection kind.
func Rejection(kind pipeline.Kind) Guidance {
	if g, ok := guidance[kind]; ok {
		return g
	}
	return guidance[pipeline.KindLowConfidence]
}
