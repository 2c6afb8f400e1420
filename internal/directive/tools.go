package directive

import (
	"errors"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// toolValidate validates tool registry entries.
var toolValidate = validator.New()

// Tool is one automation script the dispatcher can run.
type Tool struct {
	ID          string   `yaml:"id" json:"id" validate:"required,excludesall=/"`
	Name        string   `yaml:"name" json:"name" validate:"required"`
	Description string   `yaml:"description" json:"description"`
	Keywords    []string `yaml:"keywords" json:"keywords" validate:"min=1,dive,required"`
	Script      string   `yaml:"script" json:"script" validate:"required"`
	Interpreter string   `yaml:"interpreter" json:"interpreter,omitempty"`
	// Params lists the parameter names passed to the script, in order.
	Params           []string `yaml:"params" json:"params,omitempty" validate:"dive,oneof=location query"`
	RequiresLocation bool     `yaml:"requires_location" json:"requires_location"`
	RequiresQuery    bool     `yaml:"requires_query" json:"requires_query"`
}

// Validate checks the tool definition.
func (t Tool) Validate() error {
	return toolValidate.Struct(t)
}

// DefaultTools returns the built-in tool registry.
func DefaultTools() []Tool {
	return []Tool{
		{
			ID:               "lead_scraper",
			Name:             "Lead Scraper",
			Description:      "Collect local business leads from map listings for an activity and a city",
			Keywords:         []string{"leads", "lead", "prospects", "prospection", "scrape", "scraping"},
			Script:           "scrape_leads.py",
			Interpreter:      "python3",
			Params:           []string{ParamQuery, ParamLocation},
			RequiresLocation: true,
			RequiresQuery:    true,
		},
		{
			ID:          "lead_enrichment",
			Name:        "Lead Enrichment",
			Description: "Enrich and score existing leads with contact details and qualification",
			Keywords:    []string{"enrich", "enrichment", "qualify", "qualification", "scoring"},
			Script:      "enrich_leads.py",
			Interpreter: "python3",
		},
		{
			ID:          "seo_audit",
			Name:        "SEO Audit",
			Description: "Audit pages for SEO issues such as titles, meta descriptions and ranking drops",
			Keywords:    []string{"seo", "audit", "ranking", "sitemap", "referencement"},
			Script:      "seo_audit.py",
			Interpreter: "python3",
		},
		{
			ID:          "email_campaign",
			Name:        "Email Campaign",
			Description: "Prepare and schedule an email campaign or newsletter for a segment",
			Keywords:    []string{"email", "emails", "newsletter", "campaign", "emailing"},
			Script:      "email_campaign.py",
			Interpreter: "python3",
			Params:      []string{ParamQuery},
		},
		{
			ID:          "content_generation",
			Name:        "Content Generation",
			Description: "Generate blog articles, landing copy or video scripts for a topic",
			Keywords:    []string{"content", "article", "articles", "blog", "video", "copy"},
			Script:      "generate_content.py",
			Interpreter: "python3",
			Params:      []string{ParamQuery, ParamLocation},
		},
	}
}

type toolFile struct {
	Tools []Tool `yaml:"tools"`
}

// LoadTools reads a YAML tool registry. Every tool is validated and ids
// must be unique.
func LoadTools(path string) ([]Tool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading tools file: %w", err)
	}
	var tf toolFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("parsing tools file %s: %w", path, err)
	}
	if len(tf.Tools) == 0 {
		return nil, errors.New("tools file defines no tools")
	}

	seen := make(map[string]bool, len(tf.Tools))
	for i, t := range tf.Tools {
		if err := t.Validate(); err != nil {
			return nil, fmt.Errorf("tool %d (%s): %w", i, t.ID, err)
		}
		if seen[t.ID] {
			return nil, fmt.Errorf("duplicate tool id %q", t.ID)
		}
		seen[t.ID] = true
	}
	return tf.Tools, nil
}
