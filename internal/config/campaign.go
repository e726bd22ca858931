package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ValidationError reports every problem found in a campaign spec at once
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid campaign spec: %s", strings.Join(e.Problems, "; "))
}

// VideoSpec points at the creative asset file
type VideoSpec struct {
	FilePath string `yaml:"file_path"`
}

// CampaignSpec is the structured campaign creation input. Unknown YAML
// fields are ignored; missing required fields reject before any remote
// call is made.
type CampaignSpec struct {
	ID             string    `yaml:"campaign_id"`
	AccountID      string    `yaml:"account_id"`
	Name           string    `yaml:"name"`
	DailyBudget    int64     `yaml:"daily_budget"` // minor currency units
	Video          VideoSpec `yaml:"video"`
	PrimaryText    string    `yaml:"primary_text"`
	Headline       string    `yaml:"headline"`
	Description    string    `yaml:"description"`
	CallToAction   string    `yaml:"call_to_action"`
	DestinationURL string    `yaml:"destination_url"`
	URLParameters  string    `yaml:"url_parameters"`

	// Optional overrides of the account defaults
	PixelID string `yaml:"pixel_id"`
	PageID  string `yaml:"page_id"`

	GeoCountries []string `yaml:"geo_countries"`

	// StartTime is a civil instant in the scheduler timezone,
	// e.g. "2026-09-01T20:00:00". Empty means no scheduled activation.
	StartTime string `yaml:"start_time"`

	// Source records where the spec was loaded from
	Source string `yaml:"-"`
}

var validCallsToAction = map[string]bool{
	"SHOP_NOW":    true,
	"LEARN_MORE":  true,
	"SIGN_UP":     true,
	"DOWNLOAD":    true,
	"WATCH_MORE":  true,
	"APPLY_NOW":   true,
	"BOOK_TRAVEL": true,
	"CONTACT_US":  true,
	"GET_QUOTE":   true,
	"SUBSCRIBE":   true,
}

// LoadCampaignSpec reads and validates a campaign spec YAML file
func LoadCampaignSpec(path string) (*CampaignSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read campaign spec: %w", err)
	}

	spec := &CampaignSpec{}
	if err := yaml.Unmarshal(data, spec); err != nil {
		return nil, fmt.Errorf("failed to parse campaign spec: %w", err)
	}
	spec.Source = path
	spec.applyDefaults()

	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return spec, nil
}

func (s *CampaignSpec) applyDefaults() {
	if s.CallToAction == "" {
		s.CallToAction = "SHOP_NOW"
	}
	if len(s.GeoCountries) == 0 {
		s.GeoCountries = []string{"SG"}
	}
}

// Validate checks the spec and reports all problems together rather than
// stopping at the first one.
func (s *CampaignSpec) Validate() error {
	var problems []string

	required := map[string]string{
		"campaign_id":     s.ID,
		"account_id":      s.AccountID,
		"name":            s.Name,
		"video.file_path": s.Video.FilePath,
		"primary_text":    s.PrimaryText,
		"headline":        s.Headline,
		"destination_url": s.DestinationURL,
	}
	var missing []string
	for field, value := range required {
		if value == "" {
			missing = append(missing, field)
		}
	}
	sort.Strings(missing)
	for _, field := range missing {
		problems = append(problems, "missing required field: "+field)
	}

	if s.DailyBudget <= 0 {
		problems = append(problems, fmt.Sprintf("daily_budget must be a positive integer in minor currency units (got %d)", s.DailyBudget))
	}

	if s.CallToAction != "" && !validCallsToAction[s.CallToAction] {
		problems = append(problems, fmt.Sprintf("invalid call_to_action: %s", s.CallToAction))
	}

	if s.StartTime != "" {
		if _, err := parseCivilTime(s.StartTime, time.UTC); err != nil {
			problems = append(problems, fmt.Sprintf("invalid start_time: %v", err))
		}
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// StartInstant resolves the optional start_time in the given fixed civil
// timezone. Returns nil when no start time is set.
func (s *CampaignSpec) StartInstant(loc *time.Location) (*time.Time, error) {
	if s.StartTime == "" {
		return nil, nil
	}
	t, err := parseCivilTime(s.StartTime, loc)
	if err != nil {
		return nil, &ValidationError{Problems: []string{fmt.Sprintf("invalid start_time: %v", err)}}
	}
	return &t, nil
}

// FinalDestinationURL appends the optional URL parameters
func (s *CampaignSpec) FinalDestinationURL() string {
	if s.URLParameters == "" {
		return s.DestinationURL
	}
	sep := "?"
	if strings.Contains(s.DestinationURL, "?") {
		sep = "&"
	}
	return s.DestinationURL + sep + s.URLParameters
}

const civilLayout = "2006-01-02T15:04:05"

func parseCivilTime(value string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(civilLayout, value, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%q must look like 2026-09-01T20:00:00", value)
	}
	return t, nil
}
