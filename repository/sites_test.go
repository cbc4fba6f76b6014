package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/philocrawl/crawlcore/domain"
)

func TestApplyCrawlSettingsProjectsDocumentedKeys(t *testing.T) {
	site := &domain.Site{
		Politeness:     domain.Politeness{MinRequestDelay: time.Second, MaxConcurrent: 1},
		AllowedDomains: []string{"old.example.org"},
	}

	applyCrawlSettings(site, map[string]interface{}{
		"delay":           2.5,
		"max_concurrent":  float64(8),
		"allowed_domains": []interface{}{"a.example.org", "b.example.org"},
	})

	assert.Equal(t, time.Duration(2.5*float64(time.Second)), site.Politeness.MinRequestDelay)
	assert.Equal(t, 8, site.Politeness.MaxConcurrent)
	assert.Equal(t, []string{"a.example.org", "b.example.org"}, site.AllowedDomains)
}

func TestApplyCrawlSettingsIgnoresUnrecognizedKeys(t *testing.T) {
	site := &domain.Site{Politeness: domain.Politeness{MinRequestDelay: 3 * time.Second, MaxConcurrent: 4}}
	applyCrawlSettings(site, map[string]interface{}{"unrelated": "value"})
	assert.Equal(t, 3*time.Second, site.Politeness.MinRequestDelay)
	assert.Equal(t, 4, site.Politeness.MaxConcurrent)
}

func TestApplyCrawlSettingsLeavesFieldUnchangedOnWrongType(t *testing.T) {
	site := &domain.Site{Politeness: domain.Politeness{MaxConcurrent: 4}}
	applyCrawlSettings(site, map[string]interface{}{"max_concurrent": "not-a-number"})
	assert.Equal(t, 4, site.Politeness.MaxConcurrent)
}
