// Package homepage reads bookmarks exported from a Homepage dashboard
// (bookmarks.yaml) so they can be imported into a user's list.
package homepage

import (
	"fmt"
	"io"
	"regexp"

	"gopkg.in/yaml.v3"
)

// maxImportSize caps an uploaded bookmarks.yaml.
const maxImportSize = 1 << 20

var templateVariable = regexp.MustCompile(`\{\{[^}]+\}\}`)

// Parse decodes a bookmarks.yaml document
func Parse(data []byte) (BookmarksConfig, error) {
	// Strip Homepage template variables ({{HOMEPAGE_VAR_...}})
	data = stripTemplateVariables(data)

	var config BookmarksConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse bookmarks yaml: %w", err)
	}

	return config, nil
}

// Read decodes a bookmarks.yaml document from r, refusing anything over 1 MiB.
func Read(r io.Reader) (BookmarksConfig, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxImportSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read bookmarks: %w", err)
	}
	if len(data) > maxImportSize {
		return nil, fmt.Errorf("bookmarks file larger than %d bytes", maxImportSize)
	}
	return Parse(data)
}

// stripTemplateVariables removes Homepage template variables from YAML
// Example: {{HOMEPAGE_VAR_ADGUARD_USER}} -> ""
func stripTemplateVariables(data []byte) []byte {
	return templateVariable.ReplaceAll(data, []byte(`""`))
}
