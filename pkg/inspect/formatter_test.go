package inspect

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

type row struct {
	Name   string   `json:"name" yaml:"name"`
	Rules  []string `json:"rules" yaml:"rules" table:"RULES"`
	Secret string   `json:"-" yaml:"-" table:"-"`
}

func TestNewFormatter(t *testing.T) {
	assert.IsType(t, &JSONFormatter{}, NewFormatter("json"))
	assert.IsType(t, &YAMLFormatter{}, NewFormatter("YAML"))
	assert.IsType(t, &TableFormatter{}, NewFormatter("table"))
	assert.IsType(t, &TableFormatter{}, NewFormatter(""))
}

func TestTableFormatter(t *testing.T) {
	out := NewFormatter("table").Format([]row{
		{Name: "first", Rules: []string{"HIGH_AMOUNT", "LOCATION_RISK"}, Secret: "x"},
		{Name: "second"},
	})
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, []string{"NAME", "RULES"}, strings.Fields(lines[0]))
	assert.Equal(t, []string{"first", "HIGH_AMOUNT,LOCATION_RISK"}, strings.Fields(lines[1]))
	assert.NotContains(t, out, "SECRET")

	assert.Equal(t, "No messages found.\n", NewFormatter("table").Format([]row{}))

	single := NewFormatter("table").Format(&row{Name: "only"})
	assert.Contains(t, single, "Name:")
	assert.Contains(t, single, "only")
}

func TestJSONAndYAMLFormatters(t *testing.T) {
	data := []row{{Name: "a", Rules: []string{"R"}}}

	var fromJSON []row
	require.NoError(t, json.Unmarshal([]byte(NewFormatter("json").Format(data)), &fromJSON))
	assert.Equal(t, data, fromJSON)

	var fromYAML []row
	require.NoError(t, yaml.Unmarshal([]byte(NewFormatter("yaml").Format(data)), &fromYAML))
	assert.Equal(t, data, fromYAML)
}
