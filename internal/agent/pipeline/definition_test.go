package pipeline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coursegen-core/server/internal/agent/prompts"
)

const proposalYAML = `
name: course-proposal
description: Course proposal from a training needs analysis
model: GPT-4o
steps:
  - name: extraction
    template: extraction
    system: You extract structured facts.
    schema:
      required: [title]
  - name: research
    template: research
    temperature: 0.4
    json_mode: true
    schema:
      required: [summary]
  - name: validation
    template: validation
    max_tokens: 2048
`

func TestParseDefinition(t *testing.T) {
	def, err := ParseDefinition([]byte(proposalYAML))
	require.NoError(t, err)

	assert.Equal(t, "course-proposal", def.Name)
	assert.Equal(t, "GPT-4o", def.Model)
	assert.Equal(t, []string{"extraction", "research", "validation"}, def.StepNames())
	assert.Equal(t, []string{"title"}, def.Steps[0].Schema.Required)
	assert.Equal(t, "You extract structured facts.", def.Steps[0].System)
	require.NotNil(t, def.Steps[1].Temperature)
	assert.Equal(t, float32(0.4), *def.Steps[1].Temperature)
	require.NotNil(t, def.Steps[1].JSONMode)
	assert.True(t, *def.Steps[1].JSONMode)
	assert.Nil(t, def.Steps[2].Temperature)
	assert.Equal(t, 2048, def.Steps[2].MaxTokens)

	assert.NoError(t, def.CheckTemplates(prompts.NewLibrary(testTemplates)))
}

func TestParseDefinitionRejectsUnknownFields(t *testing.T) {
	_, err := ParseDefinition([]byte("name: x\nsteps:\n  - name: a\n    template: t\n    retries: 3\n"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tooHot := float32(3)
	tests := []struct {
		name string
		def  Definition
		ok   bool
	}{
		{"valid", Definition{Name: "p", Steps: []StepDef{{Name: "a", Template: "t"}}}, true},
		{"no name", Definition{Steps: []StepDef{{Name: "a", Template: "t"}}}, false},
		{"no steps", Definition{Name: "p"}, false},
		{"duplicate step", Definition{Name: "p", Steps: []StepDef{{Name: "a", Template: "t"}, {Name: "a", Template: "u"}}}, false},
		{"bad step name", Definition{Name: "p", Steps: []StepDef{{Name: "a b", Template: "t"}}}, false},
		{"empty template", Definition{Name: "p", Steps: []StepDef{{Name: "a"}}}, false},
		{"temperature range", Definition{Name: "p", Steps: []StepDef{{Name: "a", Template: "t", Temperature: &tooHot}}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.def.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestCheckTemplatesReportsMissing(t *testing.T) {
	def := &Definition{Name: "p", Steps: []StepDef{
		{Name: "a", Template: "extraction"},
		{Name: "b", Template: "ghost"},
	}}
	err := def.CheckTemplates(prompts.NewLibrary(testTemplates))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `step "b"`)
}

func TestLoadAndListDefinitions(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "course_proposal.yaml"), []byte(proposalYAML), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "saq.yml"), []byte("name: saq\nsteps:\n  - name: a\n    template: t\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignore"), 0o644))

	names, err := ListDefinitions(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"course_proposal", "saq"}, names)

	def, err := LoadDefinition(filepath.Join(dir, "course_proposal.yaml"))
	require.NoError(t, err)
	assert.Len(t, def.Steps, 3)

	_, err = LoadDefinition(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestBundledDefinitionsResolve(t *testing.T) {
	root := filepath.Join("..", "..", "..")
	names, err := ListDefinitions(filepath.Join(root, "pipelines"))
	require.NoError(t, err)
	assert.Subset(t, names, []string{"assessment_pp", "assessment_saq", "course_proposal", "learner_guide"})

	library := prompts.NewDirLibrary(filepath.Join(root, "prompts"))
	for _, name := range names {
		def, err := LoadDefinition(filepath.Join(root, "pipelines", name+".yaml"))
		require.NoError(t, err, name)
		assert.NoError(t, def.Validate(), name)
		assert.NoError(t, def.CheckTemplates(library), name)
	}
}
