// Package catalog provides the question catalog index for IntakePipe.
//
// A catalog is a staged list of questions flattened into a single 0-based
// sequence. It is loaded once at startup and never mutated afterwards.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/BTreeMap/IntakePipe/internal/models"
)

//go:embed default_catalog.yaml
var defaultCatalogYAML []byte

// Error variables for catalog construction.
var (
	ErrNoStages         = errors.New("catalog has no stages")
	ErrEmptyStage       = errors.New("stage has no questions")
	ErrDuplicateField   = errors.New("duplicate field name")
	ErrDuplicateStageID = errors.New("duplicate stage id")
)

type fileCatalog struct {
	Stages []fileStage `yaml:"stages" validate:"required,min=1,dive"`
}

type fileStage struct {
	ID          string         `yaml:"id" validate:"required"`
	Name        string         `yaml:"name" validate:"required"`
	Description string         `yaml:"description"`
	Questions   []fileQuestion `yaml:"questions" validate:"required,min=1,dive"`
}

type fileQuestion struct {
	Field    string             `yaml:"field" validate:"required"`
	Prompt   string             `yaml:"prompt" validate:"required"`
	Type     string             `yaml:"type" validate:"required"`
	Options  []string           `yaml:"options" validate:"dive,required"`
	Note     string             `yaml:"note"`
	Why      string             `yaml:"why"`
	ScaleMin int                `yaml:"scale_min"`
	ScaleMax int                `yaml:"scale_max"`
	CRM      *models.CRMMapping `yaml:"crm"`
}

// StageInput groups questions under a stage before they are indexed.
type StageInput struct {
	ID          string
	Name        string
	Description string
	Questions   []models.QuestionSpec
}

// StageProgress describes a stage that was just finished.
type StageProgress struct {
	CompletedStage     models.Stage
	NextStage          *models.Stage
	StageNumber        int
	TotalStages        int
	QuestionsCompleted int
	TotalQuestions     int
}

// Catalog is the immutable question index.
type Catalog struct {
	questions []models.QuestionSpec
	stages    []models.Stage
	stagePos  []int // question index -> position in stages
	byField   map[string]int
}

// Default returns the embedded 48-question catalog.
func Default() (*Catalog, error) {
	return Parse(defaultCatalogYAML)
}

// Load reads a catalog from a YAML file. An empty path loads the embedded default.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog %s: %w", path, err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	slog.Info("Catalog.Load: catalog loaded", "path", path, "questions", c.Total(), "stages", len(c.stages))
	return c, nil
}

// Parse builds a catalog from YAML bytes and checks its invariants.
func Parse(data []byte) (*Catalog, error) {
	var fc fileCatalog
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	if err := validator.New().Struct(fc); err != nil {
		return nil, fmt.Errorf("invalid catalog: %w", err)
	}

	inputs := make([]StageInput, 0, len(fc.Stages))
	for _, fs := range fc.Stages {
		in := StageInput{ID: fs.ID, Name: fs.Name, Description: fs.Description}
		for _, fq := range fs.Questions {
			in.Questions = append(in.Questions, models.QuestionSpec{
				FieldName:  fq.Field,
				Prompt:     fq.Prompt,
				AnswerType: models.AnswerType(fq.Type),
				Options:    fq.Options,
				HelpNote:   fq.Note,
				Why:        fq.Why,
				ScaleMin:   fq.ScaleMin,
				ScaleMax:   fq.ScaleMax,
				CRM:        fq.CRM,
			})
		}
		inputs = append(inputs, in)
	}
	return New(inputs)
}

// New indexes the given stages in order, assigning contiguous question indices.
func New(inputs []StageInput) (*Catalog, error) {
	if len(inputs) == 0 {
		return nil, ErrNoStages
	}
	c := &Catalog{byField: make(map[string]int)}
	seenStage := make(map[string]bool, len(inputs))
	for pos, in := range inputs {
		if seenStage[in.ID] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateStageID, in.ID)
		}
		seenStage[in.ID] = true
		if len(in.Questions) == 0 {
			return nil, fmt.Errorf("%w: %s", ErrEmptyStage, in.ID)
		}

		st := models.Stage{ID: in.ID, Name: in.Name, Description: in.Description}
		for _, q := range in.Questions {
			if err := q.Validate(); err != nil {
				return nil, fmt.Errorf("question %s: %w", q.FieldName, err)
			}
			if _, dup := c.byField[q.FieldName]; dup {
				return nil, fmt.Errorf("%w: %s", ErrDuplicateField, q.FieldName)
			}
			q.Index = len(c.questions)
			q.StageID = in.ID
			c.byField[q.FieldName] = q.Index
			c.questions = append(c.questions, q)
			c.stagePos = append(c.stagePos, pos)
			st.Indices = append(st.Indices, q.Index)
		}
		c.stages = append(c.stages, st)
	}
	return c, nil
}

// Total returns the number of questions in the catalog.
func (c *Catalog) Total() int { return len(c.questions) }

// Stages returns the stages in presentation order.
func (c *Catalog) Stages() []models.Stage {
	return append([]models.Stage(nil), c.stages...)
}

// QuestionAt returns the question at index, or false when index is out of range.
func (c *Catalog) QuestionAt(index int) (models.QuestionSpec, bool) {
	if index < 0 || index >= len(c.questions) {
		return models.QuestionSpec{}, false
	}
	return c.questions[index], true
}

// Question looks a question up by field name.
func (c *Catalog) Question(fieldName string) (models.QuestionSpec, bool) {
	i, ok := c.byField[fieldName]
	if !ok {
		return models.QuestionSpec{}, false
	}
	return c.questions[i], true
}

// StageOf returns the stage containing index.
func (c *Catalog) StageOf(index int) (models.Stage, bool) {
	if index < 0 || index >= len(c.stagePos) {
		return models.Stage{}, false
	}
	return c.stages[c.stagePos[index]], true
}

// StageBoundaries returns the last question index of each stage, in order.
func (c *Catalog) StageBoundaries() []int {
	out := make([]int, len(c.stages))
	for i, st := range c.stages {
		out[i] = st.Last()
	}
	return out
}

// StageCompletedBy reports whether answering index finishes a stage and, if so,
// the progress figures for the celebration message.
func (c *Catalog) StageCompletedBy(index int) (StageProgress, bool) {
	st, ok := c.StageOf(index)
	if !ok || st.Last() != index {
		return StageProgress{}, false
	}
	pos := c.stagePos[index]
	p := StageProgress{
		CompletedStage:     st,
		StageNumber:        pos + 1,
		TotalStages:        len(c.stages),
		QuestionsCompleted: index + 1,
		TotalQuestions:     len(c.questions),
	}
	if pos+1 < len(c.stages) {
		next := c.stages[pos+1]
		p.NextStage = &next
	}
	return p, true
}
