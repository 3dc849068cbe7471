package crm

import (
	"strings"

	"github.com/BTreeMap/IntakePipe/internal/catalog"
	"github.com/BTreeMap/IntakePipe/internal/models"
)

// TagOnboardingCompleted is applied to every synced contact.
const TagOnboardingCompleted = "Onboarding Completed"

// NamedField is a custom field value before its name is resolved to an ID.
type NamedField struct {
	Name     string
	DataType string
	Value    string
}

// Record is a completed intake mapped onto contact fields.
type Record struct {
	Email     string
	FirstName string
	LastName  string
	Phone     string
	Fields    []NamedField
	Tags      []string
}

// MapAnswers maps answers through the catalog's CRM declarations, in catalog
// order. Skipped and empty answers are left out.
func MapAnswers(cat *catalog.Catalog, answers models.Answers) Record {
	rec := Record{Tags: []string{TagOnboardingCompleted}}
	for i := 0; i < cat.Total(); i++ {
		q, _ := cat.QuestionAt(i)
		if q.CRM == nil {
			continue
		}
		v := answers[q.FieldName]
		value := strings.TrimSpace(models.RenderAnswer(v))

		if q.CRM.TagIfYes != "" {
			if yes, ok := v.(bool); ok && yes {
				rec.Tags = append(rec.Tags, q.CRM.TagIfYes)
			}
		}
		if value == "" {
			continue
		}
		switch q.CRM.Role {
		case models.CRMRoleFullName:
			rec.FirstName, rec.LastName = splitName(value)
		case models.CRMRoleEmail:
			rec.Email = value
		case models.CRMRolePhone:
			rec.Phone = value
		default:
			if q.CRM.Field != "" {
				rec.Fields = append(rec.Fields, NamedField{Name: q.CRM.Field, DataType: q.CRM.DataType, Value: value})
			}
		}
	}
	return rec
}

// splitName splits at the first space: "Mary Ann Lee" -> "Mary", "Ann Lee".
func splitName(full string) (string, string) {
	first, last, _ := strings.Cut(strings.TrimSpace(full), " ")
	return first, strings.TrimSpace(last)
}
