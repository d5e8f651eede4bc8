package service

import (
	"fmt"

	"github.com/eduscan/exam-checker/grading-service/internal/models"
)

// WorkItem — единица конкурентного исполнения: одна попытка одной модели.
// RubricModel заполнен только в двухфазном режиме.
type WorkItem struct {
	RubricModel         string
	Model               string
	TryIndex            int
	RubricReasoning     map[string]interface{}
	AssessmentReasoning map[string]interface{}
	InstanceID          string
}

// PlanWorkItems разворачивает запрос в плоский список попыток. Запрос обязан
// содержать ровно один из списков models либо model_pairs.
func PlanWorkItems(req *models.GradeRequest) ([]WorkItem, error) {
	hasModels := len(req.Models) > 0
	hasPairs := len(req.ModelPairs) > 0
	if hasModels == hasPairs {
		return nil, NewUnprocessable("exactly one of models or model_pairs must be non-empty")
	}

	var items []WorkItem

	if hasModels {
		for _, spec := range req.Models {
			if spec.Name == "" {
				return nil, NewUnprocessable("model name must be non-empty")
			}
			tries := effectiveTries(spec.Tries, req.DefaultTries)
			instanceID := spec.InstanceID
			if instanceID == "" {
				instanceID = spec.Name
			}
			reasoning := resolveReasoning(spec.Reasoning, req.Reasoning)
			for try := 1; try <= tries; try++ {
				items = append(items, WorkItem{
					Model:               spec.Name,
					TryIndex:            try,
					AssessmentReasoning: reasoning,
					InstanceID:          instanceID,
				})
			}
		}
		return items, nil
	}

	for i, pair := range req.ModelPairs {
		if pair.RubricModel.Name == "" || pair.AssessmentModel.Name == "" {
			return nil, NewUnprocessable("rubric_model and assessment_model names must be non-empty")
		}
		tries := pair.AssessmentModel.Tries
		if tries <= 0 {
			tries = pair.RubricModel.Tries
		}
		tries = effectiveTries(tries, req.DefaultTries)
		instanceID := pair.InstanceID
		if instanceID == "" {
			instanceID = fmt.Sprintf("pair_%d_%s_%s", i+1, pair.RubricModel.Name, pair.AssessmentModel.Name)
		}
		rubricReasoning := resolveReasoning(pair.RubricModel.Reasoning, req.Reasoning)
		assessmentReasoning := resolveReasoning(pair.AssessmentModel.Reasoning, req.Reasoning)
		for try := 1; try <= tries; try++ {
			items = append(items, WorkItem{
				RubricModel:         pair.RubricModel.Name,
				Model:               pair.AssessmentModel.Name,
				TryIndex:            try,
				RubricReasoning:     rubricReasoning,
				AssessmentReasoning: assessmentReasoning,
				InstanceID:          instanceID,
			})
		}
	}
	return items, nil
}

func effectiveTries(specTries, defaultTries int) int {
	tries := specTries
	if tries <= 0 {
		tries = defaultTries
	}
	if tries < 1 {
		tries = 1
	}
	return tries
}

// resolveReasoning выбирает параметры reasoning попытки: свои у спеки, иначе
// общие из запроса. Пустая карта равнозначна отсутствию.
func resolveReasoning(specReasoning, requestReasoning map[string]interface{}) map[string]interface{} {
	if len(specReasoning) > 0 {
		return specReasoning
	}
	return requestReasoning
}
