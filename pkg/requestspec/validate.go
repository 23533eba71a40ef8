package requestspec

import (
	"github.com/ekaya-inc/ekaya-query-gateway/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-query-gateway/pkg/models"
)

// Validate rejects requests whose fields cannot be served by the execution shape:
// file content needs a table or set returning shape, and scalar or non-query shapes only
// render as JSON.
func Validate(specs []models.RequestSpecification, shape models.ExecutionShape, output models.OutputShape) error {
	if !shape.ReturnsTable() {
		for _, s := range specs {
			if s.IsFile() {
				return apperrors.Validation("field %q carries file content, which %s queries do not accept", s.Name, shape)
			}
		}
		if output != models.OutputJSON {
			return apperrors.Validation("%s queries only support json output, got %s", shape, output)
		}
	}
	return nil
}
