package documents

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/Aman-CERP/ragkb/internal/chunk"
	kberrors "github.com/Aman-CERP/ragkb/internal/errors"
)

// ConflictPolicy decides what Create does when the slug is taken.
type ConflictPolicy string

const (
	// ConflictError fails the create. It is the default.
	ConflictError ConflictPolicy = "error"
	// ConflictSkip returns the existing document unchanged.
	ConflictSkip ConflictPolicy = "skip"
	// ConflictUpdate applies the input to the existing document.
	ConflictUpdate ConflictPolicy = "update"
)

// CreateInput describes a new document. Slug is derived from Name when
// empty.
type CreateInput struct {
	Slug           string            `json:"slug,omitempty" validate:"max=200"`
	Name           string            `json:"name" validate:"required,max=300"`
	Description    string            `json:"description,omitempty" validate:"max=4000"`
	Content        string            `json:"content" validate:"required"`
	ContentType    chunk.ContentType `json:"contentType,omitempty" validate:"omitempty,oneof=plain markdown html json"`
	Category       string            `json:"category,omitempty" validate:"max=200"`
	Tags           []string          `json:"tags,omitempty" validate:"dive,required,max=100"`
	Metadata       map[string]any    `json:"metadata,omitempty"`
	OrganizationID string            `json:"organizationId,omitempty" validate:"max=200"`
	WorkspaceID    string            `json:"workspaceId,omitempty" validate:"max=200"`
	CreatedBy      string            `json:"createdBy,omitempty" validate:"max=200"`
	OnConflict     ConflictPolicy    `json:"onConflict,omitempty" validate:"omitempty,oneof=error skip update"`
}

// UpdateInput changes a document. Nil fields are left alone. A nil or
// unchanged Content is a metadata-only update.
type UpdateInput struct {
	Name          *string            `json:"name,omitempty" validate:"omitempty,min=1,max=300"`
	Description   *string            `json:"description,omitempty" validate:"omitempty,max=4000"`
	Category      *string            `json:"category,omitempty" validate:"omitempty,max=200"`
	Tags          []string           `json:"tags,omitempty" validate:"omitempty,dive,required,max=100"`
	Metadata      map[string]any     `json:"metadata,omitempty"`
	WorkspaceID   *string            `json:"workspaceId,omitempty" validate:"omitempty,max=200"`
	Content       *string            `json:"content,omitempty" validate:"omitempty,min=1"`
	ContentType   *chunk.ContentType `json:"contentType,omitempty" validate:"omitempty,oneof=plain markdown html json"`
	ChangeSummary string             `json:"changeSummary,omitempty" validate:"max=1000"`
	UpdatedBy     string             `json:"updatedBy,omitempty" validate:"max=200"`
}

// updateFromCreate turns a create input into the update applied under
// ConflictUpdate. Every descriptive field is overwritten.
func updateFromCreate(in CreateInput) UpdateInput {
	up := UpdateInput{
		Name:        &in.Name,
		Description: &in.Description,
		Category:    &in.Category,
		Tags:        in.Tags,
		Metadata:    in.Metadata,
		Content:     &in.Content,
		UpdatedBy:   in.CreatedBy,
	}
	if in.WorkspaceID != "" {
		up.WorkspaceID = &in.WorkspaceID
	}
	if in.ContentType != "" {
		up.ContentType = &in.ContentType
	}
	return up
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// validateInput runs the struct tags and flattens failures into one
// validation error naming each field.
func validateInput(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return kberrors.ValidationError("invalid document input", err)
	}
	parts := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s failed %s=%s", fe.Field(), fe.Tag(), fe.Param()))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return kberrors.ValidationError("invalid document input: "+strings.Join(parts, "; "), err)
}
