package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "caseguard/pkg/domain"
	dErrors "caseguard/pkg/domain-errors"
)

func Test_NewProgram_Validation(t *testing.T) {
	now := time.Now()

	_, err := NewProgram(id.NewProgramID(), "", ConfidentialityStandard, now)
	require.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))

	_, err = NewProgram(id.NewProgramID(), "Housing", "secret", now)
	require.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))

	p, err := NewProgram(id.NewProgramID(), "  Housing First  ", ConfidentialityStandard, now)
	require.NoError(t, err)
	assert.Equal(t, "Housing First", p.Name)
	assert.False(t, p.IsConfidential())
}

func Test_Confidentiality_IsMonotonic(t *testing.T) {
	now := time.Now()
	p, err := NewProgram(id.NewProgramID(), "DV Shelter", ConfidentialityStandard, now)
	require.NoError(t, err)

	require.NoError(t, p.CanMarkConfidential())
	p.ApplyConfidential(now.Add(time.Minute))
	assert.True(t, p.IsConfidential())
	assert.Equal(t, now.Add(time.Minute), p.UpdatedAt)

	err = p.CanMarkConfidential()
	require.True(t, dErrors.HasCode(err, dErrors.CodeConflict))

	err = ValidateTransition(ConfidentialityConfidential, ConfidentialityStandard)
	require.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))

	require.NoError(t, ValidateTransition(ConfidentialityStandard, ConfidentialityConfidential))
}

func Test_ParseConfidentiality_DefaultsToStandard(t *testing.T) {
	c, err := ParseConfidentiality("")
	require.NoError(t, err)
	assert.Equal(t, ConfidentialityStandard, c)

	_, err = ParseConfidentiality("restricted")
	require.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
}
