package match

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caseguard/internal/boundary"
	id "caseguard/pkg/domain"
	dErrors "caseguard/pkg/domain-errors"
)

type fakeFinder struct {
	byField map[Field][]id.ClientID
	queried []Field
	err     error
}

func (f *fakeFinder) FindByMatchKey(_ context.Context, _ boundary.Visibility, field Field, _ string) ([]id.ClientID, error) {
	f.queried = append(f.queried, field)
	if f.err != nil {
		return nil, f.err
	}
	return f.byField[field], nil
}

func Test_FindCandidates_Tier1ShortCircuits(t *testing.T) {
	phoneHit := id.NewClientID()
	finder := &fakeFinder{byField: map[Field][]id.ClientID{
		FieldPhone:        {phoneHit},
		FieldFirstNameDOB: {id.NewClientID()},
	}}
	m := New(finder)

	candidates, err := m.FindCandidates(context.Background(), boundary.Visibility{}, Input{
		FirstName: "Jose", DOB: "1990-04-12", Phone: "555-123-4567",
	})
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, phoneHit, candidates[0].ClientID)
	assert.Equal(t, FieldPhone, candidates[0].MatchedOn)
	assert.Equal(t, ConfidenceHigh, candidates[0].Confidence)

	// Tier 2 must not have been evaluated.
	assert.Equal(t, []Field{FieldPhone}, finder.queried)
}

func Test_FindCandidates_Tier2WhenTier1Empty(t *testing.T) {
	nameHit := id.NewClientID()
	finder := &fakeFinder{byField: map[Field][]id.ClientID{
		FieldFirstNameDOB: {nameHit},
	}}
	m := New(finder)

	candidates, err := m.FindCandidates(context.Background(), boundary.Visibility{}, Input{
		FirstName: "José", DOB: "1990-04-12", Phone: "555-123-4567",
	})
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, nameHit, candidates[0].ClientID)
	assert.Equal(t, ConfidenceMedium, candidates[0].Confidence)
	assert.Equal(t, []Field{FieldPhone, FieldFirstNameDOB}, finder.queried)
}

func Test_FindCandidates_SkipsTiersWithoutKeys(t *testing.T) {
	finder := &fakeFinder{}
	m := New(finder)

	// No phone: tier 1 never runs. No DOB: tier 2 never runs.
	candidates, err := m.FindCandidates(context.Background(), boundary.Visibility{}, Input{
		FirstName: "Jose",
	})
	require.NoError(t, err)
	assert.Empty(t, candidates)
	assert.Empty(t, finder.queried)
}

func Test_FindCandidates_PropagatesStoreErrors(t *testing.T) {
	finder := &fakeFinder{err: errors.New("db down")}
	m := New(finder)

	_, err := m.FindCandidates(context.Background(), boundary.Visibility{}, Input{Phone: "5551234567"})
	require.True(t, dErrors.HasCode(err, dErrors.CodeInternal))
}
