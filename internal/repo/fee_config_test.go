package repo

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/nushkakush/experiencetrack-dash-sub003/internal/fees"
)

func TestAssignIDsReplacesTemporaryIDs(t *testing.T) {
	existing := uuid.NewString()
	in := []fees.Scholarship{
		{ID: "temp-1712", Name: " Merit "},
		{ID: existing, Name: "Topper"},
		{ID: "", Name: "Blank"},
		{ID: "legacy-7", Name: "Legacy"},
	}
	out := AssignIDs("cohort-9", in)
	require.Len(t, out, 4)
	require.Equal(t, existing, out[1].ID)
	require.Equal(t, "Merit", out[0].Name)
	for i, s := range out {
		_, err := uuid.Parse(s.ID)
		require.NoError(t, err, "index %d", i)
		require.Equal(t, "cohort-9", s.CohortID)
		require.False(t, s.IsTemporary())
	}
	require.Equal(t, "temp-1712", in[0].ID)
}

func TestMapErr(t *testing.T) {
	require.ErrorIs(t, mapErr(pgx.ErrNoRows), ErrNotFound)
	require.ErrorIs(t, mapErr(fmt.Errorf("scan: %w", pgx.ErrNoRows)), ErrNotFound)
	require.ErrorIs(t, mapErr(&pgconn.PgError{Code: "23505", ConstraintName: "fee_structures_cohort_id_key"}), ErrConflict)
	require.ErrorIs(t, mapErr(&pgconn.PgError{Code: "23514"}), ErrConstraint)

	other := errors.New("network")
	require.Equal(t, other, mapErr(other))
	require.NoError(t, mapErr(nil))
}

func TestDatesOrEmpty(t *testing.T) {
	require.NotNil(t, datesOrEmpty(nil))
	m := map[string]string{"one-shot": "2025-01-01"}
	require.Equal(t, m, datesOrEmpty(m))
}
