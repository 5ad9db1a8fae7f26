package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nushkakush/experiencetrack-dash-sub003/internal/fees"
)

var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("repo: not found")
	// ErrConflict maps unique violations.
	ErrConflict = errors.New("repo: conflict")
	// ErrConstraint maps check constraint violations.
	ErrConstraint = errors.New("repo: constraint violated")
)

// DBTX is the subset of pgxpool.Pool used by the repository.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// StudentOverride is a per-student fee plan stored alongside the cohort structure.
type StudentOverride struct {
	CohortID      string            `json:"cohortId"`
	StudentID     string            `json:"studentId"`
	Structure     fees.FeeStructure `json:"feeStructure"`
	Plan          fees.PaymentPlan  `json:"selectedPlan"`
	ScholarshipID string            `json:"scholarshipId,omitempty"`
	UpdatedAt     time.Time         `json:"updatedAt"`
}

// FeeConfigRepo persists fee structures, scholarships and student overrides.
type FeeConfigRepo struct {
	DB DBTX
}

// NewFeeConfigRepo constructs the repository.
func NewFeeConfigRepo(db DBTX) *FeeConfigRepo {
	return &FeeConfigRepo{DB: db}
}

// GetFeeStructure returns the structure configured for a cohort.
func (r *FeeConfigRepo) GetFeeStructure(ctx context.Context, cohortID string) (fees.FeeStructure, error) {
	row := r.DB.QueryRow(ctx, `
    SELECT cohort_id, admission_fee, total_program_fee, number_of_semesters,
           instalments_per_semester, one_shot_discount_percent,
           one_shot_dates, sem_wise_dates, instalment_wise_dates, setup_complete
    FROM fee_structures
    WHERE cohort_id = $1
  `, cohortID)
	var fs fees.FeeStructure
	if err := row.Scan(
		&fs.CohortID,
		&fs.AdmissionFee,
		&fs.TotalProgramFee,
		&fs.NumberOfSemesters,
		&fs.InstalmentsPerSemester,
		&fs.OneShotDiscountPercent,
		&fs.OneShotDates,
		&fs.SemWiseDates,
		&fs.InstalmentWiseDates,
		&fs.SetupComplete,
	); err != nil {
		return fees.FeeStructure{}, mapErr(err)
	}
	return fs, nil
}

// UpsertFeeStructure creates or replaces the cohort's structure.
func (r *FeeConfigRepo) UpsertFeeStructure(ctx context.Context, fs fees.FeeStructure) (fees.FeeStructure, error) {
	if strings.TrimSpace(fs.CohortID) == "" {
		return fees.FeeStructure{}, fmt.Errorf("%w: cohort id required", ErrConstraint)
	}
	_, err := r.DB.Exec(ctx, `
    INSERT INTO fee_structures
      (id, cohort_id, admission_fee, total_program_fee, number_of_semesters,
       instalments_per_semester, one_shot_discount_percent,
       one_shot_dates, sem_wise_dates, instalment_wise_dates, setup_complete)
    VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
    ON CONFLICT (cohort_id) DO UPDATE SET
      admission_fee = EXCLUDED.admission_fee,
      total_program_fee = EXCLUDED.total_program_fee,
      number_of_semesters = EXCLUDED.number_of_semesters,
      instalments_per_semester = EXCLUDED.instalments_per_semester,
      one_shot_discount_percent = EXCLUDED.one_shot_discount_percent,
      one_shot_dates = EXCLUDED.one_shot_dates,
      sem_wise_dates = EXCLUDED.sem_wise_dates,
      instalment_wise_dates = EXCLUDED.instalment_wise_dates,
      setup_complete = EXCLUDED.setup_complete,
      updated_at = now()
  `, uuid.NewString(), fs.CohortID, fs.AdmissionFee, fs.TotalProgramFee, fs.NumberOfSemesters,
		fs.InstalmentsPerSemester, fs.OneShotDiscountPercent,
		datesOrEmpty(fs.OneShotDates), datesOrEmpty(fs.SemWiseDates), datesOrEmpty(fs.InstalmentWiseDates),
		fs.SetupComplete)
	if err != nil {
		return fees.FeeStructure{}, mapErr(err)
	}
	return fs, nil
}

// ListScholarships returns the cohort's scholarships in display order.
func (r *FeeConfigRepo) ListScholarships(ctx context.Context, cohortID string) ([]fees.Scholarship, error) {
	rows, err := r.DB.Query(ctx, `
    SELECT id::text, cohort_id, name, description, start_percent, end_percent, amount_percent
    FROM cohort_scholarships
    WHERE cohort_id = $1
    ORDER BY position ASC, start_percent ASC
  `, cohortID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	out := []fees.Scholarship{}
	for rows.Next() {
		var s fees.Scholarship
		if err := rows.Scan(&s.ID, &s.CohortID, &s.Name, &s.Description, &s.StartPercent, &s.EndPercent, &s.AmountPercent); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ReplaceScholarships makes the stored list equal to list in one transaction. Temporary
// ids receive fresh UUIDs and rows missing from list are deleted.
func (r *FeeConfigRepo) ReplaceScholarships(ctx context.Context, cohortID string, list []fees.Scholarship) ([]fees.Scholarship, error) {
	saved := AssignIDs(cohortID, list)
	ids := make([]string, 0, len(saved))
	for _, s := range saved {
		ids = append(ids, s.ID)
	}

	tx, err := r.DB.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
    DELETE FROM cohort_scholarships
    WHERE cohort_id = $1 AND NOT (id::text = ANY($2::text[]))
  `, cohortID, ids); err != nil {
		return nil, mapErr(err)
	}
	for i, s := range saved {
		tag, err := tx.Exec(ctx, `
      INSERT INTO cohort_scholarships
        (id, cohort_id, name, description, start_percent, end_percent, amount_percent, position)
      VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
      ON CONFLICT (id) DO UPDATE SET
        name = EXCLUDED.name,
        description = EXCLUDED.description,
        start_percent = EXCLUDED.start_percent,
        end_percent = EXCLUDED.end_percent,
        amount_percent = EXCLUDED.amount_percent,
        position = EXCLUDED.position,
        updated_at = now()
      WHERE cohort_scholarships.cohort_id = EXCLUDED.cohort_id
    `, s.ID, cohortID, s.Name, s.Description, s.StartPercent, s.EndPercent, s.AmountPercent, i)
		if err != nil {
			return nil, mapErr(err)
		}
		if tag.RowsAffected() == 0 {
			return nil, fmt.Errorf("%w: scholarship %s belongs to another cohort", ErrConflict, s.ID)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return saved, nil
}

// GetStudentOverride returns the override for a student.
func (r *FeeConfigRepo) GetStudentOverride(ctx context.Context, cohortID, studentID string) (StudentOverride, error) {
	row := r.DB.QueryRow(ctx, `
    SELECT cohort_id, student_id, admission_fee, total_program_fee, number_of_semesters,
           instalments_per_semester, one_shot_discount_percent,
           one_shot_dates, sem_wise_dates, instalment_wise_dates,
           selected_plan, scholarship_id, updated_at
    FROM student_fee_overrides
    WHERE cohort_id = $1 AND student_id = $2
  `, cohortID, studentID)
	var (
		o    StudentOverride
		plan string
	)
	if err := row.Scan(
		&o.CohortID,
		&o.StudentID,
		&o.Structure.AdmissionFee,
		&o.Structure.TotalProgramFee,
		&o.Structure.NumberOfSemesters,
		&o.Structure.InstalmentsPerSemester,
		&o.Structure.OneShotDiscountPercent,
		&o.Structure.OneShotDates,
		&o.Structure.SemWiseDates,
		&o.Structure.InstalmentWiseDates,
		&plan,
		&o.ScholarshipID,
		&o.UpdatedAt,
	); err != nil {
		return StudentOverride{}, mapErr(err)
	}
	o.Plan = fees.ParsePlan(plan)
	o.Structure.CohortID = o.CohortID
	o.Structure.StudentID = o.StudentID
	return o, nil
}

// UpsertStudentOverride creates or replaces the override keyed by (cohort, student).
func (r *FeeConfigRepo) UpsertStudentOverride(ctx context.Context, o StudentOverride) (StudentOverride, error) {
	fs := o.Structure
	err := r.DB.QueryRow(ctx, `
    INSERT INTO student_fee_overrides
      (cohort_id, student_id, admission_fee, total_program_fee, number_of_semesters,
       instalments_per_semester, one_shot_discount_percent,
       one_shot_dates, sem_wise_dates, instalment_wise_dates, selected_plan, scholarship_id)
    VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
    ON CONFLICT (cohort_id, student_id) DO UPDATE SET
      admission_fee = EXCLUDED.admission_fee,
      total_program_fee = EXCLUDED.total_program_fee,
      number_of_semesters = EXCLUDED.number_of_semesters,
      instalments_per_semester = EXCLUDED.instalments_per_semester,
      one_shot_discount_percent = EXCLUDED.one_shot_discount_percent,
      one_shot_dates = EXCLUDED.one_shot_dates,
      sem_wise_dates = EXCLUDED.sem_wise_dates,
      instalment_wise_dates = EXCLUDED.instalment_wise_dates,
      selected_plan = EXCLUDED.selected_plan,
      scholarship_id = EXCLUDED.scholarship_id,
      updated_at = now()
    RETURNING updated_at
  `, o.CohortID, o.StudentID, fs.AdmissionFee, fs.TotalProgramFee, fs.NumberOfSemesters,
		fs.InstalmentsPerSemester, fs.OneShotDiscountPercent,
		datesOrEmpty(fs.OneShotDates), datesOrEmpty(fs.SemWiseDates), datesOrEmpty(fs.InstalmentWiseDates),
		string(o.Plan), o.ScholarshipID).Scan(&o.UpdatedAt)
	if err != nil {
		return StudentOverride{}, mapErr(err)
	}
	o.Structure.CohortID = o.CohortID
	o.Structure.StudentID = o.StudentID
	return o, nil
}

// AssignIDs returns a copy of list owned by cohortID where temporary or malformed ids are
// replaced with fresh UUIDs.
func AssignIDs(cohortID string, list []fees.Scholarship) []fees.Scholarship {
	out := make([]fees.Scholarship, len(list))
	for i, s := range list {
		if s.IsTemporary() {
			s.ID = uuid.NewString()
		} else if _, err := uuid.Parse(s.ID); err != nil {
			s.ID = uuid.NewString()
		}
		s.CohortID = cohortID
		s.Name = strings.TrimSpace(s.Name)
		out[i] = s
	}
	return out
}

func datesOrEmpty(dates map[string]string) map[string]string {
	if dates == nil {
		return map[string]string{}
	}
	return dates
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%w: %s", ErrConflict, pgErr.ConstraintName)
		case "23514":
			return fmt.Errorf("%w: %s", ErrConstraint, pgErr.ConstraintName)
		}
	}
	return err
}
