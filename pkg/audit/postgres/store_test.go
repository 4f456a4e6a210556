package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/davidthor/clonectl/pkg/audit"
	cerrors "github.com/davidthor/clonectl/pkg/errors"
	"github.com/davidthor/clonectl/pkg/operation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var columns = []string{
	"seq", "id", "run_id", "plan_id", "step_id", "step_index", "phase", "operation", "objects",
	"started_at", "ended_at", "outcome", "attempts", "no_op", "error",
}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db, zap.NewNop()), mock
}

func sampleRecord() audit.Record {
	op := operation.CloneDatabase{SourceDatabase: "PROD", TargetDatabase: "DEV"}
	rec := audit.NewRecord("run-1", "plan-1", operation.Key(op), 0, audit.PhaseFinished, op)
	rec.StartedAt = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	end := rec.StartedAt.Add(2 * time.Second)
	rec.EndedAt = &end
	rec.Outcome = audit.OutcomeSuccess
	rec.Attempts = 1
	return rec
}

func TestEnsureSchema(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS audit_records").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, store.EnsureSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppend(t *testing.T) {
	store, mock := newMockStore(t)
	rec := sampleRecord()

	mock.ExpectExec("INSERT INTO audit_records").
		WithArgs(
			rec.ID, "run-1", "plan-1", rec.StepID, 0, "finished",
			sqlmock.AnyArg(), sqlmock.AnyArg(),
			rec.StartedAt, sqlmock.AnyArg(), "success", 1, false, "",
		).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, store.Append(context.Background(), rec))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppend_Failure(t *testing.T) {
	store, mock := newMockStore(t)
	rec := sampleRecord()
	dbErr := errors.New("connection refused")

	mock.ExpectExec("INSERT INTO audit_records").WillReturnError(dbErr)

	err := store.Append(context.Background(), rec)
	require.Error(t, err)
	assert.True(t, cerrors.Is(err, cerrors.ErrCodeAuditWriteFailed))
	assert.ErrorIs(t, err, dbErr)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQuery(t *testing.T) {
	store, mock := newMockStore(t)
	rec := sampleRecord()
	op, err := json.Marshal(rec.Operation)
	require.NoError(t, err)

	mock.ExpectQuery("FROM audit_records").
		WithArgs("dev").
		WillReturnRows(sqlmock.NewRows(columns).AddRow(
			int64(7), rec.ID, rec.RunID, rec.PlanID, rec.StepID, 0, "finished", op, "{DEV,PROD}",
			rec.StartedAt, *rec.EndedAt, "success", 1, false, "",
		))

	records, err := store.Query(context.Background(), "dev")
	require.NoError(t, err)
	require.Len(t, records, 1)

	got := records[0]
	assert.Equal(t, int64(7), got.Seq)
	assert.Equal(t, audit.PhaseFinished, got.Phase)
	assert.Equal(t, audit.OutcomeSuccess, got.Outcome)
	assert.Equal(t, []string{"DEV", "PROD"}, got.Objects)
	assert.Equal(t, operation.KindCloneDatabase, got.Operation.Kind)
	require.NotNil(t, got.EndedAt)
	assert.True(t, got.EndedAt.Equal(*rec.EndedAt))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQuery_StartedRecordHasNoEnd(t *testing.T) {
	store, mock := newMockStore(t)
	op, _ := json.Marshal(operation.Snapshot{Kind: operation.KindCreateRole, Target: "R"})

	mock.ExpectQuery("ORDER BY seq").
		WillReturnRows(sqlmock.NewRows(columns).AddRow(
			int64(1), "id-1", "run", "plan", "step", 0, "started", op, "{R}",
			time.Now(), nil, "", 0, false, "",
		))

	records, err := store.All(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Nil(t, records[0].EndedAt)
	assert.Len(t, audit.Incomplete(records), 1)
}

func TestQuery_Error(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("FROM audit_records").WillReturnError(errors.New("boom"))

	_, err := store.Query(context.Background(), "DEV")
	assert.True(t, cerrors.Is(err, cerrors.ErrCodeBackend))
}
