package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/medflow/medflow-pharmacy/internal/pharmacy/domain"
	"github.com/medflow/medflow-pharmacy/pkg/errors"
	"github.com/medflow/medflow-pharmacy/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispenseRepository_CreateWritesRecordAndLines(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()
	repo := NewDispenseRepository(mockDB.DB)

	rec := &domain.DispenseRecord{
		PrescriptionID: "rx-1",
		WarehouseID:    "wh-1",
		ActorID:        "user-1",
		BillingMode:    domain.ModeChargeOnly,
		TotalAmount:    testutil.Dec("24.5"),
		TotalCost:      testutil.Dec("12"),
		Lines: []domain.DispenseLine{
			{LineNo: 1, PrescriptionLineID: "rxl-1", ProductID: "prod-1", LotID: "lot-a", BatchNumber: "A", Quantity: testutil.Dec("5"), UnitPrice: testutil.Dec("3"), LineTotal: testutil.Dec("15")},
			{LineNo: 2, PrescriptionLineID: "rxl-2", ProductID: "prod-2", LotID: "lot-b", BatchNumber: "B", Quantity: testutil.Dec("1"), UnitPrice: testutil.Dec("9.5"), LineTotal: testutil.Dec("9.5")},
		},
	}

	mockDB.ExpectQuery("INSERT INTO dispense_records").
		WithArgs(testutil.AnyUUID{}, "rx-1", "wh-1", "user-1", "charge_only", nil, testutil.DecimalArg("24.5"), testutil.DecimalArg("12")).
		WillReturnRows(testutil.MockRows("created_at").AddRow(time.Now()))
	for range rec.Lines {
		mockDB.ExpectExec("INSERT INTO dispense_lines").WillReturnResult(sqlmock.NewResult(0, 1))
	}

	require.NoError(t, repo.Create(context.Background(), rec))
	assert.NotEmpty(t, rec.ID)
	for _, l := range rec.Lines {
		assert.Equal(t, rec.ID, l.DispenseID)
		assert.NotEmpty(t, l.ID)
	}
	mockDB.ExpectationsWereMet(t)
}

func TestDispenseRepository_CreateDuplicateIsInvalidState(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()
	repo := NewDispenseRepository(mockDB.DB)

	mockDB.ExpectQuery("INSERT INTO dispense_records").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "dispense_records_prescription_key"})

	err := repo.Create(context.Background(), &domain.DispenseRecord{PrescriptionID: "rx-1"})
	assert.True(t, errors.Is(err, errors.ErrInvalidState))
}

func TestDispenseRepository_ExistsForPrescription(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()
	repo := NewDispenseRepository(mockDB.DB)

	mockDB.ExpectQuery("SELECT EXISTS").
		WithArgs("rx-1").
		WillReturnRows(testutil.MockRows("exists").AddRow(true))

	exists, err := repo.ExistsForPrescription(context.Background(), "rx-1")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestDispenseRepository_GetByIDNotFound(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()
	repo := NewDispenseRepository(mockDB.DB)

	mockDB.ExpectQuery("FROM dispense_records WHERE id = $1").
		WithArgs("nope").
		WillReturnRows(testutil.MockRows("id"))

	_, err := repo.GetByID(context.Background(), "nope")
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestPrescriptionRepository_GetForDispenseLocksRow(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()
	repo := NewPrescriptionRepository(mockDB.DB)

	now := time.Now()
	mockDB.ExpectQuery("FROM prescriptions WHERE id = $1\n\t\tFOR UPDATE").
		WithArgs("rx-1").
		WillReturnRows(testutil.MockRows("id", "patient_id", "encounter_id", "prescriber_id", "insurance_policy_id", "status", "created_at", "completed_at").
			AddRow("rx-1", "pat-1", "enc-1", nil, nil, "active", now, nil))
	mockDB.ExpectQuery("FROM prescription_lines").
		WithArgs("rx-1").
		WillReturnRows(testutil.MockRows("id", "prescription_id", "line_no", "product_id", "quantity", "instructions").
			AddRow("rxl-1", "rx-1", 1, "prod-1", "10", nil).
			AddRow("rxl-2", "rx-1", 2, "prod-2", "2.5", "after meals"))

	rx, err := repo.GetForDispense(context.Background(), "rx-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PrescriptionActive, rx.Status)
	require.Len(t, rx.Lines, 2)
	testutil.AssertDecimal(t, "2.5", rx.Lines[1].Quantity)
	require.NotNil(t, rx.Lines[1].Instructions)
	mockDB.ExpectationsWereMet(t)
}

func TestPrescriptionRepository_MarkCompletedOnlyWhenActive(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()
	repo := NewPrescriptionRepository(mockDB.DB)

	mockDB.ExpectExec("WHERE id = $1 AND status = 'active'").
		WithArgs("rx-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.MarkCompleted(context.Background(), "rx-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBillingRepository_OpenAccountMissing(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()
	repo := NewBillingRepository(mockDB.DB)

	mockDB.ExpectQuery("FROM patient_accounts").
		WithArgs("enc-1").
		WillReturnRows(testutil.MockRows("id", "patient_id", "encounter_id", "status", "created_at"))

	_, err := repo.OpenAccountForEncounter(context.Background(), "enc-1")
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestBillingRepository_CreateChargeDefaultsSource(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()
	repo := NewBillingRepository(mockDB.DB)

	acct := "acct-1"
	mockDB.ExpectQuery("INSERT INTO charges").
		WithArgs(testutil.AnyUUID{}, acct, nil, "disp-1", "pharmacy", "Pharmacy dispense", testutil.DecimalArg("0")).
		WillReturnRows(testutil.MockRows("created_at").AddRow(time.Now()))

	c := &domain.Charge{AccountID: &acct, DispenseID: "disp-1", Description: "Pharmacy dispense"}
	require.NoError(t, repo.CreateCharge(context.Background(), c))
	assert.Equal(t, domain.ChargeSourcePharmacy, c.Source)
	mockDB.ExpectationsWereMet(t)
}
