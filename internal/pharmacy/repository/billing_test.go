package repository

import (
	"context"
	"testing"
	"time"

	"github.com/medflow/medflow-pharmacy/internal/pharmacy/domain"
	"github.com/medflow/medflow-pharmacy/pkg/errors"
	"github.com/medflow/medflow-pharmacy/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBillingRepository_OpenAccountForEncounter(t *testing.T) {
	t.Run("returns newest open account", func(t *testing.T) {
		mockDB := testutil.NewMockDB(t)
		defer mockDB.Close()
		repo := NewBillingRepository(mockDB.DB)

		mockDB.ExpectQuery("WHERE encounter_id = $1 AND status = 'open' ORDER BY created_at DESC LIMIT 1").
			WithArgs("enc-1").
			WillReturnRows(testutil.MockRows("id", "patient_id", "encounter_id", "status", "created_at").
				AddRow("acct-1", "pat-1", "enc-1", "open", time.Now()))

		acct, err := repo.OpenAccountForEncounter(context.Background(), "enc-1")
		require.NoError(t, err)
		assert.Equal(t, "acct-1", acct.ID)
		mockDB.ExpectationsWereMet(t)
	})

	t.Run("no open account is NotFound", func(t *testing.T) {
		mockDB := testutil.NewMockDB(t)
		defer mockDB.Close()
		repo := NewBillingRepository(mockDB.DB)

		mockDB.ExpectQuery("FROM patient_accounts").
			WithArgs("enc-2").
			WillReturnRows(testutil.MockRows("id"))

		_, err := repo.OpenAccountForEncounter(context.Background(), "enc-2")
		assert.True(t, errors.Is(err, errors.ErrNotFound))
		mockDB.ExpectationsWereMet(t)
	})
}

func TestBillingRepository_CreateCharge(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()
	repo := NewBillingRepository(mockDB.DB)

	account := "acct-1"
	mockDB.ExpectQuery("INSERT INTO charges (id, account_id, invoice_id, dispense_id, source, description, amount)").
		WithArgs(testutil.AnyUUID{}, account, nil, "disp-1", "pharmacy", "Pharmacy dispense", testutil.DecimalArg("24.5")).
		WillReturnRows(testutil.MockRows("created_at").AddRow(time.Now()))

	charge := &domain.Charge{
		AccountID:   &account,
		DispenseID:  "disp-1",
		Description: "Pharmacy dispense",
		Amount:      testutil.Dec("24.500"),
	}
	require.NoError(t, repo.CreateCharge(context.Background(), charge))
	assert.NotEmpty(t, charge.ID)
	assert.Equal(t, domain.ChargeSourcePharmacy, charge.Source)
	mockDB.ExpectationsWereMet(t)
}

func TestBillingRepository_CreateInvoiceAndPayment(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()
	repo := NewBillingRepository(mockDB.DB)
	ctx := context.Background()

	mockDB.ExpectQuery("INSERT INTO invoices").
		WithArgs(testutil.AnyUUID{}, "PH-20261019-ABCDEF12", "pat-1", "enc-1", "disp-1",
			testutil.DecimalArg("24.5"), testutil.DecimalArg("30"), "paid").
		WillReturnRows(testutil.MockRows("created_at").AddRow(time.Now()))
	mockDB.ExpectQuery("INSERT INTO payments (id, invoice_id, method, amount, received_by)").
		WithArgs(testutil.AnyUUID{}, testutil.AnyUUID{}, "cash", testutil.DecimalArg("30"), "user-1").
		WillReturnRows(testutil.MockRows("created_at").AddRow(time.Now()))

	invoice := &domain.Invoice{
		InvoiceNumber: "PH-20261019-ABCDEF12",
		PatientID:     "pat-1",
		EncounterID:   "enc-1",
		DispenseID:    "disp-1",
		TotalAmount:   testutil.Dec("24.5"),
		PaidAmount:    testutil.Dec("30"),
		Status:        domain.InvoicePaid,
	}
	require.NoError(t, repo.CreateInvoice(ctx, invoice))

	payment := &domain.Payment{
		InvoiceID:  invoice.ID,
		Method:     domain.PaymentCash,
		Amount:     testutil.Dec("30"),
		ReceivedBy: "user-1",
	}
	require.NoError(t, repo.CreatePayment(ctx, payment))
	assert.NotEmpty(t, payment.ID)
	mockDB.ExpectationsWereMet(t)
}
