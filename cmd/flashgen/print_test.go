package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/flashgen/internal/apperr"
	"github.com/digkill/flashgen/internal/config"
	"github.com/digkill/flashgen/internal/flow"
	"github.com/digkill/flashgen/internal/models"
	"github.com/digkill/flashgen/internal/service"
	"github.com/digkill/flashgen/pkg/logger"
)

func TestRunUsage(t *testing.T) {
	var out bytes.Buffer
	err := run(context.Background(), config.Config{}, logger.Discard(), nil, &out)
	assert.ErrorIs(t, err, flag.ErrHelp)
	assert.Contains(t, out.String(), "usage: flashgen")

	out.Reset()
	err = run(context.Background(), config.Config{}, logger.Discard(), []string{"frobnicate"}, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "frobnicate")
}

func TestStatePrinter_Payment(t *testing.T) {
	png := []byte{0x89, 'P', 'N', 'G'}
	qrPath := filepath.Join(t.TempDir(), "qr.png")
	var out bytes.Buffer
	p := &statePrinter{out: &out, qrPath: qrPath, log: logger.Discard()}

	plan := models.CreditPlan{ID: "p10", DisplayName: "Starter", CreditsAmount: 10, PriceMinorUnits: 5000, IsActive: true}
	pay := &models.Payment{
		ID:               "pay-1",
		AmountMinorUnits: 5000,
		Status:           models.PaymentPending,
		Code:             "000201br",
		CodeRendering:    "data:image/png;base64," + base64.StdEncoding.EncodeToString(png),
	}
	p.print(flow.PaymentState{Selected: plan, Phase: service.PaymentCreating})
	p.print(flow.PaymentState{Selected: plan, Phase: service.PaymentAwaitingSettlement, Payment: pay})
	p.print(flow.PaymentState{Selected: plan, Phase: service.PaymentAwaitingSettlement, Payment: pay, Copied: true})

	text := out.String()
	assert.Contains(t, text, "[2/3] Payment")
	assert.Contains(t, text, "Creating payment for Starter (10 credits, R$ 50,00)")
	assert.Contains(t, text, "000201br")
	assert.Equal(t, 1, bytes.Count(out.Bytes(), []byte("QR code written")))

	got, err := os.ReadFile(qrPath)
	require.NoError(t, err)
	assert.Equal(t, png, got)
}

func TestStatePrinter_MarksMostPopularPlan(t *testing.T) {
	catalog := []models.CreditPlan{
		{ID: "p10", DisplayName: "Starter", CreditsAmount: 10, PriceMinorUnits: 5000, IsActive: true},
		{ID: "p25", DisplayName: "Pro", CreditsAmount: 25, PriceMinorUnits: 10000, IsActive: true},
	}

	var out bytes.Buffer
	p := &statePrinter{out: &out, log: logger.Discard()}
	p.print(flow.PaymentState{Plans: catalog, Selected: catalog[1], Phase: service.PaymentCreating})
	assert.Contains(t, out.String(), "Creating payment for Pro (25 credits, R$ 100,00, most popular)")

	out.Reset()
	p = &statePrinter{out: &out, log: logger.Discard()}
	p.print(flow.PaymentState{Plans: catalog, Selected: catalog[0], Phase: service.PaymentCreating})
	assert.Contains(t, out.String(), "Creating payment for Starter (10 credits, R$ 50,00)...")
}

func TestStatePrinter_GeneratingAndDone(t *testing.T) {
	var out bytes.Buffer
	p := &statePrinter{out: &out, log: logger.Discard()}

	p.print(flow.GeneratingState{Submitting: true})
	p.print(flow.GeneratingState{JobID: "job-1", Status: models.JobPending})
	p.print(flow.GeneratingState{JobID: "job-1", Status: models.JobProcessing, Progress: 4})
	p.print(flow.GeneratingState{JobID: "job-1", Status: models.JobProcessing, Progress: 12})

	pdf := "https://cdn.example.com/job-1.pdf"
	p.print(flow.CompleteState{Job: &models.GenerationJob{ID: "job-1", Status: models.JobCompleted, Outputs: models.OutputURLs{PDF: &pdf}}})

	text := out.String()
	assert.Contains(t, text, "[3/3] Generating")
	assert.Contains(t, text, "  0%  "+models.StatusMessage(models.JobPending))
	assert.NotContains(t, text, "  4%")
	assert.Contains(t, text, " 12%  "+models.StatusMessage(models.JobProcessing))
	assert.Contains(t, text, "PDF:  "+pdf)

	out.Reset()
	p.print(flow.ErrorState{
		Err:   apperr.E(apperr.KindTerminalPayment, "payment.settle", "Payment expired or cancelled. Select a plan to generate a new code."),
		From:  flow.StepPayment,
		Plans: []models.CreditPlan{{ID: "p10", IsActive: true}},
	})
	assert.Contains(t, out.String(), "Error: Payment expired")
	assert.Contains(t, out.String(), "Run generate again")
}
