package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/digkill/flashgen/internal/flow"
	"github.com/digkill/flashgen/internal/models"
	"github.com/digkill/flashgen/internal/service"
)

// statePrinter renders flow states as terminal lines, skipping repeats.
type statePrinter struct {
	out    io.Writer
	qrPath string
	log    *slog.Logger

	lastStep     flow.Step
	started      bool
	lastPhase    service.PaymentPhase
	lastProgress int
	qrWritten    string
}

func (p *statePrinter) print(s flow.State) {
	stepChanged := !p.started || s.Step() != p.lastStep
	p.started, p.lastStep = true, s.Step()
	if stepChanged {
		if ind := flow.StepIndicator(s); ind.Visible {
			fmt.Fprintf(p.out, "[%d/%d] %s\n", ind.Current+1, len(ind.Labels), ind.Labels[ind.Current])
		}
	}

	switch st := s.(type) {
	case flow.OptionsState:
		if st.Checking && stepChanged {
			fmt.Fprintln(p.out, "Checking credits...")
		}
		if st.Err != nil {
			fmt.Fprintf(p.out, "Error: %s\n", st.Err)
		}
	case flow.PaymentState:
		p.printPayment(st)
	case flow.GeneratingState:
		if stepChanged {
			p.lastProgress = -1
		}
		if st.Submitting {
			return
		}
		if st.Progress/10 != p.lastProgress/10 || p.lastProgress < 0 {
			fmt.Fprintf(p.out, "%3d%%  %s\n", st.Progress, st.StatusMessage())
			p.lastProgress = st.Progress
		}
	case flow.CompleteState:
		if !stepChanged {
			return
		}
		fmt.Fprintln(p.out, models.StatusMessage(models.JobCompleted))
		if st.Job != nil {
			printOutputs(p.out, st.Job.Outputs)
		}
	case flow.ErrorState:
		fmt.Fprintf(p.out, "Error: %s\n", st.Message())
		if st.CanSelectPlan() {
			fmt.Fprintln(p.out, "Run generate again to create a new payment code.")
		}
	}
}

func (p *statePrinter) printPayment(st flow.PaymentState) {
	if st.Phase != p.lastPhase {
		p.lastPhase = st.Phase
		switch st.Phase {
		case service.PaymentCreating:
			badge := ""
			if popular, ok := models.MostPopular(st.Plans); ok && popular.ID == st.Selected.ID {
				badge = ", most popular"
			}
			fmt.Fprintf(p.out, "Creating payment for %s (%d credits, %s%s)...\n",
				st.Selected.DisplayName, st.Selected.CreditsAmount, models.FormatMinorUnits(st.Selected.PriceMinorUnits), badge)
		case service.PaymentConfirmed:
			fmt.Fprintln(p.out, "Payment confirmed.")
		}
	}
	if st.Payment == nil || st.Payment.ID == p.qrWritten {
		return
	}
	p.qrWritten = st.Payment.ID
	fmt.Fprintf(p.out, "Pay %s with the code below. Waiting for confirmation...\n\n  %s\n\n", st.Payment.FormattedAmount(), st.Payment.Code)
	if st.Payment.ExpiresAt != nil {
		fmt.Fprintf(p.out, "The code expires at %s.\n", st.Payment.ExpiresAt.Local().Format("15:04:05"))
	}
	img, err := st.Payment.CodeImage()
	if err != nil {
		p.log.Warn("payment code image unavailable", "payment_id", st.Payment.ID, "err", err)
		return
	}
	if err := os.WriteFile(p.qrPath, img, 0o644); err != nil {
		p.log.Warn("write payment code image", "path", p.qrPath, "err", err)
		return
	}
	fmt.Fprintf(p.out, "QR code written to %s\n", p.qrPath)
}

// drain prints whatever states are still queued.
func drain(states <-chan flow.State, p *statePrinter) {
	for {
		select {
		case s := <-states:
			p.print(s)
		default:
			return
		}
	}
}

func printOutputs(out io.Writer, urls models.OutputURLs) {
	if urls.PDF != nil {
		fmt.Fprintf(out, "  PDF:  %s\n", *urls.PDF)
	}
	if urls.HTML != nil {
		fmt.Fprintf(out, "  HTML: %s\n", *urls.HTML)
	}
}

func printProfile(out io.Writer, p *models.UserProfile) {
	fmt.Fprintf(out, "Identity: %s\n", p.IdentityID)
	if p.SourceUsername != nil {
		fmt.Fprintf(out, "Source:   %s\n", *p.SourceUsername)
	}
	if p.ExternalProfileURL != nil {
		fmt.Fprintf(out, "Profile:  %s\n", *p.ExternalProfileURL)
	}
	fmt.Fprintf(out, "Credits:  %d\n", p.CreditBalance)
}

func printRecords(out io.Writer, records []models.SavedResultRecord) {
	if len(records) == 0 {
		fmt.Fprintln(out, "No saved results.")
		return
	}
	fmt.Fprintf(out, "Saved results (%d):\n", len(records))
	for _, rec := range records {
		who := ""
		if rec.SourceIdentity != nil {
			who = " " + *rec.SourceIdentity
		}
		fmt.Fprintf(out, "- %s  job %s%s\n", rec.CreatedAt.Local().Format("2006-01-02 15:04"), rec.JobID, who)
		printOutputs(out, rec.Outputs)
	}
}

func printSummaries(out io.Writer, summaries []models.ResultSummary) {
	if len(summaries) == 0 {
		return
	}
	fmt.Fprintf(out, "\nOn the server (%d):\n", len(summaries))
	for _, s := range summaries {
		cover := strings.TrimSpace(s.Cover)
		if len(cover) > 72 {
			cover = cover[:72] + "..."
		}
		fmt.Fprintf(out, "- %s\n", cover)
		printOutputs(out, s.Outputs)
	}
}
