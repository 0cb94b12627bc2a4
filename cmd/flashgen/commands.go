package main

import (
	"context"
	"errors"
	"flag"
	"fmt"

	"github.com/digkill/flashgen/internal/admin"
	"github.com/digkill/flashgen/internal/apperr"
	"github.com/digkill/flashgen/internal/flow"
	"github.com/digkill/flashgen/internal/models"
	"github.com/digkill/flashgen/internal/session"
)

var errNotSignedIn = errors.New("not signed in, run `flashgen login` first")

func runLogin(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := a.session.Establish(ctx); err != nil {
		return err
	}
	if st := a.session.Snapshot(); st.SignedIn() {
		fmt.Fprintf(a.out, "Already signed in as %s\n", st.IdentityID)
		return nil
	}

	if a.identity == nil {
		return a.session.SignIn(ctx)
	}

	signedIn := make(chan session.State, 1)
	cancel := a.session.Subscribe(func(st session.State) {
		if st.SignedIn() {
			select {
			case signedIn <- st:
			default:
			}
		}
	})
	defer cancel()

	srvCtx, stopServer := context.WithCancel(ctx)
	defer stopServer()
	srv := admin.NewServer(a.cfg.ListenAddr, a.cfg.AdminUsername, a.cfg.AdminPassword, a.log, admin.Deps{Public: a.identity})
	go func() {
		if err := srv.Run(srvCtx); err != nil {
			a.log.Error("callback server stopped", "err", err)
		}
	}()

	if err := a.session.SignIn(ctx); err != nil {
		return err
	}
	select {
	case st := <-signedIn:
		fmt.Fprintf(a.out, "Signed in as %s\n", st.IdentityID)
		if p, err := a.session.Profile(ctx); err == nil {
			printProfile(a.out, p)
		} else {
			a.log.Warn("fetch profile after sign-in", "err", err)
		}
		if a.session.AuxiliaryToken() == "" {
			fmt.Fprintln(a.out, "Warning: no source access token was captured; generation will ask you to sign in again.")
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func runLogout(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("logout", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := a.session.Establish(ctx); err != nil {
		return err
	}
	if err := a.session.SignOut(ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Signed out")
	return nil
}

func runProfile(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("profile", flag.ContinueOnError)
	externalURL := fs.String("external-url", "", "set the professional network profile URL")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := a.session.Establish(ctx); err != nil {
		return err
	}
	if !a.session.Snapshot().SignedIn() {
		return errNotSignedIn
	}

	var (
		p   *models.UserProfile
		err error
	)
	if *externalURL != "" {
		p, err = a.session.UpdateProfile(ctx, *externalURL)
	} else {
		p, err = a.session.Profile(ctx)
	}
	if err != nil {
		return err
	}
	printProfile(a.out, p)
	return nil
}

func runResults(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("results", flag.ContinueOnError)
	remote := fs.Bool("remote", true, "include results listed by the backend")
	if err := fs.Parse(args); err != nil {
		return err
	}

	records, err := a.results.List(ctx)
	if err != nil {
		return err
	}
	for i, rec := range records {
		if rec.Outputs.HTML != nil || rec.Outputs.PDF != nil {
			continue
		}
		urls, err := a.backend.DownloadURLs(ctx, rec.JobID)
		if err != nil {
			a.log.Warn("fetch download links", "job_id", rec.JobID, "err", err)
			continue
		}
		records[i].Outputs = urls
	}
	printRecords(a.out, records)

	if !*remote {
		return nil
	}
	if err := a.session.Establish(ctx); err != nil {
		return err
	}
	cred := a.session.Credential()
	if cred == "" {
		return nil
	}
	summaries, err := a.backend.MyResults(ctx, cred)
	if err != nil {
		a.log.Warn("list remote results", "err", err)
		return nil
	}
	printSummaries(a.out, summaries)
	return nil
}

func runGenerate(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("generate", flag.ContinueOnError)
	jobURL := fs.String("job-url", "", "job posting to tailor the resume to")
	lang := fs.String("lang", string(models.LanguageEN), "output language (pt-br, en)")
	emphasis := fs.String("emphasis", string(models.EmphasisMixed), "source emphasis (primary-network, code-repository, mixed)")
	plan := fs.String("plan", "", "plan to preselect when a payment is needed")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := a.session.Establish(ctx); err != nil {
		return err
	}
	if !a.session.Snapshot().SignedIn() {
		return errNotSignedIn
	}

	flowCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	nav := make(chan flow.Destination, 1)
	states := make(chan flow.State, 256)
	o := a.newFlow(flowCtx, *plan, func(d flow.Destination) {
		select {
		case nav <- d:
		default:
		}
	})
	defer o.Close()
	o.Subscribe(func(s flow.State) {
		select {
		case states <- s:
		default:
			a.log.Debug("state update dropped", "step", s.Step().String())
		}
	})

	opts := models.GenerationOptions{
		JobContextURL:  *jobURL,
		OutputLanguage: models.Language(*lang),
		SourceEmphasis: models.SourceEmphasis(*emphasis),
	}
	if err := o.Continue(opts); err != nil {
		return err
	}

	p := &statePrinter{out: a.out, qrPath: a.cfg.QRCodePath, log: a.log}
	for {
		select {
		case s := <-states:
			p.print(s)
			// A missing auxiliary token is followed by the login navigation
			// once sign-out has finished; wait for it.
			if es, ok := s.(flow.ErrorState); ok && !errors.Is(es.Err, apperr.ErrMissingAuxiliaryToken) {
				return fmt.Errorf("generation stopped: %s", es.Message())
			}
		case d := <-nav:
			drain(states, p)
			if d == flow.Login {
				return errNotSignedIn
			}
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func runServe(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	plan := fs.String("plan", "", "plan to preselect when a payment is needed")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if a.cfg.AdminPassword == "" {
		a.log.Warn("ADMIN_PASSWORD is empty, flow endpoints will reject every request")
	}
	if err := a.session.Establish(ctx); err != nil {
		return err
	}

	var o *flow.Orchestrator
	o = a.newFlow(ctx, *plan, func(d flow.Destination) {
		a.log.Info("flow navigation", "to", string(d))
		if d == flow.Dashboard {
			// Runs on the loop; restart from a fresh goroutine.
			go func() {
				if err := o.Start(); err != nil {
					a.log.Warn("restart flow", "err", err)
				}
			}()
		}
	})
	defer o.Close()
	if err := o.Start(); err != nil {
		return err
	}

	if err := a.backend.Health(ctx); err != nil {
		a.log.Warn("backend not reachable at startup", "url", a.cfg.BackendURL, "err", err)
	}

	deps := admin.Deps{Flow: o, Results: a.results, Plans: a.ledger, Backend: a.backend}
	if a.identity != nil {
		deps.Public = a.identity
	}
	return admin.NewServer(a.cfg.ListenAddr, a.cfg.AdminUsername, a.cfg.AdminPassword, a.log, deps).Run(ctx)
}
