package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/boddenberg/crm-leads-go/internal/app"
	"github.com/boddenberg/crm-leads-go/internal/config"
	"github.com/boddenberg/crm-leads-go/internal/domain"
	"github.com/boddenberg/crm-leads-go/internal/timefmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var errNotSignedIn = errors.New("not signed in: run crmctl login first")

// cli runs one command against a started App.
type cli struct {
	app *app.App
	in  *bufio.Reader
	out io.Writer
	now func() time.Time
}

type command func(ctx context.Context, c *cli, args []string) error

var commands = map[string]command{
	"login":      loginCmd,
	"logout":     logoutCmd,
	"whoami":     whoamiCmd,
	"leads":      leadsCmd,
	"lead":       leadCmd,
	"brief":      briefCmd,
	"set-status": setStatusCmd,
	"delete":     deleteCmd,
	"tasks":      tasksCmd,
	"stats":      statsCmd,
	"serve":      serveCmd,
}

// run executes args and returns the process exit code.
func run(ctx context.Context, cfg *config.Config, logger *zap.Logger, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	if len(args) == 0 || args[0] == "help" || args[0] == "-h" || args[0] == "--help" {
		fmt.Fprint(stdout, usage)
		return 0
	}

	cmd, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", args[0], usage)
		return 2
	}

	a, err := app.New(cfg, logger)
	if err != nil {
		fmt.Fprintln(stderr, "Error:", err)
		return 1
	}
	defer a.Close()

	// Derives the session from the stored token; reloads leads when present.
	a.Start(ctx)

	c := &cli{app: a, in: bufio.NewReader(stdin), out: stdout, now: time.Now}
	if err := cmd(ctx, c, args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(stderr, "Error:", err)
		return 1
	}
	return 0
}

func newFlagSet(name string, out io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(out)
	return fs
}

func (c *cli) requireSession() error {
	if !c.app.Session.IsAuthenticated() {
		return errNotSignedIn
	}
	return nil
}

// leadArg returns the single lead id argument.
func leadArg(args []string, name string) (domain.LeadID, error) {
	if len(args) != 1 || strings.TrimSpace(args[0]) == "" {
		return "", &domain.ErrValidation{Field: "id", Message: fmt.Sprintf("usage: crmctl %s <id>", name)}
	}
	return domain.LeadID(strings.TrimSpace(args[0])), nil
}

// ============================================================
// Session
// ============================================================

func loginCmd(ctx context.Context, c *cli, args []string) error {
	fs := newFlagSet("login", c.out)
	email := fs.String("email", "", "account email")
	password := fs.String("password", "", "account password")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *email == "" || *password == "" {
		return &domain.ErrValidation{Field: "credentials", Message: "-email and -password are required"}
	}

	if _, err := c.app.Session.Login(ctx, *email, *password); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Signed in as %s (%d leads)\n", *email, len(c.app.Leads.Leads()))
	return nil
}

func logoutCmd(ctx context.Context, c *cli, args []string) error {
	if err := c.app.Session.Logout(ctx); err != nil {
		return err
	}
	fmt.Fprintln(c.out, "Signed out")
	return nil
}

func whoamiCmd(ctx context.Context, c *cli, args []string) error {
	st := c.app.Session.Status(ctx)
	if !st.Authenticated {
		fmt.Fprintln(c.out, "Not signed in")
		return nil
	}

	fmt.Fprintln(c.out, "Signed in")
	if st.Token == nil {
		return nil
	}
	if st.Token.Subject != "" {
		fmt.Fprintf(c.out, "  subject: %s\n", st.Token.Subject)
	}
	if st.Token.ExpiresAt != nil {
		state := "valid"
		if st.Token.Expired {
			state = "expired"
		}
		fmt.Fprintf(c.out, "  expires: %s (%s)\n", st.Token.ExpiresAt.Format(time.RFC3339), state)
	}
	return nil
}

// ============================================================
// Leads
// ============================================================

func leadsCmd(ctx context.Context, c *cli, args []string) error {
	fs := newFlagSet("leads", c.out)
	statusFlag := fs.String("status", "", "only leads with this status (new, success, failed)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := c.requireSession(); err != nil {
		return err
	}
	if err := c.app.Leads.LastError(); err != nil {
		return fmt.Errorf("load leads: %w", err)
	}

	leads := c.app.Leads.Leads()
	if *statusFlag != "" {
		status, err := domain.ParseStatus(*statusFlag)
		if err != nil {
			return err
		}
		leads = c.app.Leads.Filter(status)
	}

	if len(leads) == 0 {
		fmt.Fprintln(c.out, "No leads")
		return nil
	}
	printLeadTable(c.out, leads, c.now())
	return nil
}

func printLeadTable(out io.Writer, leads []domain.Lead, now time.Time) {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tNAME\tCITY\tCREATED\tSUMMARY")
	for _, l := range leads {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			l.ID, l.Status, l.Name, l.City, timefmt.Relative(l.CreatedAt, now), truncate(l.Summary, 40))
	}
	tw.Flush()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func leadCmd(ctx context.Context, c *cli, args []string) error {
	id, err := leadArg(args, "lead")
	if err != nil {
		return err
	}
	if err := c.requireSession(); err != nil {
		return err
	}

	l, err := c.app.Leads.Lookup(ctx, id)
	if err != nil {
		return err
	}

	summary := l.Summary
	if summary == "" {
		summary = "not specified"
	}
	fmt.Fprintf(c.out, "Lead %s\n", l.ID)
	fmt.Fprintf(c.out, "  name:    %s\n", l.Name)
	fmt.Fprintf(c.out, "  phone:   %s\n", l.Phone)
	fmt.Fprintf(c.out, "  city:    %s\n", l.City)
	fmt.Fprintf(c.out, "  status:  %s\n", l.Status)
	fmt.Fprintf(c.out, "  created: %s (%s)\n", timefmt.Format(l.CreatedAt, time.Local), timefmt.Relative(l.CreatedAt, c.now()))
	fmt.Fprintf(c.out, "  request: %s\n", summary)
	return nil
}

func briefCmd(ctx context.Context, c *cli, args []string) error {
	id, err := leadArg(args, "brief")
	if err != nil {
		return err
	}
	if err := c.requireSession(); err != nil {
		return err
	}

	l, err := c.app.Leads.Lookup(ctx, id)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.out, l.Brief())
	return nil
}

func setStatusCmd(ctx context.Context, c *cli, args []string) error {
	if len(args) != 2 {
		return &domain.ErrValidation{Field: "args", Message: "usage: crmctl set-status <id> <new|success|failed>"}
	}
	status, err := domain.ParseStatus(args[1])
	if err != nil {
		return err
	}
	if err := c.requireSession(); err != nil {
		return err
	}

	id := domain.LeadID(strings.TrimSpace(args[0]))
	if err := c.app.Leads.UpdateStatus(ctx, id, status); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Lead %s is now %s\n", id, status)
	return nil
}

func deleteCmd(ctx context.Context, c *cli, args []string) error {
	fs := newFlagSet("delete", c.out)
	yes := fs.Bool("yes", false, "do not ask for confirmation")
	if err := fs.Parse(args); err != nil {
		return err
	}
	id, err := leadArg(fs.Args(), "delete")
	if err != nil {
		return err
	}
	if err := c.requireSession(); err != nil {
		return err
	}

	if !*yes {
		label := id.String()
		if l, ok := c.app.Leads.GetByID(id); ok && l.Name != "" {
			label = fmt.Sprintf("%s (%s)", id, l.Name)
		}
		fmt.Fprintf(c.out, "Delete lead %s? This cannot be undone. [y/N] ", label)
		answer, _ := c.in.ReadString('\n')
		if a := strings.ToLower(strings.TrimSpace(answer)); a != "y" && a != "yes" {
			fmt.Fprintln(c.out, "Cancelled")
			return nil
		}
	}

	if err := c.app.Leads.Delete(ctx, id); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Deleted lead %s\n", id)
	return nil
}

func tasksCmd(ctx context.Context, c *cli, args []string) error {
	if err := c.requireSession(); err != nil {
		return err
	}
	if err := c.app.Leads.LastError(); err != nil {
		return fmt.Errorf("load leads: %w", err)
	}

	now := c.now()
	tasks := c.app.Leads.Tasks(now)

	fmt.Fprintf(c.out, "Urgent (%d)\n", len(tasks.Urgent))
	if len(tasks.Urgent) > 0 {
		printLeadTable(c.out, tasks.Urgent, now)
	}
	fmt.Fprintf(c.out, "\nIn progress (%d)\n", len(tasks.InProgress))
	if len(tasks.InProgress) > 0 {
		printLeadTable(c.out, tasks.InProgress, now)
	}
	return nil
}

func statsCmd(ctx context.Context, c *cli, args []string) error {
	stats := c.app.Metrics.Snapshot()
	stats.CircuitState = c.app.Client.CircuitState()

	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(stats)
}

// ============================================================
// Local facade
// ============================================================

func serveCmd(ctx context.Context, c *cli, args []string) error {
	cfg := c.app.Config
	logger := c.app.Logger

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      c.app.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("server starting", zap.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})

	// --- Graceful shutdown ---
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("server shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		logger.Info("server stopped")
		return nil
	})

	return g.Wait()
}
