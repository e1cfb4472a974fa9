package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"skarbnik/internal/core"
	"skarbnik/internal/log"
	"skarbnik/internal/services"
	"skarbnik/internal/transfer"
)

var errUsage = errors.New("invalid usage")

const usageText = `Usage: skarbnik <command> [args] [flags]

Students:
  student add <first-name> <last-name>
  student edit <id> <first-name> <last-name>
  student rm <id>
  student ls

Collections:
  collection create -title T -amount A [-mode per_student|total]
                    [-participants id,id,...] [-start YYYY-MM-DD] [-end YYYY-MM-DD]
  collection edit <id> [-title T] [-amount A] [-mode M] [-participants ...]
                       [-start D] [-end D]
  collection rm <id>
  collection ls

Payments:
  pay <collection-id> <student-id> <amount>
  pay-full <collection-id> <student-id>

Balances and refunds:
  stats
  refunds
  settle <student-id>
  refund-rm <refund-id>

Document:
  theme [key]
  export [-format json|yaml]
  import [-format json|yaml] [file]    reads stdin when no file is given

API:
  serve [-addr host:port] [-trusted-proxies cidr,...]
`

type app struct {
	ledger *services.LedgerService
	logger *log.Logger
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	httpAddr  string
	rateLimit int
}

func isHelp(arg string) bool {
	return arg == "help" || arg == "-h" || arg == "--help"
}

func usage(w io.Writer) {
	fmt.Fprint(w, usageText)
}

func usageErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errUsage, fmt.Sprintf(format, args...))
}

func (a *app) run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		usage(a.stderr)
		return usageErr("missing command")
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "student":
		return a.student(ctx, rest)
	case "collection":
		return a.collection(ctx, rest)
	case "pay":
		return a.pay(ctx, rest)
	case "pay-full":
		return a.payFull(ctx, rest)
	case "stats":
		return a.stats()
	case "refunds":
		return a.refunds()
	case "settle":
		return a.settle(ctx, rest)
	case "refund-rm":
		return a.removeRefund(ctx, rest)
	case "theme":
		return a.theme(ctx, rest)
	case "export":
		return a.export(rest)
	case "import":
		return a.importDocument(ctx, rest)
	case "serve":
		return a.serve(ctx, rest)
	case "help", "-h", "--help":
		usage(a.stdout)
		return nil
	default:
		return usageErr("unknown command %q", cmd)
	}
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}

func (a *app) flagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	return fs
}

func parseFlags(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	return nil
}

// Students

func (a *app) student(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageErr("student needs a subcommand: add, edit, rm or ls")
	}
	sub, rest := args[0], args[1:]
	switch sub {
	case "add":
		if len(rest) != 2 {
			return usageErr("student add <first-name> <last-name>")
		}
		s, err := a.ledger.AddStudent(ctx, rest[0], rest[1])
		if err != nil {
			return err
		}
		fmt.Fprintf(a.stdout, "Added %s (%s)\n", s.FullName(), s.ID)
		return nil
	case "edit":
		if len(rest) != 3 {
			return usageErr("student edit <id> <first-name> <last-name>")
		}
		s, err := a.ledger.EditStudent(ctx, rest[0], rest[1], rest[2])
		if err != nil {
			return err
		}
		fmt.Fprintf(a.stdout, "Updated %s (%s)\n", s.FullName(), s.ID)
		return nil
	case "rm":
		if len(rest) != 1 {
			return usageErr("student rm <id>")
		}
		if err := a.ledger.DeleteStudent(ctx, rest[0]); err != nil {
			return err
		}
		fmt.Fprintf(a.stdout, "Removed student %s\n", rest[0])
		return nil
	case "ls":
		return a.listStudents()
	default:
		return usageErr("unknown student subcommand %q", sub)
	}
}

func (a *app) listStudents() error {
	students := a.ledger.Students()
	tw := newTable(a.stdout)
	fmt.Fprintln(tw, "#\tLAST NAME\tFIRST NAME\tID")
	for i, s := range students {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", i+1, s.LastName, s.FirstName, s.ID)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "%d students\n", len(students))
	return nil
}

// Collections

func (a *app) collection(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageErr("collection needs a subcommand: create, edit, rm or ls")
	}
	sub, rest := args[0], args[1:]
	switch sub {
	case "create":
		return a.createCollection(ctx, rest)
	case "edit":
		return a.editCollection(ctx, rest)
	case "rm":
		if len(rest) != 1 {
			return usageErr("collection rm <id>")
		}
		refunds, err := a.ledger.DeleteCollection(ctx, rest[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(a.stdout, "Removed collection %s\n", rest[0])
		if len(refunds) > 0 {
			doc := a.ledger.Document()
			tw := newTable(a.stdout)
			fmt.Fprintln(tw, "REFUND\tSTUDENT\tAMOUNT")
			for _, r := range refunds {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", r.ID, doc.StudentName(r.StudentID), r.Amount)
			}
			return tw.Flush()
		}
		return nil
	case "ls":
		return a.listCollections()
	default:
		return usageErr("unknown collection subcommand %q", sub)
	}
}

// collectionFlags binds the form fields of a collection. Defaults come from
// the existing collection when editing.
type collectionFlags struct {
	title        string
	mode         string
	amount       string
	participants string
	start        string
	end          string
}

func (f *collectionFlags) bind(fs *flag.FlagSet) {
	fs.StringVar(&f.title, "title", f.title, "collection title")
	fs.StringVar(&f.mode, "mode", f.mode, "amount mode: per_student or total")
	fs.StringVar(&f.amount, "amount", f.amount, "amount in the chosen mode")
	fs.StringVar(&f.participants, "participants", f.participants, "comma-separated student ids (default: every student)")
	fs.StringVar(&f.start, "start", f.start, "start date YYYY-MM-DD (default: today)")
	fs.StringVar(&f.end, "end", f.end, "end date YYYY-MM-DD")
}

func (f collectionFlags) input(allStudents []string) (core.CollectionInput, error) {
	mode, err := core.ParseInputMode(f.mode)
	if err != nil {
		return core.CollectionInput{}, err
	}
	amount, err := core.ParsePositiveAmount(f.amount)
	if err != nil {
		return core.CollectionInput{}, err
	}
	start, err := core.ParseDate(f.start)
	if err != nil {
		return core.CollectionInput{}, err
	}
	end, err := core.ParseDate(f.end)
	if err != nil {
		return core.CollectionInput{}, err
	}
	participants := splitIDs(f.participants)
	if len(participants) == 0 {
		participants = allStudents
	}
	return core.CollectionInput{
		Title:          f.title,
		Mode:           mode,
		Amount:         amount,
		ParticipantIDs: participants,
		StartDate:      start,
		EndDate:        end,
	}, nil
}

func splitIDs(s string) []string {
	var ids []string
	for _, part := range strings.Split(s, ",") {
		if id := strings.TrimSpace(part); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

func (a *app) createCollection(ctx context.Context, args []string) error {
	f := collectionFlags{mode: string(core.PerStudent)}
	fs := a.flagSet("collection create")
	f.bind(fs)
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		return usageErr("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}

	in, err := f.input(a.ledger.StudentIDs())
	if err != nil {
		return err
	}
	c, err := a.ledger.CreateCollection(ctx, in)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "Created %q (%s): %s per student, %s total, %d participants\n",
		c.Title, c.ID, c.PerStudentAmount, c.TotalAmount, len(c.ParticipantIDs))
	return nil
}

func (a *app) editCollection(ctx context.Context, args []string) error {
	if len(args) == 0 || strings.HasPrefix(args[0], "-") {
		return usageErr("collection edit <id> [flags]")
	}
	id := args[0]
	existing, ok := a.ledger.Document().FindCollection(id)
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrCollectionNotFound, id)
	}

	f := collectionFlags{
		title:        existing.Title,
		mode:         string(core.PerStudent),
		amount:       existing.PerStudentAmount.Decimal().String(),
		participants: strings.Join(existing.ParticipantIDs, ","),
		start:        existing.StartDate.String(),
		end:          existing.EndDate.String(),
	}
	fs := a.flagSet("collection edit")
	f.bind(fs)
	if err := parseFlags(fs, args[1:]); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		return usageErr("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}

	in, err := f.input(a.ledger.StudentIDs())
	if err != nil {
		return err
	}
	c, err := a.ledger.EditCollection(ctx, id, in)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "Updated %q (%s): %s per student, %s total, %d participants\n",
		c.Title, c.ID, c.PerStudentAmount, c.TotalAmount, len(c.ParticipantIDs))
	return nil
}

func (a *app) listCollections() error {
	summaries := a.ledger.CollectionSummaries()
	if len(summaries) == 0 {
		fmt.Fprintln(a.stdout, "No collections")
		return nil
	}
	for i, s := range summaries {
		if i > 0 {
			fmt.Fprintln(a.stdout)
		}
		fmt.Fprintf(a.stdout, "%s (%s)\n", s.Title, s.ID)
		fmt.Fprintf(a.stdout, "  collected %s of %s (%.0f%%), remaining %s\n",
			s.Collected, s.TotalAmount, s.Progress, s.Remaining)
		fmt.Fprintf(a.stdout, "  %s per student, from %s, deadline %s\n",
			s.PerStudentAmount, s.StartDate, s.DeadlineLabel)

		tw := newTable(a.stdout)
		for _, line := range s.Lines {
			mark := ""
			if line.Full {
				mark = "paid"
			}
			fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n", line.StudentName, line.Paid, mark, line.StudentID)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}
	return nil
}

// Payments

func (a *app) pay(ctx context.Context, args []string) error {
	if len(args) != 3 {
		return usageErr("pay <collection-id> <student-id> <amount>")
	}
	amount, err := core.ParseAmount(args[2])
	if err != nil {
		return err
	}
	if amount.IsNegative() {
		return fmt.Errorf("%w: payment cannot be negative", core.ErrInvalidAmount)
	}
	c, err := a.ledger.SetPayment(ctx, args[0], args[1], amount)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "%s: %s paid %s of %s\n",
		c.Title, a.ledger.Document().StudentName(args[1]), c.Payment(args[1]), c.PerStudentAmount)
	return nil
}

func (a *app) payFull(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return usageErr("pay-full <collection-id> <student-id>")
	}
	c, err := a.ledger.MarkPaidInFull(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "%s: %s paid in full (%s)\n",
		c.Title, a.ledger.Document().StudentName(args[1]), c.Payment(args[1]))
	return nil
}

// Balances and refunds

func (a *app) stats() error {
	tw := newTable(a.stdout)
	fmt.Fprintln(tw, "STUDENT\tPAID\tREQUIRED\tBALANCE\tOVERPAID\tPENDING\tTO REFUND")
	for _, s := range a.ledger.StudentStats() {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			s.FullName, s.TotalPaid, s.TotalRequired, s.Balance,
			s.ActiveOverpayment, s.PendingRefunds, s.TotalToRefund)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	agg := a.ledger.Aggregate()
	fmt.Fprintf(a.stdout, "\nTotal collected:  %s\nTotal to refund:  %s\n", agg.TotalCollected, agg.TotalRefundable)
	return nil
}

func (a *app) refunds() error {
	due := a.ledger.RefundsDue()
	fmt.Fprintln(a.stdout, "Refunds due:")
	if len(due) == 0 {
		fmt.Fprintln(a.stdout, "  none")
	} else {
		tw := newTable(a.stdout)
		for _, s := range due {
			fmt.Fprintf(tw, "  %s\t%s\t%s\n", s.FullName, s.TotalToRefund, s.StudentID)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	history := a.ledger.RefundHistory()
	fmt.Fprintln(a.stdout, "\nRefund history:")
	if len(history) == 0 {
		fmt.Fprintln(a.stdout, "  none")
		return nil
	}
	tw := newTable(a.stdout)
	for _, e := range history {
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\t%s\n",
			e.Date.Format(core.DateLayout), e.StudentName, e.Amount, e.Reason, e.ID)
	}
	return tw.Flush()
}

func (a *app) settle(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usageErr("settle <student-id>")
	}
	n, err := a.ledger.SettleRefund(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "Settled %d refund records for %s\n", n, a.ledger.Document().StudentName(args[0]))
	return nil
}

func (a *app) removeRefund(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usageErr("refund-rm <refund-id>")
	}
	r, err := a.ledger.RemoveRefundRecord(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "Removed refund %s (%s)\n", r.ID, r.Amount)
	return nil
}

// Document

func (a *app) theme(ctx context.Context, args []string) error {
	switch len(args) {
	case 0:
		current := a.ledger.Theme()
		tw := newTable(a.stdout)
		for _, t := range core.Themes() {
			mark := " "
			if t.Key == current.Key {
				mark = "*"
			}
			fmt.Fprintf(tw, "%s %s\t%s\t%s\n", mark, t.Key, t.Name, t.Accent)
		}
		return tw.Flush()
	case 1:
		if err := a.ledger.SetTheme(ctx, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(a.stdout, "Theme set to %s\n", args[0])
		return nil
	default:
		return usageErr("theme [key]")
	}
}

func (a *app) formatFlag(name string) (*flag.FlagSet, *string) {
	fs := a.flagSet(name)
	format := fs.String("format", string(transfer.FormatJSON), "document format: json or yaml")
	return fs, format
}

func (a *app) export(args []string) error {
	fs, format := a.formatFlag("export")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	f, err := transfer.ParseFormat(*format)
	if err != nil {
		return err
	}
	blob, err := a.ledger.ExportDocument(f)
	if err != nil {
		return err
	}
	if _, err := a.stdout.Write(blob); err != nil {
		return err
	}
	if f == transfer.FormatJSON {
		fmt.Fprintln(a.stdout)
	}
	return nil
}

func (a *app) importDocument(ctx context.Context, args []string) error {
	fs, format := a.formatFlag("import")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	f, err := transfer.ParseFormat(*format)
	if err != nil {
		return err
	}

	var blob []byte
	switch fs.NArg() {
	case 0:
		blob, err = io.ReadAll(a.stdin)
	case 1:
		blob, err = os.ReadFile(fs.Arg(0))
	default:
		return usageErr("import [-format json|yaml] [file]")
	}
	if err != nil {
		return fmt.Errorf("read import: %w", err)
	}

	if err := a.ledger.ImportDocument(ctx, blob, f); err != nil {
		return err
	}
	doc := a.ledger.Document()
	fmt.Fprintf(a.stdout, "Imported: %d students, %d collections, %d refunds\n",
		len(doc.Students), len(doc.Collections), len(doc.Refunds))
	return nil
}
