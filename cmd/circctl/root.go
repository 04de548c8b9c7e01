package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"lmscirc/internal/catalog"
	"lmscirc/internal/circulation"
	"lmscirc/internal/clients"
	"lmscirc/internal/identity"
)

type cli struct {
	out     io.Writer
	baseURL string
	token   string
	timeout time.Duration
}

func (c *cli) client() *clients.Client {
	return clients.New(c.baseURL, clients.WithToken(c.token))
}

func (c *cli) print(v any) error {
	enc := jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// call runs fn with a bounded context and prints its result.
func call[T any](c *cli, cmd *cobra.Command, fn func(ctx context.Context, api *clients.Client) (T, error)) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), c.timeout)
	defer cancel()
	v, err := fn(ctx, c.client())
	if err != nil {
		return err
	}
	return c.print(v)
}

func parseID(name, raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s %q", name, raw)
	}
	return id, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func newRootCmd(out io.Writer) *cobra.Command {
	c := &cli{out: out}
	root := &cobra.Command{
		Use:           "circctl",
		Short:         "Operate the library circulation service",
		SilenceUsage: true,
	}
	root.SetOut(out)
	root.PersistentFlags().StringVar(&c.baseURL, "api", envOr("CIRCCTL_API", "http://localhost:8080/api/v1"), "API base URL")
	root.PersistentFlags().StringVar(&c.token, "token", os.Getenv("CIRCCTL_TOKEN"), "bearer token (see `circctl login`)")
	root.PersistentFlags().DurationVar(&c.timeout, "timeout", 15*time.Second, "per-request timeout")

	root.AddCommand(
		c.loginCmd(),
		c.userCmd(),
		c.bookCmd(),
		c.loanCmd(),
		c.reservationCmd(),
		c.fineCmd(),
		c.sweepCmd(),
		c.eventsCmd(),
	)
	return root
}

func (c *cli) loginCmd() *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "login EMAIL",
		Short: "Authenticate and print a bearer token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				password = os.Getenv("CIRCCTL_PASSWORD")
			}
			return call(c, cmd, func(ctx context.Context, api *clients.Client) (*clients.Session, error) {
				return api.Login(ctx, args[0], password)
			})
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "password (or CIRCCTL_PASSWORD)")
	return cmd
}

func (c *cli) userCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "user", Short: "Manage accounts"}

	var password, role string
	register := &cobra.Command{
		Use:   "register EMAIL NAME",
		Short: "Create an account; roles other than STUDENT need a staff token",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(c, cmd, func(ctx context.Context, api *clients.Client) (*identity.User, error) {
				return api.Register(ctx, args[0], args[1], password, identity.Role(role))
			})
		},
	}
	register.Flags().StringVar(&password, "password", "", "initial password, at least 8 characters")
	register.Flags().StringVar(&role, "role", string(identity.RoleStudent), "STUDENT, LIBRARIAN or ADMIN")
	_ = register.MarkFlagRequired("password")

	cmd.AddCommand(register)
	return cmd
}

func (c *cli) bookCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "book", Short: "Manage the catalog"}

	var isbn, author string
	add := &cobra.Command{
		Use:   "add TITLE",
		Short: "Add a book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(c, cmd, func(ctx context.Context, api *clients.Client) (*catalog.Book, error) {
				return api.AddBook(ctx, isbn, args[0], author)
			})
		},
	}
	add.Flags().StringVar(&isbn, "isbn", "", "ISBN")
	add.Flags().StringVar(&author, "author", "", "author")

	addCopy := &cobra.Command{
		Use:   "add-copy BOOK_ID BARCODE",
		Short: "Register a physical copy",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			bookID, err := parseID("book id", args[0])
			if err != nil {
				return err
			}
			return call(c, cmd, func(ctx context.Context, api *clients.Client) (*catalog.Copy, error) {
				return api.AddCopy(ctx, bookID, args[1])
			})
		},
	}

	copies := &cobra.Command{
		Use:   "copies BOOK_ID",
		Short: "List copies and availability",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bookID, err := parseID("book id", args[0])
			if err != nil {
				return err
			}
			return call(c, cmd, func(ctx context.Context, api *clients.Client) (any, error) {
				list, err := api.ListCopies(ctx, bookID)
				if err != nil {
					return nil, err
				}
				avail, err := api.Availability(ctx, bookID)
				if err != nil {
					return nil, err
				}
				return map[string]any{"copies": list, "availability": avail}, nil
			})
		},
	}

	mark := &cobra.Command{
		Use:   "mark COPY_ID STATUS",
		Short: "Mark a copy AVAILABLE, LOST or DAMAGED",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			copyID, err := parseID("copy id", args[0])
			if err != nil {
				return err
			}
			return call(c, cmd, func(ctx context.Context, api *clients.Client) (*catalog.Copy, error) {
				return api.MarkCopy(ctx, copyID, catalog.CopyStatus(args[1]))
			})
		},
	}

	cmd.AddCommand(add, addCopy, copies, mark)
	return cmd
}

func (c *cli) loanCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "loan", Short: "Issue, return and renew loans"}

	issue := &cobra.Command{
		Use:   "issue USER_ID COPY_ID",
		Short: "Lend a copy to a user",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseID("user id", args[0])
			if err != nil {
				return err
			}
			copyID, err := parseID("copy id", args[1])
			if err != nil {
				return err
			}
			return call(c, cmd, func(ctx context.Context, api *clients.Client) (*circulation.Transaction, error) {
				return api.Issue(ctx, userID, copyID)
			})
		},
	}

	byID := func(use, short string, fn func(*clients.Client, context.Context, uuid.UUID) (*circulation.Transaction, error)) *cobra.Command {
		return &cobra.Command{
			Use:   use + " TRANSACTION_ID",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := parseID("transaction id", args[0])
				if err != nil {
					return err
				}
				return call(c, cmd, func(ctx context.Context, api *clients.Client) (*circulation.Transaction, error) {
					return fn(api, ctx, id)
				})
			},
		}
	}

	var page, size int
	history := &cobra.Command{
		Use:   "history USER_ID",
		Short: "Show a user's loan history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseID("user id", args[0])
			if err != nil {
				return err
			}
			return call(c, cmd, func(ctx context.Context, api *clients.Client) (*circulation.HistoryPage, error) {
				return api.History(ctx, userID, page, size)
			})
		},
	}
	history.Flags().IntVar(&page, "page", 1, "page number, starting at 1")
	history.Flags().IntVar(&size, "page-size", 20, "page size")

	cmd.AddCommand(
		issue,
		byID("return", "Check a copy back in", (*clients.Client).Return),
		byID("renew", "Extend a loan", (*clients.Client).Renew),
		history,
	)
	return cmd
}

func (c *cli) reservationCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "reservation", Aliases: []string{"hold"}, Short: "Manage reservations"}

	var forUser string
	place := &cobra.Command{
		Use:   "place BOOK_ID",
		Short: "Join the queue for a book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bookID, err := parseID("book id", args[0])
			if err != nil {
				return err
			}
			userID := uuid.Nil
			if forUser != "" {
				if userID, err = parseID("user id", forUser); err != nil {
					return err
				}
			}
			return call(c, cmd, func(ctx context.Context, api *clients.Client) (*circulation.Reservation, error) {
				return api.Reserve(ctx, userID, bookID)
			})
		},
	}
	place.Flags().StringVar(&forUser, "user", "", "reserve on behalf of this user (staff)")

	cancel := &cobra.Command{
		Use:   "cancel RESERVATION_ID",
		Short: "Leave the queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("reservation id", args[0])
			if err != nil {
				return err
			}
			return call(c, cmd, func(ctx context.Context, api *clients.Client) (*circulation.Reservation, error) {
				return api.CancelReservation(ctx, id)
			})
		},
	}

	list := &cobra.Command{
		Use:   "list USER_ID",
		Short: "List a user's reservations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseID("user id", args[0])
			if err != nil {
				return err
			}
			return call(c, cmd, func(ctx context.Context, api *clients.Client) ([]circulation.Reservation, error) {
				return api.ListReservations(ctx, userID)
			})
		},
	}

	cmd.AddCommand(place, cancel, list)
	return cmd
}

func (c *cli) fineCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "fine", Short: "Assess, pay and waive fines"}

	assess := &cobra.Command{
		Use:   "assess TRANSACTION_ID",
		Short: "Assess the overdue fine for a loan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("transaction id", args[0])
			if err != nil {
				return err
			}
			return call(c, cmd, func(ctx context.Context, api *clients.Client) (*circulation.Fine, error) {
				return api.AssessFine(ctx, id)
			})
		},
	}

	var method string
	pay := &cobra.Command{
		Use:   "pay FINE_ID AMOUNT",
		Short: "Record a full payment",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("fine id", args[0])
			if err != nil {
				return err
			}
			amount, err := decimal.NewFromString(args[1])
			if err != nil {
				return fmt.Errorf("invalid amount %q", args[1])
			}
			return call(c, cmd, func(ctx context.Context, api *clients.Client) (*circulation.Fine, error) {
				return api.PayFine(ctx, id, amount, circulation.PaymentMethod(method))
			})
		},
	}
	pay.Flags().StringVar(&method, "method", string(circulation.PaymentCash), "CASH, CARD or ONLINE")

	waive := &cobra.Command{
		Use:   "waive FINE_ID REASON",
		Short: "Waive a fine",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("fine id", args[0])
			if err != nil {
				return err
			}
			return call(c, cmd, func(ctx context.Context, api *clients.Client) (*circulation.Fine, error) {
				return api.WaiveFine(ctx, id, args[1])
			})
		},
	}

	list := &cobra.Command{
		Use:   "list USER_ID",
		Short: "List a user's fines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseID("user id", args[0])
			if err != nil {
				return err
			}
			return call(c, cmd, func(ctx context.Context, api *clients.Client) ([]circulation.Fine, error) {
				return api.ListFines(ctx, userID)
			})
		},
	}

	cmd.AddCommand(assess, pay, waive, list)
	return cmd
}

func (c *cli) sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Expire stale reservations and lapsed holds now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(c, cmd, func(ctx context.Context, api *clients.Client) (*circulation.SweepResult, error) {
				return api.Sweep(ctx)
			})
		},
	}
}

func (c *cli) eventsCmd() *cobra.Command {
	var after string
	var limit int
	cmd := &cobra.Command{
		Use:   "events [AGGREGATE_ID]",
		Short: "Show the audit trail of one record, or tail the event log",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				id, err := parseID("aggregate id", args[0])
				if err != nil {
					return err
				}
				return call(c, cmd, func(ctx context.Context, api *clients.Client) (any, error) {
					return api.AuditTrail(ctx, id)
				})
			}
			afterID, err := strconv.ParseInt(after, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid --after %q", after)
			}
			return call(c, cmd, func(ctx context.Context, api *clients.Client) (any, error) {
				return api.Events(ctx, afterID, limit)
			})
		},
	}
	cmd.Flags().StringVar(&after, "after", "0", "only events with a larger id")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum events to print")
	return cmd
}
