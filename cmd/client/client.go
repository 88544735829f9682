package main

import (
	"encoding/hex"
	"fmt"
	stdlog "log"
	"os"
	"strconv"
	"time"

	"github.com/kr/pretty"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/CamberLoid/Amortiza/internal/auth"
	"github.com/CamberLoid/Amortiza/internal/clientlib"
	"github.com/CamberLoid/Amortiza/internal/config"
	"github.com/CamberLoid/Amortiza/internal/coprocessor"
	"github.com/CamberLoid/Amortiza/internal/fhe"
	"github.com/CamberLoid/Amortiza/internal/key"
	"github.com/CamberLoid/Amortiza/internal/loan"
	"github.com/CamberLoid/Amortiza/internal/restfulpayload"
)

// CLI
func main() {
	app := &cli.App{
		Name:     "Amortiza",
		HelpName: "amortiza-client",
		Usage:    "Borrower and advisor client of the Amortiza ledger",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "server", Value: clientlib.DefaultServerURL, EnvVars: []string{"AMORTIZA_SERVER"}},
			&cli.StringFlag{Name: "token", EnvVars: []string{"AMORTIZA_TOKEN"}},
			&cli.DurationFlag{Name: "timeout", Value: config.DefaultRequestTimeout},
		},
		Commands: []*cli.Command{
			{
				Name:  "keygen",
				Usage: "generate a lattice key pair for the server",
				Flags: []cli.Flag{&cli.StringFlag{Name: "dir", Value: config.DefaultKeyDir}},
				Action: func(c *cli.Context) error {
					sk, pk := key.GenerateCKKSKeyPair()
					if err := key.WriteCKKSKeys(c.String("dir"), sk, pk); err != nil {
						return err
					}
					fmt.Println("wrote key pair to", c.String("dir"))
					return nil
				},
			},
			{
				Name:  "sealed-key",
				Usage: "generate a key for the sealed development runtime",
				Action: func(c *cli.Context) error {
					k, err := coprocessor.GenerateSealedKey()
					if err != nil {
						return err
					}
					fmt.Println(hex.EncodeToString(k))
					return nil
				},
			},
			{
				Name:  "committee",
				Usage: "generate decryption committee files",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "n", Value: 3, Usage: "members"},
					&cli.IntFlag{Name: "t", Value: config.DefaultThreshold, Usage: "threshold"},
					&cli.StringFlag{Name: "out", Value: "committee.json", Usage: "file with private keys, for the oracle"},
					&cli.StringFlag{Name: "public-out", Value: "committee.pub.json", Usage: "file without private keys, for the server"},
				},
				Action: func(c *cli.Context) error {
					f, _, err := key.GenerateCommittee(c.Int("n"), c.Int("t"))
					if err != nil {
						return err
					}
					if err := key.WriteCommitteeFile(c.String("out"), f); err != nil {
						return err
					}
					return key.WriteCommitteeFile(c.String("public-out"), f.Public())
				},
			},
			{
				Name:  "token",
				Usage: "mint a bearer token",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "sign-key", EnvVars: []string{"AUTH_TOKEN_SIGN_KEY"}, Required: true},
					&cli.StringFlag{Name: "issuer", Value: config.DefaultTokenIssuer},
					&cli.DurationFlag{Name: "duration", Value: config.DefaultTokenDuration},
					&cli.StringFlag{Name: "address", Required: true},
					&cli.StringFlag{Name: "role", Value: string(loan.RoleBorrower)},
				},
				Action: func(c *cli.Context) error {
					iss, err := auth.NewIssuer(c.String("issuer"), c.String("sign-key"), c.Duration("duration"))
					if err != nil {
						return err
					}
					tok, err := iss.Issue(c.String("address"), loan.Role(c.String("role")))
					if err != nil {
						return err
					}
					fmt.Println(tok)
					return nil
				},
			},
			{
				Name:  "submit",
				Usage: "encrypt loan terms and submit them",
				Flags: []cli.Flag{
					&cli.Uint64Flag{Name: "principal", Required: true, Usage: "whole currency units"},
					&cli.Uint64Flag{Name: "rate", Required: true, Usage: "annual rate in basis points"},
					&cli.Uint64Flag{Name: "term", Required: true, Usage: "months"},
					&cli.Uint64Flag{Name: "extra", Usage: "extra monthly payment, whole currency units"},
					&cli.StringFlag{Name: "amount-label"},
					&cli.StringFlag{Name: "term-label"},
				},
				Action: submit,
			},
			{
				Name:      "loan",
				Usage:     "show a loan and its encrypted schedule",
				ArgsUsage: "ID",
				Action: withLoanID(func(c *cli.Context, cl *clientlib.Client, id uint64) error {
					l, err := cl.Loan(c.Context, id)
					if err != nil {
						return err
					}
					pretty.Println(l.Loan, l.Schedule)
					return nil
				}),
			},
			{
				Name:      "calculate",
				Usage:     "compute the encrypted schedule (advisor)",
				ArgsUsage: "ID",
				Action: withLoanID(func(c *cli.Context, cl *clientlib.Client, id uint64) error {
					return cl.Calculate(c.Context, id)
				}),
			},
			{
				Name:      "decrypt",
				Usage:     "request decryption of the schedule (owner)",
				ArgsUsage: "ID",
				Action: withLoanID(func(c *cli.Context, cl *clientlib.Client, id uint64) error {
					rid, err := cl.RequestDecryption(c.Context, id)
					if err != nil {
						return err
					}
					fmt.Println(rid)
					return nil
				}),
			},
			{
				Name:      "schedule",
				Usage:     "show the decrypted schedule (owner)",
				ArgsUsage: "ID",
				Action: withLoanID(func(c *cli.Context, cl *clientlib.Client, id uint64) error {
					s, err := cl.Schedule(c.Context, id)
					if err != nil {
						return err
					}
					if !s.Revealed {
						fmt.Println("not revealed yet")
						return nil
					}
					pretty.Println(s)
					fmt.Printf("monthly payment %s, total interest %s, paid off after %d months\n",
						cents(s.MonthlyPayment), cents(s.TotalInterest), s.PayoffTime)
					return nil
				}),
			},
			{
				Name:      "analytics",
				Usage:     "run an encrypted analytic",
				ArgsUsage: "ID NAME",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "value", Usage: "plaintext input"},
					&cli.StringFlag{Name: "handle", Usage: "ciphertext handle input"},
				},
				Action: analytics,
			},
			{
				Name:      "discard",
				Usage:     "release ciphertext handles you own",
				ArgsUsage: "HANDLE...",
				Action: func(c *cli.Context) error {
					cl := client(c)
					for _, v := range c.Args().Slice() {
						h, err := fhe.ParseHandle(v)
						if err != nil {
							return err
						}
						if err := cl.Discard(c.Context, h); err != nil {
							return err
						}
					}
					return nil
				},
			},
			{
				Name:      "loans",
				Usage:     "list a borrower's loans",
				ArgsUsage: "ADDRESS",
				Action: func(c *cli.Context) error {
					ids, err := client(c).LoansOf(c.Context, c.Args().First())
					if err != nil {
						return err
					}
					pretty.Println(ids)
					return nil
				},
			},
			{
				Name:  "events",
				Usage: "list ledger events",
				Flags: []cli.Flag{&cli.Uint64Flag{Name: "since"}},
				Action: func(c *cli.Context) error {
					evs, err := client(c).Events(c.Context, c.Uint64("since"))
					if err != nil {
						return err
					}
					for _, e := range evs {
						fmt.Printf("%d %s loan=%d %s\n", e.Seq, e.Kind, e.LoanID, e.At.Format(time.RFC3339))
					}
					return nil
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		stdlog.Fatal(err)
	}
}

func client(c *cli.Context) *clientlib.Client {
	return clientlib.New(c.String("server"), c.String("token"), c.Duration("timeout"))
}

func withLoanID(f func(*cli.Context, *clientlib.Client, uint64) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		id, err := strconv.ParseUint(c.Args().First(), 10, 64)
		if err != nil {
			return errors.Errorf("loan id %q", c.Args().First())
		}
		return f(c, client(c), id)
	}
}

func submit(c *cli.Context) error {
	cl := client(c)
	var hs [4]fhe.Handle
	for i, name := range []string{"principal", "rate", "term", "extra"} {
		h, err := cl.Encrypt(c.Context, c.Uint64(name), fhe.Uint32)
		if err != nil {
			return errors.Wrap(err, name)
		}
		hs[i] = h
	}
	id, err := cl.SubmitLoan(c.Context, restfulpayload.SubmitLoanReq{
		Principal:    hs[0],
		InterestRate: hs[1],
		Term:         hs[2],
		ExtraPayment: hs[3],
		LoanAmount:   c.String("amount-label"),
		TermLabel:    c.String("term-label"),
	})
	if id != 0 {
		fmt.Println(id)
	}
	return err
}

func analytics(c *cli.Context) error {
	id, err := strconv.ParseUint(c.Args().Get(0), 10, 64)
	if err != nil {
		return errors.Errorf("loan id %q", c.Args().Get(0))
	}
	var req restfulpayload.AnalyticsReq
	if v := c.String("value"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return errors.Wrap(err, "value")
		}
		req.Value = &n
	}
	if v := c.String("handle"); v != "" {
		h, err := fhe.ParseHandle(v)
		if err != nil {
			return err
		}
		req.Handle = &h
	}
	h, err := client(c).Analyze(c.Context, id, c.Args().Get(1), req)
	if err != nil {
		return err
	}
	fmt.Println(h)
	return nil
}

func cents(v uint32) string {
	return fmt.Sprintf("%d.%02d", v/100, v%100)
}
