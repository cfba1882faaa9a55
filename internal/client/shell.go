package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/samber/lo"
	"github.com/spf13/afero"

	"github.com/atinyakov/GophAuth/internal/backup"
	"github.com/atinyakov/GophAuth/internal/lock"
	"github.com/atinyakov/GophAuth/internal/models"
	api "github.com/atinyakov/GophAuth/internal/server/handler/http"
	"github.com/atinyakov/GophAuth/internal/service"
)

const helpText = `Available commands:
  status                         show lock status
  lock                           lock the app
  unlock [bio]                   unlock with the PIN or biometrics
  pin set | pin rm               set or remove the PIN
  bio on | bio off               enable or disable biometric unlock
  list [query]                   list accounts with current codes
  add [uri]                      add otpauth:// or otpauth-migration:// text
  rename <id> <label> [issuer]   rename an account
  rm <id>                        remove an account
  code <id>                      generate a code (advances HOTP counters)
  stepup [cancel]                request or cancel re-authentication
  export <file>                  write an encrypted backup
  import <file> [merge|replace]  restore an encrypted backup
  transfer [batch]               print migration QR codes for another app
  qr <id> <file> [size]          write an account QR code as PNG
  sort <manual|label|issuer>     change the list order
  settings                       show preferences
  exit                           leave the shell`

// Shell is the interactive command loop of the client.
type Shell struct {
	api    *Client
	prompt *Prompter
	out    io.Writer
	fs     afero.Fs
}

// NewShell returns a Shell reading commands from in. Backup and QR files
// are read from and written to fs.
func NewShell(c *Client, in io.Reader, out io.Writer, fs afero.Fs) *Shell {
	return &Shell{api: c, prompt: NewPrompter(in, out), out: out, fs: fs}
}

// Run reads and executes commands until exit, end of input or ctx is done.
func (s *Shell) Run(ctx context.Context) error {
	for ctx.Err() == nil {
		line, ok := s.prompt.Line("gophauth> ")
		if !ok {
			return nil
		}
		args := strings.Fields(line)
		if len(args) == 0 {
			continue
		}
		quit, err := s.exec(ctx, args)
		if err != nil {
			fmt.Fprintln(s.out, "error:", describe(err))
		}
		if quit {
			return nil
		}
	}
	return ctx.Err()
}

func (s *Shell) exec(ctx context.Context, args []string) (quit bool, err error) {
	switch args[0] {
	case "help":
		fmt.Fprintln(s.out, helpText)
	case "exit", "quit":
		fmt.Fprintln(s.out, "Bye")
		return true, nil
	case "status":
		err = s.status(ctx)
	case "lock":
		err = s.printStatus(s.api.Lock(ctx))
	case "unlock":
		err = s.unlock(ctx, len(args) > 1 && args[1] == "bio")
	case "pin":
		err = s.pin(ctx, args[1:])
	case "bio":
		err = s.bio(ctx, args[1:])
	case "list":
		err = s.list(ctx, strings.Join(args[1:], " "))
	case "add":
		err = s.add(ctx, strings.Join(args[1:], " "))
	case "rename":
		err = s.rename(ctx, args[1:])
	case "rm":
		err = s.remove(ctx, args[1:])
	case "code":
		err = s.code(ctx, args[1:])
	case "stepup":
		err = s.stepUp(ctx, args[1:])
	case "export":
		err = s.export(ctx, args[1:])
	case "import":
		err = s.importBackup(ctx, args[1:])
	case "transfer":
		err = s.transfer(ctx, args[1:])
	case "qr":
		err = s.qr(ctx, args[1:])
	case "sort":
		err = s.sort(ctx, args[1:])
	case "settings":
		err = s.settings(ctx)
	default:
		fmt.Fprintln(s.out, "Unknown command. Type 'help' for a list of commands.")
	}
	return false, err
}

func (s *Shell) status(ctx context.Context) error {
	return s.printStatus(s.api.Status(ctx))
}

func (s *Shell) printStatus(st lock.Status, err error) error {
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "State: %s\n", st.State)
	fmt.Fprintf(s.out, "PIN: %s, biometrics: %s\n", onOff(st.HasPin), onOff(st.BiometricsEnabled))
	if st.FailedAttempts > 0 {
		fmt.Fprintf(s.out, "Failed attempts: %d\n", st.FailedAttempts)
	}
	if st.StepUpPending {
		fmt.Fprintln(s.out, "Step-up pending: unlock to continue")
	}
	return nil
}

func (s *Shell) unlock(ctx context.Context, bio bool) error {
	if bio {
		return s.printStatus(s.api.UnlockBiometric(ctx))
	}
	pin, ok := s.prompt.Line("PIN: ")
	if !ok || pin == "" {
		return errors.New("PIN is required")
	}
	return s.printStatus(s.api.UnlockPin(ctx, pin))
}

func (s *Shell) pin(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: pin set | pin rm")
	}
	switch args[0] {
	case "set":
		pin, err := s.prompt.Secret("PIN")
		if err != nil {
			return err
		}
		return s.printStatus(s.api.EnablePin(ctx, pin))
	case "rm":
		pin, ok := s.prompt.Line("Current PIN: ")
		if !ok || pin == "" {
			return errors.New("PIN is required")
		}
		return s.printStatus(s.api.DisablePin(ctx, pin))
	}
	return errors.New("usage: pin set | pin rm")
}

func (s *Shell) bio(ctx context.Context, args []string) error {
	if len(args) != 1 || (args[0] != "on" && args[0] != "off") {
		return errors.New("usage: bio on | bio off")
	}
	return s.printStatus(s.api.SetBiometrics(ctx, args[0] == "on"))
}

func (s *Shell) list(ctx context.Context, query string) error {
	views, err := s.api.Accounts(ctx, query, "")
	if err != nil {
		return err
	}
	if len(views) == 0 {
		fmt.Fprintln(s.out, "No accounts")
		return nil
	}

	tw := tabwriter.NewWriter(s.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tISSUER\tLABEL\tCODE")
	for _, v := range views {
		code := "(press code)"
		if v.Code != nil {
			code = fmt.Sprintf("%s  %ds", v.Code.Value, v.Code.SecondsRemaining)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", v.ID, lo.Ternary(v.Issuer == "", "-", v.Issuer), v.Label, code)
	}
	return tw.Flush()
}

func (s *Shell) add(ctx context.Context, text string) error {
	if text == "" {
		var ok bool
		if text, ok = s.prompt.Line("URI: "); !ok || text == "" {
			return errors.New("URI is required")
		}
	}
	res, err := s.api.Add(ctx, text)
	if err != nil {
		return err
	}
	if res.Account != nil {
		fmt.Fprintf(s.out, "Added %s (%s)\n", displayName(*res.Account), res.Account.ID)
	} else {
		fmt.Fprintf(s.out, "Added %d account(s)\n", res.Added)
	}
	if res.Skipped > 0 {
		fmt.Fprintf(s.out, "Skipped %d account(s)\n", res.Skipped)
	}
	return nil
}

func (s *Shell) rename(ctx context.Context, args []string) error {
	if len(args) < 2 || len(args) > 3 {
		return errors.New("usage: rename <id> <label> [issuer]")
	}
	issuer := ""
	if len(args) == 3 {
		issuer = args[2]
	}
	acc, err := s.api.Rename(ctx, args[0], args[1], issuer)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Renamed to %s\n", displayName(acc))
	return nil
}

func (s *Shell) remove(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: rm <id>")
	}
	if !s.prompt.Confirm("Remove account " + args[0] + "?") {
		fmt.Fprintln(s.out, "Canceled")
		return nil
	}
	if err := s.api.Remove(ctx, args[0]); err != nil {
		return err
	}
	fmt.Fprintln(s.out, "Account removed")
	return nil
}

func (s *Shell) code(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: code <id>")
	}
	code, err := s.api.Code(ctx, args[0])
	if err != nil {
		return err
	}
	if code.Type == models.TypeHOTP {
		fmt.Fprintf(s.out, "%s (counter %d)\n", code.Value, code.Counter)
	} else {
		fmt.Fprintf(s.out, "%s (%ds left)\n", code.Value, code.SecondsRemaining)
	}
	return nil
}

func (s *Shell) stepUp(ctx context.Context, args []string) error {
	if len(args) == 1 && args[0] == "cancel" {
		return s.printStatus(s.api.CancelStepUp(ctx))
	}
	if err := s.ensureStepUp(ctx); err != nil {
		return err
	}
	fmt.Fprintln(s.out, "Step-up granted")
	return nil
}

// ensureStepUp obtains a step-up grant, asking for the PIN when the
// server locked the app for re-authentication.
func (s *Shell) ensureStepUp(ctx context.Context) error {
	granted, _, err := s.api.BeginStepUp(ctx)
	if err != nil || granted {
		return err
	}
	pin, ok := s.prompt.Line("Confirm with PIN: ")
	if !ok || pin == "" {
		_, _ = s.api.CancelStepUp(ctx)
		return errors.New("step-up canceled")
	}
	_, err = s.api.UnlockPin(ctx, pin)
	return err
}

func (s *Shell) export(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: export <file>")
	}
	passphrase, err := s.prompt.Secret("Backup passphrase")
	if err != nil {
		return err
	}
	if err := s.ensureStepUp(ctx); err != nil {
		return err
	}
	blob, err := s.api.Export(ctx, passphrase)
	if err != nil {
		return err
	}
	if err := afero.WriteFile(s.fs, args[0], blob, 0o600); err != nil {
		return fmt.Errorf("failed to save %q: %w", args[0], err)
	}
	fmt.Fprintf(s.out, "Backup written to %s\n", args[0])
	return nil
}

func (s *Shell) importBackup(ctx context.Context, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return errors.New("usage: import <file> [merge|replace]")
	}
	mode := service.ImportMerge
	if len(args) == 2 {
		mode = service.ImportMode(args[1])
	}
	if mode != service.ImportMerge && mode != service.ImportReplace {
		return fmt.Errorf("unknown import mode %q", mode)
	}
	blob, err := afero.ReadFile(s.fs, args[0])
	if err != nil {
		return fmt.Errorf("failed to read %q: %w", args[0], err)
	}
	if mode == service.ImportReplace && !s.prompt.Confirm("Replace all accounts with the backup content?") {
		fmt.Fprintln(s.out, "Canceled")
		return nil
	}
	passphrase, ok := s.prompt.Line("Backup passphrase: ")
	if !ok || passphrase == "" {
		return errors.New("passphrase is required")
	}

	res, err := s.api.Import(ctx, blob, passphrase, mode)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Imported %d account(s), skipped %d\n", res.Added, res.Skipped)
	return nil
}

func (s *Shell) transfer(ctx context.Context, args []string) error {
	batch := 0
	if len(args) == 1 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			return errors.New("usage: transfer [batch]")
		}
		batch = n
	}
	if err := s.ensureStepUp(ctx); err != nil {
		return err
	}
	uris, skipped, err := s.api.ExportMigration(ctx, batch)
	if err != nil {
		return err
	}
	for i, u := range uris {
		qr, err := backup.QRCodeText(u)
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "QR code %d of %d\n%s\n%s\n", i+1, len(uris), qr, u)
	}
	if skipped > 0 {
		fmt.Fprintf(s.out, "%d account(s) can not be transferred\n", skipped)
	}
	return nil
}

func (s *Shell) qr(ctx context.Context, args []string) error {
	if len(args) < 2 || len(args) > 3 {
		return errors.New("usage: qr <id> <file> [size]")
	}
	size := 0
	if len(args) == 3 {
		n, err := strconv.Atoi(args[2])
		if err != nil || n <= 0 {
			return errors.New("size must be a positive number")
		}
		size = n
	}
	if err := s.ensureStepUp(ctx); err != nil {
		return err
	}
	png, err := s.api.QR(ctx, args[0], size)
	if err != nil {
		return err
	}
	if err := afero.WriteFile(s.fs, args[1], png, 0o600); err != nil {
		return fmt.Errorf("failed to save %q: %w", args[1], err)
	}
	fmt.Fprintf(s.out, "QR code written to %s\n", args[1])
	return nil
}

func (s *Shell) sort(ctx context.Context, args []string) error {
	if len(args) != 1 || !models.SortMode(args[0]).Valid() {
		return errors.New("usage: sort <manual|label|issuer>")
	}
	mode := models.SortMode(args[0])
	v, err := s.api.UpdateSettings(ctx, api.SettingsRequest{SortMode: &mode})
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Sort mode: %s\n", v.SortMode)
	return nil
}

func (s *Shell) settings(ctx context.Context) error {
	v, err := s.api.Settings(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Sort mode: %s\nSecure mode: %s\nBiometrics: %s\nTheme: %s\nColor: %s\n",
		v.SortMode, onOff(v.SecureMode), onOff(v.UseBiometrics), v.Theme, v.Color)
	return nil
}

func displayName(acc models.Account) string {
	if acc.Issuer == "" {
		return acc.Label
	}
	return acc.Issuer + ":" + acc.Label
}

func onOff(v bool) string {
	return lo.Ternary(v, "on", "off")
}

// describe turns well-known API answers into hints.
func describe(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Status {
		case http.StatusLocked:
			return "app is locked, run 'unlock'"
		case http.StatusForbidden:
			return "re-authentication required, run 'stepup'"
		case http.StatusUnauthorized:
			return "incorrect PIN"
		}
	}
	if errors.Is(err, os.ErrNotExist) {
		return "file not found"
	}
	return err.Error()
}
