package cli

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	"vireworkplace/attendance/internal/api"
	"vireworkplace/attendance/internal/auth"
	"vireworkplace/attendance/internal/config"
	"vireworkplace/attendance/internal/geo"
	"vireworkplace/attendance/internal/markers"
	"vireworkplace/attendance/internal/workflow"
)

var ErrUsage = errors.New("usage")

// Env carries what a command needs from the process.
type Env struct {
	Config config.Config
	Out    io.Writer
	Clock  workflow.Clock
}

func Execute(ctx context.Context, env Env, args []string) error {
	if len(args) < 1 {
		return usageError()
	}

	switch args[0] {
	case "login":
		return runLogin(ctx, env, args[1:])
	case "logout":
		return runLogout(ctx, env, args[1:])
	case "status":
		return runStatus(ctx, env, args[1:])
	case "checkin":
		return runCheckIn(ctx, env, args[1:])
	case "checkout":
		return runCheckOut(ctx, env, args[1:], false)
	case "force-checkout":
		return runCheckOut(ctx, env, args[1:], true)
	default:
		return usageError()
	}
}

func usageError() error {
	return fmt.Errorf("%w: attendance <login|logout|status|checkin|checkout|force-checkout> [...]", ErrUsage)
}

// parse reports flag failures (including -h) as usage errors.
func parse(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}
	return nil
}

type common struct {
	token     *string
	storePath *string
}

func commonFlags(fs *flag.FlagSet, cfg config.Config) common {
	return common{
		token:     fs.String("token", "", "bearer token (defaults to the stored login)"),
		storePath: fs.String("store", cfg.MarkerFile, "path to the local marker file"),
	}
}

type session struct {
	tokens   *auth.Tokens
	recorder *workflow.Recorder
	workflow *workflow.Workflow
}

func (c common) open(env Env) session {
	storage := markers.NewFileStorage(*c.storePath)
	tokens := auth.NewDefaultTokens(auth.NewMemoryLocation(*c.token), storage)
	client := api.New(env.Config.APIBaseURL, env.Config.APITimeout, tokens)
	store := markers.NewStore(storage, env.Config.OfficeLocation())
	recorder := &workflow.Recorder{}
	return session{
		tokens:   tokens,
		recorder: recorder,
		workflow: workflow.New(client, store, recorder, env.Clock, workflow.OptionsFromConfig(env.Config)),
	}
}

// sync loads today's state from the server. A failing server is not fatal:
// the local markers still guard checkout.
func (s session) sync(ctx context.Context, out io.Writer) error {
	snap, err := s.workflow.Refresh(ctx)
	if err != nil {
		fmt.Fprintf(out, "warning: could not load attendance status: %v\n", err)
		return nil
	}
	if snap.State == workflow.StateSessionExpired {
		return auth.ErrSessionExpired
	}
	return nil
}

func runLogin(ctx context.Context, env Env, args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	flags := commonFlags(fs, env.Config)
	if err := parse(fs, args); err != nil {
		return err
	}
	token := strings.TrimSpace(*flags.token)
	if token == "" {
		return errors.New("--token is required")
	}
	claims, err := auth.Inspect(token)
	if err != nil {
		return fmt.Errorf("invalid token: %w", err)
	}
	storage := markers.NewFileStorage(*flags.storePath)
	if err := storage.Set(ctx, auth.StorageKeys[0], token); err != nil {
		return err
	}
	fmt.Fprintf(env.Out, "logged in as %s\n", claims.UserKey())
	return nil
}

func runLogout(ctx context.Context, env Env, args []string) error {
	fs := flag.NewFlagSet("logout", flag.ContinueOnError)
	flags := commonFlags(fs, env.Config)
	if err := parse(fs, args); err != nil {
		return err
	}
	if err := flags.open(env).tokens.Clear(ctx); err != nil {
		return err
	}
	fmt.Fprintln(env.Out, "logged out")
	return nil
}

func runStatus(ctx context.Context, env Env, args []string) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	flags := commonFlags(fs, env.Config)
	if err := parse(fs, args); err != nil {
		return err
	}
	s := flags.open(env)
	snap, err := s.workflow.Refresh(ctx)
	if err != nil {
		return err
	}
	return s.report(env.Out, snap)
}

func runCheckIn(ctx context.Context, env Env, args []string) error {
	fs := flag.NewFlagSet("checkin", flag.ContinueOnError)
	flags := commonFlags(fs, env.Config)
	location := fs.String("location", "office", "working location: office | remote")
	lat := fs.Float64("lat", 0, "latitude of the current fix")
	lng := fs.Float64("lng", 0, "longitude of the current fix")
	accuracy := fs.Float64("accuracy", 0, "accuracy of the current fix in meters")
	locationError := fs.String("location-error", "", "geolocation failure code reported by the device")
	if err := parse(fs, args); err != nil {
		return err
	}
	workingLocation, err := workflow.ParseWorkingLocation(*location)
	if err != nil {
		return err
	}

	req := workflow.CheckInRequest{WorkingLocation: workingLocation}
	if workingLocation == workflow.Office {
		reported := geo.ReportedLocator{}
		switch {
		case *locationError != "":
			reported.Err = geo.ParseCode(*locationError)
		case flagSet(fs, "lat") && flagSet(fs, "lng"):
			reported.Sample = &geo.Sample{Latitude: *lat, Longitude: *lng, AccuracyMeters: *accuracy}
		}
		req.Locator = reported
	}

	s := flags.open(env)
	if err := s.sync(ctx, env.Out); err != nil {
		return err
	}
	snap, err := s.workflow.CheckIn(ctx, req)
	if err != nil {
		return err
	}
	return s.report(env.Out, snap)
}

func runCheckOut(ctx context.Context, env Env, args []string, force bool) error {
	name := "checkout"
	if force {
		name = "force-checkout"
	}
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	flags := commonFlags(fs, env.Config)
	summary := fs.String("summary", "", "daily summary (required)")
	if err := parse(fs, args); err != nil {
		return err
	}

	if strings.TrimSpace(*summary) == "" {
		return workflow.ErrSummaryRequired
	}
	s := flags.open(env)
	if err := s.sync(ctx, env.Out); err != nil {
		return err
	}
	snap, err := s.workflow.CheckOut(ctx, *summary)
	if err != nil {
		return err
	}
	if snap.State == workflow.StateBackendSyncIssue && force {
		s.printNotices(env.Out)
		snap, err = s.workflow.ForceCheckout(ctx)
		if err != nil {
			return err
		}
	}
	if snap.State == workflow.StateBackendSyncIssue {
		if err := s.report(env.Out, snap); err != nil {
			return err
		}
		return errors.New("server has no attendance record for today; rerun with force-checkout to record it locally")
	}
	return s.report(env.Out, snap)
}

// report prints notices and the snapshot, auto-acknowledging informational
// dialogs. Failure states come back as errors.
func (s session) report(out io.Writer, snap workflow.Snapshot) error {
	s.printNotices(out)
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(snap); err != nil {
		return err
	}
	switch snap.State {
	case workflow.StateOvertime, workflow.StateAlreadyCheckedOut:
		_, _ = s.workflow.Acknowledge()
		return nil
	case workflow.StateSessionExpired:
		return fmt.Errorf("%w: log in again with `attendance login --token`", auth.ErrSessionExpired)
	case workflow.StateError, workflow.StateLocationError:
		return errors.New(snap.Message)
	}
	return nil
}

func (s session) printNotices(out io.Writer) {
	notices, _ := s.recorder.Drain()
	for _, n := range notices {
		fmt.Fprintf(out, "[%s] %s: %s\n", n.Kind, n.Title, n.Message)
	}
}

func flagSet(fs *flag.FlagSet, name string) bool {
	found := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}
