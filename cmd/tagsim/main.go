package main

import (
	"context"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	flag "github.com/spf13/pflag"

	"github.com/AlsinafiAziz/metricpal-kiro/internal/tracker"
	"github.com/AlsinafiAziz/metricpal-kiro/internal/tracker/hostsim"
)

// syncNetwork delivers beacons inline so each step's outcome is known before
// the next one runs, and logs every delivery.
type syncNetwork struct {
	*hostsim.HTTPNetwork
}

func (n syncNetwork) Beacon(url string, body []byte) error {
	header := http.Header{}
	header.Set("Content-Type", "text/plain;charset=UTF-8")
	err := n.HTTPNetwork.Send(context.Background(), url, header, body)
	logDelivery("beacon", len(body), err)
	return err
}

func (n syncNetwork) Send(ctx context.Context, url string, header http.Header, body []byte) error {
	err := n.HTTPNetwork.Send(ctx, url, header, body)
	logDelivery("request", len(body), err)
	return err
}

func logDelivery(kind string, size int, err error) {
	if err != nil {
		log.Warn().Err(err).Str("transport", kind).Int("bytes", size).Msg("Delivery failed")
		return
	}
	log.Info().Str("transport", kind).Int("bytes", size).Msg("Delivered")
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	endpoint := flag.String("endpoint", tracker.DefaultEndpoint, "collector URL")
	apiKey := flag.String("apikey", os.Getenv("METRICPAL_API_KEY"), "workspace API key")
	pageURL := flag.String("url", "https://example.com/pricing?utm_source=tagsim", "URL of the simulated page")
	email := flag.String("email", "visitor@example.com", "address typed into the signup form")
	cookieless := flag.Bool("cookieless", false, "track without cookies")
	privacy := flag.Bool("privacy", false, "hash identities before sending")
	phone := flag.Bool("phone", false, "simulate a mobile browser")
	debug := flag.Bool("debug", false, "log tracker internals")
	flag.Parse()

	cfg, err := tracker.ParseConfig(map[string]string{
		"apikey":            *apiKey,
		"data-endpoint":     *endpoint,
		"data-cookieless":   strconv.FormatBool(*cookieless),
		"data-privacy-mode": strconv.FormatBool(*privacy),
		"data-debug":        strconv.FormatBool(*debug),
	}, *pageURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid tag configuration")
	}

	env := hostsim.DesktopEnv()
	if *phone {
		env = hostsim.PhoneEnv()
	}
	page := hostsim.NewPage(*pageURL, env, syncNetwork{hostsim.NewHTTPNetwork()})
	page.SetReferrer("https://www.google.com/")

	emailInput := hostsim.El("input", map[string]string{"type": "email", "name": "email", "value": *email})
	cta := hostsim.El("button", map[string]string{"class": "cta-submit"}).WithText("Start free trial")
	page.Doc().Body().Append(
		hostsim.El("h1", nil).WithText("Pricing"),
		hostsim.El("form", map[string]string{"id": "signup"}, emailInput, cta),
	)
	page.Doc().SetMetrics(tracker.ScrollMetrics{
		BodyScrollHeight: 3000, DocScrollHeight: 3000,
		BodyOffsetHeight: 3000, DocOffsetHeight: 3000,
		BodyClientHeight: 1000, DocClientHeight: 1000,
		InnerHeight: 1000,
	})

	// Commands a page pushes before the tag loads.
	var queue []tracker.Command
	for _, item := range [][]any{
		{"addSharedProperty", map[string]any{"key": "source", "value": "tagsim"}},
		{"identify", map[string]any{"simulated": true}},
	} {
		if cmd, ok := tracker.ParseCommand(item); ok {
			queue = append(queue, cmd)
		}
	}

	clock := hostsim.NewManualClock(time.Now())
	logger := log.Logger
	tr, err := tracker.New(tracker.Options{Host: page, Config: cfg, Clock: clock, Logger: &logger, Queue: queue})
	if err != nil {
		log.Fatal().Err(err).Msg("Tracker refused to start")
	}

	log.Info().
		Str("endpoint", cfg.Endpoint).
		Str("visitor_id", tr.VisitorID()).
		Bool("cookieless", cfg.Cookieless).
		Bool("privacy", cfg.PrivacyMode).
		Msg("Simulating visit")

	steps := []struct {
		name string
		run  func()
	}{
		{"enter page", tr.Start},
		{"click cta", func() {
			tr.HandleMouseOver()
			clock.Advance(2 * time.Second)
			tr.HandleMouseDown(cta)
		}},
		{"scroll", func() {
			page.Doc().ScrollTo(1400)
			tr.HandleScroll()
		}},
		{"identify", func() {
			tr.Identify(*email, map[string]any{"source": "tagsim"})
		}},
		{"goal", func() {
			tr.Goal("trial-started", map[string]any{"plan": "pro"}, nil)
		}},
		{"spa navigation", func() {
			page.Navigate("https://example.com/welcome")
			clock.Advance(tracker.URLPollInterval)
		}},
	}

	failed := 0
	for _, step := range steps {
		step.run()
		pending := tr.Pending()
		ok := tr.SendData(tracker.ModeRequest)
		if pending > 0 && !ok {
			failed++
		}
		log.Info().
			Str("step", step.name).
			Int("actions", pending).
			Bool("sent", ok).
			Str("session", tr.SessionState().String()).
			Msg("Step complete")
	}

	// Page hide ends the session and flushes over the beacon path itself.
	tr.HandlePageHide()
	if tr.Pending() > 0 {
		tr.SendData(tracker.ModeBeacon)
	}
	tr.Stop()
	log.Info().
		Str("step", "page hide").
		Int("left", tr.Pending()).
		Str("identity", tr.Identity()).
		Msg("Step complete")

	if failed > 0 || tr.Pending() > 0 {
		log.Error().Int("failed_steps", failed).Int("unsent", tr.Pending()).Msg("Visit not fully delivered")
		os.Exit(1)
	}
	log.Info().Msg("Visit delivered")
}
