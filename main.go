package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"matrixbridge/internal/analyzer"
	"matrixbridge/internal/cache"
	"matrixbridge/internal/cmdserver"
	"matrixbridge/internal/controller"
	"matrixbridge/internal/display"
	"matrixbridge/internal/ircclient"
	"matrixbridge/internal/obs"
)

const (
	productName = "matrixbridge"
	productVer  = "1.0.0"
	ircAddrTLS  = "irc.chat.twitch.tv:6697"
	licenseText = productName + " is provided as-is, no warranty."
)

func main() {
	os.Exit(run())
}

func run() int {
	matrixHostname := flag.String("matrix-hostname", "", "base URL of the LED matrix's HTTP ingest endpoint")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	quiet := flag.Bool("q", false, "alias for --quiet")
	quietLong := flag.Bool("quiet", false, "suppress info-level logs")
	silent := flag.Bool("s", false, "alias for --silent")
	silentLong := flag.Bool("silent", false, "suppress all structured (slog) logs; bracket-tagged [main]/[obs] lines still print")
	forbiddenEmotes := flag.String("forbidden-emotes", "", "comma-separated extra forbidden Twitch emote ids")
	forbiddenUsers := flag.String("forbidden-users", "", "comma-separated forbidden usernames")
	noSummationShort := flag.Bool("u", false, "alias for --no-summation")
	noSummation := flag.Bool("no-summation", false, "emit at most one occurrence per distinct key per message")
	interactiveShort := flag.Bool("i", false, "alias for --interactive")
	interactive := flag.Bool("interactive", false, "start in Off, waiting for ON over the command interface")
	commandPort := flag.Int("command-port", 0, "TCP port for the command interface (required with --interactive)")
	purge := flag.Bool("purge", false, "delete the image cache directory and exit")
	showVersion := flag.Bool("version", false, "print version and exit")
	showLicense := flag.Bool("license", false, "print license text and exit")
	obsAddr := flag.String("obs-addr", ":9090", "observability HTTP listen address (/healthz, /metrics)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s v%s\n", productName, productVer)
		return 0
	}
	if *showLicense {
		fmt.Println(licenseText)
		return 0
	}
	if *purge {
		dir := cache.DefaultDir()
		n, err := cache.NewPurger(dir).Run()
		if err != nil {
			log.Printf("[main] purge failed: %v", err)
			return 1
		}
		log.Printf("[main] purged %d cache file(s) from %s", n, dir)
		return 0
	}

	*quietLong = *quietLong || *quiet
	*silentLong = *silentLong || *silent
	*noSummation = *noSummation || *noSummationShort
	*interactive = *interactive || *interactiveShort

	configureLogging(*logLevel, *quietLong, *silentLong)

	interactiveMode := *interactive
	if interactiveMode && *commandPort == 0 {
		log.Printf("[main] --interactive requires --command-port")
		return 2
	}
	if !interactiveMode && flag.NArg() == 0 {
		log.Printf("[main] a channel argument is required unless --interactive is given")
		return 2
	}
	if *matrixHostname == "" {
		log.Printf("[main] --matrix-hostname is required")
		return 2
	}

	var startupChannels []string
	if flag.NArg() > 0 {
		startupChannels = flag.Args()
	}

	forbiddenEmoteList := splitNonEmpty(*forbiddenEmotes)
	forbiddenUserList := splitNonEmpty(*forbiddenUsers)

	analyzerCfg := analyzer.Config{
		NoSummation:     *noSummation,
		ForbiddenEmotes: analyzer.MergeForbiddenEmotes(forbiddenEmoteList),
		ForbiddenUsers:  analyzer.ForbiddenUsersSet(forbiddenUserList),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := cache.New(cache.DefaultDir(), 8)
	dc := display.New(*matrixHostname)
	irc := ircclient.New(ircAddrTLS, true)

	ctl := controller.New(controller.Config{
		StartupChannels: startupChannels,
		AnalyzerConfig:  analyzerCfg,
	}, irc, dc, c)

	metrics := obs.NewMetrics()
	obsSrv := obs.NewServer(ctl, metrics)
	go func() {
		if err := obsSrv.Run(ctx, *obsAddr); err != nil {
			log.Printf("[obs] server error: %v", err)
		}
	}()
	go obs.RunStatsLog(ctx, ctl, 30*time.Second)

	var cmdSrv *cmdserver.Server
	if *commandPort != 0 {
		var err error
		cmdSrv, err = cmdserver.Listen(fmt.Sprintf(":%d", *commandPort))
		if err != nil {
			log.Printf("[main] command server: %v", err)
			return 1
		}
		go ctl.RunCommandLoop(ctx, cmdSrv.Requests)
		go func() {
			if err := cmdSrv.Run(ctx); err != nil {
				log.Printf("[cmdserver] %v", err)
			}
		}()
		log.Printf("[main] command interface listening on :%d", *commandPort)
	}

	if !interactiveMode {
		log.Printf("[main] %s", ctl.HandleCommand(ctx, "ON", ""))
	}

	<-ctx.Done()
	stop() // restore default signal handling: a second signal ends the process at once
	log.Printf("[main] shutting down")
	ctl.HandleCommand(context.Background(), "OFF", "")
	return 0
}

func configureLogging(level string, quiet, silent bool) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	if silent {
		lvl = slog.LevelError + 1 // above Error: every slog record is dropped; log.Printf lines are not affected
	} else if quiet && lvl < slog.LevelWarn {
		lvl = slog.LevelWarn
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}

func splitNonEmpty(csv string) []string {
	if csv == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
