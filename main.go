package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"notary/commands"
	"notary/config"
	"notary/principal"

	log "github.com/sirupsen/logrus"
)

func setLogLevel(level string) {
	l, err := log.ParseLevel(level)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	log.SetLevel(l)
}

func registerGlobalFlags(fset *flag.FlagSet) {
	flag.VisitAll(func(f *flag.Flag) {
		fset.Var(f.Value, f.Name, f.Usage)
	})
}

func checkConfig(cfg string) {
	if cfg == "" {
		log.Fatal("Config file not specified")
	}
}

func loadConfig(file string) *config.Config {
	checkConfig(file)
	cfg, err := config.NewConfigFromFile(file)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func needArg(fset *flag.FlagSet, what string) string {
	if fset.NArg() < 1 {
		log.Fatalf("%s: expected %s", fset.Name(), what)
	}
	return fset.Arg(0)
}

// main is the entry point of the application.
func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	configFile := flag.String("config", "", "Path to config file (.json, .yaml or .yml)")
	logLevel := flag.String("loglevel", "info", "Log level")
	callerName := flag.String("caller", "", "Principal to call the node as; empty is anonymous")

	initCmd := flag.NewFlagSet("init", flag.ExitOnError)
	registerGlobalFlags(initCmd)

	serveCmd := flag.NewFlagSet("serve", flag.ExitOnError)
	registerGlobalFlags(serveCmd)

	mirrorCmd := flag.NewFlagSet("mirror", flag.ExitOnError)
	registerGlobalFlags(mirrorCmd)

	uploadCmd := flag.NewFlagSet("upload", flag.ExitOnError)
	uploadPrefix := uploadCmd.String("prefix", "", "Key prefix for the uploaded files")
	registerGlobalFlags(uploadCmd)

	notarizeCmd := flag.NewFlagSet("notarize", flag.ExitOnError)
	notarizeHash := notarizeCmd.Bool("hash-only", false, "Send only the SHA-256 of the file")
	notarizeDesc := notarizeCmd.String("description", "", "Record description")
	notarizeHidden := notarizeCmd.Bool("hidden", false, "Hide the record from other principals")
	registerGlobalFlags(notarizeCmd)

	claimCmd := flag.NewFlagSet("claim", flag.ExitOnError)
	claimCanister := claimCmd.String("canister", "", "Canister the link resolves to")
	claimDesc := claimCmd.String("description", "", "Record description")
	claimHidden := claimCmd.Bool("hidden", false, "Hide the link from other principals")
	registerGlobalFlags(claimCmd)

	searchCmd := flag.NewFlagSet("search", flag.ExitOnError)
	registerGlobalFlags(searchCmd)

	authorizeCmd := flag.NewFlagSet("authorize", flag.ExitOnError)
	authorizeRole := authorizeCmd.String("role", "writer", "Role to grant: writer or admin")
	authorizeRevoke := authorizeCmd.Bool("revoke", false, "Remove the principal's grant instead")
	registerGlobalFlags(authorizeCmd)

	infoCmd := flag.NewFlagSet("info", flag.ExitOnError)
	registerGlobalFlags(infoCmd)

	if len(os.Args) < 2 {
		log.WithField("args", os.Args).Fatal("Expected a subcommand")
	}
	cmd, args := os.Args[1], os.Args[2:]
	caller := func() principal.Principal { return principal.Principal(*callerName) }

	switch cmd {
	case "init":
		initCmd.Parse(args)
		checkConfig(*configFile)
		setLogLevel(*logLevel)
		commands.RunInit(ctx, config.NewEmptyConfig(*configFile))
	case "serve":
		serveCmd.Parse(args)
		setLogLevel(*logLevel)
		commands.RunServe(ctx, loadConfig(*configFile))
	case "mirror":
		mirrorCmd.Parse(args)
		setLogLevel(*logLevel)
		commands.RunMirror(ctx, loadConfig(*configFile))
	case "upload":
		uploadCmd.Parse(args)
		setLogLevel(*logLevel)
		dir := needArg(uploadCmd, "a directory")
		commands.RunUpload(ctx, loadConfig(*configFile), caller(), dir, *uploadPrefix)
	case "notarize":
		notarizeCmd.Parse(args)
		setLogLevel(*logLevel)
		file := needArg(notarizeCmd, "a file")
		commands.RunNotarize(ctx, loadConfig(*configFile), caller(), file, *notarizeHash, *notarizeDesc, *notarizeHidden)
	case "claim":
		claimCmd.Parse(args)
		setLogLevel(*logLevel)
		link := needArg(claimCmd, "a link")
		commands.RunClaim(ctx, loadConfig(*configFile), caller(), link, *claimCanister, *claimDesc, *claimHidden)
	case "search":
		searchCmd.Parse(args)
		setLogLevel(*logLevel)
		term := needArg(searchCmd, "a search term")
		commands.RunSearch(ctx, loadConfig(*configFile), caller(), term)
	case "authorize":
		authorizeCmd.Parse(args)
		setLogLevel(*logLevel)
		p := needArg(authorizeCmd, "a principal")
		commands.RunAuthorize(ctx, loadConfig(*configFile), caller(), principal.Principal(p), *authorizeRole, *authorizeRevoke)
	case "info":
		infoCmd.Parse(args)
		setLogLevel(*logLevel)
		commands.RunInfo(ctx, loadConfig(*configFile), caller())
	default:
		log.Fatalf("Invalid subcommand '%s'", os.Args[1])
	}
}
