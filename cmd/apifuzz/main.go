package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	apierrors "github.com/PentesterFlow/APIFuzz/internal/errors"
	"github.com/PentesterFlow/APIFuzz/internal/shutdown"
	"github.com/PentesterFlow/APIFuzz/pkg/apifuzz"
)

var (
	version = "2.0.0"

	// Global flags
	configFile string
	verbose    bool
	debug      bool
	stateDB    string

	// Run flags
	target        string
	docFile       string
	proxy         string
	threads       int
	delay         float64
	timeout       int
	headers       []string
	typeCatalog   string
	format        string
	outPath       string
	rateLimit     float64
	rateBurst     int
	maxProperties int
	seed          uint64
	metricsAddr   string
	stream        bool
	quiet         bool
	noColor       bool
	noProgress    bool
	noDualNS      bool
	discovery     []string

	// Auth flags
	authType     string
	authToken    string
	username     string
	password     string
	apiKeyHeader string
	apiKey       string
	cookies      string

	// Detect flags
	detectJSON bool

	// Runs flags
	runsJSON bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "apifuzz",
		Short: "APIFuzz - API surface prober",
		Long: `APIFuzz - Sends one well-formed request to every operation of an API.

Reads OpenAPI 3, Swagger 2, WSDL and ASP.NET ASMX service descriptions,
synthesizes plausible parameter values and bodies, and reports how each
operation answered.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			initEnv()
			return viper.BindPFlags(cmd.Flags())
		},
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Probe every operation of an API document",
		RunE:  runFuzz,
	}

	detectCmd := &cobra.Command{
		Use:   "detect",
		Short: "Identify an API document without probing it",
		RunE:  runDetect,
	}

	runsCmd := &cobra.Command{
		Use:   "runs",
		Short: "List stored runs",
		RunE:  runList,
	}

	exportCmd := &cobra.Command{
		Use:   "export RUN_ID",
		Short: "Write the report of a stored run",
		Args:  cobra.ExactArgs(1),
		RunE:  runExport,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Configuration file (YAML or JSON)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Debug mode")
	rootCmd.PersistentFlags().StringVar(&stateDB, "state-db", "", "Run database (bbolt file, or a directory for one file per run)")

	// Target flags, shared by run and detect
	for _, cmd := range []*cobra.Command{runCmd, detectCmd} {
		cmd.Flags().StringVarP(&target, "url", "u", "", "Document URL, or API base URL when --file names the document")
		cmd.Flags().StringVarP(&docFile, "file", "f", "", "Document file: a local path, or a path relative to the target host")
		cmd.Flags().StringVarP(&proxy, "proxy", "p", "", "Proxy for all traffic (no value: "+apifuzz.DefaultProxy+")")
		cmd.Flags().Lookup("proxy").NoOptDefVal = apifuzz.DefaultProxy
		cmd.Flags().IntVar(&timeout, "timeout", 30, "Request timeout in seconds")
		cmd.Flags().StringArrayVar(&headers, "header", nil, `Extra header "Name: value" (repeatable)`)
		cmd.Flags().StringVar(&typeCatalog, "type", "", "Type catalog path or URL")
		cmd.Flags().StringSliceVar(&discovery, "asmx-discovery", nil, "ASMX operation discovery methods in order")

		cmd.Flags().StringVar(&authType, "auth-type", "none", "Authentication type (none, bearer, basic, apikey, cookie)")
		cmd.Flags().StringVar(&authToken, "token", "", "Bearer token or JWT")
		cmd.Flags().StringVar(&username, "username", "", "Username for basic authentication")
		cmd.Flags().StringVar(&password, "password", "", "Password for basic authentication")
		cmd.Flags().StringVar(&apiKeyHeader, "api-key-header", "X-API-Key", "API key header name")
		cmd.Flags().StringVar(&apiKey, "api-key", "", "API key value")
		cmd.Flags().StringVar(&cookies, "cookies", "", `Session cookies "name=value; name2=value2"`)
	}
	detectCmd.Flags().BoolVar(&detectJSON, "json", false, "Print JSON")

	// Run flags
	runCmd.Flags().IntVarP(&threads, "threads", "t", 1, "Number of concurrent workers")
	runCmd.Flags().Float64VarP(&delay, "delay", "d", 0.1, "Seconds each worker waits before a request, 0.1s unless set; 0 disables pacing")
	runCmd.Flags().StringVarP(&format, "output", "o", "csv", "Report format (csv, json)")
	runCmd.Flags().StringVar(&outPath, "out", "", "Report file (default: timestamped name)")
	runCmd.Flags().Float64Var(&rateLimit, "rate", 0, "Aggregate requests per second (0: unlimited)")
	runCmd.Flags().IntVar(&rateBurst, "burst", 1, "Rate limiter burst")
	runCmd.Flags().IntVar(&maxProperties, "max-properties", 0, "Properties per generated object (0: all)")
	runCmd.Flags().Uint64Var(&seed, "seed", 0, "Seed for value selection (0: random)")
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Expose Prometheus metrics on this address")
	runCmd.Flags().BoolVar(&stream, "stream", false, "Write records as they complete")
	runCmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "No live result lines or summary")
	runCmd.Flags().BoolVar(&noColor, "no-color", false, "Disable colors")
	runCmd.Flags().BoolVar(&noProgress, "no-progress", false, "Disable progress bar")
	runCmd.Flags().BoolVar(&noDualNS, "no-dual-namespace", false, "Send one ASMX request even when namespaces differ")

	// Runs flags
	runsCmd.Flags().BoolVar(&runsJSON, "json", false, "Print JSON")

	// Export flags
	exportCmd.Flags().StringVarP(&format, "output", "o", "csv", "Report format (csv, json)")
	exportCmd.Flags().StringVar(&outPath, "out", "", "Report file (default: timestamped name)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(detectCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(exportCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// initEnv lets every flag be set as APIFUZZ_<FLAG>, e.g. APIFUZZ_STATE_DB.
func initEnv() {
	viper.SetEnvPrefix("APIFUZZ")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// buildConfig layers the config file, APIFUZZ_* variables and flags, later
// sources winning.
func buildConfig() (*apifuzz.Config, error) {
	config := apifuzz.DefaultConfig()
	if path := viper.GetString("config"); path != "" {
		fileConfig, err := apifuzz.LoadFromFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
		config = fileConfig
	}

	if viper.IsSet("url") {
		config.Target = viper.GetString("url")
	}
	if viper.IsSet("file") {
		config.File = viper.GetString("file")
	}
	if viper.IsSet("proxy") {
		config.Proxy = viper.GetString("proxy")
	}
	if viper.IsSet("threads") {
		config.Threads = viper.GetInt("threads")
	}
	if viper.IsSet("delay") {
		config.Delay = time.Duration(viper.GetFloat64("delay") * float64(time.Second))
	}
	if viper.IsSet("timeout") {
		config.Timeout = time.Duration(viper.GetInt("timeout")) * time.Second
	}
	if viper.IsSet("type") {
		config.TypeCatalog = viper.GetString("type")
	}
	if viper.IsSet("output") {
		config.Output.Format = strings.ToLower(viper.GetString("output"))
	}
	if viper.IsSet("out") {
		config.Output.Path = viper.GetString("out")
	}
	if viper.IsSet("rate") {
		config.RateLimit.RequestsPerSecond = viper.GetFloat64("rate")
	}
	if viper.IsSet("burst") {
		config.RateLimit.Burst = viper.GetInt("burst")
	}
	if viper.IsSet("max-properties") {
		config.MaxProperties = viper.GetInt("max-properties")
	}
	if viper.IsSet("seed") {
		config.Seed = viper.GetUint64("seed")
	}
	if viper.IsSet("metrics-addr") {
		config.MetricsAddr = viper.GetString("metrics-addr")
	}
	if viper.IsSet("state-db") {
		config.State.Path = viper.GetString("state-db")
	}
	if len(discovery) > 0 {
		config.SOAP.Discovery = discovery
	}
	if viper.IsSet("auth-type") {
		config.Auth.Type = viper.GetString("auth-type")
	}
	for key, dst := range map[string]*string{
		"token":          &config.Auth.Token,
		"username":       &config.Auth.Username,
		"password":       &config.Auth.Password,
		"api-key-header": &config.Auth.APIKeyHeader,
		"api-key":        &config.Auth.APIKey,
		"cookies":        &config.Auth.Cookies,
	} {
		if viper.IsSet(key) {
			*dst = viper.GetString(key)
		}
	}
	for k, v := range apifuzz.ParseHeaders(headers) {
		config.SetHeader(k, v)
	}

	config.Output.Stream = config.Output.Stream || viper.GetBool("stream")
	config.Output.Quiet = config.Output.Quiet || viper.GetBool("quiet")
	config.Output.NoColor = config.Output.NoColor || viper.GetBool("no-color")
	if viper.GetBool("no-dual-namespace") {
		config.SOAP.DualNamespace = false
	}
	config.Verbose = config.Verbose || viper.GetBool("verbose")
	config.Debug = config.Debug || viper.GetBool("debug")
	config.Progress = config.Progress && !viper.GetBool("no-progress") && !config.Verbose && !config.Debug

	return config, nil
}

func runFuzz(cmd *cobra.Command, args []string) error {
	config, err := buildConfig()
	if err != nil {
		return err
	}
	if config.Output.NoColor {
		color.NoColor = true
	}

	f, err := apifuzz.New(apifuzz.WithConfig(config))
	if err != nil {
		return fmt.Errorf("failed to create fuzzer: %w", err)
	}

	sh := shutdown.New(context.Background(), shutdown.Config{
		OnSignal: func(sig os.Signal) {
			fmt.Fprintf(os.Stderr, "\nReceived %v, finishing in-flight requests (press again to force)...\n", sig)
		},
		OnForce: func(os.Signal) {
			fmt.Fprintln(os.Stderr, "\nForced exit")
			os.Exit(130)
		},
	})
	sh.RegisterCloser("fuzzer", f)
	defer sh.Shutdown()

	if !config.Output.Quiet {
		printBanner(config)
	}

	run, err := f.Run(sh.Context())
	if err != nil && apierrors.KindOf(err) != apierrors.Cancelled {
		return fmt.Errorf("run failed: %w", err)
	}

	if run != nil {
		fmt.Fprintf(os.Stderr, "\nRun %s: %d records, saved to %s\n", run.ID, len(run.Results), run.ReportPath)
	}
	if sh.Interrupted() {
		sh.Shutdown()
		os.Exit(130)
	}
	return nil
}

func runDetect(cmd *cobra.Command, args []string) error {
	config, err := buildConfig()
	if err != nil {
		return err
	}
	config.Progress = false
	config.Output.Quiet = true

	f, err := apifuzz.New(apifuzz.WithConfig(config))
	if err != nil {
		return fmt.Errorf("failed to create fuzzer: %w", err)
	}
	defer f.Close()

	res, err := f.Detect(cmd.Context())
	if err != nil {
		return err
	}

	if detectJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	fmt.Printf("Dialect:       %s\n", res.Dialect)
	fmt.Printf("Title:         %s\n", res.Info.Title)
	fmt.Printf("API Version:   %s\n", res.Info.APIVersion)
	fmt.Printf("Spec Version:  %s\n", res.Info.SpecVersion)
	fmt.Printf("Endpoints:     %d\n", res.Endpoints)
	if res.Target.BaseURL != "" {
		fmt.Printf("Base URL:      %s\n", res.Target.BaseURL)
	}
	if len(res.Lint.Warnings) > 0 {
		fmt.Println()
		fmt.Println("Lint warnings:")
		for _, w := range res.Lint.Warnings {
			fmt.Printf("  - %s\n", w)
		}
	}
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	m, err := apifuzz.OpenManager(viper.GetString("state-db"))
	if err != nil {
		return err
	}
	defer m.Close()

	list, err := m.Store().List()
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}

	if runsJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(list)
	}

	if len(list) == 0 {
		fmt.Println("No runs stored")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTARTED\tDIALECT\tENDPOINTS\tRECORDS\t2XX\t5XX\tERRORS\tTARGET")
	for _, rs := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%d\t%s\n",
			shortID(rs.ID), rs.StartedAt.Local().Format("2006-01-02 15:04"), rs.Dialect,
			rs.Endpoints, rs.Stats.Total, rs.Stats.Success, rs.Stats.ServerError, rs.Stats.Failed, rs.Target)
	}
	return w.Flush()
}

func runExport(cmd *cobra.Command, args []string) error {
	m, err := apifuzz.OpenManager(viper.GetString("state-db"))
	if err != nil {
		return err
	}
	defer m.Close()

	out := apifuzz.OutputConfig{
		Format: strings.ToLower(viper.GetString("output")),
		Path:   viper.GetString("out"),
		Pretty: true,
	}
	path, err := apifuzz.Export(m, args[0], out)
	if err != nil {
		return err
	}
	fmt.Printf("Run %s exported to %s\n", args[0], path)
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func printBanner(config *apifuzz.Config) {
	fmt.Println()
	fmt.Println("╔══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                         APIFuzz v2.0                         ║")
	fmt.Println("╚══════════════════════════════════════════════════════════════╝")
	fmt.Println()
	if config.Target != "" {
		fmt.Printf("Target:     %s\n", config.Target)
	}
	if config.File != "" {
		fmt.Printf("Document:   %s\n", config.File)
	}
	fmt.Printf("Threads:    %d\n", config.Threads)
	fmt.Printf("Delay:      %v\n", config.Delay)
	if config.Proxy != "" {
		fmt.Printf("Proxy:      %s\n", config.Proxy)
	}
	if config.RateLimit.RequestsPerSecond > 0 {
		fmt.Printf("Rate Limit: %.0f req/s\n", config.RateLimit.RequestsPerSecond)
	}
	fmt.Println()
}
