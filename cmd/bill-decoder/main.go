package main

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"github.com/shopspring/decimal"

	"github.com/zombor/bill-decoder/internal/decoder"
	"github.com/zombor/bill-decoder/internal/scanning"
	"github.com/zombor/bill-decoder/internal/scoring"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	fs := ff.NewFlagSet("bill-decoder")
	var (
		port           = fs.IntLong("port", 8080, "HTTP server port")
		dbPath         = fs.StringLong("db", "bill-decoder.db", "Audit database file path")
		storagePath    = fs.StringLong("storage", "./uploads", "Directory for kept uploads")
		keepUploads    = fs.BoolLong("keep-uploads", "Keep uploaded bills on disk for audit")
		tempDir        = fs.StringLong("temp-dir", "", "Directory for rendered page images (default: system temp)")
		ocrEngine      = fs.StringLong("ocr", "tesseract", "OCR engine: 'tesseract', 'gemini' or 'ollama'")
		tesseractBin   = fs.StringLong("tesseract", "tesseract", "Tesseract binary name or path")
		tesseractLang  = fs.StringLong("tesseract-lang", "eng", "Tesseract language")
		tessdataDir    = fs.StringLong("tessdata-dir", "", "Tesseract tessdata directory (optional)")
		tesseractPSM   = fs.IntLong("tesseract-psm", 6, "Tesseract page segmentation mode (0 for default)")
		dpi            = fs.IntLong("dpi", scanning.DefaultDPI, "Resolution for rendering scanned PDF pages")
		maxPages       = fs.IntLong("max-pages", scanning.DefaultMaxPages, "Maximum scanned PDF pages to OCR (0 for no limit)")
		geminiKey      = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel    = fs.StringLong("gemini-model", "gemini-2.5-pro", "Google Gemini model name")
		ollamaURL      = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel    = fs.StringLong("ollama-model", "llava", "Ollama vision model name")
		lowRatio       = fs.Float64Long("low-ratio", scoring.DefaultLowRatio, "Billed/reference ratio at or below which a bill is not overcharged")
		highRatio      = fs.Float64Long("high-ratio", scoring.DefaultHighRatio, "Billed/reference ratio above which an overcharge is high")
		coinsurance    = fs.Float64Long("coinsurance", scoring.DefaultCoinsurance, "Coinsurance rate used to estimate what the patient should owe")
		referencePath  = fs.StringLong("reference-table", "", "YAML reference price table (default: built-in table)")
		defaultPrice   = fs.StringLong("default-reference", "", "Override the table's default reference price")
		requestTimeout = fs.DurationLong("request-timeout", decoder.DefaultRequestTimeout, "Time limit for decoding one upload")
		authUser       = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass       = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		logLevel       = fs.StringLong("log-level", "info", "Log level: debug, info, warn or error")
		_              = fs.StringLong("config", "", "Config file (optional)")
		showVersion    = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("BILL_DECODER"),
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		fmt.Fprintf(os.Stderr, "error: invalid log level %q\n", *logLevel)
		os.Exit(1)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	// Scoring configuration
	thresholds, err := scoring.NewThresholds(*lowRatio, *highRatio, *coinsurance)
	if err != nil {
		slog.Error("Invalid scoring thresholds", "error", err)
		os.Exit(1)
	}
	references := scoring.DefaultReferences()
	if *referencePath != "" {
		references, err = scoring.LoadReferences(*referencePath)
		if err != nil {
			slog.Error("Failed to load reference table", "path", *referencePath, "error", err)
			os.Exit(1)
		}
	}
	if *defaultPrice != "" {
		price, err := decimal.NewFromString(*defaultPrice)
		if err != nil || !price.IsPositive() {
			slog.Error("Invalid default reference price", "value", *defaultPrice)
			os.Exit(1)
		}
		references = references.WithDefault(price)
	}
	scorer := scoring.NewScorer(thresholds, references)

	// Initialize database
	slog.Info("Initializing database...")
	db, err := decoder.NewBoltDB(*dbPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// The OCR engine is created once here and shared read-only by all requests
	var recognizer scanning.Recognizer
	switch *ocrEngine {
	case "tesseract":
		slog.Info("Initializing tesseract OCR...", "binary", *tesseractBin, "lang", *tesseractLang)
		recognizer, err = scanning.NewTesseract(scanning.TesseractConfig{
			Binary:      *tesseractBin,
			Language:    *tesseractLang,
			TessdataDir: *tessdataDir,
			PSM:         *tesseractPSM,
		})
	case "gemini":
		apiKey := *geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			slog.Error("Gemini API key is required. Set --gemini-key flag or GEMINI_API_KEY environment variable")
			os.Exit(1)
		}
		slog.Info("Initializing Gemini OCR...", "model", *geminiModel)
		recognizer, err = scanning.NewGemini(apiKey, *geminiModel)
	case "ollama":
		slog.Info("Initializing Ollama OCR...", "url", *ollamaURL, "model", *ollamaModel)
		recognizer, err = scanning.NewOllama(*ollamaURL, *ollamaModel)
	default:
		slog.Error("Invalid OCR engine", "engine", *ocrEngine, "valid", "tesseract, gemini or ollama")
		os.Exit(1)
	}
	if err != nil {
		slog.Error("Failed to initialize OCR engine", "engine", *ocrEngine, "error", err)
		os.Exit(1)
	}
	defer recognizer.Close()

	extractor := scanning.NewExtractor(recognizer, scanning.Config{
		TempDir:  *tempDir,
		DPI:      float64(*dpi),
		MaxPages: *maxPages,
	})

	var store decoder.Storage
	if *keepUploads {
		slog.Info("Initializing storage...", "path", *storagePath)
		local, err := decoder.NewLocalStorage(*storagePath)
		if err != nil {
			slog.Error("Failed to initialize storage", "error", err)
			os.Exit(1)
		}
		store = local
	}

	service := decoder.NewService(db, extractor, scorer, store)

	basicAuth := decoder.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	}
	server := decoder.NewServer(service, basicAuth, *requestTimeout)

	addr := fmt.Sprintf(":%d", *port)
	go func() {
		if err := server.Start(addr); err != nil {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr), "version", version)
	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("Shutting down...")
}
