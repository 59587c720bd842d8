package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"aprvault/config"
	"aprvault/crypto"
	"aprvault/custody"
	"aprvault/native/staking"
	"aprvault/native/tickets"
	"aprvault/native/treasury"
	"aprvault/observability"
	"aprvault/observability/logging"
	"aprvault/program"
	"aprvault/storage"
	"aprvault/storage/records"
)

const envVar = "APRVAULT_ENV"

var genesisMarkerKey = []byte("genesis/applied")

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv(envVar))

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	logger := logging.Setup("aprd", env, logging.FileConfig{
		Path:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
	})

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer db.Close()

	programAddr, err := resolveProgramAddress(cfg.ProgramAddress)
	if err != nil {
		logger.Error("Failed to resolve program address", slog.Any("error", err))
		os.Exit(1)
	}

	ledger := custody.NewLedger(db)
	if err := applyGenesis(db, ledger, cfg.NativeBalances); err != nil {
		logger.Error("Failed to apply genesis balances", slog.Any("error", err))
		os.Exit(1)
	}

	store := records.NewStore(db, records.FundingPolicy{
		Base:    cfg.Policy.FundingBase,
		PerByte: cfg.Policy.FundingPerByte,
	})
	emitter := observability.NewRelay(logger, nil)

	treasuryEngine := treasury.NewEngine(cfg.Policy, programAddr)
	treasuryEngine.SetStore(store)
	treasuryEngine.SetCustody(ledger)
	treasuryEngine.SetFunding(ledger)
	treasuryEngine.SetEmitter(emitter)

	stakingEngine := staking.NewEngine(cfg.Policy, programAddr)
	stakingEngine.SetStore(store)
	stakingEngine.SetTokens(treasuryEngine)
	stakingEngine.SetFunding(ledger)
	stakingEngine.SetEmitter(emitter)

	ticketEngine := tickets.NewEngine(cfg.Policy, programAddr)
	ticketEngine.SetStore(store)
	ticketEngine.SetTokens(treasuryEngine)
	ticketEngine.SetFunding(ledger)
	ticketEngine.SetEmitter(emitter)

	processor := program.NewProcessor(treasuryEngine, stakingEngine, ticketEngine, logger)

	metricsSrv := &http.Server{
		Addr:              cfg.MetricsAddress,
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server stopped", slog.Any("error", err))
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	mux.Handle("/v1/instructions", instructionHandler(processor, treasuryEngine, ledger, logger))

	srv := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("Instruction intake listening", slog.String("address", cfg.ListenAddress))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Intake server stopped", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	authority, bump, err := treasuryEngine.Authority()
	if err != nil {
		logger.Error("Failed to derive treasury authority", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("Daemon started",
		slog.String("program", programAddr.String()),
		slog.String("treasuryAuthority", authority.String()),
		slog.Int("authorityBump", int(bump)))

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Intake shutdown failed", slog.Any("error", err))
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Metrics shutdown failed", slog.Any("error", err))
	}
	logger.Info("Daemon stopped")
}

// resolveProgramAddress decodes the configured program identity, or derives a
// deterministic default when none is configured.
func resolveProgramAddress(configured string) (crypto.Address, error) {
	if trimmed := strings.TrimSpace(configured); trimmed != "" {
		return crypto.DecodeAddress(trimmed)
	}
	digest := ethcrypto.Keccak256([]byte("aprvault/program/v1"))
	return crypto.NewAddress(crypto.APRPrefix, digest[12:]), nil
}

// applyGenesis credits the configured native balances exactly once, the first
// time the daemon runs against an empty database.
func applyGenesis(db storage.Database, ledger *custody.Ledger, balances map[string]uint64) error {
	applied, err := db.Has(genesisMarkerKey)
	if err != nil {
		return err
	}
	if applied {
		return nil
	}
	for encoded, amount := range balances {
		addr, err := crypto.DecodeAddress(encoded)
		if err != nil {
			return fmt.Errorf("genesis balance for %q: %w", encoded, err)
		}
		if err := ledger.Credit(addr, amount); err != nil {
			return err
		}
	}
	return db.Put(genesisMarkerKey, []byte{1})
}

type instructionRequest struct {
	Accounts []string `json:"accounts"`
	Data     string   `json:"data"`
}

type instructionResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// instructionHandler decodes an instruction submission and runs it through
// the processor. After each successful call the supply gauge is refreshed
// from custody.
func instructionHandler(proc *program.Processor, tre *treasury.Engine, ledger *custody.Ledger, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var req instructionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeResponse(w, http.StatusBadRequest, instructionResponse{Status: "error", Error: "malformed request body"})
			return
		}
		accounts := make([]crypto.Address, 0, len(req.Accounts))
		for _, encoded := range req.Accounts {
			addr, err := crypto.DecodeAddress(encoded)
			if err != nil {
				writeResponse(w, http.StatusBadRequest, instructionResponse{Status: "error", Error: fmt.Sprintf("account %q: %v", encoded, err)})
				return
			}
			accounts = append(accounts, addr)
		}
		data, err := hex.DecodeString(strings.TrimPrefix(req.Data, "0x"))
		if err != nil {
			writeResponse(w, http.StatusBadRequest, instructionResponse{Status: "error", Error: "instruction data is not hex"})
			return
		}

		if err := proc.Execute(accounts, data); err != nil {
			writeResponse(w, http.StatusUnprocessableEntity, instructionResponse{Status: "error", Error: err.Error()})
			return
		}
		refreshSupply(tre, ledger, logger)
		writeResponse(w, http.StatusOK, instructionResponse{Status: "ok"})
	})
}

func refreshSupply(tre *treasury.Engine, ledger *custody.Ledger, logger *slog.Logger) {
	mintAddr, _, err := tre.MintAddress()
	if err != nil {
		return
	}
	info, ok, err := ledger.Mint(mintAddr)
	if err != nil {
		logger.Warn("Supply refresh failed", slog.Any("error", err))
		return
	}
	if ok {
		observability.Program().SetSupply(info.Supply)
	}
}

func writeResponse(w http.ResponseWriter, status int, body instructionResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
