// Command auctiond runs one sealed-bid auction behind an HTTP API.
//
// The auction definition, store location and oracle mode come from a YAML file. On start the
// daemon loads the auction's snapshot from the store if one exists and resumes it; otherwise it
// creates the auction and escrows the supply.
//
// # Oracle modes
//
// In local mode the decryption oracle runs in-process. In vsock mode reveal requests go to
// cmd/oracle-enclave over vsock; the daemon pins the enclave's signing key at startup and, when
// oracle.pcrs_path is set, refuses to start unless the key attestation validates.
//
// # Usage
//
//	go run ./cmd/auctiond --config auctiond.yaml
package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cloudx-io/sealedauction/api"
	"github.com/cloudx-io/sealedauction/auction"
	"github.com/cloudx-io/sealedauction/auctionapi"
	"github.com/cloudx-io/sealedauction/config"
	"github.com/cloudx-io/sealedauction/fhe"
	"github.com/cloudx-io/sealedauction/ledger"
	"github.com/cloudx-io/sealedauction/oracle"
	"github.com/cloudx-io/sealedauction/store"
	"github.com/cloudx-io/sealedauction/validation"
)

func main() {
	configPath := flag.String("config", "auctiond.yaml", "Path to the YAML configuration")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		os.Exit(1)
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		os.Exit(1)
	}
	logger.SetLevel(level)

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Fatal("auctiond stopped")
	}
}

func run(cfg *config.Config, logger *logrus.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := store.Open(store.Config{Path: cfg.Store.Path, InMemory: cfg.Store.InMemory, Logger: logger})
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.WithError(err).Error("Failed to close store")
		}
	}()

	masterKey, err := decodeMasterKey(cfg.Oracle.MasterKeyHex)
	if err != nil {
		return err
	}
	backend, err := fhe.NewSealedBackend(fhe.SealedConfig{MasterKey: masterKey, Logger: logger})
	if err != nil {
		return err
	}

	orc, verifier, err := buildOracle(ctx, cfg, backend, logger)
	if err != nil {
		return err
	}

	assetToken := ledger.NewMemoryToken(cfg.Auction.AssetSymbol, cfg.Auction.AssetDecimals)
	paymentToken := ledger.NewMemoryToken(cfg.Auction.PaymentSymbol, cfg.Auction.PaymentDecimals)
	var rail ledger.Rail = ledger.NewTokenRail(paymentToken, cfg.Auction.Account)
	if cfg.Auction.Rail == string(ledger.RailNative) {
		rail = ledger.NewNativeRail(paymentToken, cfg.Auction.Account)
	}

	auctionConfig := auction.Config{
		ID:              cfg.Auction.ID,
		Owner:           cfg.Auction.Owner,
		Asset:           assetToken,
		Rail:            rail,
		Quantity:        cfg.Auction.Quantity,
		OpeningTime:     cfg.Auction.OpeningTime,
		ClosingTime:     cfg.Auction.ClosingTime,
		MaxParticipants: cfg.Auction.MaxParticipants,
		RevealTimeout:   cfg.Auction.RevealTimeout,
		Evaluator:       backend,
		Oracle:          orc,
		Verifier:        verifier,
		Events:          db,
		Store:           db,
		Logger:          logger,
	}

	a, err := openAuction(ctx, db, auctionConfig, cfg, assetToken, paymentToken, logger)
	if err != nil {
		return err
	}

	inputKey, err := backend.InputPublicKeyPEM()
	if err != nil {
		return err
	}
	server := api.NewServer(api.ServerConfig{
		Auction:     a,
		InputKeyPEM: inputKey,
		Events:      db,
		Logger:      logger,
	})

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      server.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithFields(logrus.Fields{"addr": cfg.HTTPAddr, "auction": a.ID()}).Info("HTTP API listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.WithField("signal", sig.String()).Info("Shutting down")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("HTTP shutdown failed")
	}
	if svc, ok := orc.(*oracle.Service); ok {
		svc.Stop()
	}
	if remote, ok := orc.(*oracle.RemoteOracle); ok {
		remote.Wait()
	}
	return nil
}

func decodeMasterKey(keyHex string) ([]byte, error) {
	if keyHex == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid oracle.master_key_hex: %w", err)
	}
	return key, nil
}

// buildOracle returns the oracle named by the configuration and a verifier for its callbacks.
func buildOracle(ctx context.Context, cfg *config.Config, backend *fhe.SealedBackend, logger *logrus.Logger) (oracle.Oracle, auction.CallbackVerifier, error) {
	switch cfg.Oracle.Mode {
	case config.OracleVsock:
		remote := oracle.NewRemoteOracle(oracle.VsockDialer(cfg.Oracle.CID, cfg.Oracle.Port), logger)

		keyCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		keys, err := remote.Keys(keyCtx)
		if err != nil {
			return nil, nil, fmt.Errorf("fetch oracle keys: %w", err)
		}

		if cfg.Oracle.PCRsPath != "" {
			if err := checkAttestation(keys, cfg.Oracle.PCRsPath, logger); err != nil {
				return nil, nil, err
			}
		} else {
			logger.Warn("oracle.pcrs_path not set; trusting the enclave signing key without attestation")
		}

		verifier, err := validation.NewRevealVerifierFromPEM(keys.PublicKey)
		if err != nil {
			return nil, nil, err
		}
		logger.WithFields(logrus.Fields{"cid": cfg.Oracle.CID, "port": cfg.Oracle.Port}).Info("Using enclave oracle")
		return remote, verifier, nil

	default:
		signer, err := oracle.NewSigner()
		if err != nil {
			return nil, nil, err
		}
		svc, err := oracle.NewService(oracle.ServiceConfig{
			Decryptor: backend,
			Signer:    signer,
			Workers:   cfg.Oracle.Workers,
			Logger:    logger,
		})
		if err != nil {
			return nil, nil, err
		}
		svc.Start(ctx)

		verifier, err := validation.NewRevealVerifier(signer.PublicKey())
		if err != nil {
			return nil, nil, err
		}
		logger.WithField("workers", cfg.Oracle.Workers).Info("Using in-process oracle")
		return svc, verifier, nil
	}
}

func checkAttestation(keys *auctionapi.OracleKeyResponse, pcrsPath string, logger *logrus.Logger) error {
	if keys.AttestationCOSEBase64 == "" {
		return fmt.Errorf("enclave returned no key attestation")
	}
	knownPCRs, err := validation.LoadPCRsFromFile(pcrsPath)
	if err != nil {
		return err
	}

	result, err := validation.ValidateOracleKeyAttestation(keys.AttestationCOSEBase64, keys.PublicKey, keys.InputPublicKey, knownPCRs)
	if err != nil {
		return fmt.Errorf("validate oracle key attestation: %w", err)
	}
	for _, detail := range result.ValidationDetails {
		logger.WithField("check", "oracle_key_attestation").Info(detail)
	}
	if !result.IsValid() {
		return fmt.Errorf("oracle key attestation failed validation")
	}
	return nil
}

// openAuction resumes the configured auction from its snapshot, or creates it.
func openAuction(ctx context.Context, db *store.Store, auctionConfig auction.Config, cfg *config.Config,
	assetToken, paymentToken *ledger.MemoryToken, logger *logrus.Logger) (*auction.Auction, error) {

	if auctionConfig.ID != "" {
		snap, err := db.Load(ctx, auctionConfig.ID)
		switch {
		case err == nil:
			if err := reseedAccount(snap, cfg, assetToken, paymentToken); err != nil {
				return nil, err
			}
			return auction.Restore(auctionConfig, snap)
		case !errors.Is(err, store.ErrNotFound):
			return nil, err
		}
	}

	if err := seedGenesis(ctx, cfg, assetToken, paymentToken); err != nil {
		return nil, err
	}
	a, err := auction.New(ctx, auctionConfig)
	if err != nil {
		return nil, err
	}
	logger.WithFields(logrus.Fields{"auction": a.ID(), "quantity": cfg.Auction.Quantity}).Info("Auction created")
	return a, nil
}

// seedGenesis mints the supply to the owner and the configured balances to participants, all
// approved to the auction account.
func seedGenesis(ctx context.Context, cfg *config.Config, assetToken, paymentToken *ledger.MemoryToken) error {
	account := cfg.Auction.Account
	if err := assetToken.Mint(cfg.Auction.Owner, cfg.Auction.Quantity); err != nil {
		return err
	}
	if err := assetToken.Approve(ctx, cfg.Auction.Owner, account, cfg.Auction.Quantity); err != nil {
		return err
	}

	for participant, amount := range cfg.Ledger.Balances {
		if err := paymentToken.Mint(participant, amount); err != nil {
			return fmt.Errorf("seed %s: %w", participant, err)
		}
		if err := paymentToken.Approve(ctx, participant, account, amount); err != nil {
			return fmt.Errorf("seed %s: %w", participant, err)
		}
	}
	return nil
}

// reseedAccount restores what the auction account held when the snapshot was taken. The
// in-memory ledgers do not survive a restart; participant balances outside the auction are
// not recovered.
func reseedAccount(snap *auction.Snapshot, cfg *config.Config, assetToken, paymentToken *ledger.MemoryToken) error {
	account := cfg.Auction.Account
	p := snap.Progress

	assets := snap.Escrowed - p.AssetsDistributed - p.UnsoldReturned
	paid := p.Refunded
	if p.OwnerPaid {
		paid += p.Proceeds
	}
	payments := snap.Total - paid

	if err := assetToken.Mint(account, assets); err != nil {
		return err
	}
	return paymentToken.Mint(account, payments)
}
