// Command oracle-enclave runs the decryption oracle inside a Nitro enclave.
//
// It listens on vsock for reveal and key requests from auctiond. The sealing master key is
// read from ORACLE_MASTER_KEY_HEX and the worker pool size from ORACLE_MAX_WORKERS. When the
// NSM is available, key responses carry an attestation committing to the callback signing key.
package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/mdlayher/vsock"
	"github.com/sirupsen/logrus"

	"github.com/cloudx-io/sealedauction/config"
	"github.com/cloudx-io/sealedauction/fhe"
	"github.com/cloudx-io/sealedauction/oracle"
)

const (
	defaultPort  = 5000
	masterKeyEnv = "ORACLE_MASTER_KEY_HEX"
	portEnv      = "ORACLE_PORT"
)

// grantedDecryptor opens any handle sealed under the shared master key for whichever principal
// a request names: it grants access itself and skips the ACL. The enclave trusts every peer
// that can reach its vsock port, so only the parent instance running auctiond may be able to;
// decrypt grants are enforced by the auction that issues the requests.
type grantedDecryptor struct {
	backend *fhe.SealedBackend
}

func (d grantedDecryptor) IsAllowed(fhe.Handle, string) bool { return true }

func (d grantedDecryptor) Decrypt(h fhe.Handle, principal string) (uint64, error) {
	if err := d.backend.Allow(h, principal); err != nil {
		return 0, err
	}
	return d.backend.Decrypt(h, principal)
}

func getRequiredEnvInt(logger *logrus.Logger, key string) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return 0, fmt.Errorf("required environment variable %s is not set", key)
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %s (must be a valid integer)", key, value)
	}

	logger.WithField(key, intValue).Info("Using value from environment")
	return intValue, nil
}

func run(logger *logrus.Logger) error {
	maxWorkers, err := getRequiredEnvInt(logger, config.WorkersEnv)
	if err != nil {
		return fmt.Errorf("failed to get max workers config: %w", err)
	}

	port := defaultPort
	if os.Getenv(portEnv) != "" {
		if port, err = getRequiredEnvInt(logger, portEnv); err != nil {
			return err
		}
	}

	masterKey, err := hex.DecodeString(os.Getenv(masterKeyEnv))
	if err != nil || len(masterKey) == 0 {
		return fmt.Errorf("%s must hold the hex sealing key", masterKeyEnv)
	}

	backend, err := fhe.NewSealedBackend(fhe.SealedConfig{MasterKey: masterKey, Logger: logger})
	if err != nil {
		return err
	}
	signer, err := oracle.NewSigner()
	if err != nil {
		return err
	}
	keyID := signer.KeyID()

	svc, err := oracle.NewService(oracle.ServiceConfig{
		Decryptor: grantedDecryptor{backend: backend},
		Signer:    signer,
		Workers:   maxWorkers,
		Manual:    true,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	attester, err := oracle.NitroAttester()
	if err != nil {
		logger.WithError(err).Warn("NSM unavailable, key responses will not be attested")
	}

	server, err := oracle.NewServer(oracle.ServerConfig{
		Service:    svc,
		Attester:   attester,
		MaxWorkers: maxWorkers,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	listener, err := vsock.Listen(uint32(port), nil)
	if err != nil {
		return fmt.Errorf("failed to create vsock listener: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.WithFields(logrus.Fields{"port": port, "key_id": keyID}).Info("Oracle listening on vsock")
	return server.Serve(ctx, listener)
}

func main() {
	logger := logrus.New()
	if err := run(logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.WithError(err).Fatal("oracle-enclave stopped")
	}
}
