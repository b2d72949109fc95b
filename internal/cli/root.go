// Package cli wires the biovault command tree: open the store, unlock the
// vault, assemble the security chain, and expose relay, audit and query
// operations.
package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/user"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tobiasvik/biovault/internal/config"
	"github.com/tobiasvik/biovault/internal/crypto"
	"github.com/tobiasvik/biovault/internal/log"
	"github.com/tobiasvik/biovault/internal/secure"
	"github.com/tobiasvik/biovault/internal/store"
	"github.com/tobiasvik/biovault/internal/vault"
)

const envPassphrase = "BIOVAULT_PASSPHRASE"

type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func NewRootCommand(out io.Writer, build BuildInfo) *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "biovault",
		Short:         "Encrypted biometric event vault",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to TOML config file")

	cmd.AddCommand(newVersionCommand(out, build))
	cmd.AddCommand(newRelayCommand(out, &configPath))
	cmd.AddCommand(newAuditCommand(out, &configPath))
	cmd.AddCommand(newLatestCommand(out, &configPath))
	cmd.InitDefaultCompletionCmd()
	return cmd
}

// app bundles everything a command needs once the vault is unlocked.
type app struct {
	cfg    config.Config
	logger *slog.Logger
	store  *store.Store
	vault  *vault.SoftwareVault
	chain  *secure.Chain
}

func openApp(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger, err := log.New(log.Options{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		MaxSizeMB: cfg.Logging.MaxSizeMB,
		MaxFiles:  cfg.Logging.MaxFiles,
	})
	if err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, err
	}

	kv, err := openVault(cfg.Store.Path)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	chain := secure.NewChain(st, st.Audit, kv, secure.Options{
		CallerIdentity: callerIdentity(),
		KeyLabel:       cfg.Crypto.KeyLabel,
	})

	return &app{cfg: cfg, logger: logger, store: st, vault: kv, chain: chain}, nil
}

func (a *app) Close() {
	a.chain.Close()
	a.vault.Close()
	_ = a.store.Close()
}

// openVault unlocks the software vault from the operator passphrase. The
// Argon2 salt lives beside the database and is created on first use.
func openVault(dbPath string) (*vault.SoftwareVault, error) {
	passphrase := os.Getenv(envPassphrase)
	if passphrase == "" {
		return nil, fmt.Errorf("%s must be set", envPassphrase)
	}

	salt, err := loadOrCreateSalt(filepath.Join(filepath.Dir(dbPath), "vault.salt"))
	if err != nil {
		return nil, err
	}
	return vault.NewFromPassphrase([]byte(passphrase), salt)
}

func loadOrCreateSalt(path string) ([]byte, error) {
	salt, err := os.ReadFile(path)
	if err == nil {
		return salt, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read vault salt: %w", err)
	}

	salt, err = crypto.GenerateSalt(crypto.DefaultArgon2SaltLen)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create salt dir: %w", err)
	}
	if err := os.WriteFile(path, salt, 0o600); err != nil {
		return nil, fmt.Errorf("write vault salt: %w", err)
	}
	return salt, nil
}

func callerIdentity() string {
	if u, err := user.Current(); err == nil {
		return "cli:" + u.Username
	}
	return "cli:unknown"
}
