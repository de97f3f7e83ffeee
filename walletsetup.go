package main

import (
	"bufio"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/btcsuite/btcwallet/walletdb"
	_ "github.com/btcsuite/btcwallet/walletdb/bdb"
	"github.com/zsasuite/zsawallet/internal/prompt"
	"github.com/zsasuite/zsawallet/netparams"
	"github.com/zsasuite/zsawallet/wallet"
)

// dbTimeout is how long opening the database waits for its file lock.
const dbTimeout = time.Second * 10

// errWalletNotFound is returned when the wallet database of the network
// does not exist and the create option is not set.
var errWalletNotFound = errors.New("the wallet does not exist, run with " +
	"--create to create it")

// networkDir returns the directory name of a network directory to hold wallet
// files.
func networkDir(dataDir string, chainParams *netparams.Params) string {
	return filepath.Join(dataDir, chainParams.Name)
}

// walletSeed returns the seed the wallet is opened with. It comes from the
// seed or mnemonic options, and is prompted for otherwise. Watching-only
// wallets have no seed.
func walletSeed(cfg *config, reader *bufio.Reader, create bool) ([]byte, error) {
	switch {
	case cfg.WatchOnly:
		return nil, nil

	case cfg.Seed != "":
		return hex.DecodeString(cfg.Seed)

	case cfg.Mnemonic != "":
		return prompt.SeedFromMnemonic(cfg.Mnemonic)

	case create:
		return prompt.Seed(reader)

	default:
		return prompt.ProvideMnemonic()
	}
}

// openWallet opens the wallet database of the active network, creating the
// wallet first when it does not exist and the create option is set. The
// returned database must be closed by the caller after the wallet.
func openWallet(cfg *config) (walletdb.DB, []byte, error) {
	netDir := networkDir(cfg.AppDataDir.Value, activeNet)
	dbPath := filepath.Join(netDir, walletDbName)
	reader := bufio.NewReader(os.Stdin)

	exists, err := fileExists(dbPath)
	if err != nil {
		return nil, nil, err
	}
	if !exists {
		if !cfg.Create {
			return nil, nil, errWalletNotFound
		}
		seed, err := walletSeed(cfg, reader, true)
		if err != nil {
			return nil, nil, err
		}
		if err := createWallet(netDir, dbPath, seed, cfg.Birthday); err != nil {
			return nil, nil, err
		}
		db, err := walletdb.Open("bdb", dbPath, true, dbTimeout, false)
		return db, seed, err
	}

	seed, err := walletSeed(cfg, reader, false)
	if err != nil {
		return nil, nil, err
	}
	db, err := walletdb.Open("bdb", dbPath, true, dbTimeout, false)
	return db, seed, err
}

// createWallet creates a new wallet database at dbPath holding the keys of
// seed. The wallet scans from the birthday height.
func createWallet(netDir, dbPath string, seed []byte, birthday int32) error {
	if err := checkCreateDir(netDir); err != nil {
		return err
	}

	fmt.Println("Creating the wallet...")
	db, err := walletdb.Create("bdb", dbPath, true, dbTimeout, false)
	if err != nil {
		return err
	}
	defer db.Close()

	err = wallet.Create(db, seed, activeNet, birthday)
	if err != nil {
		return err
	}

	fmt.Println("The wallet has been created successfully.")
	return nil
}

// fileExists reports whether the named file or directory exists.
func fileExists(name string) (bool, error) {
	if _, err := os.Stat(name); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// checkCreateDir checks that the path exists and is a directory.
// If path does not exist, it is created.
func checkCreateDir(path string) error {
	if fi, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			// Attempt data directory creation
			if err = os.MkdirAll(path, 0700); err != nil {
				return fmt.Errorf("cannot create directory: %s", err)
			}
		} else {
			return fmt.Errorf("error checking directory: %s", err)
		}
	} else {
		if !fi.IsDir() {
			return fmt.Errorf("path '%s' is not a directory", path)
		}
	}

	return nil
}
