package main

import (
	"context"
	"fmt"
	"os"
	"runtime"

	"github.com/zsasuite/zsawallet/chain"
	"github.com/zsasuite/zsawallet/netparams"
	"github.com/zsasuite/zsawallet/wallet"
)

// semanticVersion is the version of the wallet.
const (
	appMajor uint = 0
	appMinor uint = 1
	appPatch uint = 0
)

var (
	cfg       *config
	activeNet = &netparams.MainNetParams
)

// version returns the application version as a properly formed string.
func version() string {
	return fmt.Sprintf("%d.%d.%d", appMajor, appMinor, appPatch)
}

func main() {
	// Work around defer not working after os.Exit.
	if err := walletMain(); err != nil {
		os.Exit(1)
	}
}

// walletMain is a work-around main function that is required since deferred
// functions (such as log flushing) are not called with calls to os.Exit.
// Instead, main runs this function and checks for a non-nil error, at which
// point any defers have already run, and if the error is non-nil, the program
// can be exited with an error exit status.
func walletMain() error {
	// Load configuration and parse command line.  This function also
	// initializes logging and configures it accordingly.
	tcfg, command, err := loadConfig()
	if err != nil {
		return err
	}
	cfg = tcfg
	defer func() {
		if logRotator != nil {
			logRotator.Close()
		}
	}()

	log.Infof("Version %s (Go version %s %s/%s)", version(),
		runtime.Version(), runtime.GOOS, runtime.GOARCH)

	chainClient, err := startChainRPC(cfg)
	if err != nil {
		log.Errorf("Unable to create chain RPC client: %v", err)
		return err
	}
	defer chainClient.Stop()

	db, seed, err := openWallet(cfg)
	if err != nil {
		log.Errorf("Unable to open wallet database: %v", err)
		return err
	}
	defer db.Close()

	w, err := wallet.Open(db, seed, activeNet, chainClient, nil)
	if err != nil {
		log.Errorf("Unable to open wallet: %v", err)
		return err
	}
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	interrupt := interruptListener()
	defer close(interruptHandlersDone)
	go func() {
		select {
		case <-interrupt:
			cancel()
		case <-ctx.Done():
		}
	}()

	err = runCommand(ctx, w, command)
	if err != nil {
		log.Errorf("%s: %v", command, err)
		return err
	}

	log.Info("Shutdown complete")
	return nil
}

// startChainRPC opens a RPC client connection to the configured zcash node.
func startChainRPC(cfg *config) (*chain.RPCClient, error) {
	var certs []byte
	if cfg.RPCCert != "" {
		var err error
		certs, err = os.ReadFile(cfg.RPCCert)
		if err != nil {
			return nil, err
		}
	}

	log.Infof("Attempting RPC client connection to %v", cfg.RPCConnect)
	return chain.NewRPCClient(&chain.RPCConfig{
		Host:         cfg.RPCConnect,
		User:         cfg.RPCUser,
		Pass:         cfg.RPCPass,
		Certificates: certs,
		Proxy:        cfg.Proxy,
		ProxyUser:    cfg.ProxyUser,
		ProxyPass:    cfg.ProxyPass,
	})
}
