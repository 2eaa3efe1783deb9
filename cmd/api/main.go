package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"assetgate/internal/claims"
	"assetgate/internal/config"
	gatehttp "assetgate/internal/http"
	"assetgate/internal/identity"
	"assetgate/internal/jobs"
	"assetgate/internal/ledger"
	"assetgate/internal/logging"
	"assetgate/internal/metrics"
	"assetgate/internal/models"
	"assetgate/internal/payment"
	"assetgate/internal/provider"
	"assetgate/internal/store"
	"assetgate/internal/tokens"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load("")
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logging.NewZapLogger(cfg.Log.Level)
	var rec metrics.Recorder = metrics.Noop{}
	if cfg.Metrics.Enabled {
		rec = metrics.NewPrometheusRecorder()
	}

	chainRef := ledger.ChainRef(cfg.Ledger.RPCURL)
	log.Info("starting", map[string]any{
		"addr":      cfg.Server.Addr,
		"chain_ref": chainRef,
	})

	requestIdentity := loadIdentity(cfg.Identity.RequestKeyHex, chainRef, "request issuer", log)
	receiptIdentity := loadIdentity(cfg.Identity.ReceiptKeyHex, chainRef, "receipt issuer", log)
	missing := cfg.MissingIdentity()
	if len(missing) > 0 {
		log.Warn("identity configuration incomplete, payment issuance disabled", map[string]any{
			"missing": missing,
		})
	}

	var claimsLedger claims.Ledger
	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		claimsLedger = claims.NewRedisLedger(redisClient)
	} else {
		log.Warn("no redis configured, consumed signatures are tracked in memory only", nil)
		claimsLedger = claims.NewMemoryLedger()
	}

	var auditStore *store.Store
	if cfg.DB.DSN != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		auditStore, err = store.Connect(ctx, cfg.DB.DSN)
		cancel()
		if err != nil {
			return fmt.Errorf("connect audit store: %w", err)
		}
		defer auditStore.Close()
	}

	requestTTL := time.Duration(cfg.Payment.RequestTTLMinutes) * time.Minute
	signer := &payment.RequestSigner{
		Issuer:            requestIdentity,
		Recipient:         cfg.Ledger.Recipient,
		Mint:              cfg.Ledger.Mint,
		Currency:          cfg.Ledger.Currency,
		ChainRef:          chainRef,
		ReceiptServiceURL: cfg.Server.PublicURL + "/api/receipts",
		TTL:               requestTTL,
		Prices: payment.PriceTable{
			Image:     cfg.Payment.Prices.Image,
			Animation: cfg.Payment.Prices.Animation,
			Music: map[int]int64{
				30:  cfg.Payment.Prices.Music30,
				60:  cfg.Payment.Prices.Music60,
				120: cfg.Payment.Prices.Music120,
			},
		},
	}

	verifier := &payment.Verifier{
		Issuer:      requestIdentity,
		Inspector:   ledger.NewInspector(cfg.Ledger.RPCURL, cfg.Ledger.Commitment, log),
		DefaultMint: cfg.Ledger.Mint,
		Log:         log,
		Metrics:     rec,
	}

	codec := tokens.NewCodec(cfg.Identity.AccessSecret)
	receipts := &payment.ReceiptIssuer{
		Verifier:  verifier,
		Identity:  receiptIdentity,
		Codec:     codec,
		Claims:    claimsLedger,
		Store:     auditStore,
		AccessTTL: time.Duration(cfg.Payment.AccessTTLSeconds) * time.Second,
		ClaimTTL:  requestTTL,
		Log:       log,
		Metrics:   rec,
	}

	queue := provider.NewClient(cfg.Provider.BaseURL, cfg.Provider.Key, log, rec)
	poller := &jobs.Poller{
		Queue:   queue,
		Initial: time.Duration(cfg.Jobs.PollInitialSeconds) * time.Second,
		Max:     time.Duration(cfg.Jobs.PollMaxSeconds) * time.Second,
		Timeout: time.Duration(cfg.Jobs.TimeoutMinutes) * time.Minute,
		Log:     log,
		Metrics: rec,
	}
	manager := jobs.NewManager(queue, poller, auditStore, map[models.ResourceKind]string{
		models.KindImage:     cfg.Provider.ImageModel,
		models.KindAnimation: cfg.Provider.AnimationModel,
		models.KindMusic:     cfg.Provider.MusicModel,
	}, log, rec)

	handler := &gatehttp.Handler{
		Signer:    signer,
		Receipts:  receipts,
		Codec:     codec,
		Jobs:      manager,
		Store:     auditStore,
		AssetsDir: cfg.Assets.Dir,
		Missing:   missing,
		Log:       log,
		Metrics:   rec,
	}

	srv := gatehttp.NewServer(cfg.Server.Addr, gatehttp.Router(handler, cfg.Metrics.Enabled))

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", map[string]any{"addr": cfg.Server.Addr})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case sig := <-stop:
		log.Info("shutting down", map[string]any{"signal": sig.String()})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

// loadIdentity tolerates missing key material; the service still serves
// and reports the gap through the 402 server_misconfigured body.
func loadIdentity(seedHex, chainRef, role string, log logging.Logger) *identity.Identity {
	id, err := identity.FromHexSeed(seedHex, chainRef)
	if err != nil {
		log.Warn("identity unavailable", map[string]any{
			"role":  role,
			"error": err.Error(),
		})
		return nil
	}
	log.Info("identity loaded", map[string]any{"role": role, "did": id.DID})
	return id
}
