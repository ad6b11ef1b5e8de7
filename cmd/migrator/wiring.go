package main

import (
	"fmt"

	"wallet-migrator/internal/attestation"
	"wallet-migrator/internal/backend"
	"wallet-migrator/internal/balances"
	"wallet-migrator/internal/chain"
	"wallet-migrator/internal/config"
	"wallet-migrator/internal/emitters"
	"wallet-migrator/internal/events"
	"wallet-migrator/internal/finalizer"
	"wallet-migrator/internal/interfaces"
	"wallet-migrator/internal/kyc"
	"wallet-migrator/internal/logger"
	"wallet-migrator/internal/migration"
	"wallet-migrator/internal/networks"
	"wallet-migrator/internal/rates"
	"wallet-migrator/internal/status"
	"wallet-migrator/internal/transfer"
	"wallet-migrator/internal/validation"
	"wallet-migrator/internal/wallet"

	"github.com/ethereum/go-ethereum/common"
)

type app struct {
	registry   *networks.Registry
	pool       *chain.Pool
	aggregator *balances.Aggregator
	status     *status.Provider
	orch       *migration.Orchestrator
	legacy     common.Address
	owner      common.Address
	kafka      *emitters.KafkaEmitter
}

func (a *app) Close() {
	a.pool.Close()
	if a.kafka != nil {
		_ = a.kafka.Close()
	}
}

// newApp wires every collaborator of a migration from configuration.
func newApp(cfg *config.Config) (*app, error) {
	if err := validation.ValidateAddress(cfg.Wallet.LegacyAddress); err != nil {
		return nil, fmt.Errorf("WALLET_LEGACY_ADDRESS: %w", err)
	}
	if err := validation.ValidateURL(cfg.Backend.BaseURL); err != nil {
		return nil, fmt.Errorf("BACKEND_BASE_URL: %w", err)
	}
	owner, err := wallet.NewKeySigner(cfg.Wallet.OwnerPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("WALLET_OWNER_PRIVATE_KEY: %w", err)
	}
	legacy := common.HexToAddress(cfg.Wallet.LegacyAddress)

	registry := networks.New(cfg.Networks, cfg.EnabledNetworks)
	pool := chain.NewPool(registry, cfg.HTTP.Timeout, logger.Component("chain"))

	resolver := rates.NewResolver(cfg.Rates.BaseURL, cfg.Rates.ApiKey, cfg.Rates.Timeout, registry, logger.Component("rates"))
	aggregator := balances.NewAggregator(registry, pool, resolver, logger.Component("balances"))

	account := wallet.NewSmartAccount(legacy, owner, registry, pool, wallet.Options{
		EntryPoint:     common.HexToAddress(cfg.Wallet.EntryPointAddress),
		ReceiptPoll:    cfg.Wallet.ReceiptPoll,
		ReceiptTimeout: cfg.Wallet.ReceiptTimeout,
		MaxRetries:     cfg.MaxRetries,
		RetryDelay:     cfg.RetryDelay,
		HTTPTimeout:    cfg.HTTP.Timeout,
	}, logger.Component("wallet"))

	backendClient := backend.NewClient(cfg.Backend.BaseURL, cfg.Backend.AccessToken, cfg.HTTP.Timeout, logger.Component("backend"))
	provider := status.NewProvider(backendClient, cfg.Backend.StatusTTL, logger.Component("status"))

	a := &app{
		registry:   registry,
		pool:       pool,
		aggregator: aggregator,
		status:     provider,
		legacy:     legacy,
		owner:      owner.Address(),
	}

	var wrapped interfaces.EventEmitter
	if cfg.Kafka.Enabled {
		a.kafka = emitters.NewKafkaEmitter(cfg.Kafka.BrokerAddress, cfg.Kafka.Topic, cfg.Kafka.BatchSize, cfg.Kafka.BatchTimeout, logger.Component("kafka"))
		wrapped = a.kafka
	}

	a.orch = migration.NewOrchestrator(migration.Dependencies{
		Balances:    aggregator,
		Signer:      attestation.NewSigner(owner, cfg.Attestation.NonceBucket),
		KYC:         kyc.NewClient(backendClient, logger.Component("kyc")),
		Transfers:   transfer.NewBatcher(account, logger.Component("transfer")),
		Finalizer:   finalizer.New(backendClient, cfg.MaxRetries, cfg.RetryDelay, logger.Component("finalizer")),
		Status:      provider,
		Events:      events.NewTrackingEmitter(wrapped, cfg.Kafka.EmitTimeout, logger.Component("events")),
		NonceBucket: cfg.Attestation.NonceBucket,
	}, logger.Component("migration"))

	return a, nil
}
